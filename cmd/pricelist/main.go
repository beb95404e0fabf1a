package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"pricelist/internal"
	"pricelist/internal/app"
	"pricelist/internal/config"
	"pricelist/internal/connectors"
	"pricelist/internal/formats"
	"pricelist/internal/listener"
	"pricelist/internal/pipeline"
	"pricelist/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	switch cmd {
	case "files:list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		source := fs.String("source", "drive", "drive|local|mailbox")
		folder := fs.String("folder", "", "folder id, directory or sender filter")
		mediaType := fs.String("type", "", "only this media type")
		_ = fs.Parse(os.Args[2:])
		store, err := app.NewFileStore(cfg, *source, db, logger)
		must(err)
		files, err := store.List(ctx, *folder, *mediaType)
		must(err)
		for _, f := range files {
			fmt.Printf("%s\t%s\t%s\t%s\n", f.ID, f.MediaType, f.ModifiedTime, f.Name)
		}
		fmt.Printf("%d files\n", len(files))
	case "extract":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		source := fs.String("source", "drive", "drive|local|mailbox")
		fileID := fs.String("file", "", "file id")
		supplier := fs.String("supplier", "", "supplier id")
		headerIndex := fs.Int("header-index", 0, "force the header row (>1)")
		record := fs.Bool("record", false, "record an upload row and, when mapped, its items")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*fileID) == "" || strings.TrimSpace(*supplier) == "" {
			must(fmt.Errorf("--file and --supplier are required"))
		}
		store, err := app.NewFileStore(cfg, *source, db, logger)
		must(err)
		svc := app.NewExtractionService(cfg, store, db, logger)
		res, err := svc.ProcessFile(ctx, *fileID, *supplier, pipeline.Options{HeaderIndex: *headerIndex})
		if *record {
			must(recordUpload(ctx, db, *fileID, *supplier, res, err))
		}
		must(err)
		printJSON(res)
	case "confirm":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		supplier := fs.String("supplier", "", "supplier id")
		headers := fs.String("headers", "", "detected headers separated by |")
		mapping := fs.String("mapping", "", "field=header pairs separated by ,")
		fileID := fs.String("file", "", "provenance file id")
		kind := fs.String("kind", "", "xlsx|csv|image")
		name := fs.String("name", "", "display name")
		_ = fs.Parse(os.Args[2:])
		svc := app.NewExtractionService(cfg, nil, db, logger)
		tpl, err := svc.ConfirmMapping(ctx, pipeline.ConfirmRequest{
			SupplierID:   *supplier,
			Headers:      splitList(*headers, "|"),
			Mapping:      parseMapping(*mapping),
			SourceFileID: *fileID,
			FileKind:     internal.FileKind(*kind),
			Name:         *name,
		})
		must(err)
		fmt.Printf("template %s %q hash=%s\n", tpl.ID, tpl.Name, tpl.Fingerprint.HeaderHash)
	case "fingerprint":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		headers := fs.String("headers", "", "headers separated by |")
		file := fs.String("file", "", "local spreadsheet to inspect")
		headerIndex := fs.Int("header-index", 0, "force the header row (>1)")
		_ = fs.Parse(os.Args[2:])
		list := splitList(*headers, "|")
		if *file != "" {
			st, err := pipeline.InspectLocalFile(*file, *headerIndex)
			must(err)
			list = st.Headers
			fmt.Printf("header row %d, %d body rows\n", st.HeaderRowIndex, len(st.Body))
		}
		svc := app.NewExtractionService(cfg, nil, db, logger)
		hash, ok := svc.ComputeFingerprint(list)
		if !ok {
			must(fmt.Errorf("headers %q carry no fingerprint", list))
		}
		fmt.Printf("headers: %s\nhash: %s\n", strings.Join(list, " | "), hash)
	case "formats:list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		supplier := fs.String("supplier", "", "supplier id")
		all := fs.Bool("all", false, "include RETIRED templates")
		_ = fs.Parse(os.Args[2:])
		q := internal.TemplateQuery{SupplierID: *supplier, State: internal.TemplateActive, NewestFirst: true}
		if *all {
			q.State = ""
		}
		list, err := db.ListTemplates(ctx, q)
		must(err)
		for _, t := range list {
			fmt.Printf("%s\t%s\t%s\t%s\t%s\n", t.ID, t.SupplierID, t.State, t.Fingerprint.HeaderHash, t.Name)
		}
	case "formats:reconcile":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		dryRun := fs.Bool("dry-run", false, "report without retiring")
		_ = fs.Parse(os.Args[2:])
		report, err := formats.NewMemory(db, logger).Reconcile(ctx, *dryRun)
		must(err)
		fmt.Printf("duplicate groups=%d kept=%d retired=%d dry_run=%t\n", report.Groups, len(report.Kept), len(report.Retired), *dryRun)
		for _, id := range report.Retired {
			fmt.Printf("retired %s\n", id)
		}
	case "formats:audit":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		fix := fs.Bool("fix", false, "rewrite drifted hashes")
		_ = fs.Parse(os.Args[2:])
		entries, err := formats.NewMemory(db, logger).Audit(ctx, *fix)
		must(err)
		drifted := 0
		for _, e := range entries {
			if !e.Drift {
				continue
			}
			drifted++
			fmt.Printf("%s %q stored=%s computed=%s fixed=%t\n", e.TemplateID, e.Name, e.StoredHash, e.ComputedHash, e.Fixed)
		}
		fmt.Printf("audited=%d drifted=%d\n", len(entries), drifted)
	case "uploads:stats":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		supplier := fs.String("supplier", "", "supplier id")
		_ = fs.Parse(os.Args[2:])
		stats, err := db.UploadStats(ctx, *supplier)
		must(err)
		for _, s := range stats {
			fmt.Printf("%s\t%d\n", s.Status, s.Count)
		}
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailProvider, "gmail|imap")
		label := fs.String("label", cfg.MailLabel, "mailbox/label")
		limit := fs.Int("max", cfg.MailFetchMax, "max messages")
		_ = fs.Parse(os.Args[2:])
		conn, err := app.NewMailConnector(ctx, cfg, *provider)
		must(err)
		fetch := connectors.NewFetchService(db, cfg.RawMailDir, conn, logger)
		result, err := fetch.FetchAndStore(ctx, *label, *limit)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d\n", *provider, result.Fetched, result.Stored)
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		uploadID := fs.String("upload", "", "upload id")
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*uploadID) == "" || strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--upload and --out are required"))
		}
		items, err := db.ListItems(ctx, *uploadID)
		must(err)
		if len(items) == 0 {
			must(fmt.Errorf("no items for upload %s", *uploadID))
		}
		must(pipeline.ExportItemsToXLSX(items, *out))
		fmt.Printf("exported %d items to %s\n", len(items), *out)
	case "listen":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		once := fs.Bool("once", false, "run a single cycle")
		_ = fs.Parse(os.Args[2:])
		store, err := app.NewFileStore(cfg, cfg.ListenerSource, db, logger)
		must(err)
		svc := listener.NewService(store, app.NewExtractionService(cfg, store, db, logger), db, cfg, logger)
		if *once {
			res, err := svc.RunCycle(ctx)
			must(err)
			fmt.Printf("listed=%d skipped=%d processed=%d failed=%d\n", res.Listed, res.Skipped, res.Processed, res.Failed)
			return
		}
		must(svc.Run(ctx))
	default:
		usage()
		os.Exit(1)
	}
}

func recordUpload(ctx context.Context, db *storage.DB, fileID, supplierID string, res *internal.ExtractionResult, procErr error) error {
	upload := internal.Upload{SupplierID: supplierID, FileID: fileID}
	if procErr != nil {
		upload.Status = internal.UploadStatusFor(procErr)
		reason := procErr.Error()
		upload.Reason = &reason
		return db.RecordUpload(ctx, &upload, nil)
	}

	upload.FileName = res.FileName
	upload.Status = internal.UploadStatus(res.Mode)
	if res.Diagnostics.ComputedHash != "" {
		upload.HeaderHash = &res.Diagnostics.ComputedHash
	}
	if res.MatchedTemplateID != "" {
		upload.TemplateID = &res.MatchedTemplateID
	}
	var items []internal.PriceItem
	if res.Mode == internal.ModeMapped {
		items = pipeline.ApplyMapping(res.FullRows, res.Mapping)
	}
	if err := db.RecordUpload(ctx, &upload, items); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "recorded upload %s status=%s\n", upload.ID, upload.Status)
	return nil
}

func splitList(value, sep string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseMapping reads "sku=Código,precio=Precio Unit." into a mapping,
// keeping the given field order.
func parseMapping(value string) internal.ColumnMapping {
	var m internal.ColumnMapping
	for _, pair := range splitList(value, ",") {
		field, header, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(field) == "" {
			continue
		}
		m.Set(strings.TrimSpace(field), strings.TrimSpace(header))
	}
	return m
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	must(enc.Encode(v))
}

func must(err error) {
	if err == nil {
		return
	}
	var ee *internal.ExtractionError
	if errors.As(err, &ee) {
		fmt.Fprintf(os.Stderr, "error: %v (status %s)\n", err, internal.UploadStatusFor(err))
		os.Exit(2)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func usage() {
	fmt.Println("usage:")
	fmt.Println("  pricelist files:list --source=drive|local|mailbox --folder=<id> [--type=<media type>]")
	fmt.Println("  pricelist extract --source=drive --file=<id> --supplier=<id> [--header-index=N] [--record]")
	fmt.Println("  pricelist confirm --supplier=<id> --headers='SKU|Desc|Price' --mapping='sku=SKU,precio=Price' [--file=<id>] [--kind=xlsx] [--name=...]")
	fmt.Println("  pricelist fingerprint --headers='SKU|Desc|Price' | --file=<path> [--header-index=N]")
	fmt.Println("  pricelist formats:list [--supplier=<id>] [--all]")
	fmt.Println("  pricelist formats:reconcile [--dry-run]")
	fmt.Println("  pricelist formats:audit [--fix]")
	fmt.Println("  pricelist uploads:stats [--supplier=<id>]")
	fmt.Println("  pricelist mail:fetch --provider=gmail|imap --label=INBOX --max=50")
	fmt.Println("  pricelist export:xlsx --upload=<id> --out=<path>")
	fmt.Println("  pricelist listen [--once]")
}
