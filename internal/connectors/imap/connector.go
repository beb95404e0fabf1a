package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"pricelist/internal"
	"pricelist/internal/config"
	"pricelist/internal/pipeline"
)

type Connector struct {
	host     string
	port     int
	secure   bool
	user     string
	password string
	markSeen bool
}

func NewConnector(cfg config.Config) (*Connector, error) {
	if err := cfg.Require("IMAP_HOST", cfg.IMAPHost); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_USER", cfg.IMAPUser); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_PASSWORD", cfg.IMAPPassword); err != nil {
		return nil, err
	}

	return &Connector{
		host:     cfg.IMAPHost,
		port:     cfg.IMAPPort,
		secure:   cfg.IMAPSecure,
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		markSeen: cfg.IMAPMarkSeen,
	}, nil
}

// FetchInbox returns up to max unseen messages carrying a price-list
// attachment, oldest first. Structures are fetched first so bodies are only
// downloaded for messages worth storing. go-imap has no context support; ctx
// is checked between round trips.
func (c *Connector) FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer client.Logout()

	if _, err := client.Select(label, false); err != nil {
		return nil, fmt.Errorf("select %s: %w", label, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := client.UidSearch(criteria)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	envelopes, err := c.withAttachments(client, uids)
	if err != nil {
		return nil, err
	}
	if max > 0 && len(envelopes) > max {
		envelopes = envelopes[len(envelopes)-max:]
	}
	if len(envelopes) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := c.fetchRaw(client, envelopes)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.markSeen {
		seen := new(imap.SeqSet)
		for _, msg := range envelopes {
			seen.AddNum(msg.Uid)
		}
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := client.UidStore(seen, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Connector) dial() (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	var (
		client *imapclient.Client
		err    error
	)
	if c.secure {
		client, err = imapclient.DialTLS(addr, &tls.Config{ServerName: c.host})
	} else {
		client, err = imapclient.Dial(addr)
	}
	if err != nil {
		return nil, err
	}
	if err := client.Login(c.user, c.password); err != nil {
		_ = client.Logout()
		return nil, err
	}
	return client, nil
}

// withAttachments fetches envelope and structure for uids and keeps the
// messages that have at least one price-list attachment, sorted by uid.
func (c *Connector) withAttachments(client *imapclient.Client, uids []uint32) ([]*imap.Message, error) {
	set := new(imap.SeqSet)
	set.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchBodyStructure}
	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() { done <- client.UidFetch(set, items, messages) }()

	var keep []*imap.Message
	for msg := range messages {
		if msg != nil && hasPriceListAttachment(msg.BodyStructure) {
			keep = append(keep, msg)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch structure: %w", err)
	}
	sort.Slice(keep, func(i, j int) bool { return keep[i].Uid < keep[j].Uid })
	return keep, nil
}

func (c *Connector) fetchRaw(client *imapclient.Client, envelopes []*imap.Message) ([]internal.FetchedMailMessage, error) {
	set := new(imap.SeqSet)
	byUID := make(map[uint32]*imap.Message, len(envelopes))
	for _, msg := range envelopes {
		set.AddNum(msg.Uid)
		byUID[msg.Uid] = msg
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}
	messages := make(chan *imap.Message, len(envelopes))
	done := make(chan error, 1)
	go func() { done <- client.UidFetch(set, items, messages) }()

	raws := make(map[uint32][]byte, len(envelopes))
	var readErr error
	for msg := range messages {
		if msg == nil || readErr != nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			readErr = err
			continue
		}
		raws[msg.Uid] = raw
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch body: %w", err)
	}
	if readErr != nil {
		return nil, readErr
	}

	out := make([]internal.FetchedMailMessage, 0, len(raws))
	for _, env := range envelopes {
		raw, ok := raws[env.Uid]
		if !ok {
			continue
		}
		out = append(out, toFetched(env, raw))
	}
	return out, nil
}

func toFetched(msg *imap.Message, raw []byte) internal.FetchedMailMessage {
	fetched := internal.FetchedMailMessage{
		Provider:   "imap",
		MessageID:  fmt.Sprintf("imap-%d", msg.Uid),
		ReceivedAt: time.Now().UTC().Format(time.RFC3339),
		Raw:        raw,
	}
	if msg.Envelope != nil {
		if msg.Envelope.MessageId != "" {
			fetched.MessageID = msg.Envelope.MessageId
		}
		fetched.Subject = msg.Envelope.Subject
		fetched.From = formatAddresses(msg.Envelope.From)
	}
	if !msg.InternalDate.IsZero() {
		fetched.ReceivedAt = msg.InternalDate.UTC().Format(time.RFC3339)
	}
	return fetched
}

// hasPriceListAttachment walks a body structure looking for an attached
// spreadsheet, csv, pdf or image. Inline parts such as signature logos are
// ignored.
func hasPriceListAttachment(bs *imap.BodyStructure) bool {
	if bs == nil {
		return false
	}
	if strings.EqualFold(bs.MIMEType, "multipart") {
		for _, part := range bs.Parts {
			if hasPriceListAttachment(part) {
				return true
			}
		}
		return false
	}

	name := partFilename(bs)
	switch {
	case strings.EqualFold(bs.Disposition, "attachment"):
	case bs.Disposition == "" && name != "":
	default:
		return false
	}

	mediaType := strings.ToLower(bs.MIMEType + "/" + bs.MIMESubType)
	if mediaType == "application/octet-stream" && name != "" {
		mediaType = pipeline.MediaTypeFor(name)
	}
	return pipeline.IsDigital(mediaType) || strings.HasPrefix(mediaType, "image/") || mediaType == "application/pdf"
}

func partFilename(bs *imap.BodyStructure) string {
	if name := bs.DispositionParams["filename"]; name != "" {
		return name
	}
	return bs.Params["name"]
}

func formatAddresses(addrs []*imap.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		email := strings.Trim(strings.Join([]string{a.MailboxName, a.HostName}, "@"), "@")
		if a.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.PersonalName, email))
		} else {
			parts = append(parts, email)
		}
	}
	return strings.Join(parts, ", ")
}
