package internal

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput          = errors.New("empty input")
	ErrEmptySource         = errors.New("empty source")
	ErrNoTabularStructure  = errors.New("no tabular structure")
	ErrIllegible           = errors.New("illegible document")
	ErrAnalysis            = errors.New("analysis failed")
	ErrStoreUnavailable    = errors.New("record store unavailable")
	ErrNotFound            = errors.New("not found")
	ErrUnsupportedMedia    = errors.New("unsupported media type")
	ErrNoTextLayer         = errors.New("document has no text layer")
	ErrInvalidConfirmation = errors.New("invalid confirmation")
)

// ExtractionError is the typed failure returned by the orchestrator.
// errors.Is matches both its Kind and anything in the Cause chain.
type ExtractionError struct {
	Kind   error
	FileID string
	Reason string
	Cause  error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("%v (file %s)", e.Kind, e.FileID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExtractionError) Is(target error) bool {
	return target == e.Kind
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

func NewExtractionError(kind error, fileID, reason string, cause error) *ExtractionError {
	return &ExtractionError{Kind: kind, FileID: fileID, Reason: reason, Cause: cause}
}

// UploadStatusFor maps an orchestrator failure to the status recorded on
// the upload audit row.
func UploadStatusFor(err error) UploadStatus {
	switch {
	case errors.Is(err, ErrIllegible):
		return UploadErrorIllegible
	case errors.Is(err, ErrEmptySource), errors.Is(err, ErrEmptyInput):
		return UploadErrorEmpty
	case errors.Is(err, ErrNoTabularStructure):
		return UploadErrorStructure
	case errors.Is(err, ErrUnsupportedMedia):
		return UploadErrorUnsupported
	default:
		return UploadErrorSystem
	}
}
