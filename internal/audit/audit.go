package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"dealgate.io/internal/ids"
)

// Entry is one immutable audit record: who did what to which subject, with
// the before/after state at that moment. Before/After hold the known typed
// fields flattened to strings; Metadata is the escape hatch for genuinely
// variable context.
type Entry struct {
	ID         string            `json:"id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Subject    string            `json:"subject"`
	SubjectID  string            `json:"subject_id"`
	Action     string            `json:"action"`
	Before     map[string]string `json:"before,omitempty"`
	After      map[string]string `json:"after,omitempty"`
	Actor      string            `json:"actor"`
	RequestID  string            `json:"request_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Subject   string
	SubjectID string
	Action    string
	Actor     string
	Limit     int
}

var (
	ErrInvalidEntry = errors.New("audit: invalid entry")
)

// Recorder appends audit entries and reads them back. The interface carries
// no update or delete path and the storage layer enforces the same
// restriction.
type Recorder interface {
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

// Validate checks the minimum shape of an entry before it is persisted.
func Validate(entry *Entry) error {
	if entry == nil {
		return ErrInvalidEntry
	}
	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit: action is required")
	}
	if strings.TrimSpace(entry.Subject) == "" {
		return errors.New("audit: subject is required")
	}
	if strings.TrimSpace(entry.Actor) == "" {
		return errors.New("audit: actor is required")
	}
	return nil
}

// Prepare fills in generated fields and captures the request id from
// context. Shared by every Recorder implementation.
func Prepare(ctx context.Context, entry *Entry) error {
	if err := Validate(entry); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	if entry.RequestID == "" {
		entry.RequestID = requestIDFromContext(ctx)
	}
	return nil
}
