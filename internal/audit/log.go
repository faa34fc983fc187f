package audit

import (
	"context"
	"strings"
	"sync"

	"dealgate.io/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// emit writes the entry as a structured JSON log line so the audit trail is
// visible in the log stream as well as the store.
func emit(entry *Entry) {
	ev := obs.Logger().Info().
		Str("type", "audit").
		Str("audit_id", entry.ID).
		Str("subject", entry.Subject).
		Str("subject_id", entry.SubjectID).
		Str("action", entry.Action).
		Str("actor", entry.Actor)
	if entry.RequestID != "" {
		ev = ev.Str("request_id", entry.RequestID)
	}
	if len(entry.Before) > 0 {
		ev = ev.Interface("before", entry.Before)
	}
	if len(entry.After) > 0 {
		ev = ev.Interface("after", entry.After)
	}
	if len(entry.Metadata) > 0 {
		ev = ev.Interface("metadata", entry.Metadata)
	}
	ev.Msg("audit")
}

// Log is the in-process Recorder: a mutex-guarded append-only slice. The
// production deployment uses the Postgres recorder; Log backs tests and
// single-node setups.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewLog creates an empty in-memory audit log.
func NewLog() *Log {
	return &Log{}
}

// Append validates, stamps and stores the entry. Entries are copied in so a
// caller cannot mutate history through a retained pointer.
func (l *Log) Append(ctx context.Context, entry *Entry) error {
	if err := Prepare(ctx, entry); err != nil {
		return err
	}
	stored := *entry
	stored.Before = copyMap(entry.Before)
	stored.After = copyMap(entry.After)
	stored.Metadata = copyMap(entry.Metadata)

	l.mu.Lock()
	l.entries = append(l.entries, stored)
	l.mu.Unlock()

	emit(&stored)
	return nil
}

// List returns matching entries in append order.
func (l *Log) List(ctx context.Context, filter Filter) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var res []Entry
	for _, e := range l.entries {
		if filter.Subject != "" && e.Subject != filter.Subject {
			continue
		}
		if filter.SubjectID != "" && e.SubjectID != filter.SubjectID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		res = append(res, e)
		if filter.Limit > 0 && len(res) >= filter.Limit {
			break
		}
	}
	return res, nil
}

func copyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
