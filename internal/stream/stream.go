package stream

import (
	"context"
	"sync"
	"time"
)

// Event kinds published on the live access timeline.
const (
	KindAgreementTransition = "agreement.transition"
	KindGrantCreated        = "grant.created"
	KindGrantRevoked        = "grant.revoked"
	KindGrantOverride       = "grant.override"
	KindReleaseRecorded     = "release.recorded"
	KindLinkOpened          = "link.opened"
)

// Event is one entry on the live access timeline consumed by the deal team
// dashboard over SSE.
type Event struct {
	Kind      string            `json:"kind"`
	DealID    string            `json:"deal_id,omitempty"`
	Subject   string            `json:"subject"`
	SubjectID string            `json:"subject_id"`
	Actor     string            `json:"actor,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// Stream fan-outs access events to all active SSE subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers. A zero timestamp is stamped
// with the current time.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
