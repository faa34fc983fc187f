package release

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dealgate.io/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. Entries are
// stored by value and returned by value, so history cannot be rewritten
// through retained pointers.
type InMemory struct {
	mu      sync.RWMutex
	docs    map[string]Document
	entries map[string]Entry
	order   []string // entry ids in append order
	links   map[string]*Link
	byToken map[string]string
	now     func() time.Time
}

// MemoryOption configures InMemory construction.
type MemoryOption func(*InMemory)

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) MemoryOption {
	return func(s *InMemory) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewInMemory creates an empty store.
func NewInMemory(opts ...MemoryOption) *InMemory {
	s := &InMemory{
		docs:    make(map[string]Document),
		entries: make(map[string]Entry),
		links:   make(map[string]*Link),
		byToken: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) AddDocument(ctx context.Context, doc *Document) error {
	if doc == nil || strings.TrimSpace(doc.DealID) == "" || strings.TrimSpace(doc.Name) == "" {
		return fmt.Errorf("%w: document deal and name are required", ErrInvalidInput)
	}
	if !doc.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, doc.Category)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == "" {
		doc.ID = ids.New()
	}
	now := s.now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = DocActive
	}
	s.docs[doc.ID] = *doc
	return nil
}

func (s *InMemory) Document(ctx context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (s *InMemory) DocumentsByDeal(ctx context.Context, dealID string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Document
	for _, doc := range s.docs {
		if doc.DealID == dealID {
			res = append(res, doc)
		}
	}
	return res, nil
}

func (s *InMemory) AppendEntry(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.ReleasedAt.IsZero() {
		entry.ReleasedAt = s.now()
	}
	s.entries[entry.ID] = *entry
	s.order = append(s.order, entry.ID)
	return nil
}

func (s *InMemory) Entry(ctx context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (s *InMemory) EntriesByDeal(ctx context.Context, dealID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Entry
	for _, id := range s.order {
		if e := s.entries[id]; e.DealID == dealID {
			res = append(res, e)
		}
	}
	return res, nil
}

func (s *InMemory) CreateLink(ctx context.Context, link *Link) error {
	if link == nil || strings.TrimSpace(link.Token) == "" || strings.TrimSpace(link.DocumentID) == "" {
		return fmt.Errorf("%w: link token and document are required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if link.ID == "" {
		link.ID = ids.New()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = s.now()
	}
	stored := *link
	s.links[link.ID] = &stored
	s.byToken[link.Token] = link.ID
	return nil
}

func (s *InMemory) LinkByToken(ctx context.Context, token string) (Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return Link{}, ErrNotFound
	}
	link, ok := s.links[id]
	if !ok {
		return Link{}, ErrNotFound
	}
	return *link, nil
}

func (s *InMemory) RevokeLink(ctx context.Context, linkID, revokedBy string) (Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[linkID]
	if !ok {
		return Link{}, ErrNotFound
	}
	if link.RevokedAt == nil {
		now := s.now()
		link.RevokedAt = &now
		link.RevokedBy = revokedBy
	}
	return *link, nil
}

func (s *InMemory) RecordOpen(ctx context.Context, linkID string, at time.Time) (Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[linkID]
	if !ok {
		return Link{}, ErrNotFound
	}
	if link.FirstOpenAt == nil {
		first := at
		link.FirstOpenAt = &first
		// First open denormalizes onto the ledger entry; this is the single
		// permitted mutation of ledger-adjacent state.
		if link.EntryID != "" {
			if entry, ok := s.entries[link.EntryID]; ok && entry.FirstOpenedAt == nil {
				entry.FirstOpenedAt = &first
				s.entries[link.EntryID] = entry
			}
		}
	}
	last := at
	link.LastOpenAt = &last
	link.OpenCount++
	return *link, nil
}
