package access

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dealgate.io/internal/ids"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu     sync.RWMutex
	grants map[string]*Grant
	// active maps dealID + identity key to the grant currently holding the
	// uniqueness slot, mirroring the partial unique index in Postgres.
	active map[string]string
	now    func() time.Time
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

// NewInMemory creates an empty grant store.
func NewInMemory(opts ...MemoryOption) *InMemory {
	s := &InMemory{
		grants: make(map[string]*Grant),
		active: make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*InMemory)(nil)

func activeKey(dealID string, identity IdentityRef) string {
	return dealID + "|" + identity.Key()
}

func (s *InMemory) Grant(ctx context.Context, req GrantRequest) (Grant, error) {
	if err := req.Identity.Validate(); err != nil {
		return Grant{}, err
	}
	if strings.TrimSpace(req.DealID) == "" {
		return Grant{}, fmt.Errorf("%w: deal is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.GrantedBy) == "" {
		return Grant{}, fmt.Errorf("%w: granting actor is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := activeKey(req.DealID, req.Identity)
	if existingID, ok := s.active[key]; ok {
		if existing, found := s.grants[existingID]; found && existing.ActiveAt(now) {
			return Grant{}, ErrDuplicateGrant
		}
	}

	g := Grant{
		ID:           ids.New(),
		DealID:       req.DealID,
		Identity:     req.Identity,
		Capabilities: req.Capabilities,
		GrantedAt:    now,
		GrantedBy:    req.GrantedBy,
		UpdatedAt:    now,
		ExpiresAt:    req.ExpiresAt,
		Metadata:     req.Metadata,
	}
	stored := g
	s.grants[g.ID] = &stored
	s.active[key] = g.ID
	return g, nil
}

func (s *InMemory) Get(ctx context.Context, grantID string) (Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[grantID]
	if !ok {
		return Grant{}, ErrNotFound
	}
	return *g, nil
}

func (s *InMemory) ActiveGrant(ctx context.Context, identity IdentityRef, dealID string) (Grant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[activeKey(dealID, identity)]
	if !ok {
		return Grant{}, false, nil
	}
	g, ok := s.grants[id]
	if !ok || !g.ActiveAt(s.now()) {
		return Grant{}, false, nil
	}
	return *g, true, nil
}

func (s *InMemory) UpdateCapabilities(ctx context.Context, grantID string, caps Capabilities, actor string) (Grant, error) {
	if strings.TrimSpace(actor) == "" {
		return Grant{}, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok {
		return Grant{}, ErrNotFound
	}
	g.Capabilities = caps
	g.UpdatedAt = s.now()
	return *g, nil
}

func (s *InMemory) Revoke(ctx context.Context, grantID, revokedBy, reason string) (Grant, error) {
	if strings.TrimSpace(revokedBy) == "" {
		return Grant{}, fmt.Errorf("%w: revoking actor is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok {
		return Grant{}, ErrNotFound
	}
	if g.RevokedAt == nil {
		now := s.now()
		g.RevokedAt = &now
		g.RevokedBy = revokedBy
		g.RevokeReason = reason
		g.UpdatedAt = now
		delete(s.active, activeKey(g.DealID, g.Identity))
	}
	return *g, nil
}

func (s *InMemory) Override(ctx context.Context, grantID string, flag bool, reason, overriddenBy string) (Grant, error) {
	if flag && strings.TrimSpace(reason) == "" {
		return Grant{}, ErrEmptyReason
	}
	if strings.TrimSpace(overriddenBy) == "" {
		return Grant{}, fmt.Errorf("%w: overriding actor is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok {
		return Grant{}, ErrNotFound
	}
	now := s.now()
	g.Override = flag
	g.OverriddenBy = overriddenBy
	g.OverriddenAt = &now
	g.UpdatedAt = now
	if flag {
		g.OverrideReason = reason
	}
	return *g, nil
}

func (s *InMemory) ListByDeal(ctx context.Context, dealID string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Grant
	for _, g := range s.grants {
		if g.DealID == dealID {
			res = append(res, *g)
		}
	}
	sortGrants(res)
	return res, nil
}

func (s *InMemory) ListOverrides(ctx context.Context) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Grant
	for _, g := range s.grants {
		if g.Override {
			res = append(res, *g)
		}
	}
	sortGrants(res)
	return res, nil
}

// sortGrants orders by creation: grant ids are ULIDs, so lexicographic order
// is creation order.
func sortGrants(grants []Grant) {
	sort.Slice(grants, func(i, j int) bool { return grants[i].ID < grants[j].ID })
}
