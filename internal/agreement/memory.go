package agreement

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dealgate.io/internal/audit"
	"dealgate.io/internal/ids"
	"dealgate.io/internal/obs"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and single-node development; production uses the Postgres store.
type InMemory struct {
	mu          sync.RWMutex
	orgs        map[string]*Organization
	domains     map[string]domainEntry // normalized domain -> org
	generic     map[string]struct{}
	parents     map[string]string // subsidiary org id -> parent org id
	individuals map[string]map[Type]Track

	recorder audit.Recorder
	now      func() time.Time
}

type domainEntry struct {
	orgID string
	alias bool
}

// MemoryOption configures InMemory construction.
type MemoryOption func(*InMemory)

// WithRecorder wires the audit recorder transitions append to.
func WithRecorder(r audit.Recorder) MemoryOption {
	return func(s *InMemory) { s.recorder = r }
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) MemoryOption {
	return func(s *InMemory) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewInMemory creates a store pre-seeded with the default generic-domain
// blocklist.
func NewInMemory(opts ...MemoryOption) *InMemory {
	s := &InMemory{
		orgs:        make(map[string]*Organization),
		domains:     make(map[string]domainEntry),
		generic:     make(map[string]struct{}),
		parents:     make(map[string]string),
		individuals: make(map[string]map[Type]Track),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, d := range DefaultGenericDomains {
		s.generic[d] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) CreateOrganization(ctx context.Context, org *Organization) error {
	if org == nil || strings.TrimSpace(org.Name) == "" {
		return fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	domain := strings.ToLower(strings.TrimSpace(org.PrimaryDomain))
	if domain == "" {
		return fmt.Errorf("%w: primary domain is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.domains[domain]; exists {
		return fmt.Errorf("%w: domain %s", ErrAlreadyExists, domain)
	}
	if org.ID == "" {
		org.ID = ids.New()
	}
	now := s.now()
	org.PrimaryDomain = domain
	org.CreatedAt = now
	org.UpdatedAt = now
	if org.NDA.Status == "" {
		org.NDA.Status = StatusNotStarted
	}
	if org.Fee.Status == "" {
		org.Fee.Status = StatusNotStarted
	}
	if org.Fee.Scope == "" {
		org.Fee.Scope = ScopeBlanket
	}
	org.NDAActive = CoveredAt(org.NDA, now)
	org.FeeActive = CoveredAt(org.Fee, now)

	stored := *org
	s.orgs[org.ID] = &stored
	s.domains[domain] = domainEntry{orgID: org.ID}
	return nil
}

func (s *InMemory) ListOrganizations(ctx context.Context) ([]Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Organization, 0, len(s.orgs))
	for _, org := range s.orgs {
		res = append(res, *org)
	}
	return res, nil
}

func (s *InMemory) Organization(ctx context.Context, id string) (Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return *org, nil
}

func (s *InMemory) OrganizationByDomain(ctx context.Context, domain string) (Organization, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.domains[strings.ToLower(domain)]
	if !ok {
		return Organization{}, false, ErrNotFound
	}
	org, ok := s.orgs[entry.orgID]
	if !ok {
		return Organization{}, false, ErrNotFound
	}
	return *org, entry.alias, nil
}

func (s *InMemory) AddAlias(ctx context.Context, alias DomainAlias) error {
	domain := strings.ToLower(strings.TrimSpace(alias.Domain))
	if domain == "" || alias.OrganizationID == "" {
		return fmt.Errorf("%w: alias domain and organization are required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[alias.OrganizationID]; !ok {
		return ErrNotFound
	}
	if _, exists := s.domains[domain]; exists {
		return fmt.Errorf("%w: domain %s", ErrAlreadyExists, domain)
	}
	s.domains[domain] = domainEntry{orgID: alias.OrganizationID, alias: true}
	return nil
}

func (s *InMemory) SetParent(ctx context.Context, subsidiaryID, parentID string) error {
	if subsidiaryID == "" || parentID == "" || subsidiaryID == parentID {
		return fmt.Errorf("%w: subsidiary and parent must be distinct organizations", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[subsidiaryID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.orgs[parentID]; !ok {
		return ErrNotFound
	}
	s.parents[subsidiaryID] = parentID
	return nil
}

func (s *InMemory) ParentOf(ctx context.Context, orgID string) (Organization, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parentID, ok := s.parents[orgID]
	if !ok {
		return Organization{}, false, nil
	}
	parent, ok := s.orgs[parentID]
	if !ok {
		return Organization{}, false, nil
	}
	return *parent, true, nil
}

func (s *InMemory) AddGenericDomains(ctx context.Context, domains ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			s.generic[d] = struct{}{}
		}
	}
	return nil
}

func (s *InMemory) IsGenericDomain(ctx context.Context, domain string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.generic[strings.ToLower(domain)]
	return ok, nil
}

func (s *InMemory) SetIndividualTrack(ctx context.Context, userID string, t Type, track Track) error {
	if userID == "" || !t.Valid() {
		return fmt.Errorf("%w: user and agreement type are required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tracks, ok := s.individuals[userID]
	if !ok {
		tracks = make(map[Type]Track, 2)
		s.individuals[userID] = tracks
	}
	tracks[t] = track
	return nil
}

func (s *InMemory) IndividualTrack(ctx context.Context, userID string, t Type) (Track, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tracks, ok := s.individuals[userID]
	if !ok {
		return Track{}, false, nil
	}
	track, ok := tracks[t]
	return track, ok, nil
}

func (s *InMemory) Transition(ctx context.Context, orgID string, t Type, req TransitionRequest) (Organization, error) {
	if !t.Valid() {
		return Organization{}, fmt.Errorf("%w: unknown agreement type %q", ErrInvalidInput, t)
	}

	s.mu.Lock()
	org, ok := s.orgs[orgID]
	if !ok {
		s.mu.Unlock()
		return Organization{}, ErrNotFound
	}

	now := s.now()
	before := org.TrackFor(t)
	next, err := ApplyTransition(before, req, now)
	if err != nil {
		s.mu.Unlock()
		return Organization{}, err
	}

	if t == TypeFee {
		org.Fee = next
	} else {
		org.NDA = next
	}
	// Derived shortcuts change in the same critical section as the status.
	org.NDAActive = CoveredAt(org.NDA, now)
	org.FeeActive = CoveredAt(org.Fee, now)
	org.UpdatedAt = now
	updated := *org
	s.mu.Unlock()

	s.audit(ctx, updated, t, before, next, req)
	return updated, nil
}

func (s *InMemory) MarkExpired(ctx context.Context, now time.Time) ([]ExpiredTrack, error) {
	s.mu.Lock()
	var expired []ExpiredTrack
	for _, org := range s.orgs {
		for _, t := range []Type{TypeNDA, TypeFee} {
			track := org.TrackFor(t)
			if track.Status == StatusExpired || track.ExpiresAt == nil || track.ExpiresAt.After(now) {
				continue
			}
			if !CanTransition(track.Status, StatusExpired) {
				continue
			}
			track.Status = StatusExpired
			if t == TypeFee {
				org.Fee = track
			} else {
				org.NDA = track
			}
			org.NDAActive = CoveredAt(org.NDA, now)
			org.FeeActive = CoveredAt(org.Fee, now)
			org.UpdatedAt = now
			expired = append(expired, ExpiredTrack{
				OrganizationID:   org.ID,
				OrganizationName: org.Name,
				Type:             t,
				ExpiredAt:        *track.ExpiresAt,
			})
		}
	}
	s.mu.Unlock()
	return expired, nil
}

func (s *InMemory) audit(ctx context.Context, org Organization, t Type, before, after Track, req TransitionRequest) {
	if s.recorder == nil {
		return
	}
	entry := &audit.Entry{
		Subject:   "agreement",
		SubjectID: org.ID,
		Action:    fmt.Sprintf("agreement.%s.transition", t),
		Actor:     req.ActorID,
		Before:    map[string]string{"status": string(statusOrNotStarted(before.Status))},
		After:     map[string]string{"status": string(after.Status)},
	}
	if req.Notes != "" {
		entry.Metadata = map[string]string{"notes": req.Notes}
	}
	if req.DocumentRef != "" {
		if entry.Metadata == nil {
			entry.Metadata = map[string]string{}
		}
		entry.Metadata["document_ref"] = req.DocumentRef
	}
	if err := s.recorder.Append(ctx, entry); err != nil {
		obs.Logger().Error().Err(err).Str("action", entry.Action).Msg("audit append failed")
	}
}

func statusOrNotStarted(s Status) Status {
	if s == "" {
		return StatusNotStarted
	}
	return s
}
