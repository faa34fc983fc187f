package release

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dealgate.io/internal/access"
	"dealgate.io/internal/agreement"
)

// Ledger is the release service: it validates exposure events against the
// document catalog, freezes the agreement state into the entry, and manages
// tracked links.
type Ledger struct {
	store    Store
	resolver access.CoverageResolver
	emails   access.IdentityDirectory
	now      func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLedgerClock overrides the time source (tests).
func WithLedgerClock(fn func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLedger wires the release store with the coverage resolver used for
// snapshots.
func NewLedger(store Store, resolver access.CoverageResolver, emails access.IdentityDirectory, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:    store,
		resolver: resolver,
		emails:   emails,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddDocument registers a document in the catalog.
func (l *Ledger) AddDocument(ctx context.Context, doc *Document) error {
	return l.store.AddDocument(ctx, doc)
}

// Document returns one catalog row.
func (l *Ledger) Document(ctx context.Context, id string) (Document, error) {
	return l.store.Document(ctx, id)
}

// DocumentsByDeal lists a deal's catalog.
func (l *Ledger) DocumentsByDeal(ctx context.Context, dealID string) ([]Document, error) {
	return l.store.DocumentsByDeal(ctx, dealID)
}

// RecordRelease appends one exposure event. The agreement snapshot is frozen
// at this moment: either supplied by the caller who just resolved it, or
// resolved here. internal_only documents are rejected with no ledger row and
// no override path.
func (l *Ledger) RecordRelease(ctx context.Context, req ReleaseRequest) (Entry, error) {
	if err := req.Identity.Validate(); err != nil {
		return Entry{}, err
	}
	if strings.TrimSpace(req.DealID) == "" {
		return Entry{}, fmt.Errorf("%w: deal is required", ErrInvalidInput)
	}
	if !req.Method.Valid() {
		return Entry{}, fmt.Errorf("%w: unknown release method %q", ErrInvalidInput, req.Method)
	}
	if strings.TrimSpace(req.ReleasedBy) == "" {
		return Entry{}, fmt.Errorf("%w: releasing actor is required", ErrInvalidInput)
	}

	if req.DocumentID != "" {
		doc, err := l.store.Document(ctx, req.DocumentID)
		if err != nil {
			return Entry{}, err
		}
		if doc.Category == CategoryInternalOnly {
			return Entry{}, ErrForbiddenCategory
		}
		if doc.DealID != req.DealID {
			return Entry{}, fmt.Errorf("%w: document belongs to a different deal", ErrInvalidInput)
		}
	}

	snapshot := Snapshot{
		NDAStatus:      agreement.StatusNotStarted,
		FeeStatus:      agreement.StatusNotStarted,
		CoverageSource: agreement.CoverageNone,
	}
	if req.Snapshot != nil {
		snapshot = *req.Snapshot
	} else if s, ok := l.resolveSnapshot(ctx, req.Identity); ok {
		snapshot = s
	}

	entry := Entry{
		DealID:     req.DealID,
		DocumentID: req.DocumentID,
		Identity:   req.Identity,
		Method:     req.Method,
		Snapshot:   snapshot,
		ReleasedBy: req.ReleasedBy,
		ReleasedAt: l.now(),
	}
	if err := l.store.AppendEntry(ctx, &entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Entry returns one ledger row.
func (l *Ledger) Entry(ctx context.Context, id string) (Entry, error) {
	return l.store.Entry(ctx, id)
}

// EntriesByDeal lists a deal's release history in append order.
func (l *Ledger) EntriesByDeal(ctx context.Context, dealID string) ([]Entry, error) {
	return l.store.EntriesByDeal(ctx, dealID)
}

// IssueLink mints a tracked link for a document and records the release it
// represents, tying the two together so the first open can be denormalized.
func (l *Ledger) IssueLink(ctx context.Context, req LinkRequest) (Link, error) {
	if err := req.Identity.Validate(); err != nil {
		return Link{}, err
	}
	doc, err := l.store.Document(ctx, req.DocumentID)
	if err != nil {
		return Link{}, err
	}
	entry, err := l.RecordRelease(ctx, ReleaseRequest{
		DealID:     doc.DealID,
		DocumentID: doc.ID,
		Identity:   req.Identity,
		Method:     MethodTrackedLink,
		ReleasedBy: req.IssuedBy,
	})
	if err != nil {
		return Link{}, err
	}

	link := Link{
		Token:      uuid.NewString(),
		DocumentID: doc.ID,
		EntryID:    entry.ID,
		Identity:   req.Identity,
		ExpiresAt:  req.ExpiresAt,
	}
	if err := l.store.CreateLink(ctx, &link); err != nil {
		return Link{}, err
	}
	return link, nil
}

// RevokeLink disables a link independent of the underlying grant.
func (l *Ledger) RevokeLink(ctx context.Context, linkID, revokedBy string) (Link, error) {
	return l.store.RevokeLink(ctx, linkID, revokedBy)
}

// ResolveLink answers an anonymous token lookup and records the open when
// the link resolves. It fails closed: unknown, revoked and expired tokens
// are indistinguishable to the caller.
func (l *Ledger) ResolveLink(ctx context.Context, token string) (Resolution, error) {
	unavailable := Resolution{Available: false}
	token = strings.TrimSpace(token)
	if token == "" {
		return unavailable, nil
	}
	link, err := l.store.LinkByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return unavailable, nil
	}
	if err != nil {
		return unavailable, err
	}
	now := l.now()
	if !link.UsableAt(now) {
		return unavailable, nil
	}
	doc, err := l.store.Document(ctx, link.DocumentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return unavailable, nil
		}
		return unavailable, err
	}
	if doc.Status != DocActive {
		return unavailable, nil
	}
	if _, err := l.store.RecordOpen(ctx, link.ID, now); err != nil {
		return unavailable, err
	}
	return Resolution{
		Available:  true,
		DocumentID: doc.ID,
		DealID:     doc.DealID,
		Name:       doc.Name,
	}, nil
}

func (l *Ledger) resolveSnapshot(ctx context.Context, identity access.IdentityRef) (Snapshot, bool) {
	if l.resolver == nil || l.emails == nil {
		return Snapshot{}, false
	}
	email, ok, err := l.emails.EmailFor(ctx, identity)
	if err != nil || !ok {
		return Snapshot{}, false
	}
	userID := ""
	if identity.Kind == access.KindPlatformUser {
		userID = identity.ID
	}
	nda, err := l.resolver.ResolveIdentity(ctx, userID, email, agreement.TypeNDA)
	if err != nil {
		return Snapshot{}, false
	}
	fee, err := l.resolver.ResolveIdentity(ctx, userID, email, agreement.TypeFee)
	if err != nil {
		return Snapshot{}, false
	}
	snap := Snapshot{
		NDAStatus:      statusOrDefault(nda.Status),
		FeeStatus:      statusOrDefault(fee.Status),
		CoverageSource: nda.Source,
		OrganizationID: nda.OrganizationID,
	}
	return snap, true
}

func statusOrDefault(s agreement.Status) agreement.Status {
	if s == "" {
		return agreement.StatusNotStarted
	}
	return s
}
