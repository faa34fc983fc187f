package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dealgate.io/internal/agreement"
)

// DealDirectory is the external collaborator that knows which deals exist.
type DealDirectory interface {
	DealExists(ctx context.Context, dealID string) (bool, error)
}

// IdentityDirectory is the external collaborator that maps an identity
// reference to its authenticated email address.
type IdentityDirectory interface {
	EmailFor(ctx context.Context, ref IdentityRef) (string, bool, error)
}

// CoverageResolver answers agreement coverage for an identity. Satisfied by
// the agreement resolver and its caching wrapper.
type CoverageResolver interface {
	ResolveIdentity(ctx context.Context, userID, email string, t agreement.Type) (agreement.Verdict, error)
}

// Matrix is the access grant service: grant provisioning validated against
// the deal directory, and the read-side join of grants with the coverage
// that justified them.
type Matrix struct {
	store    Store
	resolver CoverageResolver
	deals    DealDirectory
	emails   IdentityDirectory
	now      func() time.Time
}

// MatrixOption configures a Matrix.
type MatrixOption func(*Matrix)

// WithMatrixClock overrides the time source (tests).
func WithMatrixClock(fn func() time.Time) MatrixOption {
	return func(m *Matrix) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewMatrix wires the grant store with its collaborators.
func NewMatrix(store Store, resolver CoverageResolver, deals DealDirectory, emails IdentityDirectory, opts ...MatrixOption) *Matrix {
	m := &Matrix{
		store:    store,
		resolver: resolver,
		deals:    deals,
		emails:   emails,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Grant validates the request against the deal directory and provisions the
// grant. DuplicateGrant surfaces unchanged so callers retry as an update.
func (m *Matrix) Grant(ctx context.Context, req GrantRequest) (Grant, error) {
	if err := req.Identity.Validate(); err != nil {
		return Grant{}, err
	}
	if m.deals != nil {
		ok, err := m.deals.DealExists(ctx, req.DealID)
		if err != nil {
			return Grant{}, fmt.Errorf("check deal: %w", err)
		}
		if !ok {
			return Grant{}, fmt.Errorf("%w: deal %s", ErrNotFound, req.DealID)
		}
	}
	return m.store.Grant(ctx, req)
}

// UpdateCapabilities is the retry-as-update path after DuplicateGrant.
func (m *Matrix) UpdateCapabilities(ctx context.Context, grantID string, caps Capabilities, actor string) (Grant, error) {
	return m.store.UpdateCapabilities(ctx, grantID, caps, actor)
}

// Revoke marks the grant revoked. The row survives.
func (m *Matrix) Revoke(ctx context.Context, grantID, revokedBy, reason string) (Grant, error) {
	return m.store.Revoke(ctx, grantID, revokedBy, reason)
}

// Override sets or clears the manual exception flag. Setting it requires a
// non-empty reason.
func (m *Matrix) Override(ctx context.Context, grantID string, flag bool, reason, overriddenBy string) (Grant, error) {
	if flag && strings.TrimSpace(reason) == "" {
		return Grant{}, ErrEmptyReason
	}
	return m.store.Override(ctx, grantID, flag, reason, overriddenBy)
}

// Get returns one grant row.
func (m *Matrix) Get(ctx context.Context, grantID string) (Grant, error) {
	return m.store.Get(ctx, grantID)
}

// ActiveGrant returns the active grant for an (identity, deal) pair, if any.
func (m *Matrix) ActiveGrant(ctx context.Context, identity IdentityRef, dealID string) (Grant, bool, error) {
	return m.store.ActiveGrant(ctx, identity, dealID)
}

// ListOverrides surfaces every override for compliance review.
func (m *Matrix) ListOverrides(ctx context.Context) ([]Grant, error) {
	return m.store.ListOverrides(ctx)
}

// Query returns the full access matrix for a deal: each grant joined with
// the coverage verdicts currently in force for its identity. A grant that is
// still active while its coverage has lapsed is flagged, not revoked.
func (m *Matrix) Query(ctx context.Context, dealID string) ([]GrantView, error) {
	grants, err := m.store.ListByDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	views := make([]GrantView, 0, len(grants))
	for _, g := range grants {
		view := GrantView{Grant: g, Active: g.ActiveAt(now)}
		nda, fee, err := m.coverageFor(ctx, g.Identity)
		if err != nil {
			return nil, err
		}
		view.NDACoverage = nda
		view.FeeCoverage = fee
		view.CoverageLapsed = coverageLapsed(view, now)
		views = append(views, view)
	}
	return views, nil
}

func (m *Matrix) coverageFor(ctx context.Context, identity IdentityRef) (agreement.Verdict, agreement.Verdict, error) {
	none := agreement.Verdict{Source: agreement.CoverageNone}
	if m.resolver == nil || m.emails == nil {
		return none, none, nil
	}
	email, ok, err := m.emails.EmailFor(ctx, identity)
	if err != nil {
		return none, none, err
	}
	if !ok {
		return none, none, nil
	}
	userID := ""
	if identity.Kind == KindPlatformUser {
		userID = identity.ID
	}
	nda, err := m.resolver.ResolveIdentity(ctx, userID, email, agreement.TypeNDA)
	if err != nil {
		return none, none, err
	}
	fee, err := m.resolver.ResolveIdentity(ctx, userID, email, agreement.TypeFee)
	if err != nil {
		return none, none, err
	}
	return nda, fee, nil
}

// coverageLapsed flags an active, non-override grant whose enabled
// capabilities are no longer justified by current coverage: teaser and memo
// rest on the NDA, the data room on the fee agreement.
func coverageLapsed(v GrantView, now time.Time) bool {
	if !v.Active || v.Grant.Override {
		return false
	}
	caps := v.Grant.Capabilities
	if (caps.Teaser || caps.Memo) && !v.NDACoverage.Covered {
		return true
	}
	if caps.DataRoom && !v.FeeCoverage.Covered {
		return true
	}
	return false
}
