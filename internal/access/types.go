package access

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dealgate.io/internal/agreement"
)

// IdentityKind names the three mutually exclusive requester shapes a grant
// can reference.
type IdentityKind string

const (
	// KindOrganizationBuyer is a buyer affiliated with an organization
	// agreement record.
	KindOrganizationBuyer IdentityKind = "organization_buyer"
	// KindPlatformUser is an individually-authenticated platform user.
	KindPlatformUser IdentityKind = "platform_user"
	// KindContact is a generic contact record with no platform account.
	KindContact IdentityKind = "contact"
)

// IdentityRef is a tagged union: exactly one kind, one id. The constraint
// that a grant references exactly one requester is structural, enforced at
// construction, not a business rule that can be waived.
type IdentityRef struct {
	Kind IdentityKind `json:"kind"`
	ID   string       `json:"id"`
}

// OrganizationBuyer references an organization-affiliated buyer.
func OrganizationBuyer(id string) IdentityRef {
	return IdentityRef{Kind: KindOrganizationBuyer, ID: id}
}

// PlatformUser references an individually-authenticated user.
func PlatformUser(id string) IdentityRef {
	return IdentityRef{Kind: KindPlatformUser, ID: id}
}

// Contact references a generic contact record.
func Contact(id string) IdentityRef {
	return IdentityRef{Kind: KindContact, ID: id}
}

// NewIdentityRef reduces three optional references to exactly one. Zero or
// more than one set reference is ErrAmbiguousIdentity.
func NewIdentityRef(orgBuyerID, userID, contactID string) (IdentityRef, error) {
	var refs []IdentityRef
	if strings.TrimSpace(orgBuyerID) != "" {
		refs = append(refs, OrganizationBuyer(orgBuyerID))
	}
	if strings.TrimSpace(userID) != "" {
		refs = append(refs, PlatformUser(userID))
	}
	if strings.TrimSpace(contactID) != "" {
		refs = append(refs, Contact(contactID))
	}
	if len(refs) != 1 {
		return IdentityRef{}, ErrAmbiguousIdentity
	}
	return refs[0], nil
}

// Validate checks the tagged union's structural invariant.
func (r IdentityRef) Validate() error {
	switch r.Kind {
	case KindOrganizationBuyer, KindPlatformUser, KindContact:
	default:
		return ErrAmbiguousIdentity
	}
	if strings.TrimSpace(r.ID) == "" {
		return ErrAmbiguousIdentity
	}
	return nil
}

// Key is the storage key used to enforce one active grant per (identity,
// deal) pair.
func (r IdentityRef) Key() string {
	return string(r.Kind) + ":" + r.ID
}

func (r IdentityRef) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.ID)
}

// Capabilities are the three independent document-access toggles.
type Capabilities struct {
	Teaser   bool `json:"teaser"`
	Memo     bool `json:"memo"`
	DataRoom bool `json:"data_room"`
}

// Any reports whether at least one capability is enabled.
func (c Capabilities) Any() bool { return c.Teaser || c.Memo || c.DataRoom }

// Grant is one row of the per-deal access matrix. Rows are created on first
// grant, mutated on toggle changes, revocation or override, and never
// physically deleted: revocation is a state.
type Grant struct {
	ID             string            `json:"id"`
	DealID         string            `json:"deal_id"`
	Identity       IdentityRef       `json:"identity"`
	Capabilities   Capabilities      `json:"capabilities"`
	GrantedAt      time.Time         `json:"granted_at"`
	GrantedBy      string            `json:"granted_by"`
	UpdatedAt      time.Time         `json:"updated_at"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	RevokedAt      *time.Time        `json:"revoked_at,omitempty"`
	RevokedBy      string            `json:"revoked_by,omitempty"`
	RevokeReason   string            `json:"revoke_reason,omitempty"`
	Override       bool              `json:"override"`
	OverrideReason string            `json:"override_reason,omitempty"`
	OverriddenBy   string            `json:"overridden_by,omitempty"`
	OverriddenAt   *time.Time        `json:"overridden_at,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ActiveAt reports whether the grant is neither revoked nor expired at the
// given instant. Expiration is evaluated at read time; there is no sweeper.
func (g Grant) ActiveAt(now time.Time) bool {
	if g.RevokedAt != nil {
		return false
	}
	if g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
		return false
	}
	return true
}

// GrantView joins a grant with the coverage that currently justifies it, so
// a reviewer can see both what was granted and whether the legal basis still
// holds. CoverageLapsed flags the reportable risk condition of an active
// grant whose coverage has since lapsed; it never triggers auto-revocation.
type GrantView struct {
	Grant          Grant             `json:"grant"`
	Active         bool              `json:"active"`
	NDACoverage    agreement.Verdict `json:"nda_coverage"`
	FeeCoverage    agreement.Verdict `json:"fee_coverage"`
	CoverageLapsed bool              `json:"coverage_lapsed"`
}

var (
	ErrNotFound          = errors.New("access: not found")
	ErrInvalidInput      = errors.New("access: invalid input")
	ErrAmbiguousIdentity = errors.New("access: identity must reduce to exactly one reference")
	ErrDuplicateGrant    = errors.New("access: an active grant already exists for this identity and deal")
	ErrEmptyReason       = errors.New("access: a non-empty reason is required")
)
