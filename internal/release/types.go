package release

import (
	"errors"
	"time"

	"dealgate.io/internal/access"
	"dealgate.io/internal/agreement"
)

// Category is the disclosure tier a document belongs to. internal_only
// documents can never appear in a release ledger entry; there is no
// administrative override for that rule.
type Category string

const (
	CategoryInternalOnly Category = "internal_only"
	CategoryTeaser       Category = "pre_disclosure_teaser"
	CategoryDataRoom     Category = "post_agreement_data_room"
)

// Valid reports whether c names a known document category.
func (c Category) Valid() bool {
	return c == CategoryInternalOnly || c == CategoryTeaser || c == CategoryDataRoom
}

// DocStatus is a document's lifecycle state.
type DocStatus string

const (
	DocActive   DocStatus = "active"
	DocArchived DocStatus = "archived"
	DocDeleted  DocStatus = "deleted"
)

// Document is one deal material. Storage and rendering live elsewhere; the
// engine only needs category, status and versioning to gate exposure.
type Document struct {
	ID             string    `json:"id"`
	DealID         string    `json:"deal_id"`
	Name           string    `json:"name"`
	Category       Category  `json:"category"`
	Status         DocStatus `json:"status"`
	CurrentVersion bool      `json:"current_version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Method records how a document reached the recipient.
type Method string

const (
	MethodTrackedLink   Method = "tracked_link"
	MethodDirect        Method = "direct_download"
	MethodCampaign      Method = "automated_campaign"
	MethodDataRoomGrant Method = "data_room_grant"
)

// Valid reports whether m names a known release method.
func (m Method) Valid() bool {
	switch m {
	case MethodTrackedLink, MethodDirect, MethodCampaign, MethodDataRoomGrant:
		return true
	}
	return false
}

// Snapshot freezes the agreement state observed at the moment of release.
// It is a denormalized copy, never a live reference: later changes to the
// underlying agreement must not alter what the historical record shows.
type Snapshot struct {
	NDAStatus      agreement.Status         `json:"nda_status"`
	FeeStatus      agreement.Status         `json:"fee_status"`
	CoverageSource agreement.CoverageSource `json:"coverage_source"`
	OrganizationID string                   `json:"organization_id,omitempty"`
}

// Entry is one immutable release ledger row. After creation only
// FirstOpenedAt (denormalized from the first tracked-link open) may change;
// every other field is frozen and no row is ever deleted.
type Entry struct {
	ID         string             `json:"id"`
	DealID     string             `json:"deal_id"`
	DocumentID string             `json:"document_id,omitempty"` // empty for legacy bulk distributions
	Identity   access.IdentityRef `json:"identity"`
	Method     Method             `json:"method"`
	Snapshot   Snapshot           `json:"snapshot"`
	ReleasedBy string             `json:"released_by"`
	ReleasedAt time.Time          `json:"released_at"`

	FirstOpenedAt *time.Time `json:"first_opened_at,omitempty"`
}

// Link is a per-identity, per-document access token. Engagement counters are
// the only ledger-adjacent state that stays mutable after creation, and a
// link is revocable independent of the underlying grant.
type Link struct {
	ID         string             `json:"id"`
	Token      string             `json:"token"`
	DocumentID string             `json:"document_id"`
	EntryID    string             `json:"entry_id,omitempty"`
	Identity   access.IdentityRef `json:"identity"`
	CreatedAt  time.Time          `json:"created_at"`
	ExpiresAt  *time.Time         `json:"expires_at,omitempty"`
	RevokedAt  *time.Time         `json:"revoked_at,omitempty"`
	RevokedBy  string             `json:"revoked_by,omitempty"`

	FirstOpenAt *time.Time `json:"first_open_at,omitempty"`
	LastOpenAt  *time.Time `json:"last_open_at,omitempty"`
	OpenCount   int        `json:"open_count"`
}

// UsableAt reports whether the link still resolves at the given instant.
func (l Link) UsableAt(now time.Time) bool {
	if l.RevokedAt != nil {
		return false
	}
	if l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Resolution is the public answer for a tracked-link token. It fails closed:
// unknown, revoked and expired tokens all produce Available=false with no
// distinguishing detail for the anonymous caller.
type Resolution struct {
	Available  bool   `json:"available"`
	DocumentID string `json:"document_id,omitempty"`
	DealID     string `json:"deal_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

var (
	ErrNotFound          = errors.New("release: not found")
	ErrInvalidInput      = errors.New("release: invalid input")
	ErrForbiddenCategory = errors.New("release: internal-only documents can never be released")
)
