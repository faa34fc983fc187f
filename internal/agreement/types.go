package agreement

import (
	"errors"
	"time"
)

// Type selects one of the two independent agreement tracks an organization
// holds: the non-disclosure agreement gating teaser/memo visibility and the
// fee agreement gating data room visibility.
type Type string

const (
	TypeNDA Type = "nda"
	TypeFee Type = "fee"
)

// Valid reports whether t names a known agreement track.
func (t Type) Valid() bool { return t == TypeNDA || t == TypeFee }

// Status is the lifecycle state of one agreement track.
type Status string

const (
	StatusNotStarted  Status = "not_started"
	StatusSent        Status = "sent"
	StatusRedlined    Status = "redlined"
	StatusUnderReview Status = "under_review"
	StatusSigned      Status = "signed"
	StatusExpired     Status = "expired"
	StatusDeclined    Status = "declined"
)

// Scope distinguishes a fee agreement covering every deal with an
// organization from one covering a single named deal.
type Scope string

const (
	ScopeBlanket      Scope = "blanket"
	ScopeDealSpecific Scope = "deal_specific"
)

// Source records how an executed agreement document entered the platform.
type Source string

const (
	SourcePlatform   Source = "platform"
	SourceManual     Source = "manual_upload"
	SourceESignature Source = "external_esignature"
	SourceOther      Source = "other"
)

// Track holds the full state of one agreement type for an organization or an
// individual user. Signed status implies SignedAt and SignedByName are set.
type Track struct {
	Status       Status     `json:"status"`
	Scope        Scope      `json:"scope,omitempty"`
	DealID       string     `json:"deal_id,omitempty"`
	SignedAt     *time.Time `json:"signed_at,omitempty"`
	SignedByID   string     `json:"signed_by_id,omitempty"`
	SignedByName string     `json:"signed_by_name,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Source       Source     `json:"source,omitempty"`
	DocumentRefs []string   `json:"document_refs,omitempty"`
	RedlineNotes string     `json:"redline_notes,omitempty"`
}

// Organization is one agreement record: a company with a primary email
// domain and two independent agreement tracks. The NDAActive/FeeActive
// booleans are derived shortcuts for other subsystems and are recomputed in
// the same transaction as any status change; they are never the source of
// truth.
type Organization struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	PrimaryDomain string            `json:"primary_domain"`
	NDA           Track             `json:"nda"`
	Fee           Track             `json:"fee"`
	NDAActive     bool              `json:"nda_active"`
	FeeActive     bool              `json:"fee_active"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// TrackFor returns the organization's track for the given agreement type.
func (o Organization) TrackFor(t Type) Track {
	if t == TypeFee {
		return o.Fee
	}
	return o.NDA
}

// DomainAlias maps an additional email domain (rebrand, related entity) onto
// an existing organization. Aliases are created, never mutated.
type DomainAlias struct {
	Domain         string    `json:"domain"`
	OrganizationID string    `json:"organization_id"`
	Primary        bool      `json:"primary"`
	CreatedAt      time.Time `json:"created_at"`
}

// ParentLink records that a controlling parent (e.g. a private equity firm)
// owns a subsidiary organization. At most one parent per subsidiary; used
// only for coverage inheritance.
type ParentLink struct {
	SubsidiaryID string    `json:"subsidiary_id"`
	ParentID     string    `json:"parent_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// CoverageSource identifies how a coverage verdict was established.
type CoverageSource string

const (
	CoverageDirect      CoverageSource = "direct"
	CoverageDomainAlias CoverageSource = "domain_alias"
	CoveragePEParent    CoverageSource = "pe_parent"
	CoverageIndividual  CoverageSource = "individual"
	CoverageNone        CoverageSource = "none"
)

// Verdict is the result of resolving coverage for an email (or an individual
// identity) against one agreement type. Status is the effective status at
// resolution time: a stored "signed" with a past expiration reports
// StatusExpired and Covered=false.
type Verdict struct {
	Covered                bool           `json:"covered"`
	Source                 CoverageSource `json:"source"`
	OrganizationID         string         `json:"organization_id,omitempty"`
	OrganizationName       string         `json:"organization_name,omitempty"`
	Status                 Status         `json:"status,omitempty"`
	SignedByName           string         `json:"signed_by_name,omitempty"`
	SignedAt               *time.Time     `json:"signed_at,omitempty"`
	ParentOrganizationName string         `json:"parent_organization_name,omitempty"`
	ExpiresAt              *time.Time     `json:"expires_at,omitempty"`
}

var (
	ErrNotFound          = errors.New("agreement: not found")
	ErrInvalidInput      = errors.New("agreement: invalid input")
	ErrAlreadyExists     = errors.New("agreement: already exists")
	ErrInvalidTransition = errors.New("agreement: invalid status transition")
	ErrNoDomain          = errors.New("agreement: address has no domain")
)
