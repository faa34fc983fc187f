package agreement

import (
	"context"
	"time"
)

// Directory is the read side the coverage resolver consults. Both the
// in-memory store and the Postgres store satisfy it.
type Directory interface {
	// OrganizationByDomain resolves a normalized domain to an organization,
	// reporting whether the match came through an alias rather than the
	// primary domain. Returns ErrNotFound when no organization claims it.
	OrganizationByDomain(ctx context.Context, domain string) (Organization, bool, error)
	Organization(ctx context.Context, id string) (Organization, error)
	// ParentOf returns the recorded controlling parent, if any.
	ParentOf(ctx context.Context, orgID string) (Organization, bool, error)
	IsGenericDomain(ctx context.Context, domain string) (bool, error)
	// IndividualTrack looks up a platform user's personal agreement fields,
	// keyed by internal identity reference rather than by domain.
	IndividualTrack(ctx context.Context, userID string, t Type) (Track, bool, error)
}

// ExpiredTrack reports one track the reconcile sweeper moved to expired.
type ExpiredTrack struct {
	OrganizationID   string    `json:"organization_id"`
	OrganizationName string    `json:"organization_name"`
	Type             Type      `json:"type"`
	ExpiredAt        time.Time `json:"expired_at"`
}

// Store is the full agreement persistence contract.
type Store interface {
	Directory

	CreateOrganization(ctx context.Context, org *Organization) error
	ListOrganizations(ctx context.Context) ([]Organization, error)
	AddAlias(ctx context.Context, alias DomainAlias) error
	SetParent(ctx context.Context, subsidiaryID, parentID string) error
	AddGenericDomains(ctx context.Context, domains ...string) error
	SetIndividualTrack(ctx context.Context, userID string, t Type, track Track) error

	// Transition applies the lifecycle state machine to one track and, in the
	// same commit scope, writes the audit entry and recomputes the derived
	// coverage shortcuts. Partial propagation is not a valid intermediate
	// state.
	Transition(ctx context.Context, orgID string, t Type, req TransitionRequest) (Organization, error)

	// MarkExpired persists the expired status for every track whose
	// expiration has passed. Resolver correctness never depends on this
	// having run; it exists for reporting.
	MarkExpired(ctx context.Context, now time.Time) ([]ExpiredTrack, error)
}
