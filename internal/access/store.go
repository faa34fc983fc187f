package access

import (
	"context"
	"time"
)

// GrantRequest carries everything needed to provision a new grant row.
type GrantRequest struct {
	DealID       string            `json:"deal_id"`
	Identity     IdentityRef       `json:"identity"`
	Capabilities Capabilities      `json:"capabilities"`
	GrantedBy    string            `json:"granted_by"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Store is the grant persistence contract. Implementations must serialize
// concurrent Grant calls for the same (identity, deal) pair so that exactly
// one active grant exists; a losing writer receives ErrDuplicateGrant and
// retries as an update.
type Store interface {
	Grant(ctx context.Context, req GrantRequest) (Grant, error)
	Get(ctx context.Context, grantID string) (Grant, error)
	ActiveGrant(ctx context.Context, identity IdentityRef, dealID string) (Grant, bool, error)
	UpdateCapabilities(ctx context.Context, grantID string, caps Capabilities, actor string) (Grant, error)
	Revoke(ctx context.Context, grantID, revokedBy, reason string) (Grant, error)
	Override(ctx context.Context, grantID string, flag bool, reason, overriddenBy string) (Grant, error)
	ListByDeal(ctx context.Context, dealID string) ([]Grant, error)
	// ListOverrides returns every grant carrying an override flag, for
	// compliance review.
	ListOverrides(ctx context.Context) ([]Grant, error)
}
