package release

import (
	"context"
	"time"

	"dealgate.io/internal/access"
)

// Store is the persistence contract for documents, ledger entries and
// tracked links. Entry writes are append-only: the only mutation permitted
// after AppendEntry is the engagement path driven by RecordOpen, which
// touches link counters and the entry's first-opened timestamp and nothing
// else. The storage layer enforces this as a capability restriction, not a
// convention.
type Store interface {
	AddDocument(ctx context.Context, doc *Document) error
	Document(ctx context.Context, id string) (Document, error)
	DocumentsByDeal(ctx context.Context, dealID string) ([]Document, error)

	AppendEntry(ctx context.Context, entry *Entry) error
	Entry(ctx context.Context, id string) (Entry, error)
	EntriesByDeal(ctx context.Context, dealID string) ([]Entry, error)

	CreateLink(ctx context.Context, link *Link) error
	LinkByToken(ctx context.Context, token string) (Link, error)
	RevokeLink(ctx context.Context, linkID, revokedBy string) (Link, error)
	// RecordOpen bumps the engagement counters on the link and, on first
	// open, stamps the corresponding ledger entry's FirstOpenedAt.
	RecordOpen(ctx context.Context, linkID string, at time.Time) (Link, error)
}

// ReleaseRequest describes one exposure event to append.
type ReleaseRequest struct {
	DealID     string             `json:"deal_id"`
	DocumentID string             `json:"document_id,omitempty"`
	Identity   access.IdentityRef `json:"identity"`
	Method     Method             `json:"method"`
	// Snapshot may be supplied by an automated collaborator that already
	// resolved coverage; when zero the ledger resolves it at append time.
	Snapshot   *Snapshot `json:"snapshot,omitempty"`
	ReleasedBy string    `json:"released_by"`
}

// LinkRequest describes a tracked link to issue.
type LinkRequest struct {
	DocumentID string             `json:"document_id"`
	Identity   access.IdentityRef `json:"identity"`
	ExpiresAt  *time.Time         `json:"expires_at,omitempty"`
	IssuedBy   string             `json:"issued_by"`
}
