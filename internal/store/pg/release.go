package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dealgate.io/internal/access"
	"dealgate.io/internal/agreement"
	"dealgate.io/internal/ids"
	"dealgate.io/internal/release"
)

var _ release.Store = (*Store)(nil)

const linkColumns = `id, token, document_id, entry_id, identity_kind, identity_id,
	created_at, expires_at, revoked_at, revoked_by, first_open_at, last_open_at, open_count`

func (s *Store) AddDocument(ctx context.Context, doc *release.Document) error {
	if doc == nil || strings.TrimSpace(doc.DealID) == "" || strings.TrimSpace(doc.Name) == "" {
		return fmt.Errorf("%w: document deal and name are required", release.ErrInvalidInput)
	}
	if !doc.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", release.ErrInvalidInput, doc.Category)
	}
	if doc.ID == "" {
		doc.ID = ids.New()
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = release.DocActive
	}
	_, err := s.db.ExecContext(ctx, `
		insert into documents(id, deal_id, name, category, status, current_version, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$7)
	`, doc.ID, doc.DealID, doc.Name, string(doc.Category), string(doc.Status), doc.CurrentVersion, now)
	return err
}

func (s *Store) Document(ctx context.Context, id string) (release.Document, error) {
	var doc release.Document
	var category, status string
	err := s.db.QueryRowContext(ctx, `
		select id, deal_id, name, category, status, current_version, created_at, updated_at
		from documents where id=$1
	`, id).Scan(&doc.ID, &doc.DealID, &doc.Name, &category, &status, &doc.CurrentVersion, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return release.Document{}, release.ErrNotFound
	}
	if err != nil {
		return release.Document{}, err
	}
	doc.Category = release.Category(category)
	doc.Status = release.DocStatus(status)
	return doc, nil
}

func (s *Store) DocumentsByDeal(ctx context.Context, dealID string) ([]release.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, deal_id, name, category, status, current_version, created_at, updated_at
		from documents where deal_id=$1 order by created_at asc
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []release.Document
	for rows.Next() {
		var doc release.Document
		var category, status string
		if err := rows.Scan(&doc.ID, &doc.DealID, &doc.Name, &category, &status, &doc.CurrentVersion, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Category = release.Category(category)
		doc.Status = release.DocStatus(status)
		res = append(res, doc)
	}
	return res, rows.Err()
}

// AppendEntry inserts one ledger row. The table carries no update grant
// except first_opened_at, enforced by a trigger in the schema.
func (s *Store) AppendEntry(ctx context.Context, entry *release.Entry) error {
	if entry == nil {
		return release.ErrInvalidInput
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.ReleasedAt.IsZero() {
		entry.ReleasedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into release_ledger(id, deal_id, document_id, identity_kind, identity_id, method,
			nda_status, fee_status, coverage_source, snapshot_org_id, released_by, released_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, entry.ID, entry.DealID, nullString(entry.DocumentID),
		string(entry.Identity.Kind), entry.Identity.ID, string(entry.Method),
		string(entry.Snapshot.NDAStatus), string(entry.Snapshot.FeeStatus),
		string(entry.Snapshot.CoverageSource), nullString(entry.Snapshot.OrganizationID),
		entry.ReleasedBy, entry.ReleasedAt)
	return err
}

func (s *Store) Entry(ctx context.Context, id string) (release.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, deal_id, coalesce(document_id,''), identity_kind, identity_id, method,
			nda_status, fee_status, coverage_source, coalesce(snapshot_org_id,''),
			released_by, released_at, first_opened_at
		from release_ledger where id=$1
	`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return release.Entry{}, release.ErrNotFound
	}
	return entry, err
}

func (s *Store) EntriesByDeal(ctx context.Context, dealID string) ([]release.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, deal_id, coalesce(document_id,''), identity_kind, identity_id, method,
			nda_status, fee_status, coverage_source, coalesce(snapshot_org_id,''),
			released_by, released_at, first_opened_at
		from release_ledger where deal_id=$1 order by released_at asc, id asc
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []release.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, entry)
	}
	return res, rows.Err()
}

func scanEntry(row interface{ Scan(...any) error }) (release.Entry, error) {
	var (
		entry                              release.Entry
		kind, method, ndaSt, feeSt, source string
		firstOpened                        sql.NullTime
	)
	if err := row.Scan(&entry.ID, &entry.DealID, &entry.DocumentID, &kind, &entry.Identity.ID, &method,
		&ndaSt, &feeSt, &source, &entry.Snapshot.OrganizationID,
		&entry.ReleasedBy, &entry.ReleasedAt, &firstOpened); err != nil {
		return release.Entry{}, err
	}
	entry.Identity.Kind = access.IdentityKind(kind)
	entry.Method = release.Method(method)
	entry.Snapshot.NDAStatus = agreement.Status(ndaSt)
	entry.Snapshot.FeeStatus = agreement.Status(feeSt)
	entry.Snapshot.CoverageSource = agreement.CoverageSource(source)
	entry.FirstOpenedAt = timePtr(firstOpened)
	return entry, nil
}

func (s *Store) CreateLink(ctx context.Context, link *release.Link) error {
	if link == nil || strings.TrimSpace(link.Token) == "" || strings.TrimSpace(link.DocumentID) == "" {
		return fmt.Errorf("%w: link token and document are required", release.ErrInvalidInput)
	}
	if link.ID == "" {
		link.ID = ids.New()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into tracked_links(id, token, document_id, entry_id, identity_kind, identity_id, created_at, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, link.ID, link.Token, link.DocumentID, nullString(link.EntryID),
		string(link.Identity.Kind), link.Identity.ID, link.CreatedAt, nullTime(link.ExpiresAt))
	return err
}

func (s *Store) LinkByToken(ctx context.Context, token string) (release.Link, error) {
	row := s.db.QueryRowContext(ctx, `select `+linkColumns+` from tracked_links where token=$1`, token)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return release.Link{}, release.ErrNotFound
	}
	return link, err
}

func (s *Store) RevokeLink(ctx context.Context, linkID, revokedBy string) (release.Link, error) {
	if _, err := s.db.ExecContext(ctx, `
		update tracked_links set revoked_at=now(), revoked_by=$2
		where id=$1 and revoked_at is null
	`, linkID, revokedBy); err != nil {
		return release.Link{}, err
	}
	return s.linkByID(ctx, linkID)
}

// RecordOpen bumps the engagement counters and, on first open, denormalizes
// the timestamp onto the ledger entry in the same transaction.
func (s *Store) RecordOpen(ctx context.Context, linkID string, at time.Time) (release.Link, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return release.Link{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var entryID sql.NullString
	var firstOpen sql.NullTime
	err = tx.QueryRowContext(ctx, `
		select entry_id, first_open_at from tracked_links where id=$1 for update
	`, linkID).Scan(&entryID, &firstOpen)
	if errors.Is(err, sql.ErrNoRows) {
		return release.Link{}, release.ErrNotFound
	}
	if err != nil {
		return release.Link{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		update tracked_links set
			first_open_at = coalesce(first_open_at, $2),
			last_open_at = $2,
			open_count = open_count + 1
		where id=$1
	`, linkID, at); err != nil {
		return release.Link{}, err
	}
	if !firstOpen.Valid && entryID.Valid {
		if _, err := tx.ExecContext(ctx, `
			update release_ledger set first_opened_at=$2
			where id=$1 and first_opened_at is null
		`, entryID.String, at); err != nil {
			return release.Link{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return release.Link{}, err
	}
	return s.linkByID(ctx, linkID)
}

func (s *Store) linkByID(ctx context.Context, id string) (release.Link, error) {
	row := s.db.QueryRowContext(ctx, `select `+linkColumns+` from tracked_links where id=$1`, id)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return release.Link{}, release.ErrNotFound
	}
	return link, err
}

func scanLink(row interface{ Scan(...any) error }) (release.Link, error) {
	var (
		link                                      release.Link
		kind                                      string
		entryID, revokedBy                        sql.NullString
		expiresAt, revokedAt, firstOpen, lastOpen sql.NullTime
	)
	if err := row.Scan(&link.ID, &link.Token, &link.DocumentID, &entryID, &kind, &link.Identity.ID,
		&link.CreatedAt, &expiresAt, &revokedAt, &revokedBy, &firstOpen, &lastOpen, &link.OpenCount); err != nil {
		return release.Link{}, err
	}
	link.EntryID = entryID.String
	link.Identity.Kind = access.IdentityKind(kind)
	link.ExpiresAt = timePtr(expiresAt)
	link.RevokedAt = timePtr(revokedAt)
	link.RevokedBy = revokedBy.String
	link.FirstOpenAt = timePtr(firstOpen)
	link.LastOpenAt = timePtr(lastOpen)
	return link, nil
}
