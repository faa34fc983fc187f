package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dealgate.io/internal/agreement"
	"dealgate.io/internal/audit"
	"dealgate.io/internal/ids"
)

var _ agreement.Store = (*Store)(nil)

// querier abstracts *sql.DB and *sql.Tx so organization loading works both
// inside and outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const trackColumns = `status, scope, deal_id, signed_at, signed_by_id, signed_by_name, expires_at, source, document_refs, redline_notes`

func (s *Store) CreateOrganization(ctx context.Context, org *agreement.Organization) error {
	if org == nil || strings.TrimSpace(org.Name) == "" {
		return fmt.Errorf("%w: organization name is required", agreement.ErrInvalidInput)
	}
	domain := strings.ToLower(strings.TrimSpace(org.PrimaryDomain))
	if domain == "" {
		return fmt.Errorf("%w: primary domain is required", agreement.ErrInvalidInput)
	}

	if org.ID == "" {
		org.ID = ids.New()
	}
	now := time.Now().UTC()
	org.PrimaryDomain = domain
	org.CreatedAt = now
	org.UpdatedAt = now
	if org.NDA.Status == "" {
		org.NDA.Status = agreement.StatusNotStarted
	}
	if org.Fee.Status == "" {
		org.Fee.Status = agreement.StatusNotStarted
	}
	if org.Fee.Scope == "" {
		org.Fee.Scope = agreement.ScopeBlanket
	}
	org.NDAActive = agreement.CoveredAt(org.NDA, now)
	org.FeeActive = agreement.CoveredAt(org.Fee, now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into organizations(id, name, primary_domain, nda_active, fee_active, metadata, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$7)
	`, org.ID, org.Name, domain, org.NDAActive, org.FeeActive, jsonMap(org.Metadata), now); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: domain %s", agreement.ErrAlreadyExists, domain)
		}
		return err
	}
	// The primary domain lives in domain_aliases too so a single lookup
	// resolves any domain; is_primary distinguishes direct from alias.
	if _, err := tx.ExecContext(ctx, `
		insert into domain_aliases(domain, organization_id, is_primary, created_at)
		values ($1,$2,true,$3)
	`, domain, org.ID, now); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: domain %s", agreement.ErrAlreadyExists, domain)
		}
		return err
	}
	for _, t := range []agreement.Type{agreement.TypeNDA, agreement.TypeFee} {
		if err := insertTrack(ctx, tx, org.ID, t, org.TrackFor(t)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertTrack(ctx context.Context, q querier, orgID string, t agreement.Type, track agreement.Track) error {
	_, err := q.ExecContext(ctx, `
		insert into agreement_tracks(org_id, agreement_type, `+trackColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, orgID, string(t),
		string(track.Status), string(track.Scope), nullString(track.DealID),
		nullTime(track.SignedAt), nullString(track.SignedByID), nullString(track.SignedByName),
		nullTime(track.ExpiresAt), string(track.Source), jsonStrings(track.DocumentRefs),
		nullString(track.RedlineNotes))
	return err
}

func updateTrack(ctx context.Context, q querier, orgID string, t agreement.Type, track agreement.Track) error {
	_, err := q.ExecContext(ctx, `
		update agreement_tracks set
			status=$3, scope=$4, deal_id=$5, signed_at=$6, signed_by_id=$7,
			signed_by_name=$8, expires_at=$9, source=$10, document_refs=$11, redline_notes=$12
		where org_id=$1 and agreement_type=$2
	`, orgID, string(t),
		string(track.Status), string(track.Scope), nullString(track.DealID),
		nullTime(track.SignedAt), nullString(track.SignedByID), nullString(track.SignedByName),
		nullTime(track.ExpiresAt), string(track.Source), jsonStrings(track.DocumentRefs),
		nullString(track.RedlineNotes))
	return err
}

func scanTrack(row interface{ Scan(...any) error }) (agreement.Track, error) {
	var (
		track                                   agreement.Track
		status, scope, source                   string
		dealID, signedByID, signedByName, notes sql.NullString
		signedAt, expiresAt                     sql.NullTime
		docRefs                                 []byte
	)
	if err := row.Scan(&status, &scope, &dealID, &signedAt, &signedByID, &signedByName, &expiresAt, &source, &docRefs, &notes); err != nil {
		return agreement.Track{}, err
	}
	track.Status = agreement.Status(status)
	track.Scope = agreement.Scope(scope)
	track.DealID = dealID.String
	track.SignedAt = timePtr(signedAt)
	track.SignedByID = signedByID.String
	track.SignedByName = signedByName.String
	track.ExpiresAt = timePtr(expiresAt)
	track.Source = agreement.Source(source)
	track.DocumentRefs = scanStrings(docRefs)
	track.RedlineNotes = notes.String
	return track, nil
}

func loadOrganization(ctx context.Context, q querier, id string) (agreement.Organization, error) {
	var (
		org      agreement.Organization
		metadata []byte
	)
	err := q.QueryRowContext(ctx, `
		select id, name, primary_domain, nda_active, fee_active, metadata, created_at, updated_at
		from organizations where id=$1
	`, id).Scan(&org.ID, &org.Name, &org.PrimaryDomain, &org.NDAActive, &org.FeeActive, &metadata, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return agreement.Organization{}, agreement.ErrNotFound
	}
	if err != nil {
		return agreement.Organization{}, err
	}
	org.Metadata = scanMap(metadata)

	rows, err := q.QueryContext(ctx, `
		select agreement_type, `+trackColumns+`
		from agreement_tracks where org_id=$1
	`, id)
	if err != nil {
		return agreement.Organization{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var (
			status, scope, source                   string
			dealID, signedByID, signedByName, notes sql.NullString
			signedAt, expiresAt                     sql.NullTime
			docRefs                                 []byte
		)
		if err := rows.Scan(&t, &status, &scope, &dealID, &signedAt, &signedByID, &signedByName, &expiresAt, &source, &docRefs, &notes); err != nil {
			return agreement.Organization{}, err
		}
		track := agreement.Track{
			Status:       agreement.Status(status),
			Scope:        agreement.Scope(scope),
			DealID:       dealID.String,
			SignedAt:     timePtr(signedAt),
			SignedByID:   signedByID.String,
			SignedByName: signedByName.String,
			ExpiresAt:    timePtr(expiresAt),
			Source:       agreement.Source(source),
			DocumentRefs: scanStrings(docRefs),
			RedlineNotes: notes.String,
		}
		if agreement.Type(t) == agreement.TypeFee {
			org.Fee = track
		} else {
			org.NDA = track
		}
	}
	return org, rows.Err()
}

func (s *Store) Organization(ctx context.Context, id string) (agreement.Organization, error) {
	return loadOrganization(ctx, s.db, id)
}

func (s *Store) ListOrganizations(ctx context.Context) ([]agreement.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `select id from organizations order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var idList []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		idList = append(idList, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	res := make([]agreement.Organization, 0, len(idList))
	for _, id := range idList {
		org, err := loadOrganization(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		res = append(res, org)
	}
	return res, nil
}

func (s *Store) OrganizationByDomain(ctx context.Context, domain string) (agreement.Organization, bool, error) {
	var (
		orgID     string
		isPrimary bool
	)
	err := s.db.QueryRowContext(ctx, `
		select organization_id, is_primary from domain_aliases where domain=$1
	`, strings.ToLower(domain)).Scan(&orgID, &isPrimary)
	if errors.Is(err, sql.ErrNoRows) {
		return agreement.Organization{}, false, agreement.ErrNotFound
	}
	if err != nil {
		return agreement.Organization{}, false, err
	}
	org, err := loadOrganization(ctx, s.db, orgID)
	if err != nil {
		return agreement.Organization{}, false, err
	}
	return org, !isPrimary, nil
}

func (s *Store) AddAlias(ctx context.Context, alias agreement.DomainAlias) error {
	domain := strings.ToLower(strings.TrimSpace(alias.Domain))
	if domain == "" || alias.OrganizationID == "" {
		return fmt.Errorf("%w: alias domain and organization are required", agreement.ErrInvalidInput)
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `select true from organizations where id=$1`, alias.OrganizationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return agreement.ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into domain_aliases(domain, organization_id, is_primary, created_at)
		values ($1,$2,false,now())
	`, domain, alias.OrganizationID); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: domain %s", agreement.ErrAlreadyExists, domain)
		}
		return err
	}
	return nil
}

func (s *Store) SetParent(ctx context.Context, subsidiaryID, parentID string) error {
	if subsidiaryID == "" || parentID == "" || subsidiaryID == parentID {
		return fmt.Errorf("%w: subsidiary and parent must be distinct organizations", agreement.ErrInvalidInput)
	}
	for _, id := range []string{subsidiaryID, parentID} {
		var exists bool
		err := s.db.QueryRowContext(ctx, `select true from organizations where id=$1`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return agreement.ErrNotFound
		}
		if err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into parent_links(subsidiary_id, parent_id, created_at)
		values ($1,$2,now())
		on conflict (subsidiary_id) do update set parent_id = excluded.parent_id
	`, subsidiaryID, parentID)
	return err
}

func (s *Store) ParentOf(ctx context.Context, orgID string) (agreement.Organization, bool, error) {
	var parentID string
	err := s.db.QueryRowContext(ctx, `select parent_id from parent_links where subsidiary_id=$1`, orgID).Scan(&parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return agreement.Organization{}, false, nil
	}
	if err != nil {
		return agreement.Organization{}, false, err
	}
	parent, err := loadOrganization(ctx, s.db, parentID)
	if errors.Is(err, agreement.ErrNotFound) {
		return agreement.Organization{}, false, nil
	}
	if err != nil {
		return agreement.Organization{}, false, err
	}
	return parent, true, nil
}

func (s *Store) AddGenericDomains(ctx context.Context, domains ...string) error {
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `
			insert into generic_domains(domain) values ($1) on conflict do nothing
		`, d); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) IsGenericDomain(ctx context.Context, domain string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `select true from generic_domains where domain=$1`, strings.ToLower(domain)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) SetIndividualTrack(ctx context.Context, userID string, t agreement.Type, track agreement.Track) error {
	if userID == "" || !t.Valid() {
		return fmt.Errorf("%w: user and agreement type are required", agreement.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into individual_tracks(user_id, agreement_type, `+trackColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		on conflict (user_id, agreement_type) do update set
			status=excluded.status, scope=excluded.scope, deal_id=excluded.deal_id,
			signed_at=excluded.signed_at, signed_by_id=excluded.signed_by_id,
			signed_by_name=excluded.signed_by_name, expires_at=excluded.expires_at,
			source=excluded.source, document_refs=excluded.document_refs,
			redline_notes=excluded.redline_notes
	`, userID, string(t),
		string(track.Status), string(track.Scope), nullString(track.DealID),
		nullTime(track.SignedAt), nullString(track.SignedByID), nullString(track.SignedByName),
		nullTime(track.ExpiresAt), string(track.Source), jsonStrings(track.DocumentRefs),
		nullString(track.RedlineNotes))
	return err
}

func (s *Store) IndividualTrack(ctx context.Context, userID string, t agreement.Type) (agreement.Track, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+trackColumns+` from individual_tracks where user_id=$1 and agreement_type=$2
	`, userID, string(t))
	track, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return agreement.Track{}, false, nil
	}
	if err != nil {
		return agreement.Track{}, false, err
	}
	return track, true, nil
}

// Transition applies the lifecycle change, recomputes the derived shortcuts
// and writes the audit row in one serializable transaction.
func (s *Store) Transition(ctx context.Context, orgID string, t agreement.Type, req agreement.TransitionRequest) (agreement.Organization, error) {
	if !t.Valid() {
		return agreement.Organization{}, fmt.Errorf("%w: unknown agreement type %q", agreement.ErrInvalidInput, t)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return agreement.Organization{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		select `+trackColumns+` from agreement_tracks
		where org_id=$1 and agreement_type=$2 for update
	`, orgID, string(t))
	before, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return agreement.Organization{}, agreement.ErrNotFound
	}
	if err != nil {
		return agreement.Organization{}, err
	}

	now := time.Now().UTC()
	next, err := agreement.ApplyTransition(before, req, now)
	if err != nil {
		return agreement.Organization{}, err
	}
	if err := updateTrack(ctx, tx, orgID, t, next); err != nil {
		return agreement.Organization{}, err
	}

	org, err := loadOrganization(ctx, tx, orgID)
	if err != nil {
		return agreement.Organization{}, err
	}
	org.NDAActive = agreement.CoveredAt(org.NDA, now)
	org.FeeActive = agreement.CoveredAt(org.Fee, now)
	org.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		update organizations set nda_active=$2, fee_active=$3, updated_at=$4 where id=$1
	`, orgID, org.NDAActive, org.FeeActive, now); err != nil {
		return agreement.Organization{}, err
	}

	entry := &audit.Entry{
		Subject:   "agreement",
		SubjectID: orgID,
		Action:    fmt.Sprintf("agreement.%s.transition", t),
		Actor:     req.ActorID,
		Before:    map[string]string{"status": string(statusOrNotStarted(before.Status))},
		After:     map[string]string{"status": string(next.Status)},
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
	if err := appendAuditTx(ctx, tx, entry); err != nil {
		return agreement.Organization{}, err
	}

	if err := tx.Commit(); err != nil {
		return agreement.Organization{}, err
	}
	return org, nil
}

func (s *Store) MarkExpired(ctx context.Context, now time.Time) ([]agreement.ExpiredTrack, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		update agreement_tracks t set status='expired'
		from organizations o
		where o.id = t.org_id
		  and t.status in ('sent','redlined','under_review','signed')
		  and t.expires_at is not null and t.expires_at <= $1
		returning t.org_id, o.name, t.agreement_type, t.expires_at
	`, now)
	if err != nil {
		return nil, err
	}
	var expired []agreement.ExpiredTrack
	for rows.Next() {
		var e agreement.ExpiredTrack
		var t string
		if err := rows.Scan(&e.OrganizationID, &e.OrganizationName, &t, &e.ExpiredAt); err != nil {
			rows.Close()
			return nil, err
		}
		e.Type = agreement.Type(t)
		expired = append(expired, e)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for _, e := range expired {
		if _, err := tx.ExecContext(ctx, `
			update organizations o set
				nda_active = exists (
					select 1 from agreement_tracks
					where org_id=o.id and agreement_type='nda' and status='signed'
					  and (expires_at is null or expires_at > $2)
				),
				fee_active = exists (
					select 1 from agreement_tracks
					where org_id=o.id and agreement_type='fee' and status='signed'
					  and (expires_at is null or expires_at > $2)
				),
				updated_at = $2
			where o.id=$1
		`, e.OrganizationID, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return expired, nil
}

func statusOrNotStarted(st agreement.Status) agreement.Status {
	if st == "" {
		return agreement.StatusNotStarted
	}
	return st
}
