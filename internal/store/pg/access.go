package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dealgate.io/internal/access"
	"dealgate.io/internal/ids"
)

var _ access.Store = (*Store)(nil)

const grantColumns = `id, deal_id, identity_kind, identity_id, teaser, memo, data_room,
	granted_at, granted_by, updated_at, expires_at,
	revoked_at, revoked_by, revoke_reason,
	override_flag, override_reason, overridden_by, overridden_at, metadata`

// Grant provisions a new grant row after verifying the (identity, deal) slot
// is free. Serializable isolation makes concurrent writers for the same slot
// conflict; the loser surfaces ErrDuplicateGrant and retries as an update.
func (s *Store) Grant(ctx context.Context, req access.GrantRequest) (access.Grant, error) {
	if err := req.Identity.Validate(); err != nil {
		return access.Grant{}, err
	}
	if strings.TrimSpace(req.DealID) == "" {
		return access.Grant{}, fmt.Errorf("%w: deal id is required", access.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return access.Grant{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var existing string
	err = tx.QueryRowContext(ctx, `
		select id from grants
		where deal_id=$1 and identity_kind=$2 and identity_id=$3
		  and revoked_at is null
		  and (expires_at is null or expires_at > $4)
	`, req.DealID, string(req.Identity.Kind), req.Identity.ID, now).Scan(&existing)
	if err == nil {
		return access.Grant{}, access.ErrDuplicateGrant
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return access.Grant{}, err
	}

	g := access.Grant{
		ID:           ids.New(),
		DealID:       req.DealID,
		Identity:     req.Identity,
		Capabilities: req.Capabilities,
		GrantedAt:    now,
		GrantedBy:    req.GrantedBy,
		UpdatedAt:    now,
		ExpiresAt:    req.ExpiresAt,
		Metadata:     req.Metadata,
	}
	if _, err := tx.ExecContext(ctx, `
		insert into grants(id, deal_id, identity_kind, identity_id, teaser, memo, data_room,
			granted_at, granted_by, updated_at, expires_at, metadata)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, g.ID, g.DealID, string(g.Identity.Kind), g.Identity.ID,
		g.Capabilities.Teaser, g.Capabilities.Memo, g.Capabilities.DataRoom,
		g.GrantedAt, g.GrantedBy, g.UpdatedAt, nullTime(g.ExpiresAt), jsonMap(g.Metadata)); err != nil {
		if isUniqueViolation(err) || isSerializationFailure(err) {
			return access.Grant{}, access.ErrDuplicateGrant
		}
		return access.Grant{}, err
	}
	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return access.Grant{}, access.ErrDuplicateGrant
		}
		return access.Grant{}, err
	}
	return g, nil
}

func (s *Store) Get(ctx context.Context, grantID string) (access.Grant, error) {
	row := s.db.QueryRowContext(ctx, `select `+grantColumns+` from grants where id=$1`, grantID)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Grant{}, access.ErrNotFound
	}
	return g, err
}

func (s *Store) ActiveGrant(ctx context.Context, identity access.IdentityRef, dealID string) (access.Grant, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+grantColumns+` from grants
		where deal_id=$1 and identity_kind=$2 and identity_id=$3
		  and revoked_at is null
		  and (expires_at is null or expires_at > now())
	`, dealID, string(identity.Kind), identity.ID)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Grant{}, false, nil
	}
	if err != nil {
		return access.Grant{}, false, err
	}
	return g, true, nil
}

func (s *Store) UpdateCapabilities(ctx context.Context, grantID string, caps access.Capabilities, actor string) (access.Grant, error) {
	res, err := s.db.ExecContext(ctx, `
		update grants set teaser=$2, memo=$3, data_room=$4, updated_at=now()
		where id=$1
	`, grantID, caps.Teaser, caps.Memo, caps.DataRoom)
	if err != nil {
		return access.Grant{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return access.Grant{}, access.ErrNotFound
	}
	return s.Get(ctx, grantID)
}

// Revoke stamps the revocation fields. The row survives: revocation is a
// state, not a deletion.
func (s *Store) Revoke(ctx context.Context, grantID, revokedBy, reason string) (access.Grant, error) {
	res, err := s.db.ExecContext(ctx, `
		update grants set revoked_at=now(), revoked_by=$2, revoke_reason=$3, updated_at=now()
		where id=$1 and revoked_at is null
	`, grantID, revokedBy, nullString(reason))
	if err != nil {
		return access.Grant{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either unknown or already revoked; disambiguate for the caller.
		if _, err := s.Get(ctx, grantID); err != nil {
			return access.Grant{}, err
		}
	}
	return s.Get(ctx, grantID)
}

func (s *Store) Override(ctx context.Context, grantID string, flag bool, reason, overriddenBy string) (access.Grant, error) {
	if flag && strings.TrimSpace(reason) == "" {
		return access.Grant{}, access.ErrEmptyReason
	}
	var res sql.Result
	var err error
	if flag {
		res, err = s.db.ExecContext(ctx, `
			update grants set override_flag=true, override_reason=$2, overridden_by=$3, overridden_at=now(), updated_at=now()
			where id=$1
		`, grantID, reason, overriddenBy)
	} else {
		res, err = s.db.ExecContext(ctx, `
			update grants set override_flag=false, override_reason=null, overridden_by=null, overridden_at=null, updated_at=now()
			where id=$1
		`, grantID)
	}
	if err != nil {
		return access.Grant{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return access.Grant{}, access.ErrNotFound
	}
	return s.Get(ctx, grantID)
}

func (s *Store) ListByDeal(ctx context.Context, dealID string) ([]access.Grant, error) {
	return s.listGrants(ctx, `select `+grantColumns+` from grants where deal_id=$1 order by granted_at asc, id asc`, dealID)
}

func (s *Store) ListOverrides(ctx context.Context) ([]access.Grant, error) {
	return s.listGrants(ctx, `select `+grantColumns+` from grants where override_flag order by overridden_at asc, id asc`)
}

func (s *Store) listGrants(ctx context.Context, query string, args ...any) ([]access.Grant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []access.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func scanGrant(row interface{ Scan(...any) error }) (access.Grant, error) {
	var (
		g                                  access.Grant
		kind                               string
		revokedBy, revokeReason            sql.NullString
		overrideReason, overriddenBy       sql.NullString
		expiresAt, revokedAt, overriddenAt sql.NullTime
		metadata                           []byte
	)
	if err := row.Scan(&g.ID, &g.DealID, &kind, &g.Identity.ID,
		&g.Capabilities.Teaser, &g.Capabilities.Memo, &g.Capabilities.DataRoom,
		&g.GrantedAt, &g.GrantedBy, &g.UpdatedAt, &expiresAt,
		&revokedAt, &revokedBy, &revokeReason,
		&g.Override, &overrideReason, &overriddenBy, &overriddenAt, &metadata); err != nil {
		return access.Grant{}, err
	}
	g.Identity.Kind = access.IdentityKind(kind)
	g.ExpiresAt = timePtr(expiresAt)
	g.RevokedAt = timePtr(revokedAt)
	g.RevokedBy = revokedBy.String
	g.RevokeReason = revokeReason.String
	g.OverrideReason = overrideReason.String
	g.OverriddenBy = overriddenBy.String
	g.OverriddenAt = timePtr(overriddenAt)
	g.Metadata = scanMap(metadata)
	return g, nil
}
