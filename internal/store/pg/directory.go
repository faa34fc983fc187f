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

var _ access.DealStore = (*Store)(nil)
var _ access.IdentityStore = (*Store)(nil)

func (s *Store) CreateDeal(ctx context.Context, deal *access.Deal) error {
	if deal == nil || strings.TrimSpace(deal.Name) == "" {
		return fmt.Errorf("%w: deal name is required", access.ErrInvalidInput)
	}
	if deal.ID == "" {
		deal.ID = ids.New()
	}
	deal.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into deals(id, name, created_at) values ($1,$2,$3)
	`, deal.ID, deal.Name, deal.CreatedAt)
	return err
}

func (s *Store) ListDeals(ctx context.Context) ([]access.Deal, error) {
	rows, err := s.db.QueryContext(ctx, `select id, name, created_at from deals order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []access.Deal
	for rows.Next() {
		var d access.Deal
		if err := rows.Scan(&d.ID, &d.Name, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (s *Store) DealExists(ctx context.Context, dealID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `select true from deals where id=$1`, dealID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return exists, nil
}

// SetIdentityEmail records the authenticated address for an identity
// reference so coverage can be resolved for it.
func (s *Store) SetIdentityEmail(ctx context.Context, ref access.IdentityRef, email string) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return fmt.Errorf("%w: email is required", access.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into identities(kind, id, email) values ($1,$2,$3)
		on conflict (kind, id) do update set email = excluded.email
	`, string(ref.Kind), ref.ID, email)
	return err
}

func (s *Store) EmailFor(ctx context.Context, ref access.IdentityRef) (string, bool, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `
		select email from identities where kind=$1 and id=$2
	`, string(ref.Kind), ref.ID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return email, true, nil
}
