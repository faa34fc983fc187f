package pg

import (
	"context"
	"strconv"
	"strings"

	"dealgate.io/internal/audit"
)

var _ audit.Recorder = (*Store)(nil)

func appendAuditTx(ctx context.Context, q querier, entry *audit.Entry) error {
	if err := audit.Prepare(ctx, entry); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
		insert into audit_log(id, occurred_at, subject, subject_id, action, actor, request_id, before_state, after_state, metadata)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, entry.OccurredAt, entry.Subject, entry.SubjectID, entry.Action, entry.Actor,
		nullString(entry.RequestID), jsonMap(entry.Before), jsonMap(entry.After), jsonMap(entry.Metadata))
	return err
}

// Append writes one audit row. The table carries no update or delete grants,
// so history cannot be rewritten through this connection.
func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	return appendAuditTx(ctx, s.db, entry)
}

func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, col+"=$"+strconv.Itoa(len(args)))
	}
	add("subject", filter.Subject)
	add("subject_id", filter.SubjectID)
	add("action", filter.Action)
	add("actor", filter.Actor)

	query := `
		select id, occurred_at, subject, subject_id, action, actor, coalesce(request_id,''), before_state, after_state, metadata
		from audit_log`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by occurred_at asc, id asc"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " limit $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var before, after, metadata []byte
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.Subject, &e.SubjectID, &e.Action, &e.Actor, &e.RequestID, &before, &after, &metadata); err != nil {
			return nil, err
		}
		e.Before = scanMap(before)
		e.After = scanMap(after)
		e.Metadata = scanMap(metadata)
		res = append(res, e)
	}
	return res, rows.Err()
}
