package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/wellsession/internal/pagination"
	"github.com/mohammad-safakhou/wellsession/internal/session"
)

var _ session.Repository = (*Store)(nil)

const sessionColumns = `s.id, s.user_id, s.title, s.tags, s.json_file_url, s.status, s.created_at, s.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner, withOwner bool) (session.Session, error) {
	var (
		rec    session.Session
		tags   pq.StringArray
		status string
	)
	dest := []any{&rec.ID, &rec.OwnerID, &rec.Title, &tags, &rec.ContentURL, &status, &rec.CreatedAt, &rec.UpdatedAt}
	var first, last sql.NullString
	if withOwner {
		dest = append(dest, &first, &last)
	}
	if err := row.Scan(dest...); err != nil {
		return session.Session{}, err
	}
	rec.Status = session.Status(status)
	rec.Tags = []string(tags)
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if withOwner {
		rec.Owner = &session.Owner{ID: rec.OwnerID, FirstName: first.String, LastName: last.String}
	}
	return rec, nil
}

// CreateSession inserts a new session row. Timestamps come from the database.
func (s *Store) CreateSession(ctx context.Context, rec session.Session) (session.Session, error) {
	if rec.ID == "" || rec.OwnerID == "" {
		return session.Session{}, fmt.Errorf("id and user_id required")
	}
	if !rec.Status.Valid() {
		return session.Session{}, fmt.Errorf("invalid status %q", rec.Status)
	}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO sessions (id, user_id, title, tags, json_file_url, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
RETURNING created_at, updated_at
`, rec.ID, rec.OwnerID, rec.Title, pq.StringArray(rec.Tags), rec.ContentURL, string(rec.Status)).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return session.Session{}, err
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	return rec, nil
}

// UpdateDraft overwrites the supplied fields of an owned session and moves
// it back to draft. Nil fields keep their stored value.
func (s *Store) UpdateDraft(ctx context.Context, id, ownerID string, d session.Draft) (session.Session, bool, error) {
	var tags any
	if d.Tags != nil {
		tags = pq.StringArray(d.Tags)
	}
	row := s.DB.QueryRowContext(ctx, `
UPDATE sessions s SET
  title = COALESCE($3, s.title),
  tags = COALESCE($4, s.tags),
  json_file_url = COALESCE($5, s.json_file_url),
  status = 'draft',
  updated_at = NOW()
WHERE s.id=$1 AND s.user_id=$2
RETURNING `+sessionColumns+`
`, id, ownerID, nullString(d.Title), tags, nullString(d.ContentURL))
	rec, err := scanSession(row, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, false, nil
		}
		return session.Session{}, false, err
	}
	return rec, true, nil
}

// PublishSession locks the owned row, runs check against it and marks it
// published. A check failure rolls back and is returned unchanged.
func (s *Store) PublishSession(ctx context.Context, id, ownerID string, check func(session.Session) error) (session.Session, bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return session.Session{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
SELECT `+sessionColumns+`
FROM sessions s
WHERE s.id=$1 AND s.user_id=$2
FOR UPDATE
`, id, ownerID)
	rec, err := scanSession(row, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, false, nil
		}
		return session.Session{}, false, err
	}
	if check != nil {
		if err := check(rec); err != nil {
			return session.Session{}, true, err
		}
	}
	var status string
	if err := tx.QueryRowContext(ctx, `
UPDATE sessions SET status = 'published', updated_at = NOW()
WHERE id=$1
RETURNING status, updated_at
`, id).Scan(&status, &rec.UpdatedAt); err != nil {
		return session.Session{}, true, err
	}
	if err := tx.Commit(); err != nil {
		return session.Session{}, true, err
	}
	rec.Status = session.Status(status)
	return rec, true, nil
}

func (s *Store) GetOwnedSession(ctx context.Context, id, ownerID string) (session.Session, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+sessionColumns+`
FROM sessions s
WHERE s.id=$1 AND s.user_id=$2
`, id, ownerID)
	rec, err := scanSession(row, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, false, nil
		}
		return session.Session{}, false, err
	}
	return rec, true, nil
}

// ListSessions returns up to n sessions matching f that sort after the
// cursor, newest first with id as the tie-break. Listings across owners
// carry the owner's display name.
func (s *Store) ListSessions(ctx context.Context, f session.Filter, after *pagination.Cursor, n int) ([]session.Session, error) {
	where, args := filterClause(f)
	if after != nil {
		if after.ID != "" {
			args = append(args, after.CreatedAt, after.ID)
			where = append(where, fmt.Sprintf("(s.created_at, s.id) < ($%d, $%d)", len(args)-1, len(args)))
		} else {
			args = append(args, after.CreatedAt)
			where = append(where, fmt.Sprintf("s.created_at < $%d", len(args)))
		}
	}
	withOwner := f.OwnerID == ""
	var b strings.Builder
	b.WriteString("SELECT " + sessionColumns)
	if withOwner {
		b.WriteString(", u.first_name, u.last_name")
	}
	b.WriteString("\nFROM sessions s")
	if withOwner {
		b.WriteString("\nLEFT JOIN users u ON u.id = s.user_id")
	}
	if len(where) > 0 {
		b.WriteString("\nWHERE " + strings.Join(where, " AND "))
	}
	args = append(args, n)
	fmt.Fprintf(&b, "\nORDER BY s.created_at DESC, s.id DESC\nLIMIT $%d", len(args))

	rows, err := s.DB.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]session.Session, 0, n)
	for rows.Next() {
		rec, err := scanSession(rows, withOwner)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountSessions counts every session matching f, ignoring any cursor.
func (s *Store) CountSessions(ctx context.Context, f session.Filter) (int64, error) {
	where, args := filterClause(f)
	query := "SELECT COUNT(*) FROM sessions s"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	var total int64
	if err := s.DB.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// GetPublishedSessions loads the published sessions among ids. Order is
// not preserved and unpublished or unknown ids are skipped.
func (s *Store) GetPublishedSessions(ctx context.Context, ids []string) ([]session.Session, error) {
	if len(ids) == 0 {
		return []session.Session{}, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+sessionColumns+`, u.first_name, u.last_name
FROM sessions s
LEFT JOIN users u ON u.id = s.user_id
WHERE s.id = ANY($1::uuid[]) AND s.status = 'published'
`, pq.StringArray(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]session.Session, 0, len(ids))
	for rows.Next() {
		rec, err := scanSession(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func filterClause(f session.Filter) ([]string, []any) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		where = append(where, fmt.Sprintf("s.user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("s.status = $%d", len(args)))
	}
	return where, args
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
