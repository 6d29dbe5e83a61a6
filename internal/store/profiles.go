package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lazypower/persona/internal/profile"
)

// LoadProfile returns the profile document with the given id.
func (db *DB) LoadProfile(ctx context.Context, id string) (*profile.Profile, error) {
	var doc string
	var version int64
	err := db.QueryRowContext(ctx, `SELECT doc, version FROM profiles WHERE id = ?`, id).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return decodeProfile(doc, version)
}

// SaveProfile writes p. A zero Version inserts; otherwise the row is only
// updated if its stored version still equals p.Version, and p.Version is
// advanced on success.
func (db *DB) SaveProfile(ctx context.Context, p *profile.Profile) error {
	next, err := saveProfile(ctx, db, p)
	if err != nil {
		return err
	}
	p.Version = next
	return nil
}

// saveProfile writes p through q and returns the version it stored. p is
// left untouched so a rolled back transaction leaves no trace on it.
func saveProfile(ctx context.Context, q execer, p *profile.Profile) (int64, error) {
	next := p.Version + 1
	doc, err := encodeProfile(p, next)
	if err != nil {
		return 0, fmt.Errorf("encode profile: %w", err)
	}

	if p.Version == 0 {
		_, err := q.ExecContext(ctx, `
			INSERT INTO profiles (id, user_id, name, category, version, doc, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.UserID, p.Name, p.Category, next, doc, p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli())
		if err != nil {
			if isConstraint(err) {
				return 0, fmt.Errorf("insert profile %s: %w", p.ID, ErrVersionConflict)
			}
			return 0, fmt.Errorf("insert profile: %w", err)
		}
		return next, nil
	}

	result, err := q.ExecContext(ctx, `
		UPDATE profiles SET user_id = ?, name = ?, category = ?, version = ?, doc = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`, p.UserID, p.Name, p.Category, next, doc, p.UpdatedAt.UnixMilli(), p.ID, p.Version)
	if err != nil {
		return 0, fmt.Errorf("update profile: %w", err)
	}
	if err := checkUpdated(ctx, q, result, "profiles", p.ID); err != nil {
		return 0, fmt.Errorf("update profile %s: %w", p.ID, err)
	}
	return next, nil
}

// ListProfiles returns the profiles owned by userID, most recently updated
// first. An empty userID lists every profile.
func (db *DB) ListProfiles(ctx context.Context, userID string) ([]*profile.Profile, error) {
	query := `SELECT doc, version FROM profiles ORDER BY updated_at DESC, id`
	args := []any{}
	if userID != "" {
		query = `SELECT doc, version FROM profiles WHERE user_id = ? ORDER BY updated_at DESC, id`
		args = append(args, userID)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []*profile.Profile
	for rows.Next() {
		var doc string
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		p, err := decodeProfile(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListProfileIDs returns every profile id, oldest first.
func (db *DB) ListProfileIDs(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM profiles ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list profile ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan profile id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteProfile removes a profile and, by cascade, its chats.
func (db *DB) DeleteProfile(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	return nil
}

func decodeProfile(doc string, version int64) (*profile.Profile, error) {
	var p profile.Profile
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	p.Version = version
	return &p, nil
}

func encodeProfile(p *profile.Profile, next int64) (string, error) {
	cp := *p
	cp.Version = next
	b, err := json.Marshal(&cp)
	return string(b), err
}

// checkUpdated turns a zero-row conditional update into ErrVersionConflict
// (row exists) or ErrNotFound (row missing).
func checkUpdated(ctx context.Context, q execer, result sql.Result, table, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrVersionConflict
}

// isConstraint reports whether err is a SQLite constraint violation.
func isConstraint(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
