package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lazypower/persona/internal/chat"
	"github.com/lazypower/persona/internal/profile"
)

// LoadChat returns the chat document with the given id.
func (db *DB) LoadChat(ctx context.Context, id string) (*chat.Chat, error) {
	var doc string
	var version int64
	err := db.QueryRowContext(ctx, `SELECT doc, version FROM chats WHERE id = ?`, id).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	return decodeChat(doc, version)
}

// SaveChat writes c with the same version discipline as SaveProfile. Saving
// a new chat for a profile that does not exist returns ErrNotFound.
func (db *DB) SaveChat(ctx context.Context, c *chat.Chat) error {
	next, err := saveChat(ctx, db, c)
	if err != nil {
		return err
	}
	c.Version = next
	return nil
}

// SaveChatAndProfile writes a chat and its profile in one transaction.
// Either both documents are stored and both versions advance, or neither.
func (db *DB) SaveChatAndProfile(ctx context.Context, c *chat.Chat, p *profile.Profile) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	chatVersion, err := saveChat(ctx, tx, c)
	if err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	profileVersion, err := saveProfile(ctx, tx, p)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	c.Version = chatVersion
	p.Version = profileVersion
	return nil
}

func saveChat(ctx context.Context, q execer, c *chat.Chat) (int64, error) {
	next := c.Version + 1
	cp := *c
	cp.Version = next
	b, err := json.Marshal(&cp)
	if err != nil {
		return 0, fmt.Errorf("encode chat: %w", err)
	}

	if c.Version == 0 {
		_, err := q.ExecContext(ctx, `
			INSERT INTO chats (id, profile_id, version, doc, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.ID, c.ProfileID, next, string(b), c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli())
		if err != nil {
			if isConstraint(err) {
				return 0, insertConflict(ctx, q, c)
			}
			return 0, fmt.Errorf("insert chat: %w", err)
		}
		return next, nil
	}

	result, err := q.ExecContext(ctx, `
		UPDATE chats SET version = ?, doc = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`, next, string(b), c.UpdatedAt.UnixMilli(), c.ID, c.Version)
	if err != nil {
		return 0, fmt.Errorf("update chat: %w", err)
	}
	if err := checkUpdated(ctx, q, result, "chats", c.ID); err != nil {
		return 0, fmt.Errorf("update chat %s: %w", c.ID, err)
	}
	return next, nil
}

// insertConflict explains a failed chat insert: either the owning profile is
// gone or the chat id is already taken.
func insertConflict(ctx context.Context, q execer, c *chat.Chat) error {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles WHERE id = ?`, c.ProfileID).Scan(&n); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("profile %s: %w", c.ProfileID, ErrNotFound)
	}
	return fmt.Errorf("insert chat %s: %w", c.ID, ErrVersionConflict)
}

// ListChats returns a profile's chats, oldest first.
func (db *DB) ListChats(ctx context.Context, profileID string) ([]*chat.Chat, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT doc, version FROM chats WHERE profile_id = ? ORDER BY created_at, id
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []*chat.Chat
	for rows.Next() {
		var doc string
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		c, err := decodeChat(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func decodeChat(doc string, version int64) (*chat.Chat, error) {
	var c chat.Chat
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, fmt.Errorf("decode chat: %w", err)
	}
	c.Version = version
	return &c, nil
}
