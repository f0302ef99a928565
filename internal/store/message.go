package store

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/status"
)

const messageColumns = `id, conversation_id, direction, content, media_ref, status, created_at`

// InsertMessage stores a durable message. It reports false when a message
// with the same id already exists; the stored row is left untouched.
func (db *DB) InsertMessage(m entity.Message) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, err
	}
	res, err := db.Exec(`
		INSERT INTO messages (id, conversation_id, direction, content, media_ref, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.ConversationID, string(m.Direction), m.Content, m.MediaRef, string(m.Status), toMillis(m.CreatedAt), db.stamp())
	if err != nil {
		return false, fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpsertMessage inserts m or refreshes the stored body. The stored status
// only moves forward.
func (db *DB) UpsertMessage(m entity.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	st := m.Status
	var current string
	err = tx.QueryRow(`SELECT status FROM messages WHERE id = ?`, m.ID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		st = status.Merge(status.Status(current), m.Status)
	}

	if _, err := tx.Exec(`
		INSERT INTO messages (id, conversation_id, direction, content, media_ref, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			media_ref = excluded.media_ref,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		m.ID, m.ConversationID, string(m.Direction), m.Content, m.MediaRef, string(st), toMillis(m.CreatedAt), db.stamp()); err != nil {
		return fmt.Errorf("upsert message %s: %w", m.ID, err)
	}
	return tx.Commit()
}

// UpdateMessageStatus merges st into the stored status. It returns the message
// after the update and whether the status changed.
func (db *DB) UpdateMessageStatus(id string, st status.Status) (entity.Message, bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return entity.Message{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	m, err := scanMessage(tx.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Message{}, false, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return entity.Message{}, false, err
	}

	merged := status.Merge(m.Status, st)
	if merged == m.Status {
		return m, false, nil
	}
	if _, err := tx.Exec(`UPDATE messages SET status = ?, updated_at = ? WHERE id = ?`, string(merged), db.stamp(), id); err != nil {
		return entity.Message{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return entity.Message{}, false, err
	}
	m.Status = merged
	return m, true, nil
}

// GetMessage returns one message, ErrNotFound when missing.
func (db *DB) GetMessage(id string) (entity.Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return m, err
}

// ListMessages returns the newest limit messages of a conversation, oldest
// first.
func (db *DB) ListMessages(conversationID string, limit int) ([]entity.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []entity.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

func scanMessage(s scanner) (entity.Message, error) {
	var (
		m                 entity.Message
		direction, st     string
		content, mediaRef sql.NullString
		created           int64
	)
	if err := s.Scan(&m.ID, &m.ConversationID, &direction, &content, &mediaRef, &st, &created); err != nil {
		return entity.Message{}, err
	}
	m.Direction = entity.Direction(direction)
	m.Status = status.Status(st)
	m.CreatedAt = fromMillis(created)
	if content.Valid {
		m.Content = &content.String
	}
	if mediaRef.Valid {
		m.MediaRef = &mediaRef.String
	}
	return m, nil
}
