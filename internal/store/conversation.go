package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/livesync/internal/entity"
)

const conversationColumns = `
	c.id,
	COALESCE(NULLIF(c.title, ''), NULLIF(ct.name, ''), NULLIF(ct.push_name, ''), ''),
	c.last_message_at, c.last_message_preview, c.unread_count`

// UpsertConversation creates the conversation if it is missing. A non-empty
// title replaces the stored one.
func (db *DB) UpsertConversation(id, title string) error {
	_, err := db.Exec(`
		INSERT INTO conversations (id, title, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE conversations.title END,
			updated_at = excluded.updated_at`,
		id, title, db.stamp())
	return err
}

// TouchConversation records a new message in the summary. The preview only
// follows messages that are at least as recent as the current last message;
// incoming messages bump the unread counter.
func (db *DB) TouchConversation(id string, at time.Time, preview string, incoming bool) (entity.Conversation, error) {
	unread := 0
	if incoming {
		unread = 1
	}
	ms := toMillis(at)
	_, err := db.Exec(`
		INSERT INTO conversations (id, last_message_at, last_message_preview, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at
				THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			unread_count = conversations.unread_count + excluded.unread_count,
			updated_at = excluded.updated_at`,
		id, ms, preview, unread, db.stamp())
	if err != nil {
		return entity.Conversation{}, fmt.Errorf("touch conversation %s: %w", id, err)
	}
	return db.GetConversation(id)
}

// MarkRead clears the unread counter.
func (db *DB) MarkRead(id string) (entity.Conversation, error) {
	res, err := db.Exec(`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`, db.stamp(), id)
	if err != nil {
		return entity.Conversation{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return db.GetConversation(id)
}

// GetConversation returns one summary, ErrNotFound when missing.
func (db *DB) GetConversation(id string) (entity.Conversation, error) {
	row := db.QueryRow(`SELECT `+conversationColumns+`
		FROM conversations c LEFT JOIN contacts ct ON ct.jid = c.id
		WHERE c.id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return conv, err
}

// ListConversations returns summaries ordered by last message, newest first.
func (db *DB) ListConversations(limit int) ([]entity.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+conversationColumns+`
		FROM conversations c LEFT JOIN contacts ct ON ct.jid = c.id
		ORDER BY c.last_message_at DESC, c.id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []entity.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (entity.Conversation, error) {
	var (
		conv entity.Conversation
		last int64
	)
	if err := s.Scan(&conv.ID, &conv.Title, &last, &conv.LastMessagePreview, &conv.UnreadCount); err != nil {
		return entity.Conversation{}, err
	}
	conv.LastMessageAt = fromMillis(last)
	return conv, nil
}
