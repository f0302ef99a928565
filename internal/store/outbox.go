package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrSendInFlight is returned when a client id is claimed while an earlier
// attempt with the same id is still being delivered.
var ErrSendInFlight = errors.New("send already in flight")

// Outbox statuses.
const (
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// OutboxEntry tracks one client id through delivery.
type OutboxEntry struct {
	ClientID       string
	ConversationID string
	MessageID      string
	Status         string
	Attempts       int
	ErrorMessage   string
}

// ClaimOutbox reserves clientID for a delivery attempt. It returns claimed
// false with the stored entry when the id was already sent, so the caller can
// answer with the durable message instead of sending twice. Failed entries
// are reclaimed with their attempt counter bumped.
func (db *DB) ClaimOutbox(clientID, conversationID string) (OutboxEntry, bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return OutboxEntry{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := db.stamp()
	e, err := scanOutbox(tx.QueryRow(`
		SELECT client_id, conversation_id, message_id, status, attempts, error_message
		FROM outbox WHERE client_id = ?`, clientID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		e = OutboxEntry{ClientID: clientID, ConversationID: conversationID, Status: OutboxSending, Attempts: 1}
		if _, err := tx.Exec(`
			INSERT INTO outbox (client_id, conversation_id, status, attempts, created_at, updated_at)
			VALUES (?, ?, ?, 1, ?, ?)`, clientID, conversationID, OutboxSending, now, now); err != nil {
			return OutboxEntry{}, false, fmt.Errorf("claim outbox %s: %w", clientID, err)
		}
	case err != nil:
		return OutboxEntry{}, false, err
	case e.Status == OutboxSent:
		return e, false, nil
	case e.Status == OutboxSending:
		return e, false, fmt.Errorf("client id %s: %w", clientID, ErrSendInFlight)
	default:
		e.Status = OutboxSending
		e.Attempts++
		e.ErrorMessage = ""
		if _, err := tx.Exec(`
			UPDATE outbox SET status = ?, attempts = ?, error_message = '', updated_at = ?
			WHERE client_id = ?`, OutboxSending, e.Attempts, now, clientID); err != nil {
			return OutboxEntry{}, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return OutboxEntry{}, false, err
	}
	return e, true, nil
}

// CompleteOutbox marks clientID as sent and links it to the durable message.
func (db *DB) CompleteOutbox(clientID, messageID string) error {
	return db.finishOutbox(clientID, `UPDATE outbox SET status = ?, message_id = ?, updated_at = ? WHERE client_id = ?`,
		OutboxSent, messageID, db.stamp(), clientID)
}

// FailOutbox marks clientID as failed so a later attempt can reclaim it.
func (db *DB) FailOutbox(clientID, errMsg string) error {
	return db.finishOutbox(clientID, `UPDATE outbox SET status = ?, error_message = ?, updated_at = ? WHERE client_id = ?`,
		OutboxFailed, errMsg, db.stamp(), clientID)
}

// ReleaseSending fails every entry left in sending by a previous process.
func (db *DB) ReleaseSending() (int64, error) {
	res, err := db.Exec(`UPDATE outbox SET status = ?, error_message = 'interrupted', updated_at = ? WHERE status = ?`,
		OutboxFailed, db.stamp(), OutboxSending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetOutbox returns the entry for clientID, ErrNotFound when missing.
func (db *DB) GetOutbox(clientID string) (OutboxEntry, error) {
	e, err := scanOutbox(db.QueryRow(`
		SELECT client_id, conversation_id, message_id, status, attempts, error_message
		FROM outbox WHERE client_id = ?`, clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return OutboxEntry{}, fmt.Errorf("outbox %s: %w", clientID, ErrNotFound)
	}
	return e, err
}

func (db *DB) finishOutbox(clientID, query string, args ...any) error {
	res, err := db.Exec(query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("outbox %s: %w", clientID, ErrNotFound)
	}
	return nil
}

func scanOutbox(s scanner) (OutboxEntry, error) {
	var e OutboxEntry
	err := s.Scan(&e.ClientID, &e.ConversationID, &e.MessageID, &e.Status, &e.Attempts, &e.ErrorMessage)
	return e, err
}
