package store

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

const upsertMessageSQL = `
	INSERT INTO messages (conversation_id, msg_id, author_id, body, system, attachments, channels, seen_by, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
		author_id = excluded.author_id,
		body = excluded.body,
		system = excluded.system,
		attachments = excluded.attachments,
		channels = excluded.channels,
		seen_by = excluded.seen_by,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at`

const messageColumns = `m.msg_id, m.conversation_id, m.author_id, m.body, m.system,
	m.attachments, m.channels, m.seen_by, m.created_at, m.updated_at`

// UpsertMessage inserts or updates a confirmed message (idempotent on
// conversation_id + msg_id). Temporary messages are never cached.
func (db *DB) UpsertMessage(m model.Message) error {
	if m.Pending() {
		return nil
	}
	args, err := messageArgs(m)
	if err != nil {
		return err
	}
	_, err = db.Exec(upsertMessageSQL, args...)
	return err
}

// DeleteMessage removes a message from the cache.
func (db *DB) DeleteMessage(conversationID, msgID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`, conversationID, msgID)
	return err
}

// SaveChanges writes a merged delta in one transaction.
func (db *DB) SaveChanges(convs []model.Conversation, msgs []model.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range convs {
		args, err := conversationArgs(c)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(upsertConversationSQL, args...); err != nil {
			return fmt.Errorf("upsert conversation in batch: %w", err)
		}
	}
	for _, m := range msgs {
		if m.Pending() {
			continue
		}
		args, err := messageArgs(m)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(upsertMessageSQL, args...); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// ListMessages returns messages of a conversation created before beforeMs,
// newest first (keyset pagination by created_at).
func (db *DB) ListMessages(conversationID string, beforeMs int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeMs <= 0 {
		beforeMs = math.MaxInt64
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.conversation_id = ? AND m.created_at < ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`, conversationID, beforeMs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(s scanner, extra ...any) (model.Message, error) {
	var (
		m                             model.Message
		attachments, channels, seenBy string
		createdAt, updatedAt          int64
	)
	dest := append([]any{&m.ID, &m.ConversationID, &m.AuthorID, &m.Text, &m.System,
		&attachments, &channels, &seenBy, &createdAt, &updatedAt}, extra...)
	if err := s.Scan(dest...); err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
		return m, fmt.Errorf("decode attachments of %s: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(channels), &m.Channels); err != nil {
		return m, fmt.Errorf("decode channels of %s: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(seenBy), &m.SeenBy); err != nil {
		return m, fmt.Errorf("decode seen_by of %s: %w", m.ID, err)
	}
	for i := range m.Attachments {
		m.Attachments[i].State = model.AttachmentCommitted
	}
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	m.Delivery = model.Confirmed
	return m, nil
}

func messageArgs(m model.Message) ([]any, error) {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []model.Attachment{}
	}
	seenBy := m.SeenBy
	if seenBy == nil {
		seenBy = []model.SeenReceipt{}
	}
	a, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("encode attachments: %w", err)
	}
	c, err := json.Marshal(m.Channels)
	if err != nil {
		return nil, fmt.Errorf("encode channels: %w", err)
	}
	s, err := json.Marshal(seenBy)
	if err != nil {
		return nil, fmt.Errorf("encode seen_by: %w", err)
	}
	return []any{m.ConversationID, m.ID, m.AuthorID, m.Text, m.System,
		string(a), string(c), string(s), toMillis(m.CreatedAt), toMillis(m.UpdatedAt)}, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
