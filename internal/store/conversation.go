package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/matheus3301/chatsync/internal/model"
)

const upsertConversationSQL = `
	INSERT INTO conversations (id, name, participants, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		participants = excluded.participants,
		created_at = excluded.created_at,
		updated_at = MAX(conversations.updated_at, excluded.updated_at)`

// UpsertConversation inserts or updates a conversation. updated_at never
// moves backwards.
func (db *DB) UpsertConversation(c model.Conversation) error {
	args, err := conversationArgs(c)
	if err != nil {
		return err
	}
	_, err = db.Exec(upsertConversationSQL, args...)
	return err
}

// ListConversations returns conversations most recently updated first.
func (db *DB) ListConversations(limit, offset int) ([]model.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, name, participants, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation returns a single conversation, or nil when unknown.
func (db *DB) GetConversation(id string) (*model.Conversation, error) {
	row := db.QueryRow(`
		SELECT id, name, participants, created_at, updated_at
		FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (model.Conversation, error) {
	var (
		c                    model.Conversation
		participants         string
		createdAt, updatedAt int64
	)
	if err := s.Scan(&c.ID, &c.Name, &participants, &createdAt, &updatedAt); err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
		return c, fmt.Errorf("decode participants of %s: %w", c.ID, err)
	}
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return c, nil
}

func conversationArgs(c model.Conversation) ([]any, error) {
	participants := c.Participants
	if participants == nil {
		participants = []string{}
	}
	p, err := json.Marshal(participants)
	if err != nil {
		return nil, fmt.Errorf("encode participants: %w", err)
	}
	return []any{c.ID, c.Name, string(p), toMillis(c.CreatedAt), toMillis(c.UpdatedAt)}, nil
}
