package store

import "time"

// QueueOutbox records a send attempt as soon as its optimistic message exists.
func (db *DB) QueueOutbox(tempID, conversationID, body string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (temp_id, conversation_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)`,
		tempID, conversationID, body, now, now)
	return err
}

// MarkOutboxSent resolves an entry with the confirmed server message id.
func (db *DB) MarkOutboxSent(tempID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, updated_at = ? WHERE temp_id = ? AND status = 'queued'`, serverMsgID, now, tempID)
	return err
}

// MarkOutboxFailed resolves an entry as failed with an error message.
func (db *DB) MarkOutboxFailed(tempID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE temp_id = ? AND status = 'queued'`, errMsg, now, tempID)
	return err
}

// ListOutbox returns send attempts, newest first. An empty status lists all.
func (db *DB) ListOutbox(status string, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT id, temp_id, conversation_id, body, status, error_message, server_msg_id, created_at, updated_at
		FROM outbox`
	args := []any{}
	if status != "" {
		q += " WHERE status = ?"
		args = append(args, status)
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.TempID, &e.ConversationID, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
