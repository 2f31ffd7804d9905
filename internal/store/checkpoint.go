package store

import (
	"database/sql"
	"time"
)

// CursorKey is the sync_state key holding the last applied server time.
const CursorKey = "cursor"

// SetCheckpoint updates a sync checkpoint value.
func (db *DB) SetCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// Checkpoint retrieves a sync checkpoint value. Missing keys read as "".
func (db *DB) Checkpoint(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Stats counts cached rows and reads the cursor checkpoint.
func (db *DB) Stats() (Stats, error) {
	st := Stats{Outbox: make(map[string]int)}
	if err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&st.Conversations); err != nil {
		return st, err
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&st.Messages); err != nil {
		return st, err
	}
	rows, err := db.Query(`SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return st, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		st.Outbox[status] = n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	st.Cursor, err = db.Checkpoint(CursorKey)
	return st, err
}
