package store

import (
	"strings"
	"unicode/utf8"
)

const snippetRadius = 32

// SearchMessages finds messages whose text contains query, case-insensitively
// for ASCII, newest first.
func (db *DB) SearchMessages(query string, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT ` + messageColumns + `
		FROM messages m
		WHERE m.body LIKE ? ESCAPE '\'`

	args := []any{"%" + escapeLike(query) + "%"}
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY m.created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Message: m, Snippet: snippet(m.Text, query)})
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet marks the first match with << >> and trims the text around it.
func snippet(text, query string) string {
	lower, lq := strings.ToLower(text), strings.ToLower(query)
	if len(lower) != len(text) || len(lq) != len(query) {
		lower, lq = text, query
	}
	i := strings.Index(lower, lq)
	if i < 0 || query == "" {
		return text
	}
	start := max(0, i-snippetRadius)
	end := min(len(text), i+len(query)+snippetRadius)
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(text[start:i])
	b.WriteString("<<")
	b.WriteString(text[i : i+len(query)])
	b.WriteString(">>")
	b.WriteString(text[i+len(query) : end])
	if end < len(text) {
		b.WriteString("...")
	}
	return b.String()
}
