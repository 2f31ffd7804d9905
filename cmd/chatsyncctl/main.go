package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/store"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	limitFlag := flag.Int("limit", 20, "maximum rows to show")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "sessions" {
		cmdSessions(*jsonFlag)
		return
	}

	db := openCache(sessionName)
	defer func() { _ = db.Close() }()

	switch args[0] {
	case "status":
		cmdStatus(db, sessionName, *jsonFlag)
	case "conversations":
		cmdConversations(db, *limitFlag, *jsonFlag)
	case "history":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatsyncctl history <conversation-id>")
			os.Exit(1)
		}
		cmdHistory(db, args[1], *limitFlag, *jsonFlag)
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatsyncctl search <query> [conversation-id]")
			os.Exit(1)
		}
		cid := ""
		if len(args) > 2 {
			cid = args[2]
		}
		cmdSearch(db, args[1], cid, *limitFlag, *jsonFlag)
	case "outbox":
		status := ""
		if len(args) > 1 {
			status = args[1]
		}
		cmdOutbox(db, status, *limitFlag, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--session <name>] [--json] [--limit n] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                    Show agent and cache status")
	fmt.Fprintln(os.Stderr, "  conversations             List cached conversations")
	fmt.Fprintln(os.Stderr, "  history <cid>             Show recent messages of a conversation")
	fmt.Fprintln(os.Stderr, "  search <query> [cid]      Search cached messages")
	fmt.Fprintln(os.Stderr, "  outbox [queued|sent|failed]  Show recorded send attempts")
	fmt.Fprintln(os.Stderr, "  sessions                  List known sessions")
}

func openCache(name string) *store.DB {
	path := session.CachePath(name)
	if _, err := os.Stat(path); err != nil {
		fail(fmt.Errorf("no cache for session %q (has chatsyncd run?): %w", name, err))
	}
	db, err := store.OpenReadOnly(path)
	if err != nil {
		fail(err)
	}
	return db
}

type statusOutput struct {
	Session  string      `json:"session"`
	Running  bool        `json:"running"`
	PID      int         `json:"pid,omitempty"`
	Since    time.Time   `json:"since,omitempty"`
	Cache    store.Stats `json:"cache"`
	LockPath string      `json:"lockPath"`
}

func cmdStatus(db *store.DB, name string, jsonOut bool) {
	out := statusOutput{Session: name, LockPath: session.LockPath(name)}
	holder, held, err := lock.Inspect(out.LockPath)
	if err != nil {
		fail(err)
	}
	out.Running, out.PID, out.Since = held, holder.PID, holder.Since

	out.Cache, err = db.Stats()
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(out)
		return
	}

	agent := "stopped"
	if out.Running {
		agent = fmt.Sprintf("running (PID %d since %s)", out.PID, out.Since.Local().Format(time.RFC3339))
	}
	fmt.Printf("Session:       %s\n", out.Session)
	fmt.Printf("Agent:         %s\n", agent)
	fmt.Printf("Conversations: %d\n", out.Cache.Conversations)
	fmt.Printf("Messages:      %d\n", out.Cache.Messages)
	fmt.Printf("Cursor:        %s\n", orDash(out.Cache.Cursor))
	fmt.Printf("Outbox:        %d queued, %d sent, %d failed\n",
		out.Cache.Outbox[store.OutboxQueued], out.Cache.Outbox[store.OutboxSent], out.Cache.Outbox[store.OutboxFailed])
}

func cmdConversations(db *store.DB, limit int, jsonOut bool) {
	convs, err := db.ListConversations(limit, 0)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	if len(convs) == 0 {
		fmt.Println("No conversations cached.")
		return
	}
	for _, c := range convs {
		fmt.Printf("%-40s %-24s %s  [%s]\n", c.ID, c.Name, c.UpdatedAt.Local().Format(time.DateTime), strings.Join(c.Participants, ", "))
	}
}

func cmdHistory(db *store.DB, cid string, limit int, jsonOut bool) {
	msgs, err := db.ListMessages(cid, 0, limit)
	if err != nil {
		fail(err)
	}
	// Stored newest first; print oldest first like a thread.
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if jsonOut {
		outputJSON(msgs)
		return
	}
	if len(msgs) == 0 {
		fmt.Println("No messages cached.")
		return
	}
	for _, m := range msgs {
		line := m.Text
		if n := len(m.Attachments); n > 0 {
			line = fmt.Sprintf("%s (+%d attachment(s))", line, n)
		}
		fmt.Printf("%s  %-12s %s\n", m.CreatedAt.Local().Format(time.DateTime), m.AuthorID, line)
	}
}

func cmdSearch(db *store.DB, query, cid string, limit int, jsonOut bool) {
	results, err := db.SearchMessages(query, cid, limit)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, r := range results {
		fmt.Printf("%s  %-20s %-12s %s\n", r.Message.CreatedAt.Local().Format(time.DateTime), r.Message.ConversationID, r.Message.AuthorID, r.Snippet)
	}
}

func cmdOutbox(db *store.DB, status string, limit int, jsonOut bool) {
	entries, err := db.ListOutbox(status, limit)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(entries)
		return
	}
	if len(entries) == 0 {
		fmt.Println("Outbox is empty.")
		return
	}
	for _, e := range entries {
		detail := e.ServerMsgID
		if e.Status == store.OutboxFailed {
			detail = e.ErrorMessage
		}
		fmt.Printf("%s  %-7s %-20s %-40s %s\n", time.UnixMilli(e.CreatedAt).Local().Format(time.DateTime), e.Status, e.ConversationID, e.TempID, orDash(detail))
	}
}

type sessionOutput struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
}

func cmdSessions(jsonOut bool) {
	entries, err := os.ReadDir(filepath.Join(session.BaseDir(), "sessions"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		fail(err)
	}
	var out []sessionOutput
	for _, e := range entries {
		if !e.IsDir() || session.ValidateName(e.Name()) != nil {
			continue
		}
		_, held, _ := lock.Inspect(session.LockPath(e.Name()))
		out = append(out, sessionOutput{Name: e.Name(), Path: session.Dir(e.Name()), Running: held})
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	if len(out) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, s := range out {
		running := "stopped"
		if s.Running {
			running = "running"
		}
		fmt.Printf("%-20s %s (%s)\n", s.Name, s.Path, running)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
