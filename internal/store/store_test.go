package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func at(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already migrated, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestOpenReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	rw, err := OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := rw.UpsertConversation(model.Conversation{ID: "c1", Name: "General", UpdatedAt: at(10)}); err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil {
		t.Fatal(err)
	}

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ro.Close() }()

	c, err := ro.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Name != "General" {
		t.Fatalf("GetConversation = %+v, want General", c)
	}
	if err := ro.UpsertConversation(model.Conversation{ID: "c2"}); err == nil {
		t.Error("write through read-only cache should fail")
	}
}

func TestConversationUpsertKeepsLatestUpdatedAt(t *testing.T) {
	db := testDB(t)

	c := model.Conversation{ID: "c1", Name: "General", Participants: []string{"me", "u1"}, CreatedAt: at(100), UpdatedAt: at(500)}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	// An older copy renames but must not move updated_at backwards.
	c.Name = "General Renamed"
	c.UpdatedAt = at(200)
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("conversation not found")
	}
	if got.Name != "General Renamed" {
		t.Errorf("name = %q, want General Renamed", got.Name)
	}
	if !got.UpdatedAt.Equal(at(500)) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, at(500))
	}
	if len(got.Participants) != 2 {
		t.Errorf("participants = %v, want 2 entries", got.Participants)
	}

	missing, err := db.GetConversation("nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("expected nil for missing conversation")
	}
}

func TestListConversationsByActivity(t *testing.T) {
	db := testDB(t)

	for i, id := range []string{"old", "new", "mid"} {
		updated := []int64{100, 300, 200}[i]
		if err := db.UpsertConversation(model.Conversation{ID: id, UpdatedAt: at(updated)}); err != nil {
			t.Fatal(err)
		}
	}
	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 3 || convs[0].ID != "new" || convs[2].ID != "old" {
		t.Errorf("order = %v, want new, mid, old", ids(convs))
	}
}

func ids(convs []model.Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := model.Message{
		ID: "m1", ConversationID: "c1", AuthorID: "u1", Text: "hello",
		CreatedAt: at(1000), UpdatedAt: at(1000),
		Attachments: []model.Attachment{{ID: "a1", Name: "doc.pdf", Size: 10, Type: "application/pdf", URL: "https://x/doc.pdf"}},
		Channels:    model.Channels{SMS: true},
	}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Text = "hello updated"
	msg.MarkSeen("me", at(1100))
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	got := msgs[0]
	if got.Text != "hello updated" {
		t.Errorf("text = %q, want hello updated", got.Text)
	}
	if _, ok := got.SeenByUser("me"); !ok {
		t.Error("seen_by lost")
	}
	if len(got.Attachments) != 1 || got.Attachments[0].State != model.AttachmentCommitted {
		t.Errorf("attachments = %+v, want one committed", got.Attachments)
	}
	if got.Delivery != model.Confirmed || !got.Channels.SMS {
		t.Errorf("delivery=%q channels=%+v", got.Delivery, got.Channels)
	}
}

func TestUpsertMessageSkipsTemporaryIDs(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(model.Message{ID: model.TempIDPrefix + "x", ConversationID: "c1", CreatedAt: at(1)}); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages, temporary ids must not be cached", len(msgs))
	}
}

func TestSaveChangesAndDelete(t *testing.T) {
	db := testDB(t)

	err := db.SaveChanges(
		[]model.Conversation{{ID: "c1", UpdatedAt: at(10)}},
		[]model.Message{
			{ID: "m1", ConversationID: "c1", Text: "one", CreatedAt: at(1)},
			{ID: "m2", ConversationID: "c1", Text: "two", CreatedAt: at(2)},
		})
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m2" {
		t.Fatalf("got %+v, want m2 then m1", msgs)
	}

	// Keyset pagination.
	older, err := db.ListMessages("c1", at(2).UnixMilli(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 1 || older[0].ID != "m1" {
		t.Errorf("page = %+v, want only m1", older)
	}

	if err := db.DeleteMessage("c1", "m1"); err != nil {
		t.Fatal(err)
	}
	msgs, _ = db.ListMessages("c1", 0, 10)
	if len(msgs) != 1 {
		t.Errorf("got %d messages after delete, want 1", len(msgs))
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	for _, m := range []model.Message{
		{ID: "m1", ConversationID: "c1", Text: "hello world", CreatedAt: at(1)},
		{ID: "m2", ConversationID: "c1", Text: "goodbye world", CreatedAt: at(2)},
		{ID: "m3", ConversationID: "c2", Text: "Hello again", CreatedAt: at(3)},
		{ID: "m4", ConversationID: "c2", Text: "100% sure", CreatedAt: at(4)},
	} {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	results, err := db.SearchMessages("hello", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Message.ID != "m3" {
		t.Errorf("first = %q, want m3 (newest first)", results[0].Message.ID)
	}
	if results[0].Snippet != "<<Hello>> again" {
		t.Errorf("snippet = %q", results[0].Snippet)
	}

	scoped, err := db.SearchMessages("world", "c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 2 {
		t.Errorf("got %d scoped results, want 2", len(scoped))
	}

	// LIKE wildcards in the query are literal.
	pct, err := db.SearchMessages("%", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pct) != 1 || pct[0].Message.ID != "m4" {
		t.Errorf("got %d results for %%, want only m4", len(pct))
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("temp_1", "c1", "first"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("temp_2", "c1", "second"); err != nil {
		t.Fatal(err)
	}

	queued, err := db.ListOutbox(OutboxQueued, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 2 {
		t.Fatalf("got %d queued, want 2", len(queued))
	}

	if err := db.MarkOutboxSent("temp_1", "m1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("temp_2", "network down"); err != nil {
		t.Fatal(err)
	}
	// A resolved entry never changes again.
	if err := db.MarkOutboxFailed("temp_1", "late failure"); err != nil {
		t.Fatal(err)
	}

	sent, err := db.ListOutbox(OutboxSent, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 || sent[0].ServerMsgID != "m1" {
		t.Errorf("sent = %+v, want temp_1 -> m1", sent)
	}
	failed, err := db.ListOutbox(OutboxFailed, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "network down" {
		t.Errorf("failed = %+v, want temp_2 with error", failed)
	}
}

func TestCheckpointAndStats(t *testing.T) {
	db := testDB(t)

	v, err := db.Checkpoint(CursorKey)
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("missing checkpoint = %q, want empty", v)
	}

	if err := db.SetCheckpoint(CursorKey, "2026-01-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint(CursorKey, "2026-01-02T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertConversation(model.Conversation{ID: "c1"}); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("temp_1", "c1", "x"); err != nil {
		t.Fatal(err)
	}

	st, err := db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Cursor != "2026-01-02T00:00:00Z" {
		t.Errorf("cursor = %q", st.Cursor)
	}
	if st.Conversations != 1 || st.Messages != 0 || st.Outbox[OutboxQueued] != 1 {
		t.Errorf("stats = %+v", st)
	}
}
