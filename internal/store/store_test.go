package store

import (
	"fmt"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + reminders)", result.Version)
	}
}

func TestMessageRequiresChatRow(t *testing.T) {
	db := testDB(t)

	// Foreign keys are on; a message for an unknown chat must be rejected
	// until the chat row exists.
	if err := db.UpsertMessage(&Message{ID: "m1", ChatID: "c1", Body: "a"}); err == nil {
		t.Fatal("UpsertMessage without a chat row should fail")
	}

	if err := db.EnsureChat("c1"); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ID: "m1", ChatID: "c1", Body: "a"}); err != nil {
		t.Fatalf("UpsertMessage after EnsureChat: %v", err)
	}

	// EnsureChat is a no-op on an existing row and keeps its metadata.
	if err := db.TouchChat("c1", "Alice", 100, "a"); err != nil {
		t.Fatal(err)
	}
	if err := db.EnsureChat("c1"); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetChat("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Alice" || c.LastMessageAt != 100 {
		t.Errorf("chat = %+v, EnsureChat must not clobber", c)
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{ID: "c1"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ID: "m1", ChatID: "c1", Body: "a", Timestamp: 100}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ID: "m1", ChatID: "c1", Body: "b", Timestamp: 100}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d rows, want 1", len(msgs))
	}
	if msgs[0].Body != "b" {
		t.Errorf("body = %q, want %q (second write wins)", msgs[0].Body, "b")
	}
}

func TestMessageUpsertKeepsMediaMetadata(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{ID: "c1"}); err != nil {
		t.Fatal(err)
	}
	m := &Message{ID: "m1", ChatID: "c1", HasMedia: true, MediaFilename: "m1.jpg", MediaMime: "image/jpeg", MediaSize: 42}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	// Replay without media metadata must not erase it.
	if err := db.UpsertMessage(&Message{ID: "m1", ChatID: "c1", HasMedia: true}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].MediaFilename != "m1.jpg" || msgs[0].MediaMime != "image/jpeg" || msgs[0].MediaSize != 42 {
		t.Errorf("media metadata lost on replay: %+v", msgs[0])
	}
}

func TestTrimMessagesRetentionBound(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{ID: "c1"}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 30; i++ {
		m := &Message{ID: fmt.Sprintf("m%02d", i), ChatID: "c1", Body: "x", Timestamp: int64(i)}
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.TrimMessages("c1", 10); err != nil {
		t.Fatal(err)
	}

	n, err := db.CountMessages("c1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Errorf("count = %d, want 10", n)
	}

	// The survivors must be the most recent ones.
	msgs, err := db.ListMessages("c1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].ID != "m29" || msgs[len(msgs)-1].ID != "m20" {
		t.Errorf("kept wrong window: first=%s last=%s", msgs[0].ID, msgs[len(msgs)-1].ID)
	}
}

func TestChatPaginationNoDuplicates(t *testing.T) {
	db := testDB(t)

	for i := 0; i < 25; i++ {
		c := &Chat{ID: fmt.Sprintf("c%02d", i), LastMessageAt: int64(i)}
		if err := db.UpsertChat(c); err != nil {
			t.Fatal(err)
		}
	}

	page1, err := db.ListChats(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	page2, err := db.ListChats(10, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 10 || len(page2) != 10 {
		t.Fatalf("page sizes = %d/%d, want 10/10", len(page1), len(page2))
	}

	seen := map[string]bool{}
	for _, c := range page1 {
		seen[c.ID] = true
	}
	for _, c := range page2 {
		if seen[c.ID] {
			t.Errorf("chat %s appears on both pages", c.ID)
		}
	}

	// Descending by last_message_at.
	if page1[0].ID != "c24" {
		t.Errorf("head = %s, want c24 (most recent first)", page1[0].ID)
	}
}

func TestTouchChatMonotonicTimestamp(t *testing.T) {
	db := testDB(t)

	if err := db.TouchChat("c1", "Alice", 200, "new"); err != nil {
		t.Fatal(err)
	}
	// Out-of-order older event must not move the chat backwards.
	if err := db.TouchChat("c1", "", 100, "old"); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessageAt != 200 {
		t.Errorf("last_message_at = %d, want 200", c.LastMessageAt)
	}
	if c.LastMessagePreview != "new" {
		t.Errorf("preview = %q, want %q", c.LastMessagePreview, "new")
	}
	if c.Name != "Alice" {
		t.Errorf("name = %q, want Alice (empty name must not clobber)", c.Name)
	}
}

func TestUnreadCounter(t *testing.T) {
	db := testDB(t)

	if err := db.TouchChat("c1", "", 1, ""); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := db.IncrementUnread("c1"); err != nil {
			t.Fatal(err)
		}
	}
	c, _ := db.GetChat("c1")
	if c.UnreadCount != 3 {
		t.Errorf("unread = %d, want 3", c.UnreadCount)
	}

	if err := db.MarkChatRead("c1"); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetChat("c1")
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 after MarkChatRead", c.UnreadCount)
	}
}

func TestChatDisplayNameFallsBackToContact(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&Contact{ID: "551199@c.us", Name: "Maria", Number: "551199"}); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchChat("551199@c.us", "", 10, "hi"); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat("551199@c.us")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Maria" {
		t.Errorf("display name = %q, want Maria (contact fallback)", c.Name)
	}
}

func TestSetMessageAckOnlyForward(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{ID: "c1"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ID: "m1", ChatID: "c1", FromMe: true, AckState: AckSent}); err != nil {
		t.Fatal(err)
	}

	if err := db.SetMessageAck("m1", AckRead); err != nil {
		t.Fatal(err)
	}
	// A late "delivered" receipt must not downgrade "read".
	if err := db.SetMessageAck("m1", AckDelivered); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("c1", 10, 0)
	if msgs[0].AckState != AckRead {
		t.Errorf("ack = %d, want %d (no downgrade)", msgs[0].AckState, AckRead)
	}
}
