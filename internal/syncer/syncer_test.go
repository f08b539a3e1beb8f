package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"github.com/rafaelmv/wacrm/internal/bus"
	"github.com/rafaelmv/wacrm/internal/status"
	"github.com/rafaelmv/wacrm/internal/store"
)

const testChat = "5511999999999@s.whatsapp.net"

type historyRequest struct {
	chatID string
	count  int
	oldest *types.MessageInfo
}

type fakeClient struct {
	mu       sync.Mutex
	requests []historyRequest
	err      error
	contacts []store.Contact
}

func (f *fakeClient) RequestHistory(_ context.Context, chatID string, count int, oldest *types.MessageInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, historyRequest{chatID, count, oldest})
	return f.err
}

func (f *fakeClient) GetContacts(context.Context) []store.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contacts
}

func (f *fakeClient) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func readyService(t *testing.T, client *fakeClient) (*Service, *store.DB, *bus.Bus) {
	t.Helper()
	db := testDB(t)
	b := bus.New()
	machine := status.NewMachine(b)
	if err := machine.Transition(status.Connecting); err != nil {
		t.Fatal(err)
	}
	if err := machine.Transition(status.Ready); err != nil {
		t.Fatal(err)
	}
	s := New(db, b, machine, client, zap.NewNop())
	return s, db, b
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("no %s event received", kind)
		}
	}
}

func TestGetChatsPagination(t *testing.T) {
	s, db, _ := readyService(t, &fakeClient{})
	for i := 0; i < 5; i++ {
		err := db.UpsertChat(&store.Chat{
			ID:            string(rune('a'+i)) + "@s.whatsapp.net",
			LastMessageAt: int64(100 + i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	page1, err := s.GetChats(context.Background(), 1, 2)
	if err != nil || len(page1) != 2 {
		t.Fatalf("page1 = %d rows, err %v", len(page1), err)
	}
	page2, err := s.GetChats(context.Background(), 2, 2)
	if err != nil || len(page2) != 2 {
		t.Fatalf("page2 = %d rows, err %v", len(page2), err)
	}
	if page1[0].ID == page2[0].ID {
		t.Error("pages overlap")
	}
	// Newest chat first.
	if page1[0].LastMessageAt != 104 {
		t.Errorf("head timestamp = %d, want 104", page1[0].LastMessageAt)
	}

	// Page 0 is treated as page 1.
	page0, err := s.GetChats(context.Background(), 0, 2)
	if err != nil || len(page0) != 2 || page0[0].ID != page1[0].ID {
		t.Errorf("page 0 != page 1")
	}
}

func TestGetMessagesPagination(t *testing.T) {
	s, db, _ := readyService(t, &fakeClient{})
	if err := db.EnsureChat(testChat); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		err := db.UpsertMessage(&store.Message{
			ID:        string(rune('A' + i)),
			ChatID:    testChat,
			Body:      "m",
			Timestamp: int64(100 + i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	page2, err := s.GetMessages(context.Background(), testChat, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 2 || page2[0].Timestamp != 102 {
		t.Errorf("page2 = %+v, want timestamps 102,101", page2)
	}
}

func TestRequestFullSyncNotReady(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	s := New(db, b, status.NewMachine(b), &fakeClient{}, zap.NewNop())

	if err := s.RequestFullSync(context.Background(), testChat, 50); !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}

func TestRequestFullSyncCompletes(t *testing.T) {
	client := &fakeClient{}
	s, _, b := readyService(t, client)
	ui, cancel := b.Subscribe("ui.sync", 16)
	defer cancel()

	if err := s.RequestFullSync(context.Background(), testChat, 75); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, ui, bus.UISyncStarted)

	if client.requestCount() != 1 {
		t.Fatalf("requests = %d, want 1", client.requestCount())
	}
	client.mu.Lock()
	req := client.requests[0]
	client.mu.Unlock()
	if req.chatID != testChat || req.count != 75 {
		t.Errorf("request = %+v", req)
	}
	if req.oldest == nil || req.oldest.Chat.String() != testChat {
		t.Errorf("oldest anchor = %+v, want chat jid set", req.oldest)
	}

	// The bridge ingesting the batch announces it on the bus.
	b.Emit(bus.SyncHistoryBatch, bus.HistoryBatchPayload{ChatID: testChat, Saved: 40, Total: 50})

	evt := waitEvent(t, ui, bus.UISyncCompleted)
	payload := evt.Payload.(bus.SyncResultPayload)
	if payload.ChatID != testChat || payload.Saved != 40 || payload.Total != 50 {
		t.Errorf("completed payload = %+v", payload)
	}
}

func TestRequestFullSyncIgnoresOtherChatsBatches(t *testing.T) {
	client := &fakeClient{}
	s, _, b := readyService(t, client)
	ui, cancel := b.Subscribe("ui.sync", 16)
	defer cancel()

	if err := s.RequestFullSync(context.Background(), testChat, 10); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, ui, bus.UISyncStarted)

	b.Emit(bus.SyncHistoryBatch, bus.HistoryBatchPayload{ChatID: "other@s.whatsapp.net", Saved: 1, Total: 1})
	b.Emit(bus.SyncHistoryBatch, bus.HistoryBatchPayload{ChatID: testChat, Saved: 5, Total: 5})

	evt := waitEvent(t, ui, bus.UISyncCompleted)
	if payload := evt.Payload.(bus.SyncResultPayload); payload.Saved != 5 {
		t.Errorf("completed with wrong batch: %+v", payload)
	}
}

func TestRequestFullSyncSingleFlightPerChat(t *testing.T) {
	client := &fakeClient{}
	s, _, b := readyService(t, client)
	ui, cancel := b.Subscribe("ui.sync", 16)
	defer cancel()

	if err := s.RequestFullSync(context.Background(), testChat, 10); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestFullSync(context.Background(), testChat, 10); !errors.Is(err, ErrSyncInFlight) {
		t.Errorf("second sync err = %v, want ErrSyncInFlight", err)
	}

	b.Emit(bus.SyncHistoryBatch, bus.HistoryBatchPayload{ChatID: testChat, Saved: 1, Total: 1})
	waitEvent(t, ui, bus.UISyncCompleted)

	// The slot frees up after completion.
	if err := s.RequestFullSync(context.Background(), testChat, 10); err != nil {
		t.Errorf("sync after completion err = %v", err)
	}
}

func TestRequestFullSyncTimeout(t *testing.T) {
	client := &fakeClient{}
	s, _, b := readyService(t, client)
	s.historyTimeout = 50 * time.Millisecond
	ui, cancel := b.Subscribe("ui.sync", 16)
	defer cancel()

	if err := s.RequestFullSync(context.Background(), testChat, 10); err != nil {
		t.Fatal(err)
	}

	evt := waitEvent(t, ui, bus.UISyncFailed)
	if payload := evt.Payload.(bus.SyncResultPayload); payload.Error == "" {
		t.Error("failed payload has no error")
	}
}

func TestRequestFullSyncRequestErrorEmitsFailed(t *testing.T) {
	client := &fakeClient{err: errors.New("socket closed")}
	s, _, b := readyService(t, client)
	ui, cancel := b.Subscribe("ui.sync", 16)
	defer cancel()

	if err := s.RequestFullSync(context.Background(), testChat, 10); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, ui, bus.UISyncFailed)

	// The failure released the in-flight slot.
	client.err = nil
	if err := s.RequestFullSync(context.Background(), testChat, 10); err != nil {
		t.Errorf("sync after failure err = %v", err)
	}
}

func TestRequestFullSyncInvalidChatID(t *testing.T) {
	s, _, _ := readyService(t, &fakeClient{})

	if err := s.RequestFullSync(context.Background(), "not a jid at all", 10); err == nil {
		t.Error("want error for unparseable chat id")
	}
}

func TestGetChatsSeedsContactsOnce(t *testing.T) {
	client := &fakeClient{contacts: []store.Contact{
		{ID: "c1@s.whatsapp.net", Name: "Alice", Number: "5511"},
		{ID: "c2@s.whatsapp.net", Name: "Bob", Number: "5522"},
	}}
	s, db, _ := readyService(t, client)

	if _, err := s.GetChats(context.Background(), 1, 20); err != nil {
		t.Fatal(err)
	}
	contacts, err := db.ListContacts(10, 0)
	if err != nil || len(contacts) != 2 {
		t.Fatalf("contacts = %d, err %v", len(contacts), err)
	}

	// A second read does not reseed.
	if _, err := s.GetChats(context.Background(), 1, 20); err != nil {
		t.Fatal(err)
	}
	if !s.seeded {
		t.Error("seeded flag not set")
	}
}

func TestOldestMessageInfoAnchorsAtOldestRow(t *testing.T) {
	s, db, _ := readyService(t, &fakeClient{})
	if err := db.EnsureChat(testChat); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		err := db.UpsertMessage(&store.Message{
			ID:        string(rune('A' + i)),
			ChatID:    testChat,
			Sender:    testChat,
			Timestamp: int64(100 + i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	info := s.oldestMessageInfo(testChat)
	if info == nil || info.ID != "A" {
		t.Fatalf("anchor = %+v, want oldest message A", info)
	}
	if info.Timestamp.Unix() != 100 {
		t.Errorf("anchor timestamp = %d, want 100", info.Timestamp.Unix())
	}
}
