// Package syncer serves paginated reads from the local cache and runs
// on-demand history backfills for individual chats.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"github.com/rafaelmv/wacrm/internal/bus"
	"github.com/rafaelmv/wacrm/internal/status"
	"github.com/rafaelmv/wacrm/internal/store"
	"github.com/rafaelmv/wacrm/internal/wa"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// How long a requested history batch may take to arrive before the
	// sync is reported as failed.
	defaultHistoryTimeout = 2 * time.Minute
)

var (
	// ErrNotReady is returned when the session cannot serve a backfill.
	ErrNotReady = errors.New("session not ready")
	// ErrSyncInFlight is returned when the chat already has a running sync.
	ErrSyncInFlight = errors.New("sync already in progress for chat")
)

// SessionClient is the slice of the session adapter the syncer needs.
type SessionClient interface {
	RequestHistory(ctx context.Context, chatID string, count int, oldest *types.MessageInfo) error
	GetContacts(ctx context.Context) []store.Contact
}

// Service answers chat/message reads from the store and coordinates
// full-chat backfills against the live session.
type Service struct {
	db      *store.DB
	bus     *bus.Bus
	machine *status.Machine
	client  SessionClient
	logger  *zap.Logger

	historyTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]bool
	seeded   bool
}

// New creates a sync service.
func New(db *store.DB, b *bus.Bus, machine *status.Machine, client SessionClient, logger *zap.Logger) *Service {
	return &Service{
		db:             db,
		bus:            b,
		machine:        machine,
		client:         client,
		logger:         logger,
		historyTimeout: defaultHistoryTimeout,
		inflight:       make(map[string]bool),
	}
}

// ClampPage normalizes a 1-based page request: page floors at 1, limit
// falls back to the default and caps at the maximum. The gateway uses it
// to echo the effective page/limit back to clients.
func ClampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

// clampPage normalizes 1-based page/limit into limit+offset.
func clampPage(page, limit int) (int, int) {
	page, limit = ClampPage(page, limit)
	return limit, (page - 1) * limit
}

// GetChats returns one page of chats ordered by recency. On the first call
// against an empty cache with a ready session it seeds the contact table
// from the device store, so names resolve before any history arrives.
func (s *Service) GetChats(ctx context.Context, page, limit int) ([]store.Chat, error) {
	s.maybeSeedContacts(ctx)

	limit, offset := clampPage(page, limit)
	chats, err := s.db.ListChats(limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// GetMessages returns one page of a chat's messages, newest first.
func (s *Service) GetMessages(ctx context.Context, chatID string, page, limit int) ([]store.Message, error) {
	limit, offset := clampPage(page, limit)
	msgs, err := s.db.ListMessages(wa.CanonicalChatID(chatID), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// GetContacts returns one page of cached contacts.
func (s *Service) GetContacts(ctx context.Context, page, limit int) ([]store.Contact, error) {
	s.maybeSeedContacts(ctx)

	limit, offset := clampPage(page, limit)
	contacts, err := s.db.ListContacts(limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return contacts, nil
}

// maybeSeedContacts copies the device-store contact list into the cache
// once, the first time reads happen against an empty cache while ready.
func (s *Service) maybeSeedContacts(ctx context.Context) {
	s.mu.Lock()
	seeded := s.seeded
	s.mu.Unlock()
	if seeded || !s.machine.IsReady() || s.client == nil {
		return
	}

	n, err := s.db.CountChats()
	if err != nil || n > 0 {
		s.markSeeded()
		return
	}

	contacts := s.client.GetContacts(ctx)
	saved := 0
	for i := range contacts {
		if err := s.db.UpsertContact(&contacts[i]); err != nil {
			s.logger.Warn("seed contact", zap.String("id", contacts[i].ID), zap.Error(err))
			continue
		}
		saved++
	}
	s.logger.Info("seeded contacts from device store", zap.Int("saved", saved))
	s.markSeeded()
}

func (s *Service) markSeeded() {
	s.mu.Lock()
	s.seeded = true
	s.mu.Unlock()
}

// RequestFullSync asks the phone for up to limit older messages of a chat
// and returns immediately. Progress is reported on the bus: sync_started
// now, then sync_completed or sync_failed when the history batch lands or
// the wait times out. Only one sync per chat runs at a time.
func (s *Service) RequestFullSync(ctx context.Context, chatID string, limit int) error {
	if !s.machine.IsReady() {
		return ErrNotReady
	}
	id := wa.CanonicalChatID(chatID)
	if _, err := types.ParseJID(id); err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	if s.inflight[id] {
		s.mu.Unlock()
		return ErrSyncInFlight
	}
	s.inflight[id] = true
	s.mu.Unlock()

	// Subscribe before requesting so the batch cannot slip past.
	batches, cancel := s.bus.Subscribe(bus.SyncHistoryBatch, 16)

	s.bus.Emit(bus.UISyncStarted, bus.SyncResultPayload{ChatID: id})

	oldest := s.oldestMessageInfo(id)
	if err := s.client.RequestHistory(ctx, id, limit, oldest); err != nil {
		cancel()
		s.finish(id)
		s.bus.Emit(bus.UISyncFailed, bus.SyncResultPayload{ChatID: id, Error: err.Error()})
		return nil
	}

	go s.awaitBatch(id, batches, cancel)
	return nil
}

// awaitBatch waits for the history batch of a chat and publishes the
// terminal sync event.
func (s *Service) awaitBatch(chatID string, batches <-chan bus.Event, cancel func()) {
	defer cancel()
	defer s.finish(chatID)

	timeout := time.NewTimer(s.historyTimeout)
	defer timeout.Stop()

	for {
		select {
		case evt := <-batches:
			payload, ok := evt.Payload.(bus.HistoryBatchPayload)
			if !ok || payload.ChatID != chatID {
				continue
			}
			s.logger.Info("chat sync completed",
				zap.String("chat_id", chatID),
				zap.Int("saved", payload.Saved),
				zap.Int("total", payload.Total))
			s.bus.Emit(bus.UISyncCompleted, bus.SyncResultPayload{
				ChatID: chatID,
				Saved:  payload.Saved,
				Total:  payload.Total,
			})
			return
		case <-timeout.C:
			s.logger.Warn("chat sync timed out", zap.String("chat_id", chatID))
			s.bus.Emit(bus.UISyncFailed, bus.SyncResultPayload{
				ChatID: chatID,
				Error:  "timed out waiting for history",
			})
			return
		}
	}
}

func (s *Service) finish(chatID string) {
	s.mu.Lock()
	delete(s.inflight, chatID)
	s.mu.Unlock()
}

// oldestMessageInfo anchors the history request at the oldest cached
// message of the chat, or at a synthetic marker when the cache is empty.
func (s *Service) oldestMessageInfo(chatID string) *types.MessageInfo {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return nil
	}

	info := &types.MessageInfo{
		Timestamp: time.Now(),
		MessageSource: types.MessageSource{
			Chat:   jid,
			Sender: jid,
		},
	}

	n, err := s.db.CountMessages(chatID)
	if err != nil || n == 0 {
		return info
	}
	rows, err := s.db.ListMessages(chatID, 1, n-1)
	if err != nil || len(rows) == 0 {
		return info
	}

	oldest := rows[0]
	info.ID = oldest.ID
	info.Timestamp = time.Unix(oldest.Timestamp, 0)
	info.IsFromMe = oldest.FromMe
	if sender, err := types.ParseJID(oldest.Sender); err == nil {
		info.Sender = sender
	}
	return info
}
