// Package bridge subscribes to whatsmeow session events and turns them
// into durable store writes followed by bus notifications. The write
// always lands before the notification goes out, so a consumer reacting
// to an event can immediately read the row it describes.
package bridge

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rafaelmv/wacrm/internal/bus"
	"github.com/rafaelmv/wacrm/internal/media"
	"github.com/rafaelmv/wacrm/internal/status"
	"github.com/rafaelmv/wacrm/internal/store"
	"github.com/rafaelmv/wacrm/internal/wa"
)

const mediaTimeout = 60 * time.Second

// Bridge ingests session events into the store and publishes UI events.
type Bridge struct {
	db        *store.DB
	bus       *bus.Bus
	machine   *status.Machine
	media     *media.Materializer
	logger    *zap.Logger
	retention int
	mediaConc int
}

// New creates a bridge. media may be nil; attachments are then recorded
// without a local file. retention caps messages kept per chat, mediaConc
// bounds parallel downloads during history ingestion.
func New(db *store.DB, b *bus.Bus, machine *status.Machine, m *media.Materializer, logger *zap.Logger, retention, mediaConc int) *Bridge {
	if mediaConc < 1 {
		mediaConc = 1
	}
	return &Bridge{
		db:        db,
		bus:       b,
		machine:   machine,
		media:     m,
		logger:    logger,
		retention: retention,
		mediaConc: mediaConc,
	}
}

// Handle is registered as the whatsmeow event handler.
func (br *Bridge) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		br.handleMessage(evt)
	case *events.HistorySync:
		br.handleHistorySync(evt)
	case *events.Receipt:
		br.handleReceipt(evt)
	case *events.Connected:
		br.handleConnected()
	case *events.Disconnected:
		br.handleDisconnected()
	case *events.LoggedOut:
		br.handleLoggedOut()
	case *events.PairSuccess:
		br.logger.Info("paired with phone", zap.String("jid", evt.ID.String()))
	}
}

func (br *Bridge) handleMessage(evt *events.Message) {
	p := wa.ParseLiveMessage(evt)
	m := p.ToStoreMessage()

	if p.HasMedia && br.media != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mediaTimeout)
		med, err := br.media.Materialize(ctx, p.ChatID, p.ID, p.MediaMime, p.Raw)
		cancel()
		if err != nil {
			br.logger.Warn("media download failed, keeping message without file",
				zap.String("message_id", p.ID), zap.Error(err))
		} else {
			m.MediaFilename = med.Filename
			m.MediaMime = med.Mime
			m.MediaSize = med.Size
		}
	}

	// The chat row must exist before its first message lands; messages
	// reference chats(id).
	if err := br.db.EnsureChat(p.ChatID); err != nil {
		br.logger.Error("ensure chat", zap.String("chat_id", p.ChatID), zap.Error(err))
		return
	}
	if err := br.db.UpsertMessage(m); err != nil {
		br.logger.Error("persist message", zap.String("message_id", p.ID), zap.Error(err))
		return
	}

	name := ""
	if !p.FromMe {
		name = p.SenderName
	}
	if err := br.db.TouchChat(p.ChatID, name, p.Timestamp, preview(m)); err != nil {
		br.logger.Error("touch chat", zap.String("chat_id", p.ChatID), zap.Error(err))
	}
	if !p.FromMe && !p.IsStatus {
		if err := br.db.IncrementUnread(p.ChatID); err != nil {
			br.logger.Error("increment unread", zap.String("chat_id", p.ChatID), zap.Error(err))
		}
	}
	if err := br.db.TrimMessages(p.ChatID, br.retention); err != nil {
		br.logger.Warn("trim messages", zap.String("chat_id", p.ChatID), zap.Error(err))
	}

	br.bus.Emit(bus.UINewMessage, bus.NewMessagePayload{ChatID: p.ChatID, Message: m})
	br.bus.Emit(bus.UIChatsChanged, nil)
}

// handleHistorySync ingests one conversation at a time and announces each
// as a history batch. Attachments are fetched only for on-demand syncs;
// the initial pairing dump would otherwise pull the whole media history.
func (br *Bridge) handleHistorySync(evt *events.HistorySync) {
	conversations := evt.Data.GetConversations()
	onDemand := evt.Data.GetSyncType() == waHistorySync.HistorySync_ON_DEMAND

	br.logger.Info("history sync received",
		zap.String("type", evt.Data.GetSyncType().String()),
		zap.Int("conversations", len(conversations)))

	for _, conv := range conversations {
		br.ingestConversation(conv, onDemand)
	}
	if len(conversations) > 0 {
		br.bus.Emit(bus.UIChatsChanged, nil)
	}
}

func (br *Bridge) ingestConversation(conv *waHistorySync.Conversation, withMedia bool) {
	chatID := wa.CanonicalChatID(conv.GetID())

	var parsed []*wa.ParsedMessage
	for _, hmsg := range conv.GetMessages() {
		if p := wa.ParseWebMessage(chatID, hmsg.GetMessage()); p != nil {
			parsed = append(parsed, p)
		}
	}
	total := len(conv.GetMessages())

	if len(parsed) > 0 {
		if err := br.db.EnsureChat(chatID); err != nil {
			br.logger.Error("ensure chat", zap.String("chat_id", chatID), zap.Error(err))
			parsed = nil
		}
	}

	medias := make([]*media.Media, len(parsed))
	if withMedia && br.media != nil {
		g := new(errgroup.Group)
		g.SetLimit(br.mediaConc)
		for i, p := range parsed {
			if !p.HasMedia {
				continue
			}
			g.Go(func() error {
				ctx, cancel := context.WithTimeout(context.Background(), mediaTimeout)
				defer cancel()
				med, err := br.media.Materialize(ctx, p.ChatID, p.ID, p.MediaMime, p.Raw)
				if err != nil {
					br.logger.Warn("history media download failed",
						zap.String("message_id", p.ID), zap.Error(err))
					return nil
				}
				medias[i] = &med
				return nil
			})
		}
		g.Wait()
	}

	saved := 0
	var newest *store.Message
	for i, p := range parsed {
		m := p.ToStoreMessage()
		if med := medias[i]; med != nil {
			m.MediaFilename = med.Filename
			m.MediaMime = med.Mime
			m.MediaSize = med.Size
		}
		if err := br.db.UpsertMessage(m); err != nil {
			br.logger.Warn("persist history message",
				zap.String("message_id", p.ID), zap.Error(err))
			continue
		}
		saved++
		if newest == nil || m.Timestamp > newest.Timestamp {
			newest = m
		}
	}

	if newest != nil {
		if err := br.db.TouchChat(chatID, conv.GetName(), newest.Timestamp, preview(newest)); err != nil {
			br.logger.Error("touch chat", zap.String("chat_id", chatID), zap.Error(err))
		}
		if err := br.db.TrimMessages(chatID, br.retention); err != nil {
			br.logger.Warn("trim messages", zap.String("chat_id", chatID), zap.Error(err))
		}
	}

	br.bus.Emit(bus.SyncHistoryBatch, bus.HistoryBatchPayload{
		ChatID: chatID,
		Saved:  saved,
		Total:  total,
	})
}

func (br *Bridge) handleReceipt(evt *events.Receipt) {
	var ack int
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		ack = store.AckDelivered
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		ack = store.AckRead
	default:
		return
	}

	chatID := evt.Chat.ToNonAD().String()
	for _, id := range evt.MessageIDs {
		if err := br.db.SetMessageAck(id, ack); err != nil {
			br.logger.Warn("set message ack", zap.String("message_id", id), zap.Error(err))
			continue
		}
		br.bus.Emit(bus.UIMessageAck, bus.AckPayload{
			ChatID:    chatID,
			MessageID: id,
			Ack:       ack,
		})
	}
}

func (br *Bridge) handleConnected() {
	if err := br.machine.Transition(status.Ready); err != nil {
		br.logger.Warn("connected in unexpected state", zap.Error(err))
		return
	}
	br.logger.Info("session ready")
	br.bus.Emit(bus.UIReady, nil)
}

func (br *Bridge) handleDisconnected() {
	if err := br.machine.Transition(status.Reconnecting); err != nil {
		br.logger.Warn("disconnected in unexpected state", zap.Error(err))
		return
	}
	br.logger.Warn("session disconnected")
	br.bus.Emit(bus.UIDisconnected, nil)
}

func (br *Bridge) handleLoggedOut() {
	if err := br.machine.Transition(status.AuthRequired); err != nil {
		br.logger.Warn("logged out in unexpected state", zap.Error(err))
	}
	br.logger.Warn("logged out, pairing required")
	br.bus.Emit(bus.SessionLoggedOut, nil)
	br.bus.Emit(bus.UIDisconnected, nil)
}

// preview picks the chat-list preview line for a message: its text, or a
// type placeholder for body-less media.
func preview(m *store.Message) string {
	if m.Body != "" {
		return m.Body
	}
	if m.Type != "" && m.Type != "text" {
		return "[" + m.Type + "]"
	}
	return ""
}
