// Package gateway exposes the daemon to UI clients: a websocket endpoint
// streaming session events and serving chat reads, plus a small REST API
// for reminders, sync triggers and materialized media files.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rafaelmv/wacrm/internal/bus"
	"github.com/rafaelmv/wacrm/internal/media"
	"github.com/rafaelmv/wacrm/internal/reconcile"
	"github.com/rafaelmv/wacrm/internal/status"
	"github.com/rafaelmv/wacrm/internal/store"
	"github.com/rafaelmv/wacrm/internal/syncer"
	"github.com/rafaelmv/wacrm/internal/wa"
)

// chatListSize bounds how many chats the projection reload pulls from the
// store; it matches the initial load at daemon start.
const chatListSize = 200

// Session is the slice of the session adapter the gateway needs.
type Session interface {
	SendText(ctx context.Context, chatID, text string) (string, int64, error)
	ResolveChat(chatID string) error
	PhoneNumber() string
}

// SyncService serves paginated reads and chat backfills.
type SyncService interface {
	GetChats(ctx context.Context, page, limit int) ([]store.Chat, error)
	GetMessages(ctx context.Context, chatID string, page, limit int) ([]store.Message, error)
	GetContacts(ctx context.Context, page, limit int) ([]store.Contact, error)
	RequestFullSync(ctx context.Context, chatID string, limit int) error
}

// Config wires the gateway's collaborators.
type Config struct {
	DB       *store.DB
	Bus      *bus.Bus
	Machine  *status.Machine
	Session  Session
	Sync     SyncService
	Media    *media.Materializer
	ChatList *reconcile.ChatList
	Logger   *zap.Logger

	// AuthToken guards every endpoint when set. Empty disables auth; the
	// daemon then relies on binding to loopback only.
	AuthToken string

	// Retention caps messages kept per chat after a locally sent message.
	Retention int
}

// Server is the websocket hub and HTTP API.
type Server struct {
	cfg Config

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(ctx context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, payload)
}

// inFrame is a client request on the websocket.
type inFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outFrame is a server push. EventID is unique per emission so clients
// can deduplicate across reconnects.
type outFrame struct {
	Event   string `json:"event"`
	Data    any    `json:"data,omitempty"`
	EventID string `json:"eventId"`
	TS      int64  `json:"ts"`
}

func frame(event string, data any) outFrame {
	return outFrame{
		Event:   event,
		Data:    data,
		EventID: uuid.NewString(),
		TS:      timeNowMillis(),
	}
}

// New creates a gateway server.
func New(cfg Config) *Server {
	return &Server{cfg: cfg, clients: map[*client]struct{}{}}
}

// Handler returns the HTTP handler for the listen address.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/reminders", s.handleReminders)
	mux.HandleFunc("/api/reminders/", s.handleReminderByID)
	mux.HandleFunc("/api/sync-chat", s.handleSyncChat)
	mux.HandleFunc("/media/", s.handleMedia)
	return mux
}

// Run forwards bus events to connected clients until ctx is cancelled.
// It also keeps the chat-list projection current: new messages fold into
// it, and every chats_changed pushes a fresh ordered snapshot.
func (s *Server) Run(ctx context.Context) {
	events, cancel := s.cfg.Bus.Subscribe("ui.", 256)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			s.dispatch(evt)
		}
	}
}

func (s *Server) dispatch(evt bus.Event) {
	switch evt.Kind {
	case bus.UINewMessage:
		if p, ok := evt.Payload.(bus.NewMessagePayload); ok {
			if m, ok := p.Message.(*store.Message); ok {
				if s.cfg.ChatList.Apply(m) {
					// The open chat absorbed the message; reset the store's
					// counter so reloads agree with the projection.
					if err := s.cfg.DB.MarkChatRead(m.ChatID); err != nil {
						s.cfg.Logger.Warn("mark chat read", zap.String("chat_id", m.ChatID), zap.Error(err))
					}
				}
			}
		}
		s.broadcast("new_message", evt.Payload)
	case bus.UIChatsChanged:
		s.reloadChats()
		s.broadcast("chats", s.chatsEnvelope())
	default:
		s.broadcast(strings.TrimPrefix(evt.Kind, "ui."), evt.Payload)
	}
}

// reloadChats rebuilds the projection from the store. Chats created
// outside the live-message path, notably history-sync backfills, only
// reach the snapshot through this reload.
func (s *Server) reloadChats() {
	chats, err := s.cfg.DB.ListChats(chatListSize, 0)
	if err != nil {
		s.cfg.Logger.Warn("reload chat list", zap.Error(err))
		return
	}
	s.cfg.ChatList.Load(chats)
}

// chatsEnvelope wraps the projection in the paging shape every chats push
// carries.
func (s *Server) chatsEnvelope() map[string]any {
	snap := s.cfg.ChatList.Snapshot()
	total, err := s.cfg.DB.CountChats()
	if err != nil {
		total = len(snap)
	}
	return map[string]any{
		"chats": snap,
		"total": total,
		"page":  1,
		"limit": chatListSize,
	}
}

func (s *Server) broadcast(event string, data any) {
	f := frame(event, data)
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		if err := c.write(context.Background(), f); err != nil {
			s.cfg.Logger.Debug("ws broadcast write", zap.String("event", event), zap.Error(err))
		}
	}
}

// authorize checks the bearer token, or the token query parameter for
// endpoints browsers cannot attach headers to (websocket, media images).
func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if strings.HasPrefix(authz, prefix) {
		token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
		if token != "" && token == s.cfg.AuthToken {
			return true
		}
	}
	return r.URL.Query().Get("token") == s.cfg.AuthToken
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	dbOK := s.cfg.DB.Ping() == nil
	payload := map[string]any{
		"healthy": dbOK,
		"db_ok":   dbOK,
		"state":   s.cfg.Machine.Current(),
		"ready":   s.cfg.Machine.IsReady(),
	}
	w.Header().Set("Content-Type", "application/json")
	if !dbOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}
	s.addClient(c)
	s.cfg.Logger.Info("ws client connected")
	defer func() {
		s.removeClient(c)
		s.cfg.Logger.Info("ws client disconnected")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	s.sendSnapshot(r.Context(), c)

	for {
		var req inFrame
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		s.handleFrame(r.Context(), c, req)
	}
}

// sendSnapshot brings a freshly connected client up to date: the pending
// QR if pairing is in progress, readiness, and the current chat list.
func (s *Server) sendSnapshot(ctx context.Context, c *client) {
	if qr := s.cfg.Machine.QR(); qr != "" {
		_ = c.write(ctx, frame("qr", qr))
	}
	if s.cfg.Machine.IsReady() {
		_ = c.write(ctx, frame("ready", map[string]any{
			"phoneNumber": s.cfg.Session.PhoneNumber(),
		}))
	}
	_ = c.write(ctx, frame("chats", s.chatsEnvelope()))
}

func (s *Server) handleFrame(ctx context.Context, c *client, req inFrame) {
	switch req.Event {
	case "get_chats":
		var p struct {
			Page  int `json:"page"`
			Limit int `json:"limit"`
		}
		_ = json.Unmarshal(req.Data, &p)
		page, limit := syncer.ClampPage(p.Page, p.Limit)
		chats, err := s.cfg.Sync.GetChats(ctx, page, limit)
		if err != nil {
			s.writeError(ctx, c, "get_chats", err)
			return
		}
		total, err := s.cfg.DB.CountChats()
		if err != nil {
			total = len(chats)
		}
		_ = c.write(ctx, frame("chats", map[string]any{
			"chats": chats,
			"total": total,
			"page":  page,
			"limit": limit,
		}))

	case "get_messages":
		var p struct {
			ChatID any `json:"chatId"`
			Page   int `json:"page"`
			Limit  int `json:"limit"`
		}
		if err := json.Unmarshal(req.Data, &p); err != nil {
			s.writeError(ctx, c, "get_messages", errChatIDRequired)
			return
		}
		chatID, err := wa.ChatIDFromPayload(p.ChatID)
		if err != nil {
			s.writeError(ctx, c, "get_messages", err)
			return
		}
		page, limit := syncer.ClampPage(p.Page, p.Limit)
		msgs, err := s.cfg.Sync.GetMessages(ctx, chatID, page, limit)
		if err != nil {
			s.writeError(ctx, c, "get_messages", err)
			return
		}
		total, err := s.cfg.DB.CountMessages(chatID)
		if err != nil {
			total = len(msgs)
		}
		_ = c.write(ctx, frame("messages", map[string]any{
			"messages": msgs,
			"total":    total,
			"page":     page,
			"limit":    limit,
		}))

	case "get_contacts":
		var p struct {
			Page  int `json:"page"`
			Limit int `json:"limit"`
		}
		_ = json.Unmarshal(req.Data, &p)
		contacts, err := s.cfg.Sync.GetContacts(ctx, p.Page, p.Limit)
		if err != nil {
			s.writeError(ctx, c, "get_contacts", err)
			return
		}
		_ = c.write(ctx, frame("contacts", contacts))

	case "send_message":
		var p struct {
			ChatID  any    `json:"chatId"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(req.Data, &p); err != nil || p.Message == "" {
			s.writeError(ctx, c, "send_message", errSendParams)
			return
		}
		to, err := wa.ChatIDFromPayload(p.ChatID)
		if err != nil {
			s.writeError(ctx, c, "send_message", err)
			return
		}
		m, err := s.sendMessage(ctx, to, p.Message)
		if err != nil {
			s.writeError(ctx, c, "send_message", err)
			return
		}
		_ = c.write(ctx, frame("message_sent", m))

	case "mark_as_read":
		var p struct {
			ChatID any `json:"chatId"`
		}
		if err := json.Unmarshal(req.Data, &p); err != nil {
			s.writeError(ctx, c, "mark_as_read", errChatIDRequired)
			return
		}
		chatID, err := wa.ChatIDFromPayload(p.ChatID)
		if err != nil {
			s.writeError(ctx, c, "mark_as_read", err)
			return
		}
		if err := s.cfg.DB.MarkChatRead(chatID); err != nil {
			s.writeError(ctx, c, "mark_as_read", err)
			return
		}
		s.cfg.ChatList.SetActive(chatID)
		s.cfg.Bus.Emit(bus.UIChatsChanged, nil)

	default:
		s.cfg.Logger.Warn("ws unknown event", zap.String("event", req.Event))
		s.writeError(ctx, c, req.Event, errUnknownEvent)
	}
}

// sendMessage delivers a text through the session and caches it before
// any notification goes out, mirroring how inbound messages are handled.
func (s *Server) sendMessage(ctx context.Context, to, body string) (*store.Message, error) {
	if !s.cfg.Machine.IsReady() {
		return nil, errNotReady
	}
	chatID := wa.CanonicalChatID(to)
	if err := s.cfg.Session.ResolveChat(chatID); err != nil {
		return nil, err
	}

	msgID, tsMillis, err := s.cfg.Session.SendText(ctx, chatID, body)
	if err != nil {
		return nil, err
	}

	m := &store.Message{
		ID:        msgID,
		ChatID:    chatID,
		Body:      body,
		Sender:    "me",
		Recipient: chatID,
		Timestamp: tsMillis / 1000,
		Type:      "text",
		FromMe:    true,
		AckState:  store.AckSent,
	}
	if err := s.cfg.DB.EnsureChat(chatID); err != nil {
		s.cfg.Logger.Error("ensure chat", zap.String("chat_id", chatID), zap.Error(err))
	}
	if err := s.cfg.DB.UpsertMessage(m); err != nil {
		s.cfg.Logger.Error("cache sent message", zap.String("id", msgID), zap.Error(err))
	}
	if err := s.cfg.DB.TouchChat(chatID, "", m.Timestamp, body); err != nil {
		s.cfg.Logger.Warn("touch chat", zap.String("chat_id", chatID), zap.Error(err))
	}
	if err := s.cfg.DB.TrimMessages(chatID, s.cfg.Retention); err != nil {
		s.cfg.Logger.Warn("trim messages", zap.String("chat_id", chatID), zap.Error(err))
	}

	s.cfg.Bus.Emit(bus.UINewMessage, bus.NewMessagePayload{ChatID: chatID, Message: m})
	s.cfg.Bus.Emit(bus.UIChatsChanged, nil)
	return m, nil
}

func (s *Server) writeError(ctx context.Context, c *client, event string, err error) {
	_ = c.write(ctx, frame("error", map[string]any{
		"event":   event,
		"message": err.Error(),
	}))
}

func (s *Server) addClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}
