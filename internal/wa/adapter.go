// Package wa wraps the whatsmeow session client.
package wa

import (
	"context"
	"fmt"

	"github.com/rafaelmv/wacrm/internal/session"
	"github.com/rafaelmv/wacrm/internal/store"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps the whatsmeow client and manages the WhatsApp connection.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *zap.Logger
	session   string
}

// NewAdapter creates a new WhatsApp adapter for the given session.
func NewAdapter(ctx context.Context, sessionName string, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("WACRM", [3]uint32{0, 1, 0})

	dbPath := session.SessionDBPath(sessionName)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)

	return &Adapter{
		client:    client,
		container: container,
		logger:    logger,
		session:   sessionName,
	}, nil
}

// Client returns the underlying whatsmeow client.
func (a *Adapter) Client() *whatsmeow.Client {
	return a.client
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Logout invalidates the session and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// GetQRChannel returns the QR channel for pairing. Must be called before Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// SendText sends a text message to the given chat id. Returns the server
// message id and timestamp (epoch ms).
func (a *Adapter) SendText(ctx context.Context, chatID string, text string) (string, int64, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return "", 0, fmt.Errorf("parse chat id: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", 0, fmt.Errorf("send message: %w", err)
	}
	return resp.ID, resp.Timestamp.UnixMilli(), nil
}

// ResolveChat validates that chatID parses to a routable JID.
func (a *Adapter) ResolveChat(chatID string) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", chatID, err)
	}
	if jid.User == "" {
		return fmt.Errorf("chat id %q has no user part", chatID)
	}
	return nil
}

// DownloadAny downloads the media attachment embedded in msg.
func (a *Adapter) DownloadAny(ctx context.Context, msg *waE2E.Message) ([]byte, error) {
	return a.client.DownloadAny(ctx, msg)
}

// RequestHistory asks the server for up to count older messages of a chat.
// The messages arrive asynchronously as an on-demand HistorySync event;
// callers wait for the corresponding history batch on the bus.
func (a *Adapter) RequestHistory(ctx context.Context, chatID string, count int, oldest *types.MessageInfo) error {
	if _, err := types.ParseJID(chatID); err != nil {
		return fmt.Errorf("parse chat id %q: %w", chatID, err)
	}
	historyMsg := a.client.BuildHistorySyncRequest(oldest, count)
	if historyMsg == nil {
		return fmt.Errorf("build history sync request for %s", chatID)
	}
	_, err := a.client.SendMessage(ctx, types.JID{
		Server: "s.whatsapp.net",
		User:   "status",
	}, historyMsg)
	if err != nil {
		return fmt.Errorf("request history sync: %w", err)
	}
	return nil
}

// GetContacts returns all contacts from the whatsmeow device store.
func (a *Adapter) GetContacts(ctx context.Context) []store.Contact {
	allContacts, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		a.logger.Warn("failed to get contacts from device store", zap.Error(err))
		return nil
	}
	var contacts []store.Contact
	for jid, info := range allContacts {
		normalized := jid.ToNonAD()
		name := info.FullName
		if name == "" {
			name = info.PushName
		}
		contacts = append(contacts, store.Contact{
			ID:      normalized.String(),
			Name:    name,
			Number:  normalized.User,
			IsGroup: normalized.Server == types.GroupServer,
		})
	}
	return contacts
}

// PhoneNumber returns the phone number from the device store, or empty string.
func (a *Adapter) PhoneNumber() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}
