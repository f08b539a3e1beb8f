package bus

// Topic kinds. Subscribers filter by prefix: "ui." is everything the gateway
// forwards to connected clients, "sync." is internal sync machinery.
const (
	// UI-facing projections. The gateway rebroadcasts these verbatim.
	UIQR            = "ui.qr"
	UIReady         = "ui.ready"
	UIDisconnected  = "ui.disconnected"
	UINewMessage    = "ui.new_message"
	UIMessageAck    = "ui.message_ack"
	UIChatsChanged  = "ui.chats_changed"
	UISyncStarted   = "ui.sync_started"
	UISyncCompleted = "ui.sync_completed"
	UISyncFailed    = "ui.sync_failed"

	// Reminder lifecycle.
	ReminderSent        = "ui.reminder_sent"
	ReminderFailed      = "ui.reminder_failed"
	ReminderRescheduled = "ui.reminder_rescheduled"

	// Internal.
	SyncHistoryBatch = "sync.history_batch"
	SessionLoggedOut = "session.logged_out"
	SessionStatus    = "session.status_changed"
)

// NewMessagePayload accompanies UINewMessage.
type NewMessagePayload struct {
	ChatID  string `json:"chatId"`
	Message any    `json:"message"`
}

// SyncResultPayload accompanies the sync_* UI events.
type SyncResultPayload struct {
	ChatID string `json:"chatId"`
	Saved  int    `json:"saved,omitempty"`
	Total  int    `json:"total,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HistoryBatchPayload accompanies SyncHistoryBatch. ChatID is empty for the
// initial full-account history delivered right after pairing.
type HistoryBatchPayload struct {
	ChatID string
	Saved  int
	Total  int
}

// AckPayload accompanies UIMessageAck.
type AckPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Ack       int    `json:"ack"`
}

// ReminderPayload accompanies the reminder lifecycle events.
type ReminderPayload struct {
	ID     int64  `json:"id"`
	Error  string `json:"error,omitempty"`
	NextAt int64  `json:"nextAt,omitempty"`
}
