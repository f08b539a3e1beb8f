package store

// Ack states for outgoing messages (valid only when FromMe).
const (
	AckPending   = 0
	AckSent      = 1
	AckDelivered = 2
	AckRead      = 3
)

// Reminder statuses.
const (
	ReminderPending    = "pending"
	ReminderProcessing = "processing"
	ReminderSent       = "sent"
	ReminderFailed     = "failed"
	ReminderCancelled  = "cancelled"
)

// Chat is a cached chat row.
type Chat struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	IsGroup            bool   `json:"isGroup"`
	IsReadOnly         bool   `json:"isReadOnly"`
	UnreadCount        int    `json:"unreadCount"`
	LastMessageAt      int64  `json:"timestamp"`
	LastMessagePreview string `json:"lastMessagePreview"`
	Archived           bool   `json:"archived"`
	Pinned             bool   `json:"pinned"`
}

// Contact is a cached contact row.
type Contact struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Number     string `json:"number"`
	IsBusiness bool   `json:"isBusiness"`
	IsMe       bool   `json:"isMe"`
	IsGroup    bool   `json:"isGroup"`
	IsBlocked  bool   `json:"isBlocked"`
}

// Message is a cached message row. ID is globally unique; re-ingesting the
// same ID overwrites the row.
type Message struct {
	ID          string `json:"id"`
	ChatID      string `json:"chatId"`
	Body        string `json:"body"`
	Sender      string `json:"from"`
	Recipient   string `json:"to"`
	Timestamp   int64  `json:"timestamp"`
	Type        string `json:"type"`
	FromMe      bool   `json:"fromMe"`
	IsForwarded bool   `json:"isForwarded"`
	IsStatus    bool   `json:"isStatus"`
	IsStarred   bool   `json:"isStarred"`
	HasMedia    bool   `json:"hasMedia"`
	// AckState is meaningful only when FromMe; IsRead only when !FromMe.
	AckState int  `json:"ackState"`
	IsRead   bool `json:"isRead"`

	MediaFilename string `json:"mediaFilename,omitempty"`
	MediaMime     string `json:"mediaMime,omitempty"`
	MediaSize     int64  `json:"mediaSize,omitempty"`
}

// Reminder is a scheduled outbound message. ScheduledAt and SentAt are
// epoch milliseconds, the unit clients submit.
type Reminder struct {
	ID          int64    `json:"id"`
	Body        string   `json:"body"`
	Recipients  []string `json:"recipients"`
	ScheduledAt int64    `json:"scheduledAt"`
	RepeatRule  string   `json:"repeatRule,omitempty"`
	Status      string   `json:"status"`
	Attempts    int      `json:"attempts"`
	LastError   string   `json:"lastError,omitempty"`
	SentAt      int64    `json:"sentAt,omitempty"`
	CreatedAt   int64    `json:"createdAt"`
}
