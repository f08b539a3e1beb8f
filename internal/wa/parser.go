package wa

import (
	"github.com/rafaelmv/wacrm/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ParsedMessage is a normalized message ready for ingestion. Raw keeps the
// protobuf payload around so media can be downloaded after the fact.
type ParsedMessage struct {
	ID         string
	ChatID     string
	Sender     string
	SenderName string
	Recipient  string
	Body       string
	Type       string
	FromMe     bool
	IsStatus   bool
	Forwarded  bool
	HasMedia   bool
	MediaMime  string
	MediaSize  int64
	Timestamp  int64

	Raw *waE2E.Message
}

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	chat := evt.Info.Chat.ToNonAD()
	sender := evt.Info.Sender.ToNonAD()

	p := &ParsedMessage{
		ID:         evt.Info.ID,
		ChatID:     chat.String(),
		Sender:     sender.String(),
		SenderName: evt.Info.PushName,
		Recipient:  chat.String(),
		Body:       extractTextBody(evt.Message),
		Type:       detectMessageType(evt.Message),
		FromMe:     evt.Info.IsFromMe,
		IsStatus:   chat == types.StatusBroadcastJID,
		Forwarded:  isForwarded(evt.Message),
		Timestamp:  evt.Info.Timestamp.Unix(),
		Raw:        evt.Message,
	}
	if p.FromMe {
		p.Sender = "me"
	}
	p.MediaMime, p.MediaSize = mediaInfo(evt.Message)
	p.HasMedia = p.MediaMime != ""
	return p
}

// ParseHistoryMessage normalizes a history sync message.
func ParseHistoryMessage(msg *waE2E.Message, info types.MessageInfo) *ParsedMessage {
	chat := info.Chat.ToNonAD()

	p := &ParsedMessage{
		ID:         info.ID,
		ChatID:     chat.String(),
		Sender:     info.Sender.ToNonAD().String(),
		SenderName: info.PushName,
		Recipient:  chat.String(),
		Body:       extractTextBody(msg),
		Type:       detectMessageType(msg),
		FromMe:     info.IsFromMe,
		Forwarded:  isForwarded(msg),
		Timestamp:  info.Timestamp.Unix(),
		Raw:        msg,
	}
	if p.FromMe {
		p.Sender = "me"
	}
	p.MediaMime, p.MediaSize = mediaInfo(msg)
	p.HasMedia = p.MediaMime != ""
	return p
}

// ToStoreMessage converts a ParsedMessage to a store.Message. Own messages
// start at ack "sent"; inbound messages start unread.
func (p *ParsedMessage) ToStoreMessage() *store.Message {
	ack := store.AckPending
	if p.FromMe {
		ack = store.AckSent
	}
	return &store.Message{
		ID:          p.ID,
		ChatID:      p.ChatID,
		Body:        p.Body,
		Sender:      p.Sender,
		Recipient:   p.Recipient,
		Timestamp:   p.Timestamp,
		Type:        p.Type,
		FromMe:      p.FromMe,
		IsForwarded: p.Forwarded,
		IsStatus:    p.IsStatus,
		HasMedia:    p.HasMedia,
		AckState:    ack,
		IsRead:      false,
		MediaMime:   p.MediaMime,
		MediaSize:   p.MediaSize,
	}
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}

// mediaInfo returns the declared mimetype and size of the attachment, or
// ("", 0) for non-media messages.
func mediaInfo(msg *waE2E.Message) (string, int64) {
	if msg == nil {
		return "", 0
	}
	switch {
	case msg.GetImageMessage() != nil:
		m := msg.GetImageMessage()
		return m.GetMimetype(), int64(m.GetFileLength())
	case msg.GetVideoMessage() != nil:
		m := msg.GetVideoMessage()
		return m.GetMimetype(), int64(m.GetFileLength())
	case msg.GetAudioMessage() != nil:
		m := msg.GetAudioMessage()
		return m.GetMimetype(), int64(m.GetFileLength())
	case msg.GetDocumentMessage() != nil:
		m := msg.GetDocumentMessage()
		return m.GetMimetype(), int64(m.GetFileLength())
	case msg.GetStickerMessage() != nil:
		m := msg.GetStickerMessage()
		return m.GetMimetype(), int64(m.GetFileLength())
	}
	return "", 0
}

func isForwarded(msg *waE2E.Message) bool {
	if msg == nil {
		return false
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetContextInfo().GetIsForwarded()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetContextInfo().GetIsForwarded()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetContextInfo().GetIsForwarded()
	}
	return false
}
