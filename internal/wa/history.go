package wa

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
)

// ParseWebMessage normalizes a history-sync WebMessageInfo into a
// ParsedMessage. Returns nil for entries without a usable payload.
func ParseWebMessage(chatID string, wmsg *waWeb.WebMessageInfo) *ParsedMessage {
	if wmsg == nil || wmsg.GetMessage() == nil {
		return nil
	}
	key := wmsg.GetKey()
	if key.GetID() == "" {
		return nil
	}

	chat, err := types.ParseJID(chatID)
	if err != nil {
		return nil
	}

	sender := chat
	if p := key.GetParticipant(); p != "" {
		if pj, err := types.ParseJID(p); err == nil {
			sender = pj
		}
	}

	info := types.MessageInfo{
		ID:        key.GetID(),
		Timestamp: time.Unix(int64(wmsg.GetMessageTimestamp()), 0),
		PushName:  wmsg.GetPushName(),
		MessageSource: types.MessageSource{
			Chat:     chat,
			Sender:   sender,
			IsFromMe: key.GetFromMe(),
		},
	}
	return ParseHistoryMessage(wmsg.GetMessage(), info)
}
