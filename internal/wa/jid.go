package wa

import (
	"fmt"

	"go.mau.fi/whatsmeow/types"
)

// CanonicalChatID normalizes a chat id string to its canonical form:
// parsed as a JID and stripped of agent/device suffixes. Ids that do not
// parse are returned unchanged — they are still stable strings, and a
// lossy digit-only comparison would risk matching unrelated chats.
func CanonicalChatID(raw string) string {
	jid, err := types.ParseJID(raw)
	if err != nil || jid.User == "" {
		return raw
	}
	return jid.ToNonAD().String()
}

// ChatIDFromPayload extracts a chat id from a decoded JSON value. UI layers
// send either a bare string or a structured value shaped like
// {"_serialized": "..."} or {"id": {"_serialized": "..."}}; every shape is
// collapsed to the canonical string form here, at the ingress boundary.
func ChatIDFromPayload(v any) (string, error) {
	switch val := v.(type) {
	case string:
		if val == "" {
			return "", fmt.Errorf("empty chat id")
		}
		return CanonicalChatID(val), nil
	case map[string]any:
		if s, ok := val["_serialized"].(string); ok && s != "" {
			return CanonicalChatID(s), nil
		}
		if inner, ok := val["id"]; ok {
			return ChatIDFromPayload(inner)
		}
		return "", fmt.Errorf("structured chat id has no _serialized field")
	default:
		return "", fmt.Errorf("unsupported chat id type %T", v)
	}
}
