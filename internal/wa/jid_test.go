package wa

import "testing"

func TestCanonicalChatID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"558592403672@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		// Device suffix stripped.
		{"558592403672:3@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"120363123456@g.us", "120363123456@g.us"},
		// Unparseable ids pass through unchanged.
		{"not a jid", "not a jid"},
	}
	for _, tt := range tests {
		if got := CanonicalChatID(tt.input); got != tt.want {
			t.Errorf("CanonicalChatID(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestChatIDFromPayloadShapes(t *testing.T) {
	want := "558592403672@s.whatsapp.net"

	// Bare string.
	got, err := ChatIDFromPayload("558592403672:1@s.whatsapp.net")
	if err != nil || got != want {
		t.Errorf("string shape = %q, %v; want %q", got, err, want)
	}

	// {_serialized: ...}
	got, err = ChatIDFromPayload(map[string]any{"_serialized": want})
	if err != nil || got != want {
		t.Errorf("_serialized shape = %q, %v; want %q", got, err, want)
	}

	// {id: {_serialized: ...}}
	got, err = ChatIDFromPayload(map[string]any{"id": map[string]any{"_serialized": want}})
	if err != nil || got != want {
		t.Errorf("nested shape = %q, %v; want %q", got, err, want)
	}
}

func TestChatIDFromPayloadRejectsBadShapes(t *testing.T) {
	for _, v := range []any{"", 42, map[string]any{}, map[string]any{"id": 1}, nil} {
		if _, err := ChatIDFromPayload(v); err == nil {
			t.Errorf("ChatIDFromPayload(%v) = nil error, want error", v)
		}
	}
}
