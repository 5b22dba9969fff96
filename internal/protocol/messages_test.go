package protocol

import (
	"errors"
	"testing"
)

func TestParseJoinSession(t *testing.T) {
	raw := []byte(`{"type":"join_session","sessionId":"abc","role":"sensor"}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	msg, ok := parsed.(JoinSession)
	if !ok {
		t.Fatalf("parsed type = %T, want JoinSession", parsed)
	}
	if msg.SessionID != "abc" || msg.Role != RoleSensor {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestParseSendFrameUsesRoomID(t *testing.T) {
	raw := []byte(`{"type":"send_frame","roomId":"r1","image":"data:image/jpeg;base64,AAAA"}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	msg, ok := parsed.(SendFrame)
	if !ok {
		t.Fatalf("parsed type = %T, want SendFrame", parsed)
	}
	if msg.SessionID != "r1" {
		t.Fatalf("SessionID = %q, want %q", msg.SessionID, "r1")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"bad role", `{"type":"join_session","sessionId":"abc","role":"admin"}`},
		{"missing session", `{"type":"join_session","role":"viewer"}`},
		{"missing image", `{"type":"send_frame","roomId":"r1"}`},
		{"missing process session", `{"type":"process_3d"}`},
		{"not json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseClientMessage([]byte(tc.raw)); err == nil {
				t.Fatalf("expected error for %s", tc.raw)
			}
		})
	}
}

func TestParseUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"teleport"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}
