package protocol

import (
	"encoding/json"
	"testing"
)

func TestClientEnvelopeRoundTrip(t *testing.T) {
	cases := []ClientEnvelope{
		{Auth: &AuthMsg{Token: "tok"}},
		{Sync: &SyncMsg{StateVector: []byte{1, 2, 3}}},
		{Update: &UpdateMsg{Data: []byte("hello")}},
		{Awareness: &AwarenessMsg{UserID: "u1", Cursor: &CursorPosition{Line: 3, Column: 1}}},
		{Awareness: &AwarenessMsg{UserID: "u1"}},
	}

	for _, c := range cases {
		b, err := json.Marshal(c)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}

		var got ClientEnvelope
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", b, err)
		}

		switch {
		case c.Auth != nil:
			if got.Auth == nil || got.Auth.Token != c.Auth.Token {
				t.Errorf("Auth round-trip mismatch: %+v", got)
			}
		case c.Sync != nil:
			if got.Sync == nil || string(got.Sync.StateVector) != string(c.Sync.StateVector) {
				t.Errorf("Sync round-trip mismatch: %+v", got)
			}
		case c.Update != nil:
			if got.Update == nil || string(got.Update.Data) != string(c.Update.Data) {
				t.Errorf("Update round-trip mismatch: %+v", got)
			}
		case c.Awareness != nil:
			if got.Awareness == nil || got.Awareness.UserID != c.Awareness.UserID {
				t.Errorf("Awareness round-trip mismatch: %+v", got)
			}
		}
	}
}

func TestClientEnvelopeUnknownType(t *testing.T) {
	var got ClientEnvelope
	err := json.Unmarshal([]byte(`{"type":"Bogus"}`), &got)
	if err != ErrUnknownEnvelopeType {
		t.Fatalf("want ErrUnknownEnvelopeType, got %v", err)
	}
}

func TestServerEnvelopeAuthResultHasTypeField(t *testing.T) {
	env := NewAuthResultMsg(false, "bad token")
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if raw["type"] != "AuthResult" {
		t.Errorf(`type = %v, want "AuthResult"`, raw["type"])
	}
	if raw["success"] != false {
		t.Errorf("success = %v, want false", raw["success"])
	}
	if raw["error"] != "bad token" {
		t.Errorf("error = %v, want %q", raw["error"], "bad token")
	}
}

func TestServerEnvelopeRoundTrip(t *testing.T) {
	cases := []*ServerEnvelope{
		NewAuthResultMsg(true, ""),
		NewInitialStateMsg([]byte("doc state")),
		NewUpdateMsg([]byte("update bytes")),
		NewAwarenessMsg("u1", &CursorPosition{Line: 1, Column: 2}),
		NewUserJoinedMsg("u1", "alice"),
		NewUserLeftMsg("u1"),
		NewErrorMsg("malformed update"),
	}

	for _, c := range cases {
		b, err := json.Marshal(c)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		var got ServerEnvelope
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", b, err)
		}
	}
}
