// Package protocol defines the legacy JSON envelope carried over WebSocket
// text frames, kept alongside the canonical binary frame format in
// internal/wire for clients that predate it. Both transports route into the
// same session state machine.
package protocol

import (
	"encoding/json"
	"errors"
)

// ErrUnknownEnvelopeType is returned when a JSON envelope's "type" field
// does not match any known variant.
var ErrUnknownEnvelopeType = errors.New("protocol: unknown envelope type")

// CursorPosition is a zero-indexed line/column pair.
type CursorPosition struct {
	Line   uint32 `json:"line"`
	Column uint32 `json:"column"`
}

// AuthMsg authenticates the socket with a bearer token.
type AuthMsg struct {
	Token string `json:"token"`
}

// SyncMsg carries a state vector, the client-to-server half of the sync
// handshake over the legacy transport.
type SyncMsg struct {
	StateVector []byte `json:"state_vector"`
}

// UpdateMsg carries an encoded CRDT update, in either direction.
type UpdateMsg struct {
	Data []byte `json:"data"`
}

// AwarenessMsg carries ephemeral presence data. Cursor is nil when the
// participant has no active cursor (e.g. on disconnect).
type AwarenessMsg struct {
	UserID string          `json:"user_id"`
	Cursor *CursorPosition `json:"cursor,omitempty"`
}

// ClientEnvelope is a legacy client-to-server message. Exactly one field is
// populated, selected by the "type" discriminator on the wire.
type ClientEnvelope struct {
	Auth      *AuthMsg
	Sync      *SyncMsg
	Update    *UpdateMsg
	Awareness *AwarenessMsg
}

// MarshalJSON renders whichever field is set as a type-tagged object.
func (m ClientEnvelope) MarshalJSON() ([]byte, error) {
	switch {
	case m.Auth != nil:
		return marshalTagged("Auth", m.Auth)
	case m.Sync != nil:
		return marshalTagged("Sync", m.Sync)
	case m.Update != nil:
		return marshalTagged("Update", m.Update)
	case m.Awareness != nil:
		return marshalTagged("Awareness", m.Awareness)
	default:
		return nil, errors.New("protocol: empty ClientEnvelope")
	}
}

// UnmarshalJSON dispatches on the "type" field into the matching variant.
func (m *ClientEnvelope) UnmarshalJSON(data []byte) error {
	typ, err := envelopeType(data)
	if err != nil {
		return err
	}

	switch typ {
	case "Auth":
		var v AuthMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Auth = &v
	case "Sync":
		var v SyncMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Sync = &v
	case "Update":
		var v UpdateMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Update = &v
	case "Awareness":
		var v AwarenessMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Awareness = &v
	default:
		return ErrUnknownEnvelopeType
	}
	return nil
}

// AuthResultMsg replies synchronously to an AuthMsg.
type AuthResultMsg struct {
	Success bool    `json:"success"`
	Error   *string `json:"error,omitempty"`
}

// InitialStateMsg carries the full document state sent once on join.
type InitialStateMsg struct {
	Data []byte `json:"data"`
}

// UserJoinedMsg announces a new room participant.
type UserJoinedMsg struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// UserLeftMsg announces a participant's departure.
type UserLeftMsg struct {
	UserID string `json:"user_id"`
}

// ErrorMsg carries a human-readable error, sent in place of a frame the
// server could not honor over the legacy text transport.
type ErrorMsg struct {
	Message string `json:"message"`
}

// ServerEnvelope is a legacy server-to-client message. Exactly one field is
// populated, selected by the "type" discriminator on the wire.
type ServerEnvelope struct {
	AuthResult   *AuthResultMsg
	InitialState *InitialStateMsg
	Update       *UpdateMsg
	Awareness    *AwarenessMsg
	UserJoined   *UserJoinedMsg
	UserLeft     *UserLeftMsg
	Error        *ErrorMsg
}

// MarshalJSON renders whichever field is set as a type-tagged object.
func (m ServerEnvelope) MarshalJSON() ([]byte, error) {
	switch {
	case m.AuthResult != nil:
		return marshalTagged("AuthResult", m.AuthResult)
	case m.InitialState != nil:
		return marshalTagged("InitialState", m.InitialState)
	case m.Update != nil:
		return marshalTagged("Update", m.Update)
	case m.Awareness != nil:
		return marshalTagged("Awareness", m.Awareness)
	case m.UserJoined != nil:
		return marshalTagged("UserJoined", m.UserJoined)
	case m.UserLeft != nil:
		return marshalTagged("UserLeft", m.UserLeft)
	case m.Error != nil:
		return marshalTagged("Error", m.Error)
	default:
		return nil, errors.New("protocol: empty ServerEnvelope")
	}
}

// UnmarshalJSON dispatches on the "type" field into the matching variant.
// Server-to-client envelopes are only ever decoded in tests here, but the
// symmetry keeps the type self-contained.
func (m *ServerEnvelope) UnmarshalJSON(data []byte) error {
	typ, err := envelopeType(data)
	if err != nil {
		return err
	}

	switch typ {
	case "AuthResult":
		var v AuthResultMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.AuthResult = &v
	case "InitialState":
		var v InitialStateMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.InitialState = &v
	case "Update":
		var v UpdateMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Update = &v
	case "Awareness":
		var v AwarenessMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Awareness = &v
	case "UserJoined":
		var v UserJoinedMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.UserJoined = &v
	case "UserLeft":
		var v UserLeftMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.UserLeft = &v
	case "Error":
		var v ErrorMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Error = &v
	default:
		return ErrUnknownEnvelopeType
	}
	return nil
}

// Helper constructors for server envelopes.

func NewAuthResultMsg(success bool, errMsg string) *ServerEnvelope {
	var e *string
	if errMsg != "" {
		e = &errMsg
	}
	return &ServerEnvelope{AuthResult: &AuthResultMsg{Success: success, Error: e}}
}

func NewInitialStateMsg(data []byte) *ServerEnvelope {
	return &ServerEnvelope{InitialState: &InitialStateMsg{Data: data}}
}

func NewUpdateMsg(data []byte) *ServerEnvelope {
	return &ServerEnvelope{Update: &UpdateMsg{Data: data}}
}

func NewAwarenessMsg(userID string, cursor *CursorPosition) *ServerEnvelope {
	return &ServerEnvelope{Awareness: &AwarenessMsg{UserID: userID, Cursor: cursor}}
}

func NewUserJoinedMsg(userID, username string) *ServerEnvelope {
	return &ServerEnvelope{UserJoined: &UserJoinedMsg{UserID: userID, Username: username}}
}

func NewUserLeftMsg(userID string) *ServerEnvelope {
	return &ServerEnvelope{UserLeft: &UserLeftMsg{UserID: userID}}
}

func NewErrorMsg(message string) *ServerEnvelope {
	return &ServerEnvelope{Error: &ErrorMsg{Message: message}}
}

// envelopeType extracts the "type" discriminator shared by every envelope.
func envelopeType(data []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", err
	}
	return head.Type, nil
}

// marshalTagged marshals v and injects a "type" field alongside its other
// fields, matching the source protocol's internally-tagged JSON shape.
func marshalTagged(typ string, v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	typJSON, err := json.Marshal(typ)
	if err != nil {
		return nil, err
	}
	fields["type"] = typJSON
	return json.Marshal(fields)
}
