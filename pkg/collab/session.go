package collab

import (
	"encoding/json"

	"github.com/shiv248/collabide/internal/protocol"
	"github.com/shiv248/collabide/internal/wire"
	"github.com/shiv248/collabide/pkg/logger"
)

// sessionState names where a connection sits in the Admit -> Joined ->
// Running -> Closing lifecycle. Admit and Joined collapse into the
// constructor (there is nothing a caller does between them); State reports
// Running for the lifetime of the connection and Closing once Close has
// been called.
type sessionState int32

const (
	stateRunning sessionState = iota
	stateClosing
)

// Session is the per-connection state machine: it owns one room
// membership, routes inbound frames (both binary and legacy JSON) into the
// document/room, and exposes the two outbound channels a transport loop
// drains to write frames/announcements back to the socket.
type Session struct {
	room     *Room
	presence *Presence

	frames        <-chan []byte
	announcements <-chan *protocol.ServerEnvelope

	state sessionState
}

// Admit joins userID/username into room and returns the new Session along
// with the unsolicited Sync Step1 frame the caller must send immediately,
// carrying the server's state vector, per the sync handshake.
func Admit(room *Room, userID, username string) (*Session, []byte) {
	presence, frames, announcements := room.Join(userID, username)

	s := &Session{
		room:          room,
		presence:      presence,
		frames:        frames,
		announcements: announcements,
		state:         stateRunning,
	}

	step1 := wire.EncodeSyncStep1(room.Document().StateVector())
	return s, step1
}

// UserID returns the joined participant's id.
func (s *Session) UserID() string {
	return s.presence.UserID()
}

// State reports where the session sits in the Admit -> Joined -> Running ->
// Closing lifecycle. Admit/Joined happen inside the Admit constructor, so
// callers only ever observe Running or Closing.
func (s *Session) State() sessionState {
	return s.state
}

// Frames returns the channel of canonical wire frames to relay to this
// connection's socket (binary transport: written as-is; legacy transport:
// translated via TranslateOutbound).
func (s *Session) Frames() <-chan []byte {
	return s.frames
}

// Announcements returns the channel of legacy-JSON-only presence events
// (UserJoined/UserLeft). Binary-transport callers may ignore it.
func (s *Session) Announcements() <-chan *protocol.ServerEnvelope {
	return s.announcements
}

// Close leaves the room. Safe to call once per session.
func (s *Session) Close() {
	s.state = stateClosing
	s.room.Leave(s.UserID())
}

// HandleBinary processes one binary frame received from this connection's
// own socket (never a frame read back from Frames(), which a transport loop
// writes out verbatim): decode,
// apply to the document where applicable, and report what (if anything)
// should be broadcast to the rest of the room. A nil return means the
// frame was consumed with nothing further to do (including the "malformed,
// dropped" case, which is never reported as an error — per the wire
// protocol, unknown types and malformed frames are logged at debug and the
// connection stays open).
func (s *Session) HandleBinary(raw []byte) (broadcast []byte) {
	f, err := wire.Decode(raw)
	if err != nil {
		logger.Debug("collab: dropping frame in room %s: %v", s.room.ID(), err)
		return nil
	}

	switch f.Type {
	case wire.MessageSync:
		switch f.Sub {
		case wire.SyncStep1:
			diff, err := s.room.Document().EncodeDiff(f.Payload)
			if err != nil {
				logger.Debug("collab: malformed state vector in room %s: %v", s.room.ID(), err)
				return nil
			}
			s.reply(wire.EncodeSyncStep2(diff))
			return nil

		case wire.SyncStep2:
			if err := s.room.Document().ApplyUpdate(f.Payload); err != nil {
				logger.Debug("collab: malformed update in room %s: %v", s.room.ID(), err)
			}
			return nil

		case wire.SyncUpdate:
			if err := s.room.Document().ApplyUpdate(f.Payload); err != nil {
				logger.Debug("collab: malformed update in room %s: %v", s.room.ID(), err)
				return nil
			}
			return wire.EncodeSyncUpdate(f.Payload)
		}

	case wire.MessageAwareness:
		return wire.EncodeAwareness(f.Payload)
	}

	return nil
}

// reply pushes a frame directly onto this session's own outbound channel,
// used for the Sync Step2 response that answers only the requester rather
// than the whole room. Non-blocking like Room.Broadcast: a reply that can't
// be queued is dropped rather than stalling the caller.
func (s *Session) reply(frame []byte) {
	select {
	case s.selfChan() <- frame:
	default:
		logger.Warn("collab: dropping reply for slow subscriber %s in room %s", s.UserID(), s.room.ID())
	}
}

// selfChan resolves this session's own subscriber channel for direct
// (non-broadcast) replies. It re-reads the room's subscriber map rather
// than caching a send-capable handle, since Session only holds the
// receive-only view returned by Join.
func (s *Session) selfChan() chan<- []byte {
	s.room.mu.RLock()
	defer s.room.mu.RUnlock()
	return s.room.subscribers[s.UserID()]
}

// HandleText processes one inbound legacy JSON envelope. It returns an
// immediate reply to send back on this connection (for Auth and Sync,
// which answer only the requester), and/or a canonical wire frame to
// broadcast to the room (for Update and Awareness). Either return may be
// nil.
func (s *Session) HandleText(data []byte) (reply *protocol.ServerEnvelope, broadcast []byte) {
	var env protocol.ClientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Debug("collab: dropping malformed JSON envelope in room %s: %v", s.room.ID(), err)
		return protocol.NewErrorMsg("malformed envelope"), nil
	}

	switch {
	case env.Auth != nil:
		// Identity verification happens before Admit (an external
		// collaborator, per the wire protocol's scope); a connection that
		// reached HandleText is already authenticated, so legacy clients
		// that still perform this handshake always see success.
		return protocol.NewAuthResultMsg(true, ""), nil

	case env.Sync != nil:
		diff, err := s.room.Document().EncodeDiff(env.Sync.StateVector)
		if err != nil {
			return protocol.NewErrorMsg("malformed state vector"), nil
		}
		return protocol.NewInitialStateMsg(diff), nil

	case env.Update != nil:
		if err := s.room.Document().ApplyUpdate(env.Update.Data); err != nil {
			return protocol.NewErrorMsg("malformed update"), nil
		}
		return nil, wire.EncodeSyncUpdate(env.Update.Data)

	case env.Awareness != nil:
		s.applyAwareness(env.Awareness)
		payload, err := json.Marshal(env.Awareness)
		if err != nil {
			return nil, nil
		}
		return nil, wire.EncodeAwareness(payload)
	}

	return nil, nil
}

// applyAwareness updates the presence of the participant named by the
// message's user id from a legacy Awareness message; a user id that is not
// in the room is ignored. Binary Awareness frames remain an opaque relay and
// never touch Presence; this is the JSON-only path that the spec leaves
// open to unify or keep separate, resolved here in favor of also updating
// room-visible presence so participant listings stay current for clients
// that never send binary frames.
func (s *Session) applyAwareness(msg *protocol.AwarenessMsg) {
	p := s.room.Presence(msg.UserID)
	if p == nil {
		return
	}
	if msg.Cursor == nil {
		p.SetCursor(nil)
		return
	}
	p.SetCursor(&CursorState{Line: msg.Cursor.Line, Column: msg.Cursor.Column})
}

// TranslateOutbound converts a canonical wire frame read from Frames() into
// the legacy JSON envelope a text-transport connection expects. Sync Update
// and Step2 frames become Update/InitialState envelopes and Sync Step1
// frames yield nil; Awareness frames are
// JSON-decoded back into an Awareness envelope when their payload is the
// JSON shape a legacy client produced, and dropped (not forwarded) when it
// isn't, since an opaque binary-client payload has no legacy rendering.
func TranslateOutbound(frame []byte) *protocol.ServerEnvelope {
	f, err := wire.Decode(frame)
	if err != nil {
		return nil
	}

	switch f.Type {
	case wire.MessageSync:
		switch f.Sub {
		case wire.SyncStep2:
			return protocol.NewInitialStateMsg(f.Payload)
		case wire.SyncUpdate:
			return protocol.NewUpdateMsg(f.Payload)
		}
		return nil

	case wire.MessageAwareness:
		var msg protocol.AwarenessMsg
		if err := json.Unmarshal(f.Payload, &msg); err != nil {
			return nil
		}
		return protocol.NewAwarenessMsg(msg.UserID, msg.Cursor)
	}

	return nil
}
