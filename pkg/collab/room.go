// Package collab implements the collaborative editing core: rooms pairing a
// CRDT document with a participant set and a fan-out broadcast channel, a
// registry resolving the join/cleanup race, and a per-connection session
// state machine that speaks both the binary and legacy JSON wire formats.
package collab

import (
	"sync"

	"github.com/shiv248/collabide/internal/protocol"
	"github.com/shiv248/collabide/pkg/crdt"
	"github.com/shiv248/collabide/pkg/logger"
)

// broadcastBufferSize bounds each subscriber's outbound queue. A slow
// receiver that falls this far behind misses each frame offered while its
// queue is full, rather than being allowed to stall the publisher.
const broadcastBufferSize = 1024

// Room pairs one document with a participant set and a bounded fan-out
// channel. Identified by the same id as its document (the document/project
// id in the URL path). Created on first join for a given id; torn down by
// the Registry once its participant set becomes empty.
type Room struct {
	id  string
	doc *crdt.Document

	mu           sync.RWMutex
	participants map[string]*Presence
	subscribers  map[string]chan []byte
	announcers   map[string]chan *protocol.ServerEnvelope
}

func newRoom(id string, doc *crdt.Document) *Room {
	return &Room{
		id:           id,
		doc:          doc,
		participants: make(map[string]*Presence),
		subscribers:  make(map[string]chan []byte),
		announcers:   make(map[string]chan *protocol.ServerEnvelope),
	}
}

// ID returns the room's document/project id.
func (r *Room) ID() string {
	return r.id
}

// Document returns the room's CRDT document. Callers use its four
// primitives directly; Room does not wrap them.
func (r *Room) Document() *crdt.Document {
	return r.doc
}

// Join inserts a participant and returns a fresh subscription to the
// broadcast channel plus a side channel of presence announcements
// (UserJoined/UserLeft, legacy-JSON clients only). The subscription yields
// only frames published after this call; anything broadcast before Join is
// not replayed here (the caller separately sends an initial Sync Step1 /
// InitialState).
func (r *Room) Join(userID, username string) (p *Presence, frames <-chan []byte, announcements <-chan *protocol.ServerEnvelope) {
	r.mu.Lock()

	p = newPresence(userID, username)
	r.participants[userID] = p

	ch := make(chan []byte, broadcastBufferSize)
	r.subscribers[userID] = ch

	ann := make(chan *protocol.ServerEnvelope, broadcastBufferSize)
	r.announcers[userID] = ann

	r.mu.Unlock()

	r.broadcastAnnouncement(protocol.NewUserJoinedMsg(userID, username), userID)
	return p, ch, ann
}

// Leave removes a participant, closes its subscriptions, and announces the
// departure to every remaining legacy-JSON participant.
func (r *Room) Leave(userID string) {
	r.mu.Lock()
	delete(r.participants, userID)
	if ch, ok := r.subscribers[userID]; ok {
		close(ch)
		delete(r.subscribers, userID)
	}
	if ann, ok := r.announcers[userID]; ok {
		close(ann)
		delete(r.announcers, userID)
	}
	r.mu.Unlock()

	r.broadcastAnnouncement(protocol.NewUserLeftMsg(userID), userID)
}

// Presence returns a participant's presence entry, or nil if not joined.
func (r *Room) Presence(userID string) *Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participants[userID]
}

// Participants returns a snapshot of every current participant.
func (r *Room) Participants() []*Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Presence, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

// IsEmpty reports whether the room currently has no participants.
func (r *Room) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants) == 0
}

// Broadcast offers frame to every subscriber's channel without blocking.
// A subscriber whose channel is full is skipped for this frame rather than
// stalling every other publisher; a persistently backed-up subscriber will
// simply observe gaps and can recover via a fresh Sync Step1/Step2 exchange.
func (r *Room) Broadcast(frame []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for userID, ch := range r.subscribers {
		select {
		case ch <- frame:
		default:
			logger.Warn("collab: dropping frame for slow subscriber %s in room %s", userID, r.id)
		}
	}
}

// broadcastAnnouncement fans a UserJoined/UserLeft envelope out to every
// participant's announcement channel except excludeUserID, without
// blocking. Sends are non-blocking, so a participant that never drains its
// announcement channel has no effect on delivery to the others.
func (r *Room) broadcastAnnouncement(envelope *protocol.ServerEnvelope, excludeUserID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for userID, ch := range r.announcers {
		if userID == excludeUserID {
			continue
		}
		select {
		case ch <- envelope:
		default:
		}
	}
}
