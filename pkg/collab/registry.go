package collab

import (
	"sync"

	"github.com/shiv248/collabide/pkg/crdt"
)

// Registry maps a document/project id to its Room, resolving the
// get_or_create / cleanup race under one exclusive lock: a cleanup that
// runs between a room going empty and a new participant joining it must
// never destroy a room the new join is about to use.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// GetOrCreate returns the room for id, creating it (seeded with content, if
// non-empty) if it does not already exist.
//
// reg.mu only serializes Registry's own map operations; it does not cover
// Room.Join, which takes room.mu separately. A GetOrCreate (or Cleanup)
// racing a concurrent Join on the same room can still interleave across
// that boundary — the same join/cleanup race the original
// DashMap-based room manager has (original_source's room.rs), inherited
// here rather than introduced.
func (reg *Registry) GetOrCreate(id string, content string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, ok := reg.rooms[id]; ok {
		return room
	}

	doc := crdt.NewDocumentWithContent(content)
	room := newRoom(id, doc)
	reg.rooms[id] = room
	return room
}

// Get returns the room for id without creating it.
func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[id]
	return room, ok
}

// Cleanup removes the room for id if it is currently empty. Held under the
// same lock as GetOrCreate so a join that arrives concurrently with a
// cleanup either completes before the room is removed or recreates it
// fresh, never losing a participant to a room being torn down under it.
func (reg *Registry) Cleanup(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[id]
	if !ok {
		return
	}
	if room.IsEmpty() {
		delete(reg.rooms, id)
	}
}

// RoomCount returns the number of currently active rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// CleanupEmpty removes every currently-empty room. A session's own
// disconnect path already calls Cleanup for its one room immediately; this
// sweep exists for rooms that go empty without a clean disconnect (a socket
// read error dropped before the close handshake ran) so they do not linger
// forever.
func (reg *Registry) CleanupEmpty() (removed int) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for id, room := range reg.rooms {
		if room.IsEmpty() {
			delete(reg.rooms, id)
			removed++
		}
	}
	return removed
}
