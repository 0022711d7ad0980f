package collab

import (
	"strconv"
	"sync"
)

// Presence is a participant's ephemeral, non-persisted awareness state:
// everything besides the CRDT document itself that a room tracks about who
// is connected, kept under its own lock so a cursor update never contends
// with room-wide membership changes.
type Presence struct {
	mu       sync.RWMutex
	userID   string
	username string
	color    string
	cursor   *CursorState
	selection *SelectionState
}

// CursorState is a single-point cursor position.
type CursorState struct {
	Line   uint32
	Column uint32
}

// SelectionState is a range anchored at (StartLine, StartColumn) and
// extending to (EndLine, EndColumn).
type SelectionState struct {
	StartLine   uint32
	StartColumn uint32
	EndLine     uint32
	EndColumn   uint32
}

func newPresence(userID, username string) *Presence {
	return &Presence{
		userID:   userID,
		username: username,
		color:    generateColor(userID),
	}
}

// UserID returns the participant's id.
func (p *Presence) UserID() string {
	return p.userID
}

// Username returns the participant's display name.
func (p *Presence) Username() string {
	return p.username
}

// Color is a deterministic per-user color derived from the user id, used so
// every client renders the same participant in the same color without a
// coordinated palette assignment.
func (p *Presence) Color() string {
	return p.color
}

// Cursor returns the participant's last known cursor position, or nil if
// none has been reported.
func (p *Presence) Cursor() *CursorState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursor
}

// Selection returns the participant's last known selection range, or nil.
func (p *Presence) Selection() *SelectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.selection
}

// SetCursor updates the participant's cursor position. O(1), independent of
// every other participant's entry.
func (p *Presence) SetCursor(c *CursorState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = c
}

// SetSelection updates the participant's selection range.
func (p *Presence) SetSelection(s *SelectionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selection = s
}

// generateColor derives a stable CSS-friendly hue from the bytes of userID
// so the same participant always renders in the same color across
// reconnects, without a server-side color table to maintain.
func generateColor(userID string) string {
	var h uint32
	for i := 0; i < len(userID); i++ {
		h = h*31 + uint32(userID[i])
	}
	hue := h % 360
	return "hsl(" + strconv.Itoa(int(hue)) + ", 70%, 50%)"
}
