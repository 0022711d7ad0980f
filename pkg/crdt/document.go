package crdt

import (
	"strings"
	"sync"
)

// element is one character in the RGA's underlying sequence, including
// tombstones left behind by deletes so that concurrent inserts still have a
// stable anchor to order against.
type element struct {
	id        id
	origin    id
	hasOrigin bool
	ch        rune
	deleted   bool
}

// Document is a single replica's view of a CRDT text register. All state is
// guarded by mu; the exported methods are safe for concurrent use and are
// the only surface a Room or Session needs: StateVector, EncodeDiff,
// ApplyUpdate and GetContent, plus local Insert/Delete to originate edits.
type Document struct {
	mu sync.Mutex

	replica ReplicaID
	clock   uint64

	elements []*element
	index    map[id]*element

	applied map[id]bool
	pending map[id][]op // ops buffered on a dependency (origin or target) not yet seen

	stateVector map[ReplicaID]uint64
	log         []op
}

// NewDocument creates an empty document for the given replica. replica must
// be distinct per connected participant (and distinct from ServerReplica if
// the server itself originates ops) so that ids never collide.
func NewDocument(replica ReplicaID) *Document {
	return &Document{
		replica:     replica,
		elements:    nil,
		index:       make(map[id]*element),
		applied:     make(map[id]bool),
		pending:     make(map[id][]op),
		stateVector: make(map[ReplicaID]uint64),
	}
}

// NewDocumentWithContent creates a document seeded with initial content,
// authored as a sequence of local inserts under ServerReplica. Used when a
// room is created with a non-empty starting file.
func NewDocumentWithContent(content string) *Document {
	d := NewDocument(ServerReplica)
	if content != "" {
		d.Insert(0, content)
	}
	return d
}

// StateVector encodes the document's current per-replica clocks: for each
// replica that has contributed ops, the highest clock value seen from it.
// A remote peer sends this back as the basis for EncodeDiff.
func (d *Document) StateVector() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return encodeStateVector(d.stateVector)
}

// EncodeDiff returns every locally known op whose id is not covered by
// remoteStateVector, i.e. the update a remote replica needs to catch up.
func (d *Document) EncodeDiff(remoteStateVector []byte) ([]byte, error) {
	remote, err := decodeStateVector(remoteStateVector)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var missing []op
	for _, o := range d.log {
		if o.ID.Clock > remote[o.ID.Replica] {
			missing = append(missing, o)
		}
	}
	return encodeOps(missing), nil
}

// ApplyUpdate applies a remote update to the document. Applying the same
// update more than once, or applying updates out of causal order (an insert
// arriving before the origin it references, or a delete before its target),
// is safe: already-seen ops are skipped and not-yet-satisfiable ops are
// buffered until their dependency arrives.
func (d *Document) ApplyUpdate(update []byte) error {
	ops, err := decodeOps(update)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, o := range ops {
		d.applyOp(o)
	}
	return nil
}

// GetContent returns the document's current text: every non-deleted
// element's character, in sequence order.
func (d *Document) GetContent() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var b strings.Builder
	for _, el := range d.elements {
		if !el.deleted {
			b.WriteRune(el.ch)
		}
	}
	return b.String()
}

// Insert locally originates the insertion of text at the given rune offset
// (counted over visible, non-deleted characters) and returns the encoded
// update to broadcast to other replicas.
func (d *Document) Insert(pos int, text string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ops []op
	origin, hasOrigin := d.visibleElementBefore(pos)
	for _, ch := range text {
		d.clock++
		newID := id{Replica: d.replica, Clock: d.clock}
		o := op{Kind: opInsert, ID: newID, Origin: origin, HasOrigin: hasOrigin, Char: ch}
		d.applyOp(o)
		ops = append(ops, o)
		origin, hasOrigin = newID, true
	}
	return encodeOps(ops)
}

// Delete locally originates the tombstoning of the length visible
// characters starting at pos, and returns the encoded update.
func (d *Document) Delete(pos, length int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ops []op
	targets := d.visibleElementsInRange(pos, length)
	for _, target := range targets {
		d.clock++
		o := op{Kind: opDelete, ID: id{Replica: d.replica, Clock: d.clock}, Target: target}
		d.applyOp(o)
		ops = append(ops, o)
	}
	return encodeOps(ops)
}

// applyOp applies a single op if it has not already been applied and its
// dependency is satisfied, buffering it under pending otherwise. Caller
// must hold mu.
func (d *Document) applyOp(o op) {
	if d.applied[o.ID] {
		return
	}

	switch o.Kind {
	case opInsert:
		if o.HasOrigin {
			if _, ok := d.index[o.Origin]; !ok {
				d.pending[o.Origin] = append(d.pending[o.Origin], o)
				return
			}
		}
		d.insertElement(o)
	case opDelete:
		target, ok := d.index[o.Target]
		if !ok {
			d.pending[o.Target] = append(d.pending[o.Target], o)
			return
		}
		target.deleted = true
	}

	d.applied[o.ID] = true
	// Keep the local clock at or above every clock seen, so a later local
	// insert sorts above the siblings already at its anchor.
	if o.ID.Clock > d.clock {
		d.clock = o.ID.Clock
	}
	d.log = append(d.log, o)
	if o.ID.Clock > d.stateVector[o.ID.Replica] {
		d.stateVector[o.ID.Replica] = o.ID.Clock
	}

	// Flushing on this op's own id unblocks inserts anchored to it and
	// deletes targeting it.
	d.flushPending(o.ID)
}

func (d *Document) flushPending(dep id) {
	waiting := d.pending[dep]
	if len(waiting) == 0 {
		return
	}
	delete(d.pending, dep)
	for _, o := range waiting {
		d.applyOp(o)
	}
}

// insertElement places a new element immediately after its origin (or at
// the front if it has none). Among siblings sharing the same origin it
// walks past every sibling whose id sorts higher than the new element's,
// together with the elements anchored inside those siblings' runs, and
// stops at the first sibling that sorts lower or at the end of the origin's
// run, i.e. same-origin siblings end up ordered by descending id, each
// followed by its own descendants. This is the standard RGA tie-break: it
// depends only on ids already present, never on arrival order, so every
// replica converges on the same sequence regardless of the order updates
// are applied in.
func (d *Document) insertElement(o op) {
	el := &element{id: o.ID, origin: o.Origin, hasOrigin: o.HasOrigin, ch: o.Char}
	d.index[o.ID] = el

	pos := 0
	if o.HasOrigin {
		originPos := d.positionOf(o.Origin)
		pos = originPos + 1
		for pos < len(d.elements) {
			sibling := d.elements[pos]
			if !sibling.hasOrigin {
				break
			}
			if sibling.origin != o.Origin {
				// Anchored inside the run already walked past: a descendant
				// of a higher sibling, so it stays ahead of the new element.
				if d.positionOf(sibling.origin) > originPos {
					pos++
					continue
				}
				break
			}
			if sibling.id.less(o.ID) {
				break
			}
			pos++
		}
	} else {
		for pos < len(d.elements) {
			sibling := d.elements[pos]
			if sibling.hasOrigin {
				// A descendant of a root element already walked past.
				pos++
				continue
			}
			if sibling.id.less(o.ID) {
				break
			}
			pos++
		}
	}

	d.elements = append(d.elements, nil)
	copy(d.elements[pos+1:], d.elements[pos:])
	d.elements[pos] = el
}

func (d *Document) positionOf(target id) int {
	for i, el := range d.elements {
		if el.id == target {
			return i
		}
	}
	return -1
}

// visibleElementBefore returns the id of the visible element at index
// pos-1 (the insertion anchor for an insert at offset pos), or ok=false if
// pos is 0.
func (d *Document) visibleElementBefore(pos int) (origin id, ok bool) {
	if pos <= 0 {
		return id{}, false
	}
	count := 0
	for _, el := range d.elements {
		if el.deleted {
			continue
		}
		count++
		if count == pos {
			return el.id, true
		}
	}
	return id{}, false
}

// visibleElementsInRange returns the ids of the length visible elements
// starting at offset pos.
func (d *Document) visibleElementsInRange(pos, length int) []id {
	var ids []id
	count := 0
	for _, el := range d.elements {
		if el.deleted {
			continue
		}
		if count >= pos && count < pos+length {
			ids = append(ids, el.id)
		}
		count++
		if count >= pos+length {
			break
		}
	}
	return ids
}
