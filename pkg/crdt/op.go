package crdt

import (
	"errors"

	"github.com/shiv248/collabide/internal/wire"
)

// ErrMalformedUpdate is returned by ApplyUpdate when the byte string does
// not decode to a well-formed operation sequence.
var ErrMalformedUpdate = errors.New("crdt: malformed update")

// ErrMalformedStateVector is returned by EncodeDiff when the remote state
// vector does not decode.
var ErrMalformedStateVector = errors.New("crdt: malformed state vector")

type opKind uint8

const (
	opInsert opKind = 0
	opDelete opKind = 1
)

// op is one CRDT mutation: either the insertion of a single character after
// a given origin, or the tombstoning of a previously inserted character.
// Every op carries its own id so a replica can recognize and skip an op it
// has already applied.
type op struct {
	Kind      opKind
	ID        id
	Origin    id // insert only; ignored unless HasOrigin
	HasOrigin bool
	Char      rune // insert only
	Target    id   // delete only: the id of the character being removed
}

// encodeOps serializes a sequence of ops as an update blob: a varint count
// followed by each op back to back. An empty op sequence encodes as an empty
// blob (the empty update).
func encodeOps(ops []op) []byte {
	if len(ops) == 0 {
		return []byte{}
	}
	buf := wire.WriteVarUint(nil, uint64(len(ops)))
	for _, o := range ops {
		buf = wire.WriteVarUint(buf, uint64(o.Kind))
		buf = wire.WriteVarUint(buf, uint64(o.ID.Replica))
		buf = wire.WriteVarUint(buf, o.ID.Clock)
		switch o.Kind {
		case opInsert:
			if o.HasOrigin {
				buf = wire.WriteVarUint(buf, 1)
				buf = wire.WriteVarUint(buf, uint64(o.Origin.Replica))
				buf = wire.WriteVarUint(buf, o.Origin.Clock)
			} else {
				buf = wire.WriteVarUint(buf, 0)
			}
			buf = wire.WriteVarUint(buf, uint64(o.Char))
		case opDelete:
			buf = wire.WriteVarUint(buf, uint64(o.Target.Replica))
			buf = wire.WriteVarUint(buf, o.Target.Clock)
		}
	}
	return buf
}

// decodeOps is the inverse of encodeOps.
func decodeOps(buf []byte) ([]op, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	count, n, err := wire.ReadVarUint(buf)
	if err != nil {
		return nil, ErrMalformedUpdate
	}
	buf = buf[n:]

	ops := make([]op, 0, count)
	for i := uint64(0); i < count; i++ {
		var o op

		kind, n, err := wire.ReadVarUint(buf)
		if err != nil {
			return nil, ErrMalformedUpdate
		}
		buf = buf[n:]
		o.Kind = opKind(kind)

		replica, n, err := wire.ReadVarUint(buf)
		if err != nil {
			return nil, ErrMalformedUpdate
		}
		buf = buf[n:]
		clock, n, err := wire.ReadVarUint(buf)
		if err != nil {
			return nil, ErrMalformedUpdate
		}
		buf = buf[n:]
		o.ID = id{Replica: ReplicaID(replica), Clock: clock}

		switch o.Kind {
		case opInsert:
			hasOrigin, n, err := wire.ReadVarUint(buf)
			if err != nil {
				return nil, ErrMalformedUpdate
			}
			buf = buf[n:]
			if hasOrigin != 0 {
				oreplica, n, err := wire.ReadVarUint(buf)
				if err != nil {
					return nil, ErrMalformedUpdate
				}
				buf = buf[n:]
				oclock, n, err := wire.ReadVarUint(buf)
				if err != nil {
					return nil, ErrMalformedUpdate
				}
				buf = buf[n:]
				o.HasOrigin = true
				o.Origin = id{Replica: ReplicaID(oreplica), Clock: oclock}
			}
			ch, n, err := wire.ReadVarUint(buf)
			if err != nil {
				return nil, ErrMalformedUpdate
			}
			buf = buf[n:]
			o.Char = rune(ch)
		case opDelete:
			treplica, n, err := wire.ReadVarUint(buf)
			if err != nil {
				return nil, ErrMalformedUpdate
			}
			buf = buf[n:]
			tclock, n, err := wire.ReadVarUint(buf)
			if err != nil {
				return nil, ErrMalformedUpdate
			}
			buf = buf[n:]
			o.Target = id{Replica: ReplicaID(treplica), Clock: tclock}
		default:
			return nil, ErrMalformedUpdate
		}

		ops = append(ops, o)
	}

	return ops, nil
}

// encodeStateVector serializes a per-replica clock map as a varint count
// followed by (replica, clock) pairs.
func encodeStateVector(sv map[ReplicaID]uint64) []byte {
	buf := wire.WriteVarUint(nil, uint64(len(sv)))
	for replica, clock := range sv {
		buf = wire.WriteVarUint(buf, uint64(replica))
		buf = wire.WriteVarUint(buf, clock)
	}
	return buf
}

// decodeStateVector is the inverse of encodeStateVector.
func decodeStateVector(buf []byte) (map[ReplicaID]uint64, error) {
	count, n, err := wire.ReadVarUint(buf)
	if err != nil {
		return nil, ErrMalformedStateVector
	}
	buf = buf[n:]

	sv := make(map[ReplicaID]uint64, count)
	for i := uint64(0); i < count; i++ {
		replica, n, err := wire.ReadVarUint(buf)
		if err != nil {
			return nil, ErrMalformedStateVector
		}
		buf = buf[n:]
		clock, n, err := wire.ReadVarUint(buf)
		if err != nil {
			return nil, ErrMalformedStateVector
		}
		buf = buf[n:]
		sv[ReplicaID(replica)] = clock
	}
	return sv, nil
}
