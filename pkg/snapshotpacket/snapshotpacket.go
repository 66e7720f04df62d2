// Package snapshotpacket implements the bit-exact wire packet carrying a
// redundancy-padded, run-length-deduplicated window of input snapshots from
// master to server, and relayed unchanged from server to puppets. See
// spec.md §4.4, §4.5, and §6.
//
// Wire format:
//
//	offset  size   field
//	0       1      snapshots_count (u8, 1..=254)
//	1       4      first_id_lo32    (u32 LE; low 32 bits of the first snapshot's id)
//	5       ...    repeated snapshots_count times:
//	                 1      dup_count (u8)           # this payload repeats dup_count + 1 times
//	                 B      payload (B = buffer_size bytes)
package snapshotpacket

import (
	"errors"
	"fmt"
)

// MaxSnapshotsPerPacket is the largest number of snapshots a single packet
// may encode.
const MaxSnapshotsPerPacket = 254

// ErrCorruptPacket is returned (and the packet silently dropped by callers)
// when a packet's size or shape is internally inconsistent.
var ErrCorruptPacket = errors.New("snapshotpacket: corrupt packet")

// Snapshot is a single decoded (id, payload) pair.
type Snapshot struct {
	ID      uint64
	Payload []byte
}

// Run is a contiguous group of identical-payload snapshots to encode: the
// payload is emitted once, tagged with a dup count meaning "repeat this
// payload Dup+1 times, each time incrementing the running id by one".
type Run struct {
	Dup     uint8
	Payload []byte
}

// Encoder builds packets, reusing a single scratch buffer across calls to
// avoid per-tick heap allocation.
type Encoder struct {
	buf []byte
}

// Encode builds a packet for the given first id and runs, all of whose
// payloads must be exactly payloadSize bytes. It panics if the total number
// of snapshots (sum of Dup+1 across runs) exceeds MaxSnapshotsPerPacket: this
// is a hard invariant violation elsewhere in the system (see spec.md §4.5),
// not a recoverable error. The returned slice aliases the Encoder's internal
// buffer and is only valid until the next call to Encode.
func (e *Encoder) Encode(firstID uint64, payloadSize int, runs []Run) ([]byte, error) {
	if len(runs) == 0 {
		return nil, fmt.Errorf("snapshotpacket: no runs to encode")
	}

	total := 0
	for _, r := range runs {
		if len(r.Payload) != payloadSize {
			return nil, fmt.Errorf("snapshotpacket: run payload is %d bytes, want %d", len(r.Payload), payloadSize)
		}
		total += int(r.Dup) + 1
	}
	if total > MaxSnapshotsPerPacket {
		panic(fmt.Sprintf("snapshotpacket: %d snapshots exceeds hard limit of %d", total, MaxSnapshotsPerPacket))
	}

	size := 1 + 4 + len(runs)*(1+payloadSize)
	if cap(e.buf) < size {
		e.buf = make([]byte, size)
	} else {
		e.buf = e.buf[:size]
	}
	buf := e.buf

	buf[0] = byte(len(runs))
	putUint32LE(buf[1:5], uint32(firstID))

	off := 5
	for _, r := range runs {
		buf[off] = r.Dup
		off++
		copy(buf[off:off+payloadSize], r.Payload)
		off += payloadSize
	}

	return buf, nil
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func uint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Decoder parses packets into flat, ascending (id, payload) pairs,
// reconstructing each packet's truncated 32-bit first id relative to the
// highest full id decoded so far.
type Decoder struct {
	payloadSize int
	lastFullID  uint64
	haveLast    bool
}

// NewDecoder creates a Decoder for packets whose payloads are payloadSize
// bytes.
func NewDecoder(payloadSize int) *Decoder {
	return &Decoder{payloadSize: payloadSize}
}

// Decode parses data into a flat, ascending slice of (id, payload) pairs. A
// corrupt packet (size/shape mismatch) returns ErrCorruptPacket; callers
// must drop it without taking any other action (no tracer effect, no
// decoder state change).
func (d *Decoder) Decode(data []byte) ([]Snapshot, error) {
	if len(data) < 5 {
		return nil, ErrCorruptPacket
	}
	count := int(data[0])
	if count == 0 || count > MaxSnapshotsPerPacket {
		return nil, ErrCorruptPacket
	}
	firstIDLo32 := uint32LE(data[1:5])

	want := 1 + 4 + count*(1+d.payloadSize)
	if len(data) != want {
		return nil, ErrCorruptPacket
	}

	firstID := d.reconstructID(firstIDLo32)

	out := make([]Snapshot, 0, count)
	off := 5
	id := firstID
	for i := 0; i < count; i++ {
		dup := data[off]
		off++
		payload := make([]byte, d.payloadSize)
		copy(payload, data[off:off+d.payloadSize])
		off += d.payloadSize

		for r := 0; r <= int(dup); r++ {
			out = append(out, Snapshot{ID: id, Payload: payload})
			id++
		}
	}

	last := out[len(out)-1].ID
	if !d.haveLast || last > d.lastFullID {
		d.lastFullID = last
		d.haveLast = true
	}
	return out, nil
}

// reconstructID combines a truncated 32-bit id with the decoder's running
// high-water mark to recover the nearest full 64-bit id.
func (d *Decoder) reconstructID(lo32 uint32) uint64 {
	if !d.haveLast {
		return uint64(lo32)
	}
	const wrap = uint64(1) << 32
	base := d.lastFullID &^ (wrap - 1)
	candidate := base | uint64(lo32)

	half := wrap / 2
	if candidate+half < d.lastFullID {
		candidate += wrap
	} else if candidate > d.lastFullID+half {
		candidate -= wrap
	}
	return candidate
}
