// Package snapshotid recovers 64-bit monotonic snapshot ids from the 16-bit
// wire ids used on the network, tolerating loss and modest reordering. See
// spec.md §4.7.
package snapshotid

import "fmt"

// Threshold bounds tolerable reordering/loss; monotonic recovery is
// guaranteed when no more than Threshold-1 consecutive ids are lost.
const Threshold = 1500

// wireMax is the modulus of the 16-bit wire id space (ids 1..65535; 0 is
// reserved).
const wireMax = 65535

// LocalIdGenerator emits monotonically increasing 64-bit ids and their
// corresponding 16-bit wire representation.
type LocalIdGenerator struct {
	next uint64
}

// Emit returns the next (id, wire) pair and advances the counter. wire is in
// 1..=65535.
func (g *LocalIdGenerator) Emit() (id uint64, wire uint16) {
	id = g.next
	wire = uint16(g.next%wireMax) + 1
	g.next++
	return id, wire
}

// RemoteIdReceptor reconstructs 64-bit ids from 16-bit wire ids, advancing an
// internal generation counter as the wire id space wraps.
type RemoteIdReceptor struct {
	headWire   uint16
	generation uint64
	highestID  uint64
}

// Receive reconstructs the 64-bit id for wire, or reports an error if the
// reconstructed id would be further than Threshold away from the highest id
// seen so far.
func (r *RemoteIdReceptor) Receive(wire uint16) (uint64, error) {
	const (
		leftThreshold       = Threshold
		leftThresholdMargin = Threshold + Threshold
		rightThreshold      = wireMax - Threshold
	)

	wantAdvance := false
	generation := r.generation

	if r.headWire > rightThreshold && wire < leftThresholdMargin {
		generation++
		if wire > leftThreshold {
			wantAdvance = true
		}
	}

	id := uint64(wire) + wireMax*generation - 1

	delta := int64(id) - int64(r.highestID)
	if delta < -Threshold || delta > Threshold {
		return 0, fmt.Errorf("snapshotid: id %d too far from highest received id %d", id, r.highestID)
	}

	if wantAdvance {
		r.generation++
		r.headWire = wire
	}
	if wire > r.headWire {
		r.headWire = wire
	}
	if id > r.highestID {
		r.highestID = id
	}
	return id, nil
}
