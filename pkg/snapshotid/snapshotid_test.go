package snapshotid

import "testing"

func TestMonotonicInOrder(t *testing.T) {
	var g LocalIdGenerator
	var r RemoteIdReceptor

	for i := 0; i < 5000; i++ {
		id, wire := g.Emit()
		got, err := r.Receive(wire)
		if err != nil {
			t.Fatalf("i=%d: Receive(%d): %v", i, wire, err)
		}
		if got != id {
			t.Fatalf("i=%d: Receive(%d) = %d, want %d", i, wire, got, id)
		}
	}
}

func TestBoundaryWrapAndSwap(t *testing.T) {
	var g LocalIdGenerator
	// advance the generator to just before the 16-bit wrap
	for i := 0; i < 65532; i++ {
		g.Emit()
	}

	type emitted struct {
		id   uint64
		wire uint16
	}
	var seq []emitted
	for i := 0; i < 9; i++ {
		id, wire := g.Emit()
		seq = append(seq, emitted{id, wire})
	}

	var r RemoteIdReceptor
	for _, e := range seq {
		got, err := r.Receive(e.wire)
		if err != nil {
			t.Fatalf("in-order receive of wire=%d failed: %v", e.wire, err)
		}
		if got != e.id {
			t.Fatalf("in-order: Receive(%d) = %d, want %d", e.wire, got, e.id)
		}
	}

	// swap positions 4 and 5
	swapped := append([]emitted(nil), seq...)
	swapped[4], swapped[5] = swapped[5], swapped[4]

	var r2 RemoteIdReceptor
	for _, e := range swapped {
		got, err := r2.Receive(e.wire)
		if err != nil {
			t.Fatalf("swapped receive of wire=%d failed: %v", e.wire, err)
		}
		if got != e.id {
			t.Fatalf("swapped: Receive(%d) = %d, want %d", e.wire, got, e.id)
		}
	}
}

func TestReorderWithinThresholdAccepted(t *testing.T) {
	var g LocalIdGenerator
	var seq []uint16
	for i := 0; i < 10; i++ {
		_, wire := g.Emit()
		seq = append(seq, wire)
	}
	// deliver position 0 after position 8: displacement 8, well below T
	reordered := append([]uint16{}, seq[1:]...)
	reordered = append(reordered, seq[0])

	var r RemoteIdReceptor
	for i, wire := range reordered {
		if _, err := r.Receive(wire); err != nil {
			t.Fatalf("position %d (wire=%d): unexpected error: %v", i, wire, err)
		}
	}
}

func TestLargeGapRejected(t *testing.T) {
	var r RemoteIdReceptor
	if _, err := r.Receive(1); err != nil {
		t.Fatal(err)
	}
	// huge jump relative to highest id seen so far, but within the
	// same generation - must be rejected, never silently wrong.
	if _, err := r.Receive(60000); err == nil {
		t.Errorf("expected rejection of id far outside threshold")
	}
}
