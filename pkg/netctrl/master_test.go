package netctrl

import "testing"

func TestMasterCollectsAndSendsEachSubstep(t *testing.T) {
	buf := newTestBuffer()
	cfg := testConfig()
	cb := &mockCallbacks{}
	sender := &recordingMasterSender{}
	m, err := NewMasterController(cfg, buf, cb, sender)
	if err != nil {
		t.Fatal(err)
	}

	// IterationsPerSecond=60, so one second of outer dt should run ~60 substeps.
	m.PhysicsProcess(1.0)

	if m.PendingLen() == 0 {
		t.Fatal("expected pending snapshots after a full second of ticks")
	}
	if cb.stepCount != m.PendingLen() {
		t.Errorf("stepCount = %d, want %d (one StepPlayer per collected snapshot)", cb.stepCount, m.PendingLen())
	}
	if len(sender.packets) != m.PendingLen() {
		t.Errorf("sent %d packets, want one per collected snapshot (%d)", len(sender.packets), m.PendingLen())
	}
	if m.NextID() != uint64(m.PendingLen()) {
		t.Errorf("NextID() = %d, want %d", m.NextID(), m.PendingLen())
	}
}

func TestMasterBackpressureStopsAppendingWhenRingFull(t *testing.T) {
	buf := newTestBuffer()
	cfg := testConfig()
	cfg.MasterSnapshotStorageSize = 5
	cb := &mockCallbacks{}
	sender := &recordingMasterSender{}
	m, err := NewMasterController(cfg, buf, cb, sender)
	if err != nil {
		t.Fatal(err)
	}

	// Run far more substeps than the ring can hold.
	m.PhysicsProcess(10.0)

	if m.PendingLen() != cfg.MasterSnapshotStorageSize {
		t.Fatalf("PendingLen() = %d, want %d (ring capped)", m.PendingLen(), cfg.MasterSnapshotStorageSize)
	}
	if m.NextID() != uint64(cfg.MasterSnapshotStorageSize) {
		t.Fatalf("NextID() = %d, want %d (ids stop being assigned once ring is full)", m.NextID(), cfg.MasterSnapshotStorageSize)
	}
	if len(sender.packets) != cfg.MasterSnapshotStorageSize {
		t.Fatalf("sent %d packets, want %d (no send on a backpressure substep)", len(sender.packets), cfg.MasterSnapshotStorageSize)
	}
}

func TestMasterPacketDedupesIdenticalRedundantInputs(t *testing.T) {
	buf := newTestBuffer()
	cfg := testConfig()
	cfg.MaxRedundantInputs = 5
	cb := &mockCallbacks{collectQ: []int64{7, 7, 7, 7, 9}} // 4 identical then a change
	sender := &recordingMasterSender{}
	m, err := NewMasterController(cfg, buf, cb, sender)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		m.substep(1.0 / 60)
	}

	if len(sender.packets) != 5 {
		t.Fatalf("sent %d packets, want 5 (one per substep)", len(sender.packets))
	}
	last := sender.packets[len(sender.packets)-1]
	// The last packet's window covers all 5 snapshots (MaxRedundantInputs+1),
	// deduplicated into two runs: four copies of 7, then one of 9.
	if last[0] != 2 {
		t.Fatalf("last packet declares %d runs, want 2 (deduped)", last[0])
	}
}

func TestMasterReconciliationIsIdempotentPerState(t *testing.T) {
	buf := newTestBuffer()
	cfg := testConfig()
	cb := &mockCallbacks{}
	sender := &recordingMasterSender{}
	m, err := NewMasterController(cfg, buf, cb, sender)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		m.substep(1.0 / 60)
	}
	if m.PendingLen() != 5 {
		t.Fatalf("PendingLen() = %d, want 5", m.PendingLen())
	}

	m.ReceiveState(2, "authoritative-2")
	m.reconcile()
	if len(cb.recoveries) != 1 {
		t.Fatalf("recoveries = %d, want 1", len(cb.recoveries))
	}
	if cb.recoveries[0].id != 2 {
		t.Errorf("recovered id = %d, want 2", cb.recoveries[0].id)
	}
	if m.ReconciledID() != 2 {
		t.Errorf("ReconciledID() = %d, want 2", m.ReconciledID())
	}
	if m.PendingLen() != 2 {
		t.Errorf("PendingLen() after reconcile = %d, want 2 (ids 0..2 popped)", m.PendingLen())
	}

	// Calling reconcile again with nothing new pending must not re-fire.
	m.reconcile()
	if len(cb.recoveries) != 1 {
		t.Errorf("recoveries after extra reconcile = %d, want still 1", len(cb.recoveries))
	}

	// A stale or duplicate state id is ignored.
	m.ReceiveState(1, "stale")
	m.reconcile()
	if len(cb.recoveries) != 1 {
		t.Errorf("recoveries after stale state = %d, want still 1", len(cb.recoveries))
	}
}

func TestMasterReconcileWaitsForLocalCollectionBeforeFiring(t *testing.T) {
	buf := newTestBuffer()
	cfg := testConfig()
	cb := &mockCallbacks{}
	sender := &recordingMasterSender{}
	m, err := NewMasterController(cfg, buf, cb, sender)
	if err != nil {
		t.Fatal(err)
	}

	// State for an id not yet collected locally.
	m.ReceiveState(3, "future")
	m.reconcile()
	if len(cb.recoveries) != 0 {
		t.Fatalf("recoveries = %d, want 0 before the snapshot is collected", len(cb.recoveries))
	}

	for i := 0; i < 4; i++ {
		m.substep(1.0 / 60)
	}
	m.reconcile()
	if len(cb.recoveries) != 1 {
		t.Fatalf("recoveries = %d, want 1 once id 3 has been collected", len(cb.recoveries))
	}
}
