package netctrl

import (
	"math"
	"testing"

	"github.com/fluffynukeit/godot-sub000/pkg/snapshotpacket"
)

func TestServerConsumesInOrder(t *testing.T) {
	buf := newTestBuffer()
	cfg := testConfig()
	cb := &mockCallbacks{}
	sender := newRecordingServerSender()
	srv, err := NewServerController(cfg, buf, cb, sender)
	if err != nil {
		t.Fatal(err)
	}

	var enc snapshotpacket.Encoder
	for id := uint64(0); id <= 20; id++ {
		packet, err := enc.Encode(id, 1, []snapshotpacket.Run{{Dup: 0, Payload: []byte{byte(id)}}})
		if err != nil {
			t.Fatal(err)
		}
		srv.ReceiveSnapshots(packet)
		srv.PhysicsProcess(1.0 / 60)

		got, ok := srv.CurrentID()
		if !ok || got != id {
			t.Fatalf("tick %d: CurrentID() = (%d,%v), want (%d,true)", id, got, ok, id)
		}
		if srv.GhostCount() != 0 {
			t.Fatalf("tick %d: GhostCount() = %d, want 0", id, srv.GhostCount())
		}
	}
	if srv.MissingCount() != 0 {
		t.Errorf("MissingCount() = %d, want 0", srv.MissingCount())
	}
}

func TestServerDropsCorruptPacketWithoutSideEffects(t *testing.T) {
	buf := newTestBuffer()
	cfg := testConfig()
	cb := &mockCallbacks{}
	sender := newRecordingServerSender()
	srv, err := NewServerController(cfg, buf, cb, sender)
	if err != nil {
		t.Fatal(err)
	}

	srv.ReceiveSnapshots([]byte{1, 2, 3}) // too short
	if srv.QueueLen() != 0 {
		t.Fatalf("QueueLen() = %d, want 0 after corrupt packet", srv.QueueLen())
	}
	if srv.MissingCount() != 0 {
		t.Fatalf("MissingCount() = %d, want 0 (tracer untouched by corrupt packet)", srv.MissingCount())
	}
}

func TestServerGhostRecoveryJumpsAcrossGap(t *testing.T) {
	buf := newTestBuffer()
	cfg := testConfig()
	cb := &mockCallbacks{}
	sender := newRecordingServerSender()
	srv, err := NewServerController(cfg, buf, cb, sender)
	if err != nil {
		t.Fatal(err)
	}

	var enc snapshotpacket.Encoder
	for id := uint64(0); id <= 4; id++ {
		packet, _ := enc.Encode(id, 1, []snapshotpacket.Run{{Dup: 0, Payload: []byte{byte(id)}}})
		srv.ReceiveSnapshots(packet)
		srv.PhysicsProcess(1.0 / 60)
	}
	if got, _ := srv.CurrentID(); got != 4 {
		t.Fatalf("CurrentID() after warmup = %d, want 4", got)
	}

	// ids 5..12 are lost forever; 8 ticks pass with nothing queued.
	for i := 0; i < 8; i++ {
		srv.PhysicsProcess(1.0 / 60)
	}
	if got, _ := srv.CurrentID(); got != 4 {
		t.Fatalf("CurrentID() after gap = %d, want still 4", got)
	}
	if srv.GhostCount() != 8 {
		t.Fatalf("GhostCount() = %d, want 8", srv.GhostCount())
	}

	// id 13 arrives with a payload different from the bound id-4 payload.
	packet, _ := enc.Encode(13, 1, []snapshotpacket.Run{{Dup: 0, Payload: []byte{99}}})
	srv.ReceiveSnapshots(packet)
	srv.PhysicsProcess(1.0 / 60)

	if got, ok := srv.CurrentID(); !ok || got != 13 {
		t.Fatalf("CurrentID() after recovery = (%d,%v), want (13,true)", got, ok)
	}
	if srv.GhostCount() != 0 {
		t.Fatalf("GhostCount() after recovery = %d, want 0", srv.GhostCount())
	}
}

func TestServerGhostRecoveryBindsLastScannedWhenNothingMeaningful(t *testing.T) {
	buf := newTestBuffer()
	cfg := testConfig()
	cb := &mockCallbacks{}
	sender := newRecordingServerSender()
	srv, err := NewServerController(cfg, buf, cb, sender)
	if err != nil {
		t.Fatal(err)
	}

	var enc snapshotpacket.Encoder
	for id := uint64(0); id <= 4; id++ {
		packet, _ := enc.Encode(id, 1, []snapshotpacket.Run{{Dup: 0, Payload: []byte{byte(id)}}})
		srv.ReceiveSnapshots(packet)
		srv.PhysicsProcess(1.0 / 60)
	}

	// ids 5..12 are lost forever; 8 ticks pass with nothing queued.
	for i := 0; i < 8; i++ {
		srv.PhysicsProcess(1.0 / 60)
	}
	if srv.GhostCount() != 8 {
		t.Fatalf("GhostCount() after gap = %d, want 8", srv.GhostCount())
	}

	// id 13 arrives with the same payload as the bound id-4 input: never
	// "meaningfully different", so the scan window exhausts without a
	// chosen candidate. Recovery must still bind to it (and reset
	// ghostCount) rather than get stuck at a stale currentID forever.
	packet, _ := enc.Encode(13, 1, []snapshotpacket.Run{{Dup: 0, Payload: []byte{4}}})
	srv.ReceiveSnapshots(packet)
	srv.PhysicsProcess(1.0 / 60)

	if got, ok := srv.CurrentID(); !ok || got != 13 {
		t.Fatalf("CurrentID() after recovery = (%d,%v), want (13,true)", got, ok)
	}
	if srv.GhostCount() != 0 {
		t.Fatalf("GhostCount() after recovery = %d, want 0", srv.GhostCount())
	}
}

func TestServerMonotonicCurrentID(t *testing.T) {
	buf := newTestBuffer()
	cfg := testConfig()
	cb := &mockCallbacks{}
	sender := newRecordingServerSender()
	srv, err := NewServerController(cfg, buf, cb, sender)
	if err != nil {
		t.Fatal(err)
	}

	var enc snapshotpacket.Encoder
	var last uint64
	hadOne := false
	ids := []uint64{0, 1, 2, 5, 4, 3, 6, 6, 7}
	for _, id := range ids {
		packet, _ := enc.Encode(id, 1, []snapshotpacket.Run{{Dup: 0, Payload: []byte{byte(id)}}})
		srv.ReceiveSnapshots(packet)
		srv.PhysicsProcess(1.0 / 60)
		got, ok := srv.CurrentID()
		if !ok {
			continue
		}
		if hadOne && got < last {
			t.Fatalf("CurrentID regressed from %d to %d", last, got)
		}
		last, hadOne = got, true
	}
}

func TestUpdateMasterSpeedConvergesToZeroWhenDepthMatchesTarget(t *testing.T) {
	buf := newTestBuffer()
	cfg := testConfig()
	cb := &mockCallbacks{}
	sender := newRecordingServerSender()
	srv, err := NewServerController(cfg, buf, cb, sender)
	if err != nil {
		t.Fatal(err)
	}

	srv.masterSpeed = 1.5
	srv.targetQueueDepth = 5
	srv.queue = make([]InputSnapshotSkinny, 5)

	dt := 1.0 / 60
	converged := false
	for i := 0; i < 500; i++ {
		srv.updateMasterSpeed(dt)
		srv.maybeNotifyTickSpeed()
		if math.Abs(srv.masterSpeed) < 1e-6 {
			converged = true
			break
		}
	}
	if !converged {
		t.Fatalf("master_speed did not converge to 0, ended at %v", srv.masterSpeed)
	}
	// lastSentPercent is not asserted here: the notify threshold has
	// hysteresis, so the last few points of percent drift toward 0 can go
	// unsent without that being a defect (see TestTickSpeedNotifiedOnlyAboveThreshold).
}

func TestTickSpeedNotifiedOnlyAboveThreshold(t *testing.T) {
	buf := newTestBuffer()
	cfg := testConfig()
	cb := &mockCallbacks{}
	sender := newRecordingServerSender()
	srv, err := NewServerController(cfg, buf, cb, sender)
	if err != nil {
		t.Fatal(err)
	}

	srv.masterSpeed = 0.01 // tiny change, below the 4% notify threshold
	srv.maybeNotifyTickSpeed()
	if len(sender.tickSpeeds) != 0 {
		t.Errorf("sent tick speed for a sub-threshold change: %v", sender.tickSpeeds)
	}

	srv.masterSpeed = 1.0 // half of MaxAdditionalTickSpeed => 50%, well above threshold
	srv.maybeNotifyTickSpeed()
	if len(sender.tickSpeeds) != 1 {
		t.Fatalf("expected one notification, got %v", sender.tickSpeeds)
	}
}
