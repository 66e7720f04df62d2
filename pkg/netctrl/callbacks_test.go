package netctrl

import "github.com/fluffynukeit/godot-sub000/pkg/inputbuffer"

// newTestBuffer returns a single-field (8-bit Int) InputBuffer: one byte on
// the wire, enough to exercise every controller path deterministically.
func newTestBuffer() *inputbuffer.InputBuffer {
	b := inputbuffer.New()
	if _, err := b.AddField(inputbuffer.Int, inputbuffer.L3); err != nil {
		panic(err)
	}
	b.Freeze()
	return b
}

// mockCallbacks implements Callbacks deterministically for tests. collectQ
// supplies the values CollectInputs writes, in order, repeating the last
// value once exhausted.
type mockCallbacks struct {
	collectQ     []int64
	collectIdx   int
	stepCount    int
	snapshotIdx  int64
	recoveries   []recoveryCall
}

type recoveryCall struct {
	id             uint64
	server, client any
}

func (m *mockCallbacks) CollectInputs(buf *inputbuffer.InputBuffer) {
	v := int64(0)
	if len(m.collectQ) > 0 {
		if m.collectIdx < len(m.collectQ) {
			v = m.collectQ[m.collectIdx]
		} else {
			v = m.collectQ[len(m.collectQ)-1]
		}
		m.collectIdx++
	}
	_, _ = buf.SetInt(0, v)
}

func (m *mockCallbacks) StepPlayer(dt float64) {
	m.stepCount++
}

func (m *mockCallbacks) AreInputsDifferent(a, b *inputbuffer.InputBuffer) bool {
	av, _ := a.GetInt(0)
	bv, _ := b.GetInt(0)
	return av != bv
}

func (m *mockCallbacks) CreateSnapshot() any {
	m.snapshotIdx++
	return m.snapshotIdx
}

func (m *mockCallbacks) ProcessRecovery(id uint64, server, client any) {
	m.recoveries = append(m.recoveries, recoveryCall{id: id, server: server, client: client})
}

func testConfig() Config {
	c := DefaultConfig()
	c.MasterSnapshotStorageSize = 100
	c.NetworkTracedFrames = 100
	c.MaxRedundantInputs = 3
	c.ServerSnapshotStorageSize = 10
	c.MissingSnapshotsMaxTolerance = 5
	c.IterationsPerSecond = 60
	return c
}

type recordingServerSender struct {
	tickSpeeds []int8
	states     []AuthoritativeStateRecord
	flows      map[string]bool
}

func newRecordingServerSender() *recordingServerSender {
	return &recordingServerSender{flows: map[string]bool{}}
}

func (r *recordingServerSender) SendTickSpeed(percent int8) {
	r.tickSpeeds = append(r.tickSpeeds, percent)
}

func (r *recordingServerSender) BroadcastState(id uint64, payload any) {
	r.states = append(r.states, AuthoritativeStateRecord{ID: id, Payload: payload})
}

func (r *recordingServerSender) SetPuppetFlow(puppetID string, open bool) {
	r.flows[puppetID] = open
}

type recordingMasterSender struct {
	packets [][]byte
}

func (r *recordingMasterSender) SendInputPacket(packet []byte) {
	cp := append([]byte(nil), packet...)
	r.packets = append(r.packets, cp)
}
