package netctrl

import (
	"math"

	"github.com/OneOfOne/xxhash"
	"github.com/rs/zerolog"

	"github.com/fluffynukeit/godot-sub000/pkg/inputbuffer"
	"github.com/fluffynukeit/godot-sub000/pkg/snapshotpacket"
)

// MasterController is the client-prediction role of spec.md §4.5: it
// collects and buffers input at an adaptively-paced sub-tick rate, ships a
// redundancy-padded packet to the server, and reconciles predicted state
// against the authoritative state the server sends back.
type MasterController struct {
	cfg       Config
	callbacks Callbacks
	sender    MasterSender
	observer  TickObserver
	logger    zerolog.Logger

	buf          *inputbuffer.InputBuffer
	prevView     *inputbuffer.InputBuffer
	curView      *inputbuffer.InputBuffer
	payloadSize  int

	enc snapshotpacket.Encoder

	pending []InputSnapshot // FIFO by id, capacity cfg.MasterSnapshotStorageSize
	nextID  uint64

	timeBank            float64
	tickAdditionalSpeed float64

	pendingRecoveryID      uint64
	pendingRecoveryPayload any
	hasPendingRecovery     bool
	reconciledID           uint64
}

// MasterOption configures optional MasterController behavior.
type MasterOption func(*MasterController)

// WithMasterLogger attaches a logger. The default is zerolog.Nop().
func WithMasterLogger(l zerolog.Logger) MasterOption {
	return func(m *MasterController) { m.logger = l }
}

// WithMasterObserver attaches a TickObserver. The default is NopTickObserver.
func WithMasterObserver(o TickObserver) MasterOption {
	return func(m *MasterController) { m.observer = o }
}

// NewMasterController constructs a MasterController. buf is the active input
// buffer the host's CollectInputs/StepPlayer callbacks read and write.
func NewMasterController(cfg Config, buf *inputbuffer.InputBuffer, callbacks Callbacks, sender MasterSender, opts ...MasterOption) (*MasterController, error) {
	if callbacks == nil || sender == nil {
		return nil, ErrCallbackMissing
	}
	if !buf.Frozen() {
		buf.Freeze()
	}
	size, err := buf.ByteSize()
	if err != nil {
		return nil, err
	}
	m := &MasterController{
		cfg:         cfg,
		callbacks:   callbacks,
		sender:      sender,
		observer:    NopTickObserver{},
		logger:      zerolog.Nop(),
		buf:         buf,
		payloadSize: size,
		prevView:    buf.Clone(),
		curView:     buf.Clone(),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// PhysicsProcess advances the master by one outer tick of dt seconds,
// running the sub-tick pacing loop of spec.md §4.5, then attempts
// reconciliation.
func (m *MasterController) PhysicsProcess(dt float64) {
	dtPretended := 1.0 / (m.cfg.IterationsPerSecond + m.tickAdditionalSpeed)
	m.timeBank += dt
	substeps := int(math.Floor(m.timeBank / dtPretended))
	m.timeBank -= float64(substeps) * dtPretended

	for i := 0; i < substeps; i++ {
		m.substep(dtPretended)
	}

	m.reconcile()
}

func (m *MasterController) substep(dt float64) {
	if len(m.pending) < m.cfg.MasterSnapshotStorageSize {
		m.callbacks.CollectInputs(m.buf)
		m.callbacks.StepPlayer(dt)

		raw, _ := m.buf.Bytes()
		bytes := append([]byte(nil), raw...)
		snap := InputSnapshot{
			ID:     m.nextID,
			Bytes:  bytes,
			Custom: m.callbacks.CreateSnapshot(),
			Hash:   xxhash.Checksum64(bytes),
		}
		m.pending = append(m.pending, snap)
		m.nextID++

		m.sendFrameSnapshots()
		m.observer.OnMasterTick(true)
		return
	}

	// Backpressure: pending is full, step with no input, do not append or send.
	m.buf.Zero()
	m.callbacks.StepPlayer(dt)
	m.observer.OnMasterTick(false)
}

// sendFrameSnapshots builds and transmits the redundancy-padded packet of
// spec.md §4.5.
func (m *MasterController) sendFrameSnapshots() {
	n := m.cfg.MaxRedundantInputs + 1
	if n > len(m.pending) {
		n = len(m.pending)
	}
	window := m.pending[len(m.pending)-n:]

	runs := make([]snapshotpacket.Run, 0, n)
	for i := range window {
		cur := &window[i]
		if i > 0 && m.same(&window[i-1], cur) {
			runs[len(runs)-1].Dup++
			continue
		}
		runs = append(runs, snapshotpacket.Run{Dup: 0, Payload: cur.Bytes})
	}

	packet, err := m.enc.Encode(window[0].ID, m.payloadSize, runs)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to encode input packet")
		return
	}
	m.sender.SendInputPacket(packet)
}

// same decides whether cur's payload is identical to prev's, using the
// cached SimilarityHint, then a cheap xxhash comparison, then falling back
// to the embedding's AreInputsDifferent predicate. A positive result is
// memoised into cur.SimilarityHint.
func (m *MasterController) same(prev, cur *InputSnapshot) bool {
	if cur.SimilarityHint != nil && *cur.SimilarityHint == prev.ID {
		return true
	}
	if prev.Hash != cur.Hash {
		return false
	}
	_ = m.prevView.SetBytes(prev.Bytes)
	_ = m.curView.SetBytes(cur.Bytes)
	if !m.callbacks.AreInputsDifferent(m.prevView, m.curView) {
		id := prev.ID
		cur.SimilarityHint = &id
		return true
	}
	return false
}

// ReceiveTickSpeed applies the server's compact tick-speed byte.
func (m *MasterController) ReceiveTickSpeed(percent int8) {
	m.tickAdditionalSpeed = MaxAdditionalTickSpeed * float64(percent) / 100
}

// ReceiveState is player_state_check of spec.md §4.5: accepted only if id is
// newer than both the pending recovery and the last reconciled id.
func (m *MasterController) ReceiveState(id uint64, payload any) {
	if m.hasPendingRecovery && id <= m.pendingRecoveryID {
		return
	}
	if id <= m.reconciledID {
		return
	}
	m.pendingRecoveryID = id
	m.pendingRecoveryPayload = payload
	m.hasPendingRecovery = true
}

// reconcile pops reconciled entries from the front of pending and invokes
// ProcessRecovery at most once per call, per spec.md §4.5.
func (m *MasterController) reconcile() {
	if !m.hasPendingRecovery || m.pendingRecoveryID <= m.reconciledID {
		return
	}

	var matched *InputSnapshot
	i := 0
	for ; i < len(m.pending); i++ {
		if m.pending[i].ID > m.pendingRecoveryID {
			break
		}
		matched = &m.pending[i]
	}
	if matched == nil || matched.ID != m.pendingRecoveryID {
		return // not yet collected locally; try again next tick
	}

	client := matched.Custom
	m.pending = m.pending[i:]
	m.reconciledID = m.pendingRecoveryID

	m.callbacks.ProcessRecovery(m.pendingRecoveryID, m.pendingRecoveryPayload, client)
}

// Replay re-steps every currently pending snapshot through StepPlayer and
// refreshes its stored client snapshot, for the embedding to call from
// within ProcessRecovery.
func (m *MasterController) Replay(dt float64) {
	for i := range m.pending {
		_ = m.buf.SetBytes(m.pending[i].Bytes)
		m.callbacks.StepPlayer(dt)
		m.pending[i].Custom = m.callbacks.CreateSnapshot()
	}
}

// AppendPredicted appends snap directly to the pending ring, bypassing the
// normal collect/step substep. Used by PuppetController, whose inner master
// never calls collect_inputs of its own.
func (m *MasterController) AppendPredicted(snap InputSnapshot) {
	m.pending = append(m.pending, snap)
}

// Reconcile runs the reconciliation step of spec.md §4.5 on demand. Used by
// PuppetController in place of the full PhysicsProcess sub-tick loop.
func (m *MasterController) Reconcile() {
	m.reconcile()
}

// NextID returns the next input id the master will assign.
func (m *MasterController) NextID() uint64 { return m.nextID }

// ReconciledID returns the highest snapshot id already reconciled.
func (m *MasterController) ReconciledID() uint64 { return m.reconciledID }

// PendingLen returns the number of snapshots currently held in the ring.
func (m *MasterController) PendingLen() int { return len(m.pending) }
