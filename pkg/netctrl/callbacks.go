package netctrl

import "github.com/fluffynukeit/godot-sub000/pkg/inputbuffer"

// Callbacks is the host-provided trait of spec.md §6: the five methods every
// controller needs regardless of role. All five must be registered before a
// controller enters the running world (see ErrCallbackMissing).
type Callbacks interface {
	// CollectInputs writes the active input buffer for this tick.
	CollectInputs(buf *inputbuffer.InputBuffer)

	// StepPlayer advances simulation by one tick using the active input buffer.
	StepPlayer(dt float64)

	// AreInputsDifferent is a pure, deterministic comparison of two input
	// views, used to decide whether a ghost input may safely stand in for a
	// missing one.
	AreInputsDifferent(a, b *inputbuffer.InputBuffer) bool

	// CreateSnapshot captures the current simulation state. The returned
	// value must be embedding-serialisable (opaque to the controller).
	CreateSnapshot() any

	// ProcessRecovery acts on a divergence between authoritative and
	// predicted state for the same id. It may call MasterController.Replay
	// internally.
	ProcessRecovery(id uint64, server, client any)
}

// TickObserver is an optional, additive hook mirroring the original engine's
// per-role physics-process signals (server_physics_process,
// master_physics_process, puppet_physics_process). It is never required: a
// nil TickObserver is treated as NopTickObserver.
type TickObserver interface {
	// OnServerTick fires once per ServerController.PhysicsProcess call.
	// newInput reports whether a fresh input was bound this tick.
	OnServerTick(newInput bool)

	// OnMasterTick fires once per MasterController substep. inputBufferFree
	// reports whether the pending ring had room to collect and send a fresh
	// input this substep (false means the backpressure path ran instead).
	OnMasterTick(inputBufferFree bool)

	// OnPuppetTick fires once per PuppetController.PhysicsProcess call, only
	// while flow is open and a state has been seen.
	OnPuppetTick()
}

// NopTickObserver implements TickObserver with no-op methods.
type NopTickObserver struct{}

func (NopTickObserver) OnServerTick(bool) {}
func (NopTickObserver) OnMasterTick(bool) {}
func (NopTickObserver) OnPuppetTick()     {}

// ServerSender is the server's outbound channel to its peers. Sends are
// fire-and-forget from the controller's point of view (spec.md §5); the
// transport layer owns delivery semantics.
type ServerSender interface {
	// SendTickSpeed delivers the compact tick-speed byte to the master.
	SendTickSpeed(percent int8)

	// BroadcastState delivers (id, payload) to the master and every active
	// puppet, atomically from the server's point of view. payload is the
	// opaque state returned by Callbacks.CreateSnapshot.
	BroadcastState(id uint64, payload any)

	// SetPuppetFlow opens or closes a single puppet's flow.
	SetPuppetFlow(puppetID string, open bool)
}

// MasterSender is the master's outbound channel to the server.
type MasterSender interface {
	// SendInputPacket transmits a redundancy-padded input packet.
	SendInputPacket(packet []byte)
}
