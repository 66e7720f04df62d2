package netctrl

import (
	"github.com/OneOfOne/xxhash"
	"github.com/rs/zerolog"

	"github.com/fluffynukeit/godot-sub000/pkg/inputbuffer"
)

// PuppetSignals delivers the outward comms_opened/comms_closed events of
// spec.md §4.6 to the parent (the "callback trait the parent supplies" of
// the Design Notes' cyclic-ownership discussion).
type PuppetSignals interface {
	CommsOpened()
	CommsClosed()
}

// nopMasterSender and nopServerSender satisfy the inner controllers'
// required sender interfaces for a PuppetController's private Server/Master,
// neither of which ever transmits anything of its own: the inner server only
// plays back relayed inputs, and the inner master only reconciles,
// collect_inputs disabled.
type nopMasterSender struct{}

func (nopMasterSender) SendInputPacket([]byte) {}

type nopServerSender struct{}

func (nopServerSender) SendTickSpeed(int8)              {}
func (nopServerSender) BroadcastState(uint64, any)      {}
func (nopServerSender) SetPuppetFlow(string, bool)      {}

// PuppetController is the gated adaptor role of spec.md §4.6: it plays back
// input snapshots relayed by the server through a private ServerController,
// and reconciles the result against authoritative state through a private
// MasterController, subject to an explicit open/closed flow gate.
type PuppetController struct {
	cfg       Config
	callbacks Callbacks
	signals   PuppetSignals
	observer  TickObserver
	logger    zerolog.Logger

	buf *inputbuffer.InputBuffer

	server *ServerController
	master *MasterController

	flowOpen       bool
	firstStateSeen bool
}

// PuppetOption configures optional PuppetController behavior.
type PuppetOption func(*PuppetController)

// WithPuppetLogger attaches a logger. The default is zerolog.Nop().
func WithPuppetLogger(l zerolog.Logger) PuppetOption {
	return func(p *PuppetController) { p.logger = l }
}

// WithPuppetObserver attaches a TickObserver. The default is NopTickObserver.
func WithPuppetObserver(o TickObserver) PuppetOption {
	return func(p *PuppetController) { p.observer = o }
}

// NewPuppetController constructs a PuppetController. buf is shared by both
// inner controllers and is the buffer the host's StepPlayer callback reads.
func NewPuppetController(cfg Config, buf *inputbuffer.InputBuffer, callbacks Callbacks, signals PuppetSignals, opts ...PuppetOption) (*PuppetController, error) {
	if callbacks == nil || signals == nil {
		return nil, ErrCallbackMissing
	}

	server, err := NewServerController(cfg, buf, callbacks, nopServerSender{})
	if err != nil {
		return nil, err
	}
	master, err := NewMasterController(cfg, buf, callbacks, nopMasterSender{})
	if err != nil {
		return nil, err
	}

	p := &PuppetController{
		cfg:       cfg,
		callbacks: callbacks,
		signals:   signals,
		observer:  NopTickObserver{},
		logger:    zerolog.Nop(),
		buf:       buf,
		server:    server,
		master:    master,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ReceiveSnapshots forwards a relayed input packet to the inner server.
// Ignored while flow is closed.
func (p *PuppetController) ReceiveSnapshots(data []byte) {
	if !p.flowOpen {
		return
	}
	p.server.ReceiveSnapshots(data)
}

// ReceiveState delivers an authoritative state update. Ignored while flow is
// closed. The first state seen after flow opens triggers the hard reset of
// spec.md §4.6 and emits CommsOpened.
func (p *PuppetController) ReceiveState(id uint64, payload any) {
	if !p.flowOpen {
		return
	}
	if !p.firstStateSeen {
		p.firstStateSeen = true
		floor := uint64(0)
		if id > 0 {
			floor = id - 1
		}
		p.server.HardReset(floor)
		p.signals.CommsOpened()
	}
	p.master.ReceiveState(id, payload)
}

// SetFlow opens or closes the puppet's flow gate. Closing emits CommsClosed
// and resets first-state tracking so the next reopen performs a fresh hard
// reset.
func (p *PuppetController) SetFlow(open bool) {
	if open == p.flowOpen {
		return
	}
	p.flowOpen = open
	if !open {
		p.firstStateSeen = false
		p.signals.CommsClosed()
	}
}

// PhysicsProcess advances the puppet by one tick: while flow is open and at
// least one state has arrived, fetch the next input through the inner
// server, step the simulation, and record/reconcile through the inner
// master.
func (p *PuppetController) PhysicsProcess(dt float64) {
	if !p.flowOpen || !p.firstStateSeen {
		return
	}

	id, newInput := p.server.FetchNextInput()
	p.callbacks.StepPlayer(dt)

	if newInput {
		bytes := append([]byte(nil), p.server.BoundBytes()...)
		p.master.AppendPredicted(InputSnapshot{
			ID:     id,
			Bytes:  bytes,
			Custom: p.callbacks.CreateSnapshot(),
			Hash:   xxhash.Checksum64(bytes),
		})
	}

	p.master.Reconcile()
	p.observer.OnPuppetTick()
}

// FlowOpen reports whether the puppet's flow gate is currently open.
func (p *PuppetController) FlowOpen() bool { return p.flowOpen }
