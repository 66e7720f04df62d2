// Package demo provides a minimal character simulation shared by cmd/netctld
// and cmd/netctlc: a single 2D position driven by a movement vector and a
// jump flag, just enough surface to exercise every netctrl role end to end.
package demo

import (
	"math"
	"sync"

	"github.com/fluffynukeit/godot-sub000/pkg/inputbuffer"
)

// Field indices into the shared input buffer layout. Both ends of the wire
// must agree on this schema; see NewInputBuffer.
const (
	fieldMove = iota
	fieldJump
)

// NewInputBuffer builds the frozen input schema every Character on both
// sides of the connection shares.
func NewInputBuffer() *inputbuffer.InputBuffer {
	b := inputbuffer.New()
	if _, err := b.AddField(inputbuffer.NormVec2, inputbuffer.L2); err != nil {
		panic(err)
	}
	if _, err := b.AddField(inputbuffer.Bool, inputbuffer.L0); err != nil {
		panic(err)
	}
	b.Freeze()
	return b
}

// State is the opaque snapshot Callbacks.CreateSnapshot produces and
// Callbacks.ProcessRecovery receives back, exported so it can be JSON-encoded
// for the wire by the caller.
type State struct {
	X, Y   float64
	VX, VY float64
}

const (
	moveSpeed   = 4.0
	jumpBoostVY = 2.0
	damping     = 0.85
)

// InputSource supplies the intent for one tick; the master side wires this to
// real input, the server/puppet sides never call it directly.
type InputSource func() (move inputbuffer.Vec2, jump bool)

// Character implements netctrl.Callbacks for the shared demo simulation. It
// holds the same InputBuffer instance given to the owning controller, since
// Callbacks.StepPlayer has no buffer parameter of its own: the buffer is the
// one piece of state every role's controller keeps bound for the host to
// read, whether that binding came from a local CollectInputs call (master)
// or from the network (server, puppet).
type Character struct {
	buf    *inputbuffer.InputBuffer
	source InputSource

	mu          sync.Mutex
	state       State
	divergences int
}

// NewCharacter creates a Character at the origin, reading its active input
// each tick from buf. buf must be the same instance passed to the owning
// netctrl controller's constructor. source may be nil for roles that never
// collect input locally (server, puppet).
func NewCharacter(buf *inputbuffer.InputBuffer, source InputSource) *Character {
	return &Character{buf: buf, source: source}
}

func (c *Character) CollectInputs(buf *inputbuffer.InputBuffer) {
	var move inputbuffer.Vec2
	var jump bool
	if c.source != nil {
		move, jump = c.source()
	}
	if _, err := buf.SetNormVec2(fieldMove, move); err != nil {
		panic(err)
	}
	if _, err := buf.SetBool(fieldJump, jump); err != nil {
		panic(err)
	}
}

func (c *Character) StepPlayer(dt float64) {
	move, err := c.buf.GetNormVec2(fieldMove)
	if err != nil {
		panic(err)
	}
	jump, err := c.buf.GetBool(fieldJump)
	if err != nil {
		panic(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.VX = move.X * moveSpeed
	c.state.VY *= damping
	if jump {
		c.state.VY += jumpBoostVY
	}
	c.state.X += c.state.VX * dt
	c.state.Y += c.state.VY * dt
}

func (c *Character) AreInputsDifferent(a, b *inputbuffer.InputBuffer) bool {
	am, err := a.GetNormVec2(fieldMove)
	if err != nil {
		panic(err)
	}
	bm, err := b.GetNormVec2(fieldMove)
	if err != nil {
		panic(err)
	}
	aj, err := a.GetBool(fieldJump)
	if err != nil {
		panic(err)
	}
	bj, err := b.GetBool(fieldJump)
	if err != nil {
		panic(err)
	}
	const eps = 1e-3
	return aj != bj || math.Abs(am.X-bm.X) > eps || math.Abs(am.Y-bm.Y) > eps
}

func (c *Character) CreateSnapshot() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Character) ProcessRecovery(id uint64, server, client any) {
	s, ok := server.(State)
	if !ok {
		return
	}
	c.mu.Lock()
	c.state = s
	c.divergences++
	c.mu.Unlock()
}

// State returns a copy of the character's current simulated state.
func (c *Character) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Divergences returns the number of times ProcessRecovery has overwritten
// local state with the authoritative one.
func (c *Character) Divergences() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.divergences
}
