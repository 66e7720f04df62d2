package netctrl

import "errors"

// Sentinel errors for the kinds named in spec.md §7. Corrupt packets and
// stale snapshots are ordinarily swallowed internally (no side effects, no
// peer notification) rather than surfaced to callers; they are exported here
// so tests and logging can recognise them via errors.Is.
var (
	// ErrCorruptPacket: packet size/shape mismatch or internal inconsistency.
	ErrCorruptPacket = errors.New("netctrl: corrupt packet")

	// ErrStaleSnapshot: id already consumed, or older than pending_recovery.id.
	ErrStaleSnapshot = errors.New("netctrl: stale snapshot")

	// ErrUnsupportedRole: a role-specific operation invoked on the wrong
	// controller (e.g. replay on a ServerController, state update delivered
	// to a server).
	ErrUnsupportedRole = errors.New("netctrl: unsupported role call")

	// ErrConfigOutOfRange: a configuration field is outside its documented
	// domain; the field retains its previous value.
	ErrConfigOutOfRange = errors.New("netctrl: configuration value out of range")

	// ErrCallbackMissing: the host failed to register all five Callbacks
	// methods before the controller entered the running world. Fatal at
	// construction.
	ErrCallbackMissing = errors.New("netctrl: callback missing")
)
