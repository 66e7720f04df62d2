package netctrl

// InputSnapshot is the master-side record of one tick's input: the packed
// buffer plus the client-predicted state needed for later reconciliation.
// See spec.md §3.
type InputSnapshot struct {
	ID     uint64
	Bytes  []byte
	Custom any

	// Hash is a cheap xxhash of Bytes, computed once at collection, used as
	// a fast path ahead of the embedding's AreInputsDifferent predicate
	// during packet emission.
	Hash uint64

	// SimilarityHint caches "this snapshot's payload is identical to that
	// other id's payload", filled lazily during packet emission. Nil means
	// unknown and must be recomputed.
	SimilarityHint *uint64
}

// InputSnapshotSkinny is the server-side record of one tick's input: the
// server does not keep client-side predicted state.
type InputSnapshotSkinny struct {
	ID    uint64
	Bytes []byte
}

// AuthoritativeStateRecord is the opaque authoritative state delivered from
// server to master and puppets for a specific snapshot id. Payload is opaque
// to the controller; the embedding supplies (de)serialisation at the
// transport boundary.
type AuthoritativeStateRecord struct {
	ID      uint64
	Payload any
}
