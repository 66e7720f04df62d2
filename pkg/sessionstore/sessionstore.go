// Package sessionstore tracks the puppet sessions a ServerController is
// currently driving: one entry per connected puppet, keyed by an opaque
// session id assigned on open. It follows pkg/memstore's sync.Map-backed,
// no-locking-boilerplate shape, generalized from per-account storage to
// per-session bookkeeping.
package sessionstore

import (
	"sync"
	"time"

	"github.com/rs/xid"
)

// Session is a single puppet's connection record.
type Session struct {
	ID       xid.ID
	PuppetID string
	Active   bool
	OpenedAt time.Time
	ClosedAt time.Time
}

// Store holds the set of sessions a server is currently tracking. The zero
// value is ready to use.
type Store struct {
	sessions sync.Map // xid.ID -> Session
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// Open starts a new session for puppetID and returns its record.
func (s *Store) Open(puppetID string) Session {
	sess := Session{
		ID:       xid.New(),
		PuppetID: puppetID,
		Active:   true,
		OpenedAt: time.Now(),
	}
	s.sessions.Store(sess.ID, sess)
	return sess
}

// Close marks id's session inactive and records its close time. It reports
// whether id was a known session.
func (s *Store) Close(id xid.ID) (Session, bool) {
	v, ok := s.sessions.Load(id)
	if !ok {
		return Session{}, false
	}
	sess := v.(Session)
	sess.Active = false
	sess.ClosedAt = time.Now()
	s.sessions.Store(id, sess)
	return sess, true
}

// Get returns id's session record, if any.
func (s *Store) Get(id xid.ID) (Session, bool) {
	v, ok := s.sessions.Load(id)
	if !ok {
		return Session{}, false
	}
	return v.(Session), true
}

// ActivePuppetIDs returns the puppet ids of every currently-active session.
func (s *Store) ActivePuppetIDs() []string {
	var ids []string
	s.sessions.Range(func(_, v any) bool {
		if sess := v.(Session); sess.Active {
			ids = append(ids, sess.PuppetID)
		}
		return true
	})
	return ids
}

// Range calls f for every session, in no particular order, until f returns
// false.
func (s *Store) Range(f func(Session) bool) {
	s.sessions.Range(func(_, v any) bool {
		return f(v.(Session))
	})
}
