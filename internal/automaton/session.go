package automaton

import (
	"sync"

	"github.com/relaymesh/activeproxy/internal/sessionbox"
)

// SharedSession is the pool-scoped session context shared by every
// Connection in one pool run: the ephemeral session keypair generated at
// pool startup, and the symmetric box derived once the server's session
// public key is learned from the first AUTH|ACK. Pool Manager guarantees
// only one connection is ever mid-handshake at a time, so Learn is never
// racing another Learn — but Box may be read concurrently by later
// connections attaching in parallel.
type SharedSession struct {
	KeyPair sessionbox.KeyPair

	mu              sync.Mutex
	box             *sessionbox.Box
	serverSessionPK [32]byte
	known           bool
}

// NewSharedSession creates a SharedSession around a freshly generated
// keypair.
func NewSharedSession(kp sessionbox.KeyPair) *SharedSession {
	return &SharedSession{KeyPair: kp}
}

// Box returns the derived session box and whether it is known yet.
func (s *SharedSession) Box() (*sessionbox.Box, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.box, s.known
}

// Learn records the server's session public key and derives the shared
// box, the first time it is called; subsequent calls are no-ops that
// return the already-derived box, matching the ATTACH-idempotence
// requirement that relay_port/server_session_pk are never mutated once
// learned.
func (s *SharedSession) Learn(serverSessionPK [32]byte) *sessionbox.Box {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.known {
		s.serverSessionPK = serverSessionPK
		s.box = sessionbox.Precompute(s.KeyPair, serverSessionPK)
		s.known = true
	}
	return s.box
}
