package automaton

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/relaymesh/activeproxy/internal/perror"
	"github.com/relaymesh/activeproxy/internal/wire"
)

// checkKeepAlive runs on every KeepAliveCheckInterval tick. The dead-
// connection timeout applies in any non-Relaying state (bytes flowing
// during an active relay episode already prove the connection is alive,
// matching the original addon exactly). PING itself is only sent while
// Idling: a PING|ACK arriving during Authenticating/Attaching would be
// mistaken for the AUTH|ACK/ATTACH|ACK those states actually expect and
// close the connection as a protocol error.
func (c *Connection) checkKeepAlive() error {
	if c.State() == Relaying {
		return nil
	}
	since := time.Since(c.lastKeepAlive())
	if since >= MaxKeepAliveRetry*KeepAliveInterval {
		return perror.New(perror.Transport, errKeepAliveTimeout)
	}
	if c.State() != Idling {
		return nil
	}
	jitter := randJitter(2 * KeepAliveCheckInterval)
	if since >= KeepAliveInterval-jitter {
		_, err := c.sendFrame(wire.Ping, false, mustPadding())
		return err
	}
	return nil
}

// randJitter returns a value drawn uniformly from [0, max), matching the
// original addon's per-tick keep-alive jitter. Falls back to max/2 if the
// CSPRNG read fails, which never happens in practice.
func randJitter(max time.Duration) time.Duration {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return max / 2
	}
	n := binary.BigEndian.Uint64(b[:])
	return time.Duration(n % uint64(max))
}

type keepAliveErr string

func (e keepAliveErr) Error() string { return string(e) }

var errKeepAliveTimeout = keepAliveErr("keep-alive timeout: no bytes received from server")
