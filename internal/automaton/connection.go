package automaton

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/sizestr"

	"github.com/relaymesh/activeproxy/internal/logging"
	"github.com/relaymesh/activeproxy/internal/node"
	"github.com/relaymesh/activeproxy/internal/sessionbox"
	"github.com/relaymesh/activeproxy/internal/shutdown"
	"github.com/relaymesh/activeproxy/internal/wire"
)

// Keep-alive constants, byte-exact with the original ActiveProxy addon.
const (
	KeepAliveInterval      = 60 * time.Second
	MaxKeepAliveRetry      = 3
	KeepAliveCheckInterval = 5 * time.Second
)

// Params configures a single Connection Automaton instance. RelayAddr and
// UpstreamAddr are already-resolved dialable addresses; resolution itself
// (via a Resolver) is done by the root Pool before the Pool Manager is
// created.
type Params struct {
	ID          uint32
	Log         logging.Logger
	RelayAddr   string
	UpstreamAddr string
	ServerID    node.ID
	Node        node.Node
	Session     *SharedSession
	DomainName  string
	DialTimeout time.Duration
}

// Events receives lifecycle notifications from a Connection, invoked from
// the Connection's own goroutine — implementations must not block for long
// and must not call back into the Connection synchronously.
type Events interface {
	// OnIdling fires every time a connection reaches Idling for the
	// first time in its life (i.e. once, right after AUTH|ACK or
	// ATTACH|ACK). viaAuth is true if this connection took the AUTH
	// path (learned server_session_pk itself) rather than ATTACH.
	OnIdling(c *Connection, serverSessionPK [32]byte, assignedPort uint16, domainEnabled bool, viaAuth bool)

	// OnClosed fires exactly once, when the connection's Run loop
	// returns. reachedIdling indicates whether server_fails should be
	// bumped by the pool's reconnect policy.
	OnClosed(c *Connection, err error, reachedIdling bool)

	// OnUpstreamFailure fires whenever a relay episode ends because the
	// upstream socket failed (refused, disconnected, or a write error),
	// so the pool can track upstream_fails independently of server_fails.
	OnUpstreamFailure(c *Connection)
}

type readResult struct {
	data []byte
	err  error
}

type writeCompletion struct {
	n   int64
	err error
}

type upstreamDialResult struct {
	conn net.Conn
	err  error
}

// Connection is one Connection Automaton: a relay socket, an optional
// upstream socket, and all the state the component design assigns to a
// single connection. One goroutine (Run) owns every field below except
// those explicitly documented as atomic/shared; everything else is
// touched only from that goroutine, so no lock is needed for state itself.
type Connection struct {
	shutdown.Helper

	id     uint32
	log    logging.Logger
	params Params
	events Events

	stateMu sync.RWMutex
	state   State

	conn         net.Conn
	upstreamConn net.Conn

	nonce sessionbox.Nonce
	box   *sessionbox.Box

	keepAliveTsNano int64 // atomic unix-nano of last byte received from server

	writeQ       *writeQueue
	upstreamGate *gate

	bytesUpstream int64 // atomic: bytes relayed upstream -> server
	bytesServer   int64 // atomic: bytes relayed server -> upstream

	relayReadCh    chan readResult
	upstreamReadCh chan readResult
	writeDoneCh    chan writeCompletion
	upstreamDialCh chan upstreamDialResult

	reassembler *wire.Reassembler

	upstreamStop         chan struct{} // closed to stop the current upstream reader goroutine
	pendingUpstreamAddr  string        // set by handleConnect, read by handleUpstreamDialResult for logging

	everReachedIdling bool
	viaAuth           bool
}

// New constructs a Connection ready to Run.
func New(params Params, events Events) *Connection {
	if params.DialTimeout == 0 {
		params.DialTimeout = 30 * time.Second
	}
	c := &Connection{
		id:             params.ID,
		log:            params.Log.Fork("conn").With(logging.Uint32("conn_id", params.ID)),
		params:         params,
		events:         events,
		state:          Connecting,
		writeQ:         newWriteQueue(),
		upstreamGate:   newGate(),
		relayReadCh:    make(chan readResult, 4),
		upstreamReadCh: make(chan readResult, 4),
		writeDoneCh:    make(chan writeCompletion, 4),
		upstreamDialCh: make(chan upstreamDialResult, 1),
		reassembler:    wire.NewReassembler(),
	}
	c.Helper.Init(c.log, c)
	return c
}

// ID returns the connection's log identifier.
func (c *Connection) ID() uint32 { return c.id }

// State returns the connection's current state, safe to call from any
// goroutine (used by the Pool Manager's Status() and gating logic).
func (c *Connection) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	c.log.Debugf("state -> %s", s)
}

// BytesUpstream and BytesServer report the connection's relayed byte
// counts, safe to call from any goroutine.
func (c *Connection) BytesUpstream() int64 { return atomic.LoadInt64(&c.bytesUpstream) }
func (c *Connection) BytesServer() int64   { return atomic.LoadInt64(&c.bytesServer) }

func (c *Connection) touchKeepAlive() {
	atomic.StoreInt64(&c.keepAliveTsNano, time.Now().UnixNano())
}

func (c *Connection) lastKeepAlive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.keepAliveTsNano))
}

// LastKeepAlive reports the timestamp of the last byte received from the
// server, safe to call from any goroutine (used by the Pool Manager's
// idle-check timer for its Status snapshot).
func (c *Connection) LastKeepAlive() time.Time { return c.lastKeepAlive() }

// HandleOnceShutdown implements shutdown.OnceHandler: closing every handle
// unblocks any goroutine parked in a blocking Read/Write, which is how
// Close() propagates into the Run loop's select without a separate
// cancellation channel for socket I/O.
func (c *Connection) HandleOnceShutdown(completionErr error) error {
	c.setState(Closed)
	c.log.Infof("closed (sent %s received %s)",
		sizestr.ToString(c.BytesUpstream()), sizestr.ToString(c.BytesServer()))
	if c.conn != nil {
		c.conn.Close()
	}
	if c.upstreamConn != nil {
		c.upstreamConn.Close()
	}
	c.writeQ.Close()
	c.stopUpstreamReader()
	return completionErr
}

func (c *Connection) stopUpstreamReader() {
	if c.upstreamStop != nil {
		select {
		case <-c.upstreamStop:
		default:
			close(c.upstreamStop)
		}
	}
}

// Close releases the connection's handles. Safe to call multiple times.
func (c *Connection) Close() error {
	return c.Shutdown(nil)
}

// Run drives the connection through its entire lifecycle: dial, handshake,
// then the steady-state select loop covering Idling/Relaying until the
// connection closes. It returns the same error that is reported to
// Events.OnClosed.
func (c *Connection) Run(ctx context.Context) error {
	c.ShutdownOnContext(ctx)
	err := c.run(ctx)
	reachedIdling := c.everReachedIdling
	c.events.OnClosed(c, err, reachedIdling)
	c.StartShutdown(err)
	return err
}
