package automaton

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/jpillora/sizestr"

	"github.com/relaymesh/activeproxy/internal/perror"
	"github.com/relaymesh/activeproxy/internal/wire"
)

// dispatch routes a fully reassembled frame to the handler appropriate for
// the connection's current state, matching the original addon's dispatch
// switch exactly: ERR is handled globally first, then each state accepts
// only the packet(s) it expects and closes on anything else.
func (c *Connection) dispatch(ctx context.Context, f wire.Frame) error {
	if f.Header.Type == wire.Err {
		code, msg, err := wire.ParseErrPlain(c.openSessionPayload(f.Payload))
		if err != nil {
			return perror.New(perror.Protocol, err)
		}
		c.log.Warnf("server sent ERR code=%d msg=%q", code, msg)
		return perror.New(perror.Protocol, errServerErr(msg))
	}

	switch c.State() {
	case Authenticating:
		if f.Header.Ack && f.Header.Type == wire.Auth {
			return c.handleAuthAck(f.Payload)
		}
		return perror.Newf(perror.Protocol, "expected AUTH|ACK in Authenticating, got %s ack=%v", f.Header.Type, f.Header.Ack)

	case Attaching:
		if f.Header.Ack && f.Header.Type == wire.Attach {
			return c.handleAttachAck()
		}
		return perror.Newf(perror.Protocol, "expected ATTACH|ACK in Attaching, got %s ack=%v", f.Header.Type, f.Header.Ack)

	case Idling:
		if f.Header.Ack && f.Header.Type == wire.Ping {
			// PING|ACK: kept alive by byte arrival alone, no-op.
			return nil
		}
		if !f.Header.Ack && f.Header.Type == wire.Connect {
			return c.handleConnect(ctx, f.Payload)
		}
		return perror.Newf(perror.Protocol, "expected PING|ACK or CONNECT in Idling, got %s ack=%v", f.Header.Type, f.Header.Ack)

	case Relaying:
		if f.Header.Type == wire.Data {
			return c.handleData(f.Payload)
		}
		if !f.Header.Ack && f.Header.Type == wire.Disconnect {
			return c.handleDisconnect()
		}
		return perror.Newf(perror.Protocol, "expected DATA or DISCONNECT in Relaying, got %s ack=%v", f.Header.Type, f.Header.Ack)

	default:
		return perror.Newf(perror.Protocol, "received packet %s in state %s", f.Header.Type, c.State())
	}
}

// openSessionPayload decrypts payload with the session box under the
// connection's fixed nonce. ERR can arrive before the session box exists
// (a rendezvous server rejecting AUTH itself, prior to any ACK), in which
// case there is nothing to decrypt with and the raw bytes are returned as
// the (unencrypted) message instead.
func (c *Connection) openSessionPayload(payload []byte) []byte {
	if c.box == nil {
		return payload
	}
	plain, err := c.box.Open(nil, payload, c.nonce)
	if err != nil {
		return nil
	}
	return plain
}

// handleConnect processes an incoming CONNECT: decrypt the address it
// carries (passed to the admission hook and kept for logging), then dial
// the pool's upstream asynchronously without leaving Idling until the
// dial resolves (the "Relaying (tentative)" phase — externally
// indistinguishable from Idling since no upstream socket exists yet).
func (c *Connection) handleConnect(ctx context.Context, payload []byte) error {
	plain, err := c.box.Open(nil, payload, c.nonce)
	if err != nil {
		return perror.New(perror.Protocol, err)
	}
	addrLen, addrField, port, err := wire.ParseConnectPlain(plain)
	if err != nil {
		return perror.New(perror.Protocol, err)
	}
	ip, err := wire.DecodeAddr(addrField, addrLen)
	if err != nil {
		return perror.New(perror.Protocol, err)
	}
	if !c.allow(ip) {
		return c.sendConnectAck(false)
	}
	// The address/port in CONNECT identify the remote client the server is
	// relaying on behalf of; the upstream dial target itself is the pool's
	// single fixed UpstreamAddr, not something the server chooses per
	// connection.
	c.pendingUpstreamAddr = net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
	go c.dialUpstream(ctx)
	return nil
}

// allow is the admission hook the original addon hardcodes to true; kept
// as an explicit hook point rather than invented policy (spec §9 open
// question).
func (c *Connection) allow(ip net.IP) bool {
	return true
}

func (c *Connection) sendConnectAck(success bool) error {
	payload, err := wire.BuildConnectAckPayload(success)
	if err != nil {
		return perror.New(perror.FatalPool, err)
	}
	_, err = c.sendFrame(wire.Connect, true, payload)
	return err
}

// handleUpstreamDialResult reacts to the async upstream dial launched by
// handleConnect.
func (c *Connection) handleUpstreamDialResult(res upstreamDialResult) error {
	if res.err != nil {
		c.log.Warnf("upstream dial to %s for client %s failed: %v", c.params.UpstreamAddr, c.pendingUpstreamAddr, res.err)
		c.events.OnUpstreamFailure(c)
		return c.sendConnectAck(false)
	}
	c.upstreamConn = res.conn
	c.setState(Relaying)
	c.startUpstreamReader()
	return c.sendConnectAck(true)
}

// handleData decrypts an inbound DATA packet and forwards it to upstream.
func (c *Connection) handleData(payload []byte) error {
	plain, err := c.box.Open(nil, payload, c.nonce)
	if err != nil {
		return perror.New(perror.Protocol, err)
	}
	if len(plain) == 0 {
		return nil
	}
	if _, err := c.upstreamConn.Write(plain); err != nil {
		c.log.Warnf("upstream write failed, tearing down relay episode: %v", err)
		return c.endRelayEpisode(perror.New(perror.Upstream, err))
	}
	atomic.AddInt64(&c.bytesServer, int64(len(plain)))
	return nil
}

// handleDisconnect forces the current relay episode closed at the
// server's request.
func (c *Connection) handleDisconnect() error {
	return c.endRelayEpisode(nil)
}

// endRelayEpisode closes the upstream socket and returns to Idling,
// matching every Relaying -> Idling transition in the table (upstream
// EOF/error, or a received DISCONNECT). If epErr is non-nil, DISCONNECT
// is also sent to the server (upstream error scoped to this episode).
func (c *Connection) endRelayEpisode(epErr error) error {
	c.stopUpstreamReader()
	if c.upstreamConn != nil {
		c.upstreamConn.Close()
		c.upstreamConn = nil
	}
	c.upstreamGate.Resume()
	c.setState(Idling)
	if epErr != nil {
		if class, ok := perror.ClassOf(epErr); ok && class == perror.Upstream {
			c.events.OnUpstreamFailure(c)
		}
		if _, err := c.sendFrame(wire.Disconnect, false, mustPadding()); err != nil {
			return err
		}
	}
	return nil
}

// handleUpstreamData encrypts bytes read from upstream and forwards them
// to the server as DATA, applying the write-queue backpressure cap.
func (c *Connection) handleUpstreamData(data []byte) error {
	cipher := c.box.Seal(nil, data, c.nonce)
	qsize, err := c.sendFrame(wire.Data, false, cipher)
	if err != nil {
		return err
	}
	atomic.AddInt64(&c.bytesUpstream, int64(len(data)))
	if qsize >= wire.MaxRelayWriteQueueSize {
		c.upstreamGate.Pause()
		c.log.Debugf("backpressure engaged, queue=%s", sizestr.ToString(qsize))
	}
	return nil
}

// onRelayWriteDone updates backpressure accounting after a write to the
// relay socket completes, resuming upstream reads once the queue drains
// below one quarter of the cap.
func (c *Connection) onRelayWriteDone(wc writeCompletion) error {
	newSize := c.writeQ.release(wc.n)
	if wc.err != nil {
		return perror.New(perror.Transport, wc.err)
	}
	if newSize < wire.RelayWriteQueueResumeSize {
		c.upstreamGate.Resume()
	}
	return nil
}

func (c *Connection) onUpstreamRead(res readResult) error {
	if len(res.data) > 0 {
		if err := c.handleUpstreamData(res.data); err != nil {
			return err
		}
	}
	if res.err != nil {
		c.log.Debugf("upstream closed: %v", res.err)
		return c.endRelayEpisode(perror.New(perror.Upstream, res.err))
	}
	return nil
}

type errServerErr string

func (e errServerErr) Error() string { return "server: " + string(e) }

func mustPadding() []byte {
	p, err := wire.RandomPadding()
	if err != nil {
		return nil
	}
	return p
}
