package automaton

import (
	"context"
	"net"
	"time"

	"github.com/relaymesh/activeproxy/internal/perror"
)

// run dials the relay socket, completes the handshake, then drives the
// single select loop that owns the rest of the connection's life. It is
// the only method that mutates state fields outside HandleOnceShutdown,
// which only ever runs concurrently with run via socket closure (closing
// conn/upstreamConn is what unblocks run's blocked reader goroutines).
func (c *Connection) run(ctx context.Context) error {
	d := net.Dialer{Timeout: c.params.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.params.RelayAddr)
	if err != nil {
		return perror.New(perror.Transport, err)
	}
	c.conn = conn
	c.setState(Initializing)
	c.touchKeepAlive()

	go c.relayReaderLoop()
	go c.relayWriterLoop()

	ticker := time.NewTicker(KeepAliveCheckInterval)
	defer ticker.Stop()

	challengeSeen := false

	for {
		select {
		case res, ok := <-c.relayReadCh:
			if !ok {
				return perror.New(perror.Transport, errRelayClosed)
			}
			if res.err != nil {
				return perror.New(perror.Transport, res.err)
			}
			c.touchKeepAlive()
			if !challengeSeen {
				challengeSeen = true
				if err := c.handleChallenge(res.data); err != nil {
					return err
				}
				continue
			}
			frames, ferr := c.reassembler.Push(res.data)
			for _, f := range frames {
				if err := c.dispatch(ctx, f); err != nil {
					return err
				}
			}
			if ferr != nil {
				return perror.New(perror.Protocol, ferr)
			}

		case res := <-c.upstreamReadCh:
			if err := c.onUpstreamRead(res); err != nil {
				return err
			}

		case wc := <-c.writeDoneCh:
			if err := c.onRelayWriteDone(wc); err != nil {
				return err
			}

		case res := <-c.upstreamDialCh:
			if err := c.handleUpstreamDialResult(res); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.checkKeepAlive(); err != nil {
				return err
			}

		case <-c.HandlerDoneChan():
			return nil
		}
	}
}

type relayClosedErr string

func (e relayClosedErr) Error() string { return string(e) }

var errRelayClosed = relayClosedErr("relay connection closed")
