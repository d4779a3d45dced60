package automaton

import (
	"context"
	"net"
	"time"

	"github.com/relaymesh/activeproxy/internal/wire"
)

const relayReadBufferSize = 64 * 1024

// relayReaderLoop is the sole goroutine that ever calls Read on the relay
// socket. It knows nothing about framing; it just forwards raw chunks
// (or the terminal error) to relayReadCh for the Run loop to interpret.
func (c *Connection) relayReaderLoop() {
	defer close(c.relayReadCh)
	buf := make([]byte, relayReadBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			c.relayReadCh <- readResult{data: chunk}
		}
		if err != nil {
			c.relayReadCh <- readResult{err: err}
			return
		}
	}
}

// relayWriterLoop is the sole goroutine that ever calls Write on the relay
// socket. Frames enqueued via enqueueRelayWrite are drained here in
// order; each completion is reported back so the Run loop can update the
// backpressure accounting.
func (c *Connection) relayWriterLoop() {
	for {
		b, ok := c.writeQ.pop()
		if !ok {
			return
		}
		_, err := c.conn.Write(b)
		select {
		case c.writeDoneCh <- writeCompletion{n: int64(len(b)), err: err}:
		case <-c.HandlerDoneChan():
			return
		}
		if err != nil {
			return
		}
	}
}

// enqueueRelayWrite queues a frame for the relay writer goroutine and
// returns the queue's new size, so the caller can decide whether to
// engage backpressure.
func (c *Connection) enqueueRelayWrite(frame []byte) int64 {
	return c.writeQ.push(frame)
}

// startUpstreamReader launches the upstream reader goroutine for the
// current relay episode. Called once, right after a successful upstream
// dial.
func (c *Connection) startUpstreamReader() {
	c.upstreamStop = make(chan struct{})
	stop := c.upstreamStop
	go c.upstreamReaderLoop(stop)
}

// upstreamReaderLoop reads from the upstream socket, respecting the
// backpressure gate: while paused, it blocks on the gate instead of
// issuing a Read, so no further upstream read buffers are allocated,
// matching the backpressure requirement precisely.
func (c *Connection) upstreamReaderLoop(stop <-chan struct{}) {
	buf := make([]byte, wire.MaxUpstreamReadBufferSize)
	for {
		select {
		case <-c.upstreamGate.Wait():
		case <-stop:
			return
		}
		n, err := c.upstreamConn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case c.upstreamReadCh <- readResult{data: chunk}:
			case <-stop:
				return
			}
		}
		if err != nil {
			select {
			case c.upstreamReadCh <- readResult{err: err}:
			case <-stop:
			}
			return
		}
	}
}

// dialUpstream dials the upstream service asynchronously, delivering the
// result on upstreamDialCh so the Run loop never blocks waiting for it.
func (c *Connection) dialUpstream(ctx context.Context) {
	d := net.Dialer{Timeout: c.params.DialTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "tcp", c.params.UpstreamAddr)
	c.upstreamDialCh <- upstreamDialResult{conn: conn, err: err}
}
