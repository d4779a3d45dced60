package testutil

import (
	"net"

	"github.com/relaymesh/activeproxy/internal/wire"
)

// FakeRelayConn plays the rendezvous server's side of the wire protocol by
// hand against one accepted connection, letting a test drive a real
// Connection/Manager through a scripted handshake without a stub network
// stack.
type FakeRelayConn struct {
	Conn    net.Conn
	r       *wire.Reassembler
	pending []wire.Frame
}

// WrapFakeRelayConn adapts an already-accepted net.Conn.
func WrapFakeRelayConn(conn net.Conn) *FakeRelayConn {
	return &FakeRelayConn{Conn: conn, r: wire.NewReassembler()}
}

// SendChallenge writes a minimal valid raw challenge and returns it.
func (f *FakeRelayConn) SendChallenge() ([]byte, error) {
	challenge := make([]byte, wire.ChallengeMinBytes)
	for i := range challenge {
		challenge[i] = byte(i)
	}
	if _, err := f.Conn.Write(challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

// ReadFrame blocks until one complete frame has been read off the
// connection, queuing any extra frames a single read happened to deliver
// for the next call rather than discarding them.
func (f *FakeRelayConn) ReadFrame() (wire.Frame, error) {
	for len(f.pending) == 0 {
		chunk := make([]byte, 4096)
		n, err := f.Conn.Read(chunk)
		if err != nil {
			return wire.Frame{}, err
		}
		frames, err := f.r.Push(chunk[:n])
		if err != nil {
			return wire.Frame{}, err
		}
		f.pending = frames
	}
	frame := f.pending[0]
	f.pending = f.pending[1:]
	return frame, nil
}

// Send encodes and writes one frame.
func (f *FakeRelayConn) Send(typ wire.Type, ack bool, payload []byte) error {
	frame, err := wire.EncodeFrame(typ, ack, payload)
	if err != nil {
		return err
	}
	_, err = f.Conn.Write(frame)
	return err
}

// Close closes the underlying connection.
func (f *FakeRelayConn) Close() error { return f.Conn.Close() }
