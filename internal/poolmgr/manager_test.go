package poolmgr

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/activeproxy/internal/logging"
	"github.com/relaymesh/activeproxy/internal/node"
	"github.com/relaymesh/activeproxy/internal/sessionbox"
	"github.com/relaymesh/activeproxy/internal/testutil"
	"github.com/relaymesh/activeproxy/internal/wire"
)

// driveAuth plays the rendezvous server's side of one AUTH handshake on
// an accepted connection, granting it the given assigned port.
func driveAuth(t *testing.T, fs *testutil.FakeRelayConn, clientNode, serverNode *testutil.MockNode, port uint16) {
	t.Helper()
	_, err := fs.SendChallenge()
	require.NoError(t, err)

	authFrame, err := fs.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, wire.Auth, authFrame.Header.Type)

	nodeID, sealed, err := wire.ParseAuthPayload(authFrame.Payload)
	require.NoError(t, err)
	require.Equal(t, clientNode.NodeID(), node.ID(nodeID))

	plain, err := serverNode.DecryptFromNode(clientNode.NodeID(), sealed)
	require.NoError(t, err)
	_, _, _, _, err = wire.ParseAuthSealedPlain(plain)
	require.NoError(t, err)

	serverKP, err := sessionbox.GenerateKeyPair()
	require.NoError(t, err)
	ackPlain := wire.BuildAuthAckPlain(serverKP.Public, port, true)
	ackCipher, err := serverNode.EncryptToNode(clientNode.NodeID(), ackPlain)
	require.NoError(t, err)
	require.NoError(t, fs.Send(wire.Auth, true, ackCipher))
}

// driveAttach plays the rendezvous server's side of one ATTACH handshake:
// once the pool has learned the server's session key, every further
// connection attaches instead of authenticating, and ATTACH|ACK carries
// no payload.
func driveAttach(t *testing.T, fs *testutil.FakeRelayConn) {
	t.Helper()
	_, err := fs.SendChallenge()
	require.NoError(t, err)

	attachFrame, err := fs.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, wire.Attach, attachFrame.Header.Type)

	require.NoError(t, fs.Send(wire.Attach, true, nil))
}

func newTestPair(t *testing.T) (clientNode, serverNode *testutil.MockNode) {
	t.Helper()
	dir := testutil.NewDirectory()
	var err error
	clientNode, err = testutil.NewMockNode(dir)
	require.NoError(t, err)
	serverNode, err = testutil.NewMockNode(dir)
	require.NoError(t, err)
	return clientNode, serverNode
}

func listenLocal(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

// acceptFake accepts exactly one connection off ln and wraps it.
func acceptFake(t *testing.T, ln net.Listener) *testutil.FakeRelayConn {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)
	return testutil.WrapFakeRelayConn(conn)
}

// TestManagerSpawnsOneAtATimeUntilIdling verifies needsNewConnection's
// gate: with MaxConnections=3, the pool must not dial a second connection
// while the first is still pre-Idling, and fills up to the max one
// connection at a time, each dial following the previous connection's
// arrival at Idling.
func TestManagerSpawnsOneAtATimeUntilIdling(t *testing.T) {
	clientNode, serverNode := newTestPair(t)
	ln := listenLocal(t)
	defer ln.Close()

	m, err := New(Params{
		Log:            logging.Nop(),
		RelayAddr:      ln.Addr().String(),
		ServerID:       serverNode.NodeID(),
		Node:           clientNode,
		MaxConnections: 3,
		DialTimeout:    2 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Only one dial should arrive while the first connection is mid
	// handshake: accept it, but don't ACK yet, and confirm a second
	// accept doesn't show up in the meantime.
	acceptCh := make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			acceptCh <- c
		}
	}()

	var first net.Conn
	select {
	case first = <-acceptCh:
	case <-time.After(2 * time.Second):
		t.Fatal("first connection never dialed")
	}

	select {
	case <-acceptCh:
		t.Fatal("second connection dialed before the first reached Idling")
	case <-time.After(200 * time.Millisecond):
	}

	fs := testutil.WrapFakeRelayConn(first)
	driveAuth(t, fs, clientNode, serverNode, 1111)

	// Now that the first connection is Idling, the pool spawns the
	// remaining MaxConnections-1 one at a time: each further dial only
	// arrives once the previous connection has finished its ATTACH.
	for seen := 0; seen < 2; seen++ {
		select {
		case c := <-acceptCh:
			driveAttach(t, testutil.WrapFakeRelayConn(c))
		case <-time.After(2 * time.Second):
			t.Fatalf("only saw %d of the expected 2 additional dials", seen)
		}
	}

	require.Eventually(t, func() bool {
		return m.Status().InFlight == 3
	}, 2*time.Second, 10*time.Millisecond)
}

// TestManagerAnnouncesOnlyOnce drives two connections to Idling (the first
// via AUTH, the second via ATTACH) and confirms the peer is announced
// exactly once across both, matching the pool-scoped Announcer's
// sync.Once gate.
func TestManagerAnnouncesOnlyOnce(t *testing.T) {
	clientNode, serverNode := newTestPair(t)
	ln := listenLocal(t)
	defer ln.Close()

	m, err := New(Params{
		Log:            logging.Nop(),
		RelayAddr:      ln.Addr().String(),
		ServerID:       serverNode.NodeID(),
		Node:           clientNode,
		MaxConnections: 2,
		DialTimeout:    2 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	fs1 := acceptFake(t, ln)
	driveAuth(t, fs1, clientNode, serverNode, 2222)

	fs2 := acceptFake(t, ln)
	driveAttach(t, fs2)

	require.Eventually(t, func() bool {
		return m.Status().InFlight == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.Len(t, clientNode.Announcements(), 1)
	require.EqualValues(t, 2222, clientNode.Announcements()[0].AssignedPort)
}

// TestManagerReconnectsAfterPreIdlingFailure forces the pool's first
// connection to close before it ever reaches Idling (by refusing the
// handshake outright) and confirms the backoff-scheduled reconnect
// eventually dials again, without asserting on the exact backoff
// duration (the pool hardcodes Min: 1s, which this test tolerates but
// does not try to pin precisely; see DESIGN.md for the rationale).
func TestManagerReconnectsAfterPreIdlingFailure(t *testing.T) {
	clientNode, serverNode := newTestPair(t)
	ln := listenLocal(t)
	defer ln.Close()

	m, err := New(Params{
		Log:            logging.Nop(),
		RelayAddr:      ln.Addr().String(),
		ServerID:       serverNode.NodeID(),
		Node:           clientNode,
		MaxConnections: 1,
		DialTimeout:    2 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	first := acceptFake(t, ln)
	_, err = first.SendChallenge()
	require.NoError(t, err)
	_, err = first.ReadFrame() // AUTH
	require.NoError(t, err)
	// Reject instead of ACKing: server closes the socket outright, same
	// as a rendezvous server refusing the credential.
	require.NoError(t, first.Close())

	require.Eventually(t, func() bool {
		return m.Status().ServerFails >= 1
	}, 2*time.Second, 10*time.Millisecond)

	second := acceptFake(t, ln)
	driveAuth(t, second, clientNode, serverNode, 3333)

	require.Eventually(t, func() bool {
		return m.Status().Authenticated
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerStatusReflectsShutdown(t *testing.T) {
	clientNode, serverNode := newTestPair(t)
	ln := listenLocal(t)
	defer ln.Close()

	m, err := New(Params{
		Log:            logging.Nop(),
		RelayAddr:      ln.Addr().String(),
		ServerID:       serverNode.NodeID(),
		Node:           clientNode,
		MaxConnections: 1,
		DialTimeout:    2 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()

	fs := acceptFake(t, ln)
	driveAuth(t, fs, clientNode, serverNode, 4444)

	require.Eventually(t, func() bool {
		return m.Status().InFlight == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Close())
	cancel()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned after Close")
	}
}
