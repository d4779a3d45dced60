package automaton

import (
	"github.com/relaymesh/activeproxy/internal/perror"
	"github.com/relaymesh/activeproxy/internal/sessionbox"
	"github.com/relaymesh/activeproxy/internal/wire"
)

// sendFrame encodes and enqueues a frame for the relay writer goroutine,
// returning the queue depth after enqueueing.
func (c *Connection) sendFrame(typ wire.Type, ack bool, payload []byte) (int64, error) {
	frame, err := wire.EncodeFrame(typ, ack, payload)
	if err != nil {
		return 0, perror.New(perror.Protocol, err)
	}
	return c.enqueueRelayWrite(frame), nil
}

// handleChallenge processes the raw, unframed challenge the server sends
// immediately after connect, signs it, and sends AUTH or ATTACH depending
// on whether the pool's shared session already knows server_session_pk.
func (c *Connection) handleChallenge(data []byte) error {
	if err := wire.ValidateChallenge(data); err != nil {
		return perror.New(perror.Protocol, err)
	}
	sig, err := c.params.Node.Sign(data)
	if err != nil {
		return perror.New(perror.Transport, err)
	}
	nonce, err := sessionbox.NewNonce()
	if err != nil {
		return perror.New(perror.FatalPool, err)
	}
	c.nonce = nonce
	sessionPK := c.params.Session.KeyPair.Public

	if box, known := c.params.Session.Box(); known {
		c.box = box
		return c.sendAttach(sessionPK, nonce, sig)
	}
	return c.sendAuth(sessionPK, nonce, sig)
}

func (c *Connection) sendAuth(sessionPK [32]byte, nonce sessionbox.Nonce, sig [64]byte) error {
	c.setState(Authenticating)
	sealedPlain, err := wire.BuildAuthSealedPlain(sessionPK, [wire.NonceBytes]byte(nonce), sig, c.params.DomainName)
	if err != nil {
		return perror.New(perror.Protocol, err)
	}
	cipher, err := c.params.Node.EncryptToNode(c.params.ServerID, sealedPlain)
	if err != nil {
		return perror.New(perror.Transport, err)
	}
	payload := wire.AssembleAuthPayload(c.params.Node.NodeID(), cipher)
	_, err = c.sendFrame(wire.Auth, false, payload)
	return err
}

func (c *Connection) sendAttach(sessionPK [32]byte, nonce sessionbox.Nonce, sig [64]byte) error {
	c.setState(Attaching)
	sealedPlain := wire.BuildAttachSealedPlain(sessionPK, [wire.NonceBytes]byte(nonce), sig)
	cipher, err := c.params.Node.EncryptToNode(c.params.ServerID, sealedPlain)
	if err != nil {
		return perror.New(perror.Transport, err)
	}
	padding, err := wire.RandomPadding()
	if err != nil {
		return perror.New(perror.FatalPool, err)
	}
	payload, err := wire.AssembleAttachPayload(c.params.Node.NodeID(), cipher, padding)
	if err != nil {
		return perror.New(perror.Protocol, err)
	}
	_, err = c.sendFrame(wire.Attach, false, payload)
	return err
}

// handleAuthAck processes an AUTH|ACK. Per the resolved open question
// (SPEC_FULL §10), the reply is opened with the sealed-to-node primitive,
// not the not-yet-derived session box.
func (c *Connection) handleAuthAck(payload []byte) error {
	plain, err := c.params.Node.DecryptFromNode(c.params.ServerID, payload)
	if err != nil {
		return perror.New(perror.Protocol, err)
	}
	serverSessionPK, port, domainEnabled, err := wire.ParseAuthAckPlain(plain)
	if err != nil {
		return perror.New(perror.Protocol, err)
	}
	c.box = c.params.Session.Learn(serverSessionPK)
	c.viaAuth = true
	c.everReachedIdling = true
	c.setState(Idling)
	c.events.OnIdling(c, serverSessionPK, port, domainEnabled, true)
	return nil
}

// handleAttachAck processes an ATTACH|ACK, which carries no payload.
func (c *Connection) handleAttachAck() error {
	box, known := c.params.Session.Box()
	if !known {
		return perror.New(perror.Protocol, errAttachBeforeKnown)
	}
	c.box = box
	c.viaAuth = false
	c.everReachedIdling = true
	c.setState(Idling)
	c.events.OnIdling(c, [32]byte{}, 0, false, false)
	return nil
}

var errAttachBeforeKnown = attachErr("ATTACH|ACK received before session box was known")

type attachErr string

func (e attachErr) Error() string { return string(e) }
