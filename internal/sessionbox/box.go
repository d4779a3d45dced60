// Package sessionbox implements the Session Key Box: a symmetric AEAD
// context derived from a local ephemeral keypair and the server's session
// public key, shared by every connection in one pool run, keyed per
// connection by a fixed 24-byte nonce. Built on
// golang.org/x/crypto/nacl/box, whose GenerateKey/Precompute/
// SealAfterPrecomputation/OpenAfterPrecomputation give exactly the
// precomputed-shared-key shape this component needs.
package sessionbox

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// KeyPair is an ephemeral X25519 keypair generated once at pool startup
// and reused across every connection in that run.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair produces a fresh ephemeral keypair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("sessionbox: generating keypair: %w", err)
	}
	return KeyPair{Public: *pub, Private: *priv}, nil
}

// Box is the precomputed shared-key symmetric AEAD context derived from
// the pool's session keypair and the server's session public key, as
// learned from the first AUTH|ACK. Reused by every connection in the
// pool.
type Box struct {
	shared [32]byte
}

// Precompute derives the shared symmetric key from the local session
// keypair's secret half and the server's session public key.
func Precompute(local KeyPair, serverSessionPK [32]byte) *Box {
	b := &Box{}
	box.Precompute(&b.shared, &serverSessionPK, &local.Private)
	return b
}

// NonceBytes is the fixed nonce width used by nacl/box's XSalsa20Poly1305
// construction.
const NonceBytes = 24

// MACBytes is the authentication tag overhead added by Seal.
const MACBytes = box.Overhead

// Nonce is a connection's fixed 24-byte nonce, chosen once at ATTACH/AUTH
// time and reused for every subsequent DATA/CONNECT/ERR packet on that
// connection.
//
// Correctness hazard (spec §9 open question, unresolved against the
// server implementation): this nonce is reused across every packet sent
// on the connection, in both directions if the server does not maintain
// its own. XSalsa20Poly1305 requires a nonce to never repeat under a
// given key for a given direction; if the server also replies using this
// same nonce under the same shared key, that violates the construction.
// This implementation follows spec's literal wording — one client-chosen
// nonce, reused for the connection's lifetime — since the reference
// material available does not state the server's actual behavior.
type Nonce [NonceBytes]byte

// NewNonce draws a fresh random nonce, as done once per connection during
// AUTH/ATTACH.
func NewNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("sessionbox: generating nonce: %w", err)
	}
	return n, nil
}

// Seal encrypts plain under the box's shared key and the connection's
// nonce, appending it to the (possibly nil) dst slice.
func (b *Box) Seal(dst []byte, plain []byte, nonce Nonce) []byte {
	n := [24]byte(nonce)
	return box.SealAfterPrecomputation(dst, plain, &n, &b.shared)
}

// Open decrypts cipher under the box's shared key and the connection's
// nonce.
func (b *Box) Open(dst []byte, cipher []byte, nonce Nonce) ([]byte, error) {
	n := [24]byte(nonce)
	out, ok := box.OpenAfterPrecomputation(dst, cipher, &n, &b.shared)
	if !ok {
		return nil, fmt.Errorf("sessionbox: authentication failed")
	}
	return out, nil
}
