// Package node defines the interfaces this module requires from the
// surrounding node (identity, signing, sealed-to-node crypto, peer
// announcement, host resolution). It lives under internal so both the
// root package (the public API surface) and internal/automaton (which
// calls through these interfaces from inside a connection's goroutine)
// can depend on it without a cycle; the root package re-exports these
// names as type aliases.
package node

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// ID is the 32-byte identity of a node in the surrounding peer network.
type ID [32]byte

// Signature is a 64-byte signature produced by a node's identity key.
type Signature [64]byte

// Node is the set of operations required from the surrounding node.
type Node interface {
	// NodeID returns this node's own 32-byte identity.
	NodeID() ID

	// Sign produces a 64-byte signature over data using the node
	// identity key, proving ownership during AUTH/ATTACH.
	Sign(data []byte) (Signature, error)

	// EncryptToNode seals plain to recipient using sealed-to-node
	// asymmetric encryption. Used only for AUTH and ATTACH payloads.
	EncryptToNode(recipient ID, plain []byte) (cipher []byte, err error)

	// DecryptFromNode opens cipher sent by sender using sealed-to-node
	// asymmetric decryption. Used only to decrypt AUTH|ACK.
	DecryptFromNode(sender ID, cipher []byte) (plain []byte, err error)

	// AnnouncePeer publishes info under this node's peer identity into
	// the surrounding distributed index. Called at most once per pool
	// run, on the first successful authentication.
	AnnouncePeer(ctx context.Context, info PeerInfo, persistent bool) error
}

// Resolver resolves a host name to a dialable network address.
type Resolver interface {
	Resolve(ctx context.Context, host string, port uint16) (addr string, err error)
}

// PeerInfo is the peer record announced on first successful
// authentication.
type PeerInfo struct {
	PeerID        ID
	ServerID      ID
	NodeID        ID
	AssignedPort  uint16
	DomainName    string
	CorrelationID string
}

// PeerKeyPair is the signing keypair that a peer record is published
// under. It is deliberately a distinct identity from the node's own
// NodeID: the node identity proves ownership during AUTH/ATTACH, while
// the peer keypair's public half becomes PeerInfo.PeerID.
type PeerKeyPair struct {
	Private ed25519.PrivateKey
}

// Public derives the 32-byte peer identity from the keypair's public
// half.
func (kp PeerKeyPair) Public() ID {
	var id ID
	copy(id[:], kp.Private.Public().(ed25519.PublicKey))
	return id
}

// GeneratePeerKeyPair creates a fresh random peer keypair.
func GeneratePeerKeyPair() (PeerKeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PeerKeyPair{}, fmt.Errorf("node: generating peer keypair: %w", err)
	}
	return PeerKeyPair{Private: priv}, nil
}

// PeerKeyPairFromSeed derives a peer keypair from a 32-byte ed25519
// seed, as loaded from configuration.
func PeerKeyPairFromSeed(seed []byte) (PeerKeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return PeerKeyPair{}, fmt.Errorf("node: peer private key must be a %d-byte ed25519 seed, got %d", ed25519.SeedSize, len(seed))
	}
	return PeerKeyPair{Private: ed25519.NewKeyFromSeed(seed)}, nil
}
