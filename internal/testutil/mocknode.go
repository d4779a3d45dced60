// Package testutil provides an in-memory stand-in for the surrounding
// node (spec.md §6's external collaborator) used by the automaton and
// pool manager's tests: ed25519 signing, nacl/box sealed-to-node
// encryption, and an announcement recorder, all keyed through a shared
// Directory so a test can wire up a "client" node and a "server" node
// that can address each other.
package testutil

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"sync"

	"golang.org/x/crypto/nacl/box"

	"github.com/relaymesh/activeproxy/internal/node"
)

// Directory is a shared address book between the MockNodes in one test:
// node id -> box public key (for sealed-to-node encryption) and an
// optional string key -> dialable address map (for Resolve).
type Directory struct {
	mu        sync.Mutex
	boxKeys   map[node.ID][32]byte
	addrs     map[string]string
}

// NewDirectory creates an empty shared directory.
func NewDirectory() *Directory {
	return &Directory{
		boxKeys: make(map[node.ID][32]byte),
		addrs:   make(map[string]string),
	}
}

func (d *Directory) register(id node.ID, boxPub [32]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.boxKeys[id] = boxPub
}

func (d *Directory) lookup(id node.ID) ([32]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k, ok := d.boxKeys[id]
	return k, ok
}

// RegisterAddr maps a resolver key (e.g. the hex node id a test resolves,
// or a plain host) to a concrete dialable address, letting Resolve stand
// in for DHT/DNS lookup in tests.
func (d *Directory) RegisterAddr(key, addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs[key] = addr
}

// MockNode implements both node.Node and node.Resolver over a shared
// Directory.
type MockNode struct {
	id       node.ID
	signPriv ed25519.PrivateKey
	boxPriv  [32]byte
	boxPub   [32]byte
	dir      *Directory

	mu            sync.Mutex
	announcements []node.PeerInfo
}

// NewMockNode generates a fresh identity and registers its box public
// key in dir.
func NewMockNode(dir *Directory) (*MockNode, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	boxPub, boxPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	var id node.ID
	copy(id[:], signPub) // ed25519 public keys are 32 bytes, same width as node.ID
	n := &MockNode{
		id:       id,
		signPriv: signPriv,
		boxPriv:  *boxPriv,
		boxPub:   *boxPub,
		dir:      dir,
	}
	dir.register(id, n.boxPub)
	return n, nil
}

// NodeID implements node.Node.
func (n *MockNode) NodeID() node.ID { return n.id }

// Sign implements node.Node using ed25519, which happens to produce
// 64-byte signatures matching node.Signature exactly.
func (n *MockNode) Sign(data []byte) (node.Signature, error) {
	var sig node.Signature
	copy(sig[:], ed25519.Sign(n.signPriv, data))
	return sig, nil
}

// EncryptToNode implements node.Node's sealed-to-node primitive via
// nacl/box between this node's box key and the recipient's registered box
// public key. The ciphertext is plain plus box.Overhead (16) bytes, the
// width the wire codec expects; the nonce is the first 24 bytes of the
// sender's id, so the recipient can rebuild it without it being sent.
func (n *MockNode) EncryptToNode(recipient node.ID, plain []byte) ([]byte, error) {
	pub, ok := n.dir.lookup(recipient)
	if !ok {
		return nil, fmt.Errorf("mocknode: unknown recipient %x", recipient)
	}
	var nonce [24]byte
	copy(nonce[:], n.id[:])
	return box.Seal(nil, plain, &nonce, &pub, &n.boxPriv), nil
}

// DecryptFromNode implements node.Node's sealed-to-node primitive,
// reversing EncryptToNode as called by sender.
func (n *MockNode) DecryptFromNode(sender node.ID, cipher []byte) ([]byte, error) {
	pub, ok := n.dir.lookup(sender)
	if !ok {
		return nil, fmt.Errorf("mocknode: unknown sender %x", sender)
	}
	var nonce [24]byte
	copy(nonce[:], sender[:])
	plain, ok := box.Open(nil, cipher, &nonce, &pub, &n.boxPriv)
	if !ok {
		return nil, fmt.Errorf("mocknode: box open failed")
	}
	return plain, nil
}

// AnnouncePeer implements node.Node by recording the announcement for
// later assertion.
func (n *MockNode) AnnouncePeer(ctx context.Context, info node.PeerInfo, persistent bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.announcements = append(n.announcements, info)
	return nil
}

// Announcements returns every PeerInfo passed to AnnouncePeer so far.
func (n *MockNode) Announcements() []node.PeerInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]node.PeerInfo(nil), n.announcements...)
}

// Resolve implements node.Resolver: it consults the shared directory's
// address map first (so tests can point a hex node id at a local
// listener), falling back to net.JoinHostPort for plain host:port pairs.
func (n *MockNode) Resolve(ctx context.Context, host string, port uint16) (string, error) {
	n.dir.mu.Lock()
	addr, ok := n.dir.addrs[host]
	n.dir.mu.Unlock()
	if ok {
		return addr, nil
	}
	if port == 0 {
		return "", fmt.Errorf("mocknode: no registered address for %q", host)
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", port)), nil
}
