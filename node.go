package activeproxy

import "github.com/relaymesh/activeproxy/internal/node"

// NodeID is the 32-byte identity of a node in the surrounding peer
// network.
type NodeID = node.ID

// Signature is a 64-byte signature produced by a node's identity key.
type Signature = node.Signature

// Node is the set of operations this package requires from the
// surrounding node: identity, signing, sealed-to-node encryption, and
// peer announcement. Out of scope per spec: DHT membership, key
// derivation, and the node's own transport are the embedding
// application's responsibility; this package only calls through this
// interface.
type Node = node.Node

// Resolver resolves a host name to a dialable network address, standing
// in for the surrounding node's DNS/host resolution (which may be a DHT
// lookup of a peer id rather than plain DNS).
type Resolver = node.Resolver

// PeerInfo is the peer record announced on first successful
// authentication: this node's identity, the rendezvous server it is
// reachable through, the port the server assigned it, and an optional
// advertised domain.
type PeerInfo = node.PeerInfo

// PeerKeyPair is the signing keypair a peer record is published under,
// distinct from the node's own identity key. See Config.PeerPrivateKey.
type PeerKeyPair = node.PeerKeyPair
