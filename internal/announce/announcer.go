// Package announce implements the Peer Announcer adapter: on the pool's
// first successful authentication it publishes a peer record through the
// surrounding node, exactly once for the lifetime of the pool run.
package announce

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/relaymesh/activeproxy/internal/node"
)

// Announcer gates a single AnnouncePeer call behind a sync.Once, matching
// the pool's `first` flag: true until one successful AUTH has completed.
type Announcer struct {
	node     node.Node
	serverID node.ID
	peerID   node.ID

	mu         sync.Mutex
	domainName string

	once sync.Once
	err  error
}

// New builds an Announcer for one pool run. peerID is the public half of
// the peer keypair the record is published under, distinct from the
// node's own identity (node.NodeID()).
func New(n node.Node, serverID node.ID, peerID node.ID, domainName string) *Announcer {
	return &Announcer{node: n, serverID: serverID, peerID: peerID, domainName: domainName}
}

// SetDomainName updates the domain name attached to a not-yet-fired
// announcement, so a live config reload of domainName is reflected the
// first time AnnounceOnce actually runs. A no-op once the announcement has
// already fired, since the record is published exactly once per pool run.
func (a *Announcer) SetDomainName(domainName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.domainName = domainName
}

// AnnounceOnce publishes the peer record the first time it is called;
// every subsequent call is a no-op returning the first call's result.
// domainName is only attached to the record if the server's AUTH|ACK
// reported domain support.
func (a *Announcer) AnnounceOnce(ctx context.Context, assignedPort uint16, domainEnabled bool) error {
	a.once.Do(func() {
		info := node.PeerInfo{
			PeerID:        a.peerID,
			ServerID:      a.serverID,
			NodeID:        a.node.NodeID(),
			AssignedPort:  assignedPort,
			CorrelationID: uuid.NewString(),
		}
		if domainEnabled {
			a.mu.Lock()
			info.DomainName = a.domainName
			a.mu.Unlock()
		}
		a.err = a.node.AnnouncePeer(ctx, info, true)
	})
	return a.err
}
