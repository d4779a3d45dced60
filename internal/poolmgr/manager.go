// Package poolmgr implements the Pool Manager: the supervisor that keeps
// between one and max_connections Connection Automata alive, schedules
// reconnect attempts with exponential backoff, and exposes a Status
// snapshot. One goroutine (Run) owns all pool-level state; Connection
// Automata report back only through the Events callbacks, which this
// package immediately turns into channel sends so Run never races with
// a connection's own goroutine.
package poolmgr

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/relaymesh/activeproxy/internal/announce"
	"github.com/relaymesh/activeproxy/internal/automaton"
	"github.com/relaymesh/activeproxy/internal/logging"
	"github.com/relaymesh/activeproxy/internal/node"
	"github.com/relaymesh/activeproxy/internal/perror"
	"github.com/relaymesh/activeproxy/internal/sessionbox"
	"github.com/relaymesh/activeproxy/internal/shutdown"
)

const idleCheckInterval = 2 * time.Second

// Params configures a pool run.
type Params struct {
	Log            logging.Logger
	RelayAddr      string
	UpstreamAddr   string
	ServerID       node.ID
	Node           node.Node
	DomainName     string
	MaxConnections int
	DialTimeout    time.Duration

	// PeerKeyPair is the signing keypair the published peer record uses
	// as PeerInfo.PeerID, distinct from Node's own identity. If its
	// Private key is nil, New generates one.
	PeerKeyPair node.PeerKeyPair
}

type idlingEvent struct {
	conn            *automaton.Connection
	serverSessionPK [32]byte
	port            uint16
	domainEnabled   bool
	viaAuth         bool
}

type closedEvent struct {
	conn          *automaton.Connection
	err           error
	reachedIdling bool
}

type upstreamFailureEvent struct {
	conn *automaton.Connection
}

// Manager is the Pool Manager.
type Manager struct {
	shutdown.Helper

	log       logging.Logger
	params    Params
	session   *automaton.SharedSession
	announcer *announce.Announcer

	mu        sync.Mutex
	conns     map[uint32]*automaton.Connection
	nextID    uint32
	relayPort uint16
	authed    bool

	serverFails   int
	upstreamFails int
	idleTimestamp time.Time

	events chan interface{}
}

// New constructs a pool manager. Call Run to start it.
func New(params Params) (*Manager, error) {
	if params.MaxConnections <= 0 {
		params.MaxConnections = 8
	}
	if params.DialTimeout == 0 {
		params.DialTimeout = 30 * time.Second
	}
	kp, err := sessionbox.GenerateKeyPair()
	if err != nil {
		return nil, perror.New(perror.FatalPool, err)
	}
	if params.PeerKeyPair.Private == nil {
		params.PeerKeyPair, err = node.GeneratePeerKeyPair()
		if err != nil {
			return nil, perror.New(perror.FatalPool, err)
		}
	}
	m := &Manager{
		log:       params.Log.Fork("pool"),
		params:    params,
		session:   automaton.NewSharedSession(kp),
		announcer: announce.New(params.Node, params.ServerID, params.PeerKeyPair.Public(), params.DomainName),
		conns:     make(map[uint32]*automaton.Connection),
		events:    make(chan interface{}, 32),
	}
	m.Helper.Init(m.log, m)
	return m, nil
}

// Run starts the pool and blocks until it stops, either because ctx is
// cancelled or Close is called.
func (m *Manager) Run(ctx context.Context) error {
	m.ShutdownOnContext(ctx)
	m.spawnIfNeeded(ctx)

	b := &backoff.Backoff{Min: time.Second, Max: 60 * time.Second, Factor: 2}
	var reconnectTimer *time.Timer
	idleTicker := time.NewTicker(idleCheckInterval)
	defer idleTicker.Stop()

	armReconnect := func(d time.Duration) {
		if reconnectTimer != nil {
			reconnectTimer.Stop()
		}
		reconnectTimer = time.NewTimer(d)
	}

	var reconnectCh <-chan time.Time
	for {
		if reconnectTimer != nil {
			reconnectCh = reconnectTimer.C
		} else {
			reconnectCh = nil
		}
		select {
		case ev := <-m.events:
			switch e := ev.(type) {
			case idlingEvent:
				m.onIdling(ctx, e)
				b.Reset()
				m.spawnIfNeeded(ctx)
			case closedEvent:
				m.onClosed(e)
				if !e.reachedIdling {
					d := b.Duration()
					m.log.Warnf("connection %d closed before idling, reconnecting in %s", e.conn.ID(), d)
					armReconnect(d)
				} else {
					m.spawnIfNeeded(ctx)
				}
			case upstreamFailureEvent:
				m.mu.Lock()
				m.upstreamFails++
				m.mu.Unlock()
			}

		case <-reconnectCh:
			reconnectTimer = nil
			m.spawnIfNeeded(ctx)

		case <-idleTicker.C:
			m.idleCheck()
			m.spawnIfNeeded(ctx)

		case <-m.HandlerDoneChan():
			if reconnectTimer != nil {
				reconnectTimer.Stop()
			}
			return m.Wait()
		}
	}
}

func (m *Manager) onIdling(ctx context.Context, e idlingEvent) {
	m.mu.Lock()
	if e.viaAuth {
		m.relayPort = e.port
	}
	m.authed = true
	m.idleTimestamp = time.Now()
	m.mu.Unlock()
	if e.viaAuth {
		if err := m.announcer.AnnounceOnce(ctx, e.port, e.domainEnabled); err != nil {
			m.log.Warnf("peer announcement failed: %v", err)
		}
	}
}

func (m *Manager) onClosed(e closedEvent) {
	m.mu.Lock()
	delete(m.conns, e.conn.ID())
	if !e.reachedIdling {
		// Spec: bump server_fails on any Closed transition that never
		// reached Idling, unconditional on error class.
		m.serverFails++
	}
	m.mu.Unlock()
}

// needsNewConnection implements spec's exact gate: below max_connections
// AND no automaton currently in a pre-Idling state.
func (m *Manager) needsNewConnection() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.conns) >= m.params.MaxConnections {
		return false
	}
	for _, c := range m.conns {
		if c.State().IsPreIdling() {
			return false
		}
	}
	return true
}

func (m *Manager) spawnIfNeeded(ctx context.Context) {
	if m.needsNewConnection() {
		m.spawnConnection(ctx)
	}
}

func (m *Manager) spawnConnection(ctx context.Context) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	conn := automaton.New(automaton.Params{
		ID:           id,
		Log:          m.log,
		RelayAddr:    m.params.RelayAddr,
		UpstreamAddr: m.params.UpstreamAddr,
		ServerID:     m.params.ServerID,
		Node:         m.params.Node,
		Session:      m.session,
		DomainName:   m.params.DomainName,
		DialTimeout:  m.params.DialTimeout,
	}, m)
	m.conns[id] = conn
	m.mu.Unlock()
	go conn.Run(ctx)
}

// idleCheck walks all automata and records the pool's newest
// keep-alive timestamp for Status(). Per-connection liveness is already
// enforced by each automaton's own keep-alive timeout; this just
// surfaces the freshest of them at pool scope.
func (m *Manager) idleCheck() {
	m.mu.Lock()
	defer m.mu.Unlock()
	newest := m.idleTimestamp
	for _, c := range m.conns {
		if ts := c.LastKeepAlive(); ts.After(newest) {
			newest = ts
		}
	}
	m.idleTimestamp = newest
}

// OnIdling implements automaton.Events.
func (m *Manager) OnIdling(c *automaton.Connection, serverSessionPK [32]byte, assignedPort uint16, domainEnabled bool, viaAuth bool) {
	select {
	case m.events <- idlingEvent{conn: c, serverSessionPK: serverSessionPK, port: assignedPort, domainEnabled: domainEnabled, viaAuth: viaAuth}:
	case <-m.HandlerDoneChan():
	}
}

// OnClosed implements automaton.Events.
func (m *Manager) OnClosed(c *automaton.Connection, err error, reachedIdling bool) {
	select {
	case m.events <- closedEvent{conn: c, err: err, reachedIdling: reachedIdling}:
	case <-m.HandlerDoneChan():
	}
}

// OnUpstreamFailure implements automaton.Events.
func (m *Manager) OnUpstreamFailure(c *automaton.Connection) {
	select {
	case m.events <- upstreamFailureEvent{conn: c}:
	case <-m.HandlerDoneChan():
	}
}

// HandleOnceShutdown closes every live connection and waits for each to
// finish releasing its handles.
func (m *Manager) HandleOnceShutdown(completionErr error) error {
	m.mu.Lock()
	conns := make([]*automaton.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *automaton.Connection) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()
	return completionErr
}

// Close stops the pool and waits for shutdown to complete.
func (m *Manager) Close() error {
	return m.Shutdown(nil)
}

// UpdateLive applies a config hot-reload of the live-reloadable fields
// (maxConnections, domainName) to the running pool, per SPEC_FULL §9:
// serverPeerId/upstreamHost/upstreamPort are not accepted here since an
// in-flight session assumes a fixed server identity and upstream. A raised
// maxConnections is picked up on the next spawn opportunity (idle-check
// tick at the latest); a lowered one is never enforced by forcibly closing
// existing connections, only by admitting fewer new ones.
func (m *Manager) UpdateLive(maxConnections int, domainName string) {
	m.mu.Lock()
	if maxConnections > 0 {
		m.params.MaxConnections = maxConnections
	}
	m.params.DomainName = domainName
	m.mu.Unlock()
	m.announcer.SetDomainName(domainName)
}

// Status returns a snapshot of the pool's observable state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		ServerAddr:     m.params.RelayAddr,
		UpstreamAddr:   m.params.UpstreamAddr,
		RelayPort:      m.relayPort,
		Authenticated:  m.authed,
		InFlight:       len(m.conns),
		MaxConnections: m.params.MaxConnections,
		ServerFails:    m.serverFails,
		UpstreamFails:  m.upstreamFails,
		IdleTimestamp:  m.idleTimestamp,
	}
}
