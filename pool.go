// Package activeproxy implements an active reverse-tunnel client: it
// dials out to a rendezvous server, authenticates with a node-identity
// keypair, and maintains a pool of authenticated TCP sessions over which
// the server may demultiplex inbound connections to a local upstream TCP
// service.
package activeproxy

import (
	"context"
	"fmt"

	"github.com/relaymesh/activeproxy/internal/logging"
	"github.com/relaymesh/activeproxy/internal/poolmgr"
)

// Pool is the lifecycle controller (spec.md §2 "Lifecycle controller"):
// start/stop orchestration around a Pool Manager.
type Pool struct {
	log     logging.Logger
	mgr     *poolmgr.Manager
	watcher *ConfigWatcher
	cancel  context.CancelFunc
	runDone chan error
}

// NewPool constructs a Pool. Call Initialize to begin connecting.
func NewPool(log logging.Logger) *Pool {
	if log == nil {
		log = logging.Nop()
	}
	return &Pool{log: log}
}

// Initialize parses config, resolves serverAddr via node's DHT lookup of
// ServerPeerID and upstreamAddr via plain host resolution, then spawns
// the pool's worker goroutine, which makes the first connect attempt. It
// returns as soon as both hosts are resolved and that goroutine has been
// started; it does not wait for the first connect attempt to be
// dispatched, nor for authentication to succeed.
//
// node and resolver are typically the same surrounding object satisfying
// both interfaces; they are split here because spec.md treats identity
// operations (Node) and host resolution (Resolver) as separately
// substitutable collaborators.
func (p *Pool) Initialize(ctx context.Context, n Node, resolver Resolver, configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	return p.initializeWithConfig(ctx, n, resolver, configPath, cfg)
}

func (p *Pool) initializeWithConfig(ctx context.Context, n Node, resolver Resolver, configPath string, cfg *Config) error {
	serverID, err := cfg.serverNodeID()
	if err != nil {
		return err
	}

	serverAddr, err := resolver.Resolve(ctx, hexID(serverID), 0)
	if err != nil {
		return fmt.Errorf("activeproxy: resolving server %s: %w", hexID(serverID), err)
	}
	upstreamAddr, err := resolver.Resolve(ctx, cfg.UpstreamHost, cfg.UpstreamPort)
	if err != nil {
		return fmt.Errorf("activeproxy: resolving upstream %s:%d: %w", cfg.UpstreamHost, cfg.UpstreamPort, err)
	}
	peerKP, err := cfg.peerKeyPair()
	if err != nil {
		return fmt.Errorf("activeproxy: deriving peer keypair: %w", err)
	}

	mgr, err := poolmgr.New(poolmgr.Params{
		Log:            p.log,
		RelayAddr:      serverAddr,
		UpstreamAddr:   upstreamAddr,
		ServerID:       serverID,
		Node:           n,
		DomainName:     cfg.DomainName,
		MaxConnections: cfg.MaxConnections,
		PeerKeyPair:    peerKP,
	})
	if err != nil {
		return err
	}
	p.mgr = mgr

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.runDone = make(chan error, 1)
	go func() {
		p.runDone <- mgr.Run(runCtx)
	}()

	watcher, err := NewConfigWatcher(configPath, *cfg, p.log)
	if err != nil {
		p.log.Warnf("config hot-reload disabled: %v", err)
	} else {
		p.watcher = watcher
		go p.watchConfig()
	}
	return nil
}

func (p *Pool) watchConfig() {
	for update := range p.watcher.Updates() {
		p.log.Infof("applying live config update: max_connections=%d domain=%q", update.MaxConnections, update.DomainName)
		p.mgr.UpdateLive(update.MaxConnections, update.DomainName)
	}
}

// Deinitialize stops the pool and waits for it to finish releasing all
// handles.
func (p *Pool) Deinitialize() error {
	if p.watcher != nil {
		p.watcher.Close()
	}
	if p.mgr == nil {
		return nil
	}
	err := p.mgr.Close()
	if p.cancel != nil {
		p.cancel()
	}
	return err
}

// IsInitialized reports whether the pool's worker is running.
func (p *Pool) IsInitialized() bool {
	return p.mgr != nil && !p.mgr.IsDone()
}

// Status returns a snapshot of the pool's observable state.
func (p *Pool) Status() Status {
	if p.mgr == nil {
		return Status{}
	}
	s := p.mgr.Status()
	return Status{
		Server:         s.ServerAddr,
		Upstream:       s.UpstreamAddr,
		RelayPort:      s.RelayPort,
		Authenticated:  s.Authenticated,
		ConnectionCount: s.InFlight,
		MaxConnections: s.MaxConnections,
		ServerFails:    s.ServerFails,
		UpstreamFails:  s.UpstreamFails,
		IdleTimestamp:  s.IdleTimestamp,
	}
}

func hexID(id NodeID) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 0, len(id)*2)
	for _, b := range id {
		buf = append(buf, hexDigits[b>>4], hexDigits[b&0xF])
	}
	return string(buf)
}
