package activeproxy

import (
	"bytes"
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/relaymesh/activeproxy/internal/logging"
)

// LiveUpdate carries the subset of configuration that may change while
// the pool is running, per SPEC_FULL §9's config hot-reload supplement.
type LiveUpdate struct {
	MaxConnections int
	DomainName     string
}

// ConfigWatcher watches a config file for changes and reports the
// live-reloadable subset of its fields (maxConnections, domainName).
// serverPeerId/upstreamHost/upstreamPort changes are logged but not
// applied, since a session in progress assumes a fixed upstream and
// server identity.
type ConfigWatcher struct {
	path    string
	log     logging.Logger
	watcher *fsnotify.Watcher
	updates chan LiveUpdate
	last    Config
	done    chan struct{}
}

// NewConfigWatcher begins watching path, starting from the already-loaded
// initial config.
func NewConfigWatcher(path string, initial Config, log logging.Logger) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watching %s: %w", path, err)
	}
	cw := &ConfigWatcher{
		path:    path,
		log:     log,
		watcher: w,
		updates: make(chan LiveUpdate, 1),
		last:    initial,
		done:    make(chan struct{}),
	}
	go cw.run()
	return cw, nil
}

func (cw *ConfigWatcher) run() {
	defer close(cw.done)
	for {
		select {
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cw.reload()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.log.Warnf("config: watch error on %s: %v", cw.path, err)
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, err := LoadConfig(cw.path)
	if err != nil {
		cw.log.Warnf("config: reload of %s failed, keeping previous config: %v", cw.path, err)
		return
	}
	if !bytes.Equal(cfg.ServerPeerID, cw.last.ServerPeerID) ||
		cfg.UpstreamHost != cw.last.UpstreamHost ||
		cfg.UpstreamPort != cw.last.UpstreamPort {
		cw.log.Warnf("config: serverPeerId/upstreamHost/upstreamPort changed in %s; restart the pool to apply", cw.path)
	}
	if cfg.MaxConnections != cw.last.MaxConnections || cfg.DomainName != cw.last.DomainName {
		cw.last.MaxConnections = cfg.MaxConnections
		cw.last.DomainName = cfg.DomainName
		update := LiveUpdate{MaxConnections: cfg.MaxConnections, DomainName: cfg.DomainName}
		select {
		case cw.updates <- update:
		default:
			// drop the stale pending update in favor of this newer one
			select {
			case <-cw.updates:
			default:
			}
			cw.updates <- update
		}
	}
}

// Updates returns the channel of live-reloadable config changes.
func (cw *ConfigWatcher) Updates() <-chan LiveUpdate {
	return cw.updates
}

// Close stops watching and releases the underlying fsnotify watcher.
func (cw *ConfigWatcher) Close() error {
	err := cw.watcher.Close()
	<-cw.done
	return err
}
