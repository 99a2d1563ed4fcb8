package monitor

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/perchlabs/perch/internal/logger"
	"github.com/perchlabs/perch/internal/registry"
	"github.com/perchlabs/perch/pkg/sshutil"
)

// session is the slice of sshutil.Client the pool needs; tests swap in
// fakes via the pool's dial hook.
type session interface {
	sshutil.Runner
	IsActive() bool
	Close() error
}

// poolEntry guards one server's persistent session. The lock is held
// across dial and probe I/O so a server is only ever talked to by one
// goroutine at a time; distinct servers proceed in parallel.
type poolEntry struct {
	mu      sync.Mutex
	server  registry.Server
	session session
	// lastErr is the most recent connect or collect failure, cleared
	// once a session is live again. Diagnostic state only.
	lastErr error
}

// PoolConfig carries the tunables the pool needs from the main config.
type PoolConfig struct {
	SSHTimeout     time.Duration
	CommandTimeout time.Duration
	Keepalive      time.Duration
	SweepInterval  time.Duration
	MaxWorkers     int
	// KeysDir anchors relative key paths stored in the registry.
	KeysDir string
}

// Pool maintains one persistent SSH session per server, reconnecting
// on demand and sweeping for dead sessions in the background.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*poolEntry

	cfg       PoolConfig
	collector *Collector
	log       logger.Logger

	dial func(opts sshutil.Options) (session, error)

	sweepOnce sync.Once
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewPool creates an empty pool. Call WarmConnections to register the
// fleet and start the health sweep.
func NewPool(cfg PoolConfig, log logger.Logger) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Pool{
		entries:   make(map[string]*poolEntry),
		cfg:       cfg,
		collector: NewCollector(cfg.CommandTimeout),
		log:       log,
		dial: func(opts sshutil.Options) (session, error) {
			return sshutil.Dial(opts)
		},
		stop: make(chan struct{}),
	}
}

// Register makes the pool aware of a server without connecting yet.
// Re-registering updates the stored definition; the next probe picks up
// changed credentials because a stale session fails its health check
// or its probes.
//
// The pool lock is never held while waiting on an entry lock: an entry
// lock is held across dial and probe I/O, so queueing on it here would
// stall every other server's collection behind one slow host.
func (p *Pool) Register(server registry.Server) {
	p.mu.Lock()
	entry, ok := p.entries[server.ID]
	if !ok {
		p.entries[server.ID] = &poolEntry{server: server}
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	entry.mu.Lock()
	entry.server = server
	entry.mu.Unlock()
}

// Remove drops a server from the pool and closes its session.
func (p *Pool) Remove(serverID string) {
	p.mu.Lock()
	entry, ok := p.entries[serverID]
	delete(p.entries, serverID)
	p.mu.Unlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.session != nil {
		entry.session.Close()
		entry.session = nil
	}
}

// WarmConnections registers the given servers, pre-connects the enabled
// ones with a bounded worker group, and starts the background sweep.
// Connection failures are logged, not returned; the lazy reconnect in
// Collect retries them.
func (p *Pool) WarmConnections(servers []registry.Server) {
	for _, server := range servers {
		p.Register(server)
	}

	sem := make(chan struct{}, p.cfg.MaxWorkers)
	var wg sync.WaitGroup
	for _, server := range servers {
		if !server.Enabled {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			if entry := p.entry(id); entry != nil {
				entry.mu.Lock()
				defer entry.mu.Unlock()
				if err := p.ensureConnectedLocked(entry); err != nil {
					p.log.Debug("warm connect %s failed: %v", id, err)
				}
			}
		}(server.ID)
	}
	wg.Wait()

	p.sweepOnce.Do(func() { go p.sweepLoop() })
}

// Stop halts the sweep and closes every session.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mu.Lock()
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		entries = append(entries, entry)
	}
	p.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		if entry.session != nil {
			entry.session.Close()
			entry.session = nil
		}
		entry.mu.Unlock()
	}
}

func (p *Pool) entry(serverID string) *poolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries[serverID]
}

// ensureConnectedLocked returns a live session for the entry, reusing
// the existing one when its health check passes and redialing
// otherwise. The entry lock must be held.
func (p *Pool) ensureConnectedLocked(entry *poolEntry) error {
	if entry.session != nil {
		if entry.session.IsActive() {
			entry.lastErr = nil
			return nil
		}
		entry.session.Close()
		entry.session = nil
	}

	server := entry.server
	endpoint := sshutil.ResolveEndpoint(server.Host, server.Port, server.User)
	keyPath := server.KeyPath
	if keyPath != "" && !filepath.IsAbs(keyPath) {
		keyPath = filepath.Join(p.cfg.KeysDir, keyPath)
	}

	sess, err := p.dial(sshutil.Options{
		Host:      endpoint.Host,
		Port:      endpoint.Port,
		User:      endpoint.User,
		Password:  server.Password,
		KeyPath:   keyPath,
		Timeout:   p.cfg.SSHTimeout,
		KeepAlive: p.cfg.Keepalive,
	})
	if err != nil {
		entry.lastErr = err
		return err
	}
	entry.session = sess
	entry.lastErr = nil
	return nil
}

// Collect probes one server over its pooled session. All failures
// degrade to an error snapshot: the caller always gets stats it can
// render. A collection failure also drops the session so the next call
// starts from a fresh dial.
func (p *Pool) Collect(server registry.Server) *HostStats {
	p.Register(server)
	entry := p.entry(server.ID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := p.ensureConnectedLocked(entry); err != nil {
		p.log.Debug("connect %s failed: %v", server.DisplayName(), err)
		return ErrorStats(server, err.Error())
	}

	stats, err := p.collector.Collect(entry.session, entry.server)
	if err != nil {
		p.log.Debug("collect %s failed: %v", server.DisplayName(), err)
		entry.session.Close()
		entry.session = nil
		entry.lastErr = err
		return ErrorStats(server, err.Error())
	}
	return stats
}

// sweepLoop periodically health-checks every pooled session and
// reconnects dead ones, so a server that rebooted is live again before
// the next subscriber asks for it.
func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	p.mu.Lock()
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		entries = append(entries, entry)
	}
	p.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		if entry.server.Enabled {
			if err := p.ensureConnectedLocked(entry); err != nil {
				p.log.Debug("sweep: reconnect %s failed: %v", entry.server.DisplayName(), err)
			}
		}
		entry.mu.Unlock()
	}
}
