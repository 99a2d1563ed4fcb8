package hub

import (
	"sync"
	"time"

	"github.com/perchlabs/perch/internal/logger"
	"github.com/perchlabs/perch/internal/monitor"
	"github.com/perchlabs/perch/internal/registry"
)

// Registry is the roster view the hub needs.
type Registry interface {
	List() []registry.Server
	Get(id string) (registry.Server, bool)
}

// CollectFunc produces a snapshot for one server. The pool's Collect
// fits; it never fails, it degrades to an error snapshot.
type CollectFunc func(registry.Server) *monitor.HostStats

// Config carries the hub's scheduling tunables.
type Config struct {
	Tick                  time.Duration
	MinInterval           time.Duration
	MaxInterval           time.Duration
	DefaultInterval       time.Duration
	Pm2DetailLimit        int
	SupervisorDetailLimit int
	MaxWorkers            int
}

// Subscription is one socket's standing request for a server's stats.
type Subscription struct {
	Interval time.Duration
	Detail   string
}

// cacheEntry holds the last broadcast payload for a server, keyed by
// the detail level it was built at.
type cacheEntry struct {
	payload   serverPayload
	detail    string
	fetchedAt time.Time
}

// Hub owns all subscription and cache state under one lock. Blocking
// collection runs on worker goroutines bounded by a semaphore; the
// lock is never held across remote I/O.
type Hub struct {
	cfg     Config
	reg     Registry
	collect CollectFunc
	log     logger.Logger
	now     func() time.Time

	mu       sync.Mutex
	clients  map[*Client]struct{}
	subs     map[string]map[*Client]Subscription
	cache    map[string]*cacheEntry
	inFlight map[string]bool

	sem      chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// New builds a hub over the given roster and collection function.
func New(cfg Config, reg Registry, collect CollectFunc, log logger.Logger) *Hub {
	if cfg.Tick <= 0 {
		cfg.Tick = 500 * time.Millisecond
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Hub{
		cfg:      cfg,
		reg:      reg,
		collect:  collect,
		log:      log,
		now:      time.Now,
		clients:  make(map[*Client]struct{}),
		subs:     make(map[string]map[*Client]Subscription),
		cache:    make(map[string]*cacheEntry),
		inFlight: make(map[string]bool),
		sem:      make(chan struct{}, cfg.MaxWorkers),
		stop:     make(chan struct{}),
	}
}

// Register attaches a new socket and starts its write pump.
func (h *Hub) Register(conn Conn) *Client {
	c := newClient(h, conn)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	go c.writePump()
	return c
}

// Disconnect removes a socket from every subscription and stops its
// write pump. Idempotent; called on read errors, write errors and
// full send buffers alike.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	for serverID, clients := range h.subs {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.subs, serverID)
		}
	}
	h.mu.Unlock()
	c.close()
}

// HandleMessage processes one raw client message. Malformed or unknown
// messages are dropped without a reply.
func (h *Hub) HandleMessage(c *Client, data []byte) {
	msg, ok := decodeInbound(data)
	if !ok {
		return
	}
	switch msg.Type {
	case msgListSubscribe:
		h.sendList(c, msg.IncludeDisabled)
	case msgServerSubscribe:
		if msg.ServerID == "" {
			return
		}
		interval := normalizeInterval(msg.IntervalMS, h.cfg.MinInterval, h.cfg.MaxInterval, h.cfg.DefaultInterval)
		h.Subscribe(c, msg.ServerID, Subscription{
			Interval: interval,
			Detail:   normalizeDetail(msg.Detail),
		})
	case msgServerUnsubscribe:
		h.Unsubscribe(c, msg.ServerID)
	}
}

// sendList replies immediately with the current roster.
func (h *Hub) sendList(c *Client, includeDisabled bool) {
	servers := []listServer{}
	for _, server := range h.reg.List() {
		if !server.Enabled && !includeDisabled {
			continue
		}
		servers = append(servers, listServer{
			ServerID:   server.ID,
			ServerName: server.DisplayName(),
			Host:       server.Host,
			Enabled:    server.Enabled,
			Tags:       server.Tags,
		})
	}
	h.deliver(c, listUpdate{Type: msgListUpdate, Servers: servers, TS: h.timestamp()})
}

// Subscribe registers or overwrites one socket's subscription. A cache
// entry at the same detail level is delivered immediately so the
// subscriber doesn't wait out the current interval.
func (h *Hub) Subscribe(c *Client, serverID string, sub Subscription) {
	h.mu.Lock()
	clients, ok := h.subs[serverID]
	if !ok {
		clients = make(map[*Client]Subscription)
		h.subs[serverID] = clients
	}
	clients[c] = sub

	var cached interface{}
	if entry, ok := h.cache[serverID]; ok && entry.detail == sub.Detail {
		cached = serverUpdate{
			Type:   msgServerUpdate,
			Server: entry.payload,
			Detail: entry.detail,
			TS:     h.timestamp(),
		}
	}
	h.mu.Unlock()

	if cached != nil {
		h.deliver(c, cached)
	}
}

// Unsubscribe removes one socket's subscription for one server.
func (h *Hub) Unsubscribe(c *Client, serverID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.subs[serverID]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.subs, serverID)
	}
}

// Run drives the scheduler until Stop. Meant to be started as a
// goroutine by the daemon.
func (h *Hub) Run() {
	ticker := time.NewTicker(h.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

// Stop halts the scheduler loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// tick evaluates dueness for every subscribed server and dispatches
// refreshes for the due ones that aren't already in flight.
func (h *Hub) tick() {
	now := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()
	for serverID, clients := range h.subs {
		if len(clients) == 0 || h.inFlight[serverID] {
			continue
		}
		interval, detail := activeDemand(clients)
		if !h.dueLocked(serverID, now, interval, detail) {
			continue
		}
		h.inFlight[serverID] = true
		go h.refresh(serverID, detail)
	}
}

// activeDemand folds all subscriptions for a server into the effective
// polling interval (the minimum) and detail level (full if anyone
// asked for it).
func activeDemand(clients map[*Client]Subscription) (time.Duration, string) {
	var interval time.Duration
	detail := DetailSummary
	first := true
	for _, sub := range clients {
		if first || sub.Interval < interval {
			interval = sub.Interval
			first = false
		}
		if sub.Detail == DetailFull {
			detail = DetailFull
		}
	}
	return interval, detail
}

// dueLocked reports whether a server needs a refresh now. Detail
// upgrades force a refetch; a cache that is richer than demanded is
// served until its natural expiry.
func (h *Hub) dueLocked(serverID string, now time.Time, interval time.Duration, detail string) bool {
	entry, ok := h.cache[serverID]
	if !ok {
		return true
	}
	if now.Sub(entry.fetchedAt) >= interval {
		return true
	}
	return detail == DetailFull && entry.detail != DetailFull
}

// refresh collects one server on a bounded worker, then re-enters the
// hub lock to cache and broadcast. A server that vanished from the
// registry produces an error message and leaves the cache untouched.
func (h *Hub) refresh(serverID, detail string) {
	h.sem <- struct{}{}
	defer func() { <-h.sem }()

	server, ok := h.reg.Get(serverID)
	if !ok {
		h.mu.Lock()
		failed := h.broadcastLocked(serverID, serverError{
			Type:     msgServerError,
			ServerID: serverID,
			Error:    "server not found",
			TS:       h.timestamp(),
		})
		delete(h.inFlight, serverID)
		h.mu.Unlock()
		h.disconnectAll(failed)
		return
	}

	stats := h.collect(server)
	payload := buildPayload(stats, detail, h.cfg.Pm2DetailLimit, h.cfg.SupervisorDetailLimit)

	h.mu.Lock()
	h.cache[serverID] = &cacheEntry{payload: payload, detail: detail, fetchedAt: h.now()}
	failed := h.broadcastLocked(serverID, serverUpdate{
		Type:   msgServerUpdate,
		Server: payload,
		Detail: detail,
		TS:     h.timestamp(),
	})
	delete(h.inFlight, serverID)
	h.mu.Unlock()
	h.disconnectAll(failed)
}

// broadcastLocked enqueues a message to every subscriber of a server
// and returns the clients whose buffers rejected it. The hub lock must
// be held; actual disconnection happens after it is released.
func (h *Hub) broadcastLocked(serverID string, msg interface{}) []*Client {
	var failed []*Client
	for c := range h.subs[serverID] {
		if !c.enqueue(msg) {
			failed = append(failed, c)
		}
	}
	return failed
}

// deliver enqueues a direct reply, dropping the client on failure.
func (h *Hub) deliver(c *Client, msg interface{}) {
	if !c.enqueue(msg) {
		h.Disconnect(c)
	}
}

func (h *Hub) disconnectAll(clients []*Client) {
	for _, c := range clients {
		h.log.Debug("dropping slow hub client")
		h.Disconnect(c)
	}
}

func (h *Hub) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}
