package monitor

import (
	"sync"

	"github.com/perchlabs/perch/internal/registry"
)

// Service ties the registry to the pool for bulk fleet collection.
type Service struct {
	store *registry.Store
	pool  *Pool
}

// NewService wires a collection service over the given store and pool.
func NewService(store *registry.Store, pool *Pool) *Service {
	return &Service{store: store, pool: pool}
}

// Store exposes the underlying registry for the API layer.
func (s *Service) Store() *registry.Store { return s.store }

// Pool exposes the underlying session pool.
func (s *Service) Pool() *Pool { return s.pool }

// CollectAll probes the fleet in parallel, bounded by the pool's worker
// limit, and returns snapshots in registry order. Disabled servers are
// skipped unless includeDisabled is set, in which case they are probed
// like any other host.
func (s *Service) CollectAll(includeDisabled bool) []*HostStats {
	servers := s.store.List()

	selected := make([]registry.Server, 0, len(servers))
	for _, server := range servers {
		if server.Enabled || includeDisabled {
			selected = append(selected, server)
		}
	}

	results := make([]*HostStats, len(selected))
	sem := make(chan struct{}, s.pool.cfg.MaxWorkers)
	var wg sync.WaitGroup
	for i, server := range selected {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, server registry.Server) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.pool.Collect(server)
		}(i, server)
	}
	wg.Wait()
	return results
}

// CollectOne probes a single server by id.
func (s *Service) CollectOne(serverID string) (*HostStats, bool) {
	server, ok := s.store.Get(serverID)
	if !ok {
		return nil, false
	}
	return s.pool.Collect(server), true
}
