package icinga

import (
	"github.com/icinga/icinga-state-engine/pkg/logging"
	"github.com/icinga/icinga-state-engine/pkg/utils"
	"sync"
	"time"
)

// serviceRef is a non-owning handle to a service: the name re-resolves into
// the registry at read time, the generation detects re-registration under
// the same name. A ref going stale never requires cache notification.
type serviceRef struct {
	name       string
	generation uint64
}

// ServiceCache is a lazily rebuilt index from host name to the services
// belonging to it.
//
// Reads vastly outnumber structural changes during check scheduling, so the
// cache trades a full O(total services) rebuild for invalidation simplicity:
// entries are destroyed wholesale and the whole index is rebuilt on next access.
type ServiceCache struct {
	mu     sync.RWMutex
	valid  bool
	byHost map[string][]serviceRef

	registry *Registry
	logger   *logging.Logger
}

// NewServiceCache returns a new ServiceCache over the given registry.
func NewServiceCache(registry *Registry, logger *logging.Logger) *ServiceCache {
	return &ServiceCache{registry: registry, logger: logger}
}

// GetServices returns the live services belonging to the given host, in name
// order. Stale references are skipped, not pruned - the next full rebuild
// clears them anyway.
func (sc *ServiceCache) GetServices(h *Host) []*Service {
	sc.ValidateServicesCache()

	sc.mu.RLock()
	refs := append([]serviceRef(nil), sc.byHost[h.Name()]...)
	sc.mu.RUnlock()

	services := make([]*Service, 0, len(refs))
	for _, ref := range refs {
		svc, err := sc.registry.Service(ref.name)
		if err != nil || svc.Generation() != ref.generation {
			continue
		}

		services = append(services, svc)
	}

	return services
}

// InvalidateServicesCache marks the cache dirty and clears stored entries
// immediately, so a rebuild is unconditionally required before any
// subsequent read returns data.
func (sc *ServiceCache) InvalidateServicesCache() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.valid = false
	sc.byHost = nil
}

// ValidateServicesCache rebuilds the cache in full if it is marked invalid,
// bucketing every live service by its host's name.
func (sc *ServiceCache) ValidateServicesCache() {
	sc.mu.RLock()
	valid := sc.valid
	sc.mu.RUnlock()

	if valid {
		return
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.valid {
		return
	}

	var count int
	defer utils.Timed(time.Now(), func(elapsed time.Duration) {
		sc.logger.Debugw("Rebuilt services cache", "services", count, "took", elapsed)
	})

	sc.byHost = map[string][]serviceRef{}
	sc.registry.EachService(func(s *Service) {
		sc.byHost[s.HostName()] = append(sc.byHost[s.HostName()], serviceRef{
			name:       s.Name(),
			generation: s.Generation(),
		})
		count++
	})

	sc.valid = true
}
