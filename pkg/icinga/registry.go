package icinga

import (
	"sort"
	"sync"
)

// Registry owns all live Host and Service objects by name.
//
// Its generation counter is bumped on every structural change, letting the
// service cache detect that a name has been re-registered as a new object
// without holding a reference that would keep the old one alive.
type Registry struct {
	mu         sync.RWMutex
	hosts      map[string]*Host
	services   map[string]*Service
	generation uint64
}

// NewRegistry returns a new, empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		hosts:    map[string]*Host{},
		services: map[string]*Service{},
	}
}

// Generation returns the current structural generation.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.generation
}

// Host returns the host with the given name.
func (r *Registry) Host(name string) (*Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.hosts[name]; ok {
		return h, nil
	}

	return nil, &NotFoundError{Type: "Host", Name: name}
}

// Service returns the service with the given name.
func (r *Registry) Service(name string) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.services[name]; ok {
		return s, nil
	}

	return nil, &NotFoundError{Type: "Service", Name: name}
}

// Checkable returns the checkable with the given name, trying services first.
func (r *Registry) Checkable(name string) (*Checkable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.services[name]; ok {
		return &s.Checkable, nil
	}
	if h, ok := r.hosts[name]; ok {
		return &h.Checkable, nil
	}

	return nil, &NotFoundError{Type: "Checkable", Name: name}
}

// HostExists returns whether a host with the given name is registered.
func (r *Registry) HostExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.hosts[name]
	return ok
}

// ServiceExists returns whether a service with the given name is registered.
func (r *Registry) ServiceExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.services[name]
	return ok
}

// RegisterHost registers the given host, replacing any previous host of the same name.
func (r *Registry) RegisterHost(h *Host) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hosts[h.Name()] = h
	r.generation++
}

// DeregisterHost removes the named host and
// returns it, nil if no such host was registered.
func (r *Registry) DeregisterHost(name string) *Host {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.hosts[name]
	if !ok {
		return nil
	}

	delete(r.hosts, name)
	r.generation++

	return h
}

// RegisterService registers the given service, replacing any previous
// service of the same name, and stamps it with the new generation.
func (r *Registry) RegisterService(s *Service) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.generation++
	s.generation = r.generation
	r.services[s.Name()] = s
}

// DeregisterService removes the named service and
// returns it, nil if no such service was registered.
func (r *Registry) DeregisterService(name string) *Service {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.services[name]
	if !ok {
		return nil
	}

	delete(r.services, name)
	r.generation++

	return s
}

// EachHost calls f for every registered host, in name order.
func (r *Registry) EachHost(f func(*Host)) {
	r.mu.RLock()
	hosts := make([]*Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		hosts = append(hosts, h)
	}
	r.mu.RUnlock()

	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Name() < hosts[j].Name() })
	for _, h := range hosts {
		f(h)
	}
}

// EachService calls f for every registered service, in name order.
func (r *Registry) EachService(f func(*Service)) {
	r.mu.RLock()
	services := make([]*Service, 0, len(r.services))
	for _, s := range r.services {
		services = append(services, s)
	}
	r.mu.RUnlock()

	sort.Slice(services, func(i, j int) bool { return services[i].Name() < services[j].Name() })
	for _, s := range services {
		f(s)
	}
}
