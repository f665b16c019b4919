package icinga

import (
	"fmt"
	"github.com/icinga/icinga-state-engine/pkg/logging"
	"github.com/icinga/icinga-state-engine/pkg/types"
	"github.com/icinga/icinga-state-engine/pkg/utils"
)

// DependencyResolver computes parent hosts and services and aggregate
// reachability. It reads the registry and the downtime index without
// mutating them.
type DependencyResolver struct {
	registry  *Registry
	downtimes *DowntimeIndex
	logger    *logging.Logger
}

// NewDependencyResolver returns a new DependencyResolver.
func NewDependencyResolver(registry *Registry, downtimes *DowntimeIndex, logger *logging.Logger) *DependencyResolver {
	return &DependencyResolver{registry: registry, downtimes: downtimes, logger: logger}
}

// ResolveService resolves a service dependency name in the context of the
// named host: the co-located "<hostname>-<name>" service wins, the bare name
// is tried as a fully-qualified service name second.
func (r *DependencyResolver) ResolveService(hostName, name string) (*Service, error) {
	if combined := utils.JoinNames(hostName, name); r.registry.ServiceExists(combined) {
		return r.registry.Service(combined)
	}

	return r.registry.Service(name)
}

// ParentHosts resolves the host's host dependencies to Host objects.
// A host listed as its own dependency is skipped, not an error.
func (r *DependencyResolver) ParentHosts(h *Host) ([]*Host, error) {
	var parents []*Host
	for _, name := range h.HostDependencies() {
		if name == h.Name() {
			continue
		}

		parent, err := r.registry.Host(name)
		if err != nil {
			return nil, err
		}

		parents = append(parents, parent)
	}

	return parents, nil
}

// ParentServices resolves the host's service dependencies through ResolveService.
func (r *DependencyResolver) ParentServices(h *Host) ([]*Service, error) {
	var parents []*Service
	for _, name := range h.ServiceDependencies() {
		parent, err := r.ResolveService(h.Name(), name)
		if err != nil {
			return nil, err
		}

		parents = append(parents, parent)
	}

	return parents, nil
}

// IsReachable returns whether the host can be assumed checkable at all:
// false if any parent service is in a confirmed problem state, or if any
// parent host is down.
//
// Pending parents (no check result yet) and soft states are ignored -
// only confirmed problems block reachability. A parent service whose
// problem is covered by an active downtime does not block either.
func (r *DependencyResolver) IsReachable(h *Host) (bool, error) {
	parents, err := r.ParentServices(h)
	if err != nil {
		return false, err
	}

	for _, svc := range parents {
		// ignore pending services
		if svc.LastCheckResult() == nil {
			continue
		}

		// ignore soft states
		if svc.StateType() == types.StateTypeSoft {
			continue
		}

		if s := svc.State(); s == types.StateOK || s == types.StateWarning {
			continue
		}

		if r.downtimes.IsInDowntime(&svc.Checkable) {
			continue
		}

		return false, nil
	}

	parentHosts, err := r.ParentHosts(h)
	if err != nil {
		return false, err
	}

	for _, parent := range parentHosts {
		up, err := r.IsUp(parent)
		if err != nil {
			return false, err
		}

		if !up {
			return false, nil
		}
	}

	return true, nil
}

// IsUp returns whether the host is up. A host without hostchecks is always
// up; otherwise every remaining hostcheck service must be OK or Warning.
// Hostcheck services whose own dependency ancestors are in a confirmed
// problem state are excluded first - their failure is already accounted
// for upstream.
func (r *DependencyResolver) IsUp(h *Host) (bool, error) {
	names := h.HostChecks()
	if len(names) == 0 {
		return true, nil
	}

	services, err := r.resolveHostChecks(h, names)
	if err != nil {
		return false, err
	}

	for _, svc := range services {
		if s := svc.State(); s != types.StateOK && s != types.StateWarning {
			return false, nil
		}
	}

	return true, nil
}

// HostCheckService resolves the host's singular hostcheck service,
// nil if none is configured.
func (r *DependencyResolver) HostCheckService(h *Host) (*Service, error) {
	name := h.HostCheck()
	if name == "" {
		return nil, nil
	}

	return r.ResolveService(h.Name(), name)
}

// resolveHostChecks resolves the given hostcheck names and filters out
// services excluded by their own dependency ancestors.
func (r *DependencyResolver) resolveHostChecks(h *Host, names []string) ([]*Service, error) {
	var services []*Service
	for _, name := range names {
		svc, err := r.ResolveService(h.Name(), name)
		if err != nil {
			return nil, err
		}

		excluded, err := r.excludedByAncestors(svc, map[string]struct{}{})
		if err != nil {
			return nil, err
		}

		if !excluded {
			services = append(services, svc)
		}
	}

	return services, nil
}

// excludedByAncestors walks the service's dependency ancestors and reports
// whether any of them is in a confirmed problem state. The visited set holds
// the names on the current traversal path; meeting one again means the
// dependency graph is cyclic, which fails with a ConfigurationError instead
// of recursing unboundedly.
func (r *DependencyResolver) excludedByAncestors(svc *Service, visited map[string]struct{}) (bool, error) {
	if _, onPath := visited[svc.Name()]; onPath {
		return false, &ConfigurationError{
			Message: fmt.Sprintf("dependency cycle detected at service %q", svc.Name()),
		}
	}

	visited[svc.Name()] = struct{}{}
	defer delete(visited, svc.Name())

	for _, name := range svc.ServiceDependencies() {
		parent, err := r.ResolveService(svc.HostName(), name)
		if err != nil {
			return false, err
		}

		if parent.LastCheckResult() != nil && parent.StateType() == types.StateTypeHard && parent.State().IsProblem() {
			return true, nil
		}

		excluded, err := r.excludedByAncestors(parent, visited)
		if err != nil {
			return false, err
		}
		if excluded {
			return true, nil
		}
	}

	return false, nil
}
