package icinga

import (
	"github.com/icinga/icinga-state-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type depFixture struct {
	registry *Registry
	index    *DowntimeIndex
	resolver *DependencyResolver
}

func newDepFixture(t *testing.T) *depFixture {
	registry := NewRegistry()
	index := NewDowntimeIndex(registry, testLogger(t))

	return &depFixture{
		registry: registry,
		index:    index,
		resolver: NewDependencyResolver(registry, index, testLogger(t)),
	}
}

func (f *depFixture) host(name string, attrs func(*Host)) *Host {
	h := NewHost(name)
	if attrs != nil {
		attrs(h)
	}
	f.registry.RegisterHost(h)

	return h
}

func (f *depFixture) service(name, hostName string, state types.State, stateType types.StateType) *Service {
	s := NewService(name, hostName)
	s.applyCheckResult(state, stateType, "", time.Now())
	f.registry.RegisterService(s)

	return s
}

// pendingService registers a service that has never been checked.
func (f *depFixture) pendingService(name, hostName string) *Service {
	s := NewService(name, hostName)
	f.registry.RegisterService(s)

	return s
}

func TestDependencyResolver_ResolveService(t *testing.T) {
	t.Run("CombinedNameWins", func(t *testing.T) {
		f := newDepFixture(t)
		combined := f.service("web01-ping", "web01", types.StateOK, types.StateTypeHard)
		f.service("ping", "other", types.StateOK, types.StateTypeHard)

		svc, err := f.resolver.ResolveService("web01", "ping")
		require.NoError(t, err)
		assert.Same(t, combined, svc)
	})

	t.Run("BareNameFallback", func(t *testing.T) {
		f := newDepFixture(t)
		bare := f.service("ping", "other", types.StateOK, types.StateTypeHard)

		svc, err := f.resolver.ResolveService("web01", "ping")
		require.NoError(t, err)
		assert.Same(t, bare, svc)
	})

	t.Run("NotFound", func(t *testing.T) {
		f := newDepFixture(t)

		_, err := f.resolver.ResolveService("web01", "ping")
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})
}

func TestDependencyResolver_ParentHosts(t *testing.T) {
	t.Run("SelfReferenceSkipped", func(t *testing.T) {
		f := newDepFixture(t)
		parent := f.host("gw01", nil)
		h := f.host("web01", func(h *Host) {
			h.hostDependencies = map[string]interface{}{"web01": nil, "gw01": nil}
		})

		parents, err := f.resolver.ParentHosts(h)
		require.NoError(t, err)
		require.Len(t, parents, 1)
		assert.Same(t, parent, parents[0])
	})

	t.Run("DanglingReferenceFails", func(t *testing.T) {
		f := newDepFixture(t)
		h := f.host("web01", func(h *Host) {
			h.hostDependencies = map[string]interface{}{"gone": nil}
		})

		_, err := f.resolver.ParentHosts(h)
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})
}

func TestDependencyResolver_IsReachable(t *testing.T) {
	t.Run("NoDependencies", func(t *testing.T) {
		f := newDepFixture(t)
		h := f.host("web01", nil)

		reachable, err := f.resolver.IsReachable(h)
		require.NoError(t, err)
		assert.True(t, reachable)
	})

	t.Run("HardProblemParentBlocks", func(t *testing.T) {
		f := newDepFixture(t)
		f.service("gw01-uplink", "gw01", types.StateCritical, types.StateTypeHard)
		h := f.host("web01", func(h *Host) {
			h.serviceDependencies = map[string]interface{}{"gw01-uplink": nil}
		})

		reachable, err := f.resolver.IsReachable(h)
		require.NoError(t, err)
		assert.False(t, reachable)
	})

	t.Run("SoftProblemParentIgnored", func(t *testing.T) {
		f := newDepFixture(t)
		f.service("gw01-uplink", "gw01", types.StateCritical, types.StateTypeSoft)
		h := f.host("web01", func(h *Host) {
			h.serviceDependencies = map[string]interface{}{"gw01-uplink": nil}
		})

		reachable, err := f.resolver.IsReachable(h)
		require.NoError(t, err)
		assert.True(t, reachable)
	})

	t.Run("PendingParentIgnored", func(t *testing.T) {
		f := newDepFixture(t)
		f.pendingService("gw01-uplink", "gw01")
		h := f.host("web01", func(h *Host) {
			h.serviceDependencies = map[string]interface{}{"gw01-uplink": nil}
		})

		reachable, err := f.resolver.IsReachable(h)
		require.NoError(t, err)
		assert.True(t, reachable)
	})

	t.Run("WarningParentIgnored", func(t *testing.T) {
		f := newDepFixture(t)
		f.service("gw01-uplink", "gw01", types.StateWarning, types.StateTypeHard)
		h := f.host("web01", func(h *Host) {
			h.serviceDependencies = map[string]interface{}{"gw01-uplink": nil}
		})

		reachable, err := f.resolver.IsReachable(h)
		require.NoError(t, err)
		assert.True(t, reachable)
	})

	t.Run("ParentInDowntimeIgnored", func(t *testing.T) {
		f := newDepFixture(t)
		parent := f.service("gw01-uplink", "gw01", types.StateCritical, types.StateTypeHard)
		h := f.host("web01", func(h *Host) {
			h.serviceDependencies = map[string]interface{}{"gw01-uplink": nil}
		})

		f.index.ScheduleDowntime(&parent.Checkable, "icingaadmin", "planned",
			time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

		reachable, err := f.resolver.IsReachable(h)
		require.NoError(t, err)
		assert.True(t, reachable)
	})

	t.Run("DownParentHostBlocks", func(t *testing.T) {
		f := newDepFixture(t)
		f.service("gw01-ping", "gw01", types.StateCritical, types.StateTypeHard)
		f.host("gw01", func(h *Host) {
			h.hostchecks = []string{"ping"}
		})
		h := f.host("web01", func(h *Host) {
			h.hostDependencies = map[string]interface{}{"gw01": nil}
		})

		reachable, err := f.resolver.IsReachable(h)
		require.NoError(t, err)
		assert.False(t, reachable)
	})
}

func TestDependencyResolver_IsUp(t *testing.T) {
	t.Run("NoHostchecks", func(t *testing.T) {
		f := newDepFixture(t)
		h := f.host("web01", nil)

		up, err := f.resolver.IsUp(h)
		require.NoError(t, err)
		assert.True(t, up)
	})

	t.Run("AllHostchecksOK", func(t *testing.T) {
		f := newDepFixture(t)
		f.service("web01-ping", "web01", types.StateOK, types.StateTypeHard)
		f.service("web01-ssh", "web01", types.StateWarning, types.StateTypeHard)
		h := f.host("web01", func(h *Host) {
			h.hostchecks = []string{"ping", "ssh"}
		})

		up, err := f.resolver.IsUp(h)
		require.NoError(t, err)
		assert.True(t, up)
	})

	t.Run("CriticalHostcheck", func(t *testing.T) {
		f := newDepFixture(t)
		f.service("web01-ping", "web01", types.StateCritical, types.StateTypeHard)
		h := f.host("web01", func(h *Host) {
			h.hostchecks = []string{"ping"}
		})

		up, err := f.resolver.IsUp(h)
		require.NoError(t, err)
		assert.False(t, up)
	})

	t.Run("FailedAncestorExcludesHostcheck", func(t *testing.T) {
		f := newDepFixture(t)

		// The hostcheck is critical, but so is its own dependency: the
		// failure is accounted for upstream and the hostcheck is excluded.
		f.service("core01-uplink", "core01", types.StateCritical, types.StateTypeHard)
		ping := f.pendingService("web01-ping", "web01")
		ping.serviceDependencies = map[string]interface{}{"core01-uplink": nil}
		ping.applyCheckResult(types.StateCritical, types.StateTypeHard, "", time.Now())

		h := f.host("web01", func(h *Host) {
			h.hostchecks = []string{"ping"}
		})

		up, err := f.resolver.IsUp(h)
		require.NoError(t, err)
		assert.True(t, up)
	})

	t.Run("CycleFails", func(t *testing.T) {
		f := newDepFixture(t)

		a := f.service("web01-a", "web01", types.StateOK, types.StateTypeHard)
		b := f.service("web01-b", "web01", types.StateOK, types.StateTypeHard)
		a.serviceDependencies = map[string]interface{}{"web01-b": nil}
		b.serviceDependencies = map[string]interface{}{"web01-a": nil}

		h := f.host("web01", func(h *Host) {
			h.hostchecks = []string{"a"}
		})

		_, err := f.resolver.IsUp(h)
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("DiamondIsNoCycle", func(t *testing.T) {
		f := newDepFixture(t)

		f.service("web01-shared", "web01", types.StateOK, types.StateTypeHard)
		a := f.service("web01-a", "web01", types.StateOK, types.StateTypeHard)
		b := f.service("web01-b", "web01", types.StateOK, types.StateTypeHard)
		a.serviceDependencies = map[string]interface{}{"web01-shared": nil}
		b.serviceDependencies = map[string]interface{}{"web01-shared": nil}
		top := f.service("web01-top", "web01", types.StateOK, types.StateTypeHard)
		top.serviceDependencies = map[string]interface{}{"web01-a": nil, "web01-b": nil}

		h := f.host("web01", func(h *Host) {
			h.hostchecks = []string{"top"}
		})

		up, err := f.resolver.IsUp(h)
		require.NoError(t, err)
		assert.True(t, up)
	})
}

func TestDependencyResolver_HostCheckService(t *testing.T) {
	t.Run("Configured", func(t *testing.T) {
		f := newDepFixture(t)
		ping := f.service("web01-ping", "web01", types.StateOK, types.StateTypeHard)
		h := f.host("web01", func(h *Host) {
			h.hostcheck = "ping"
		})

		svc, err := f.resolver.HostCheckService(h)
		require.NoError(t, err)
		assert.Same(t, ping, svc)
	})

	t.Run("Unconfigured", func(t *testing.T) {
		f := newDepFixture(t)
		h := f.host("web01", nil)

		svc, err := f.resolver.HostCheckService(h)
		require.NoError(t, err)
		assert.Nil(t, svc)
	})
}
