package icinga

import (
	"github.com/icinga/icinga-state-engine/pkg/logging"
	"github.com/icinga/icinga-state-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	logs, err := logging.NewLogging("test", zapcore.DebugLevel, logging.CONSOLE, nil, time.Second)
	require.NoError(t, err)

	return NewEngine(FlappingDefaults{Enable: true, ThresholdLow: 25, ThresholdHigh: 30}, logs)
}

func serviceTemplateItem(name string, attrs map[string]interface{}) *ConfigItem {
	b := NewConfigItemBuilder(DebugInfo{Path: "objects.yml", Line: 1})
	b.SetType("Service").SetName(name).SetAbstract(true)
	for attr, v := range attrs {
		b.SetExpr(attr, v)
	}

	return b.Compile()
}

func TestEngine_CommitConfigItem(t *testing.T) {
	t.Run("HostWithServices", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		item := hostItem("web01", map[string]interface{}{
			"alias":      "Webserver 1",
			"hostgroups": []interface{}{"web", "production"},
			"services": map[string]interface{}{
				"ping": "ping-template",
				"http": map[string]interface{}{"service": "http-template"},
			},
		})
		require.NoError(t, e.CommitConfigItem(item, errs))
		require.Empty(t, errs.Errors())

		h, err := e.Registry().Host("web01")
		require.NoError(t, err)
		assert.Equal(t, "Webserver 1", h.DisplayName())
		assert.Equal(t, []string{"web", "production"}, h.Groups())

		names := serviceNames(e.ServiceCache().GetServices(h))
		assert.Equal(t, []string{"web01-http", "web01-ping"}, names)
	})

	t.Run("AbstractHostStaysTemplate", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		b := NewConfigItemBuilder(DebugInfo{})
		b.SetType("Host").SetName("generic-host").SetAbstract(true)
		require.NoError(t, e.CommitConfigItem(b.Compile(), errs))

		assert.False(t, e.Registry().HostExists("generic-host"))
	})

	t.Run("StandaloneService", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		require.NoError(t, e.CommitConfigItem(hostItem("web01", nil), errs))

		b := NewConfigItemBuilder(DebugInfo{})
		b.SetType("Service").SetName("web01-backup").SetExpr("host_name", "web01")
		require.NoError(t, e.CommitConfigItem(b.Compile(), errs))

		svc, err := e.Registry().Service("web01-backup")
		require.NoError(t, err)
		assert.Equal(t, "web01", svc.HostName())
	})

	t.Run("ServiceWithoutHostName", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		b := NewConfigItemBuilder(DebugInfo{})
		b.SetType("Service").SetName("orphan")
		err := e.CommitConfigItem(b.Compile(), errs)
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("InvalidDescriptorReported", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		item := hostItem("web01", map[string]interface{}{
			"services": map[string]interface{}{"broken": 42},
		})
		require.NoError(t, e.CommitConfigItem(item, errs))

		collected := errs.Errors()
		require.Len(t, collected, 1)
		assert.False(t, collected[0].Fatal)
		assert.False(t, e.Registry().ServiceExists("web01-broken"))
	})

	t.Run("RecommitPreservesHostState", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		require.NoError(t, e.CommitConfigItem(hostItem("web01", nil), errs))
		require.NoError(t, e.ProcessCheckEvent(CheckEvent{
			Name: "web01", State: types.StateDown, StateType: types.StateTypeHard, StateChanged: true,
		}))

		require.NoError(t, e.CommitConfigItem(hostItem("web01", map[string]interface{}{
			"alias": "Webserver 1",
		}), errs))

		h, err := e.Registry().Host("web01")
		require.NoError(t, err)
		assert.Equal(t, types.StateDown, h.State(), "runtime state must survive a host recommit")
		assert.Equal(t, "Webserver 1", h.DisplayName())
	})

	t.Run("RecommitReplacesServiceIdentity", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		require.NoError(t, e.CommitConfigItem(hostItem("web01", map[string]interface{}{
			"services": map[string]interface{}{"ping": "ping-template"},
		}), errs))

		before, err := e.Registry().Service("web01-ping")
		require.NoError(t, err)

		require.NoError(t, e.CommitConfigItem(hostItem("web01", map[string]interface{}{
			"services": map[string]interface{}{"ping": "ping-template"},
		}), errs))

		after, err := e.Registry().Service("web01-ping")
		require.NoError(t, err)
		assert.NotSame(t, before, after)
		assert.Greater(t, after.Generation(), before.Generation())
	})
}

func TestEngine_RemoveConfigItem(t *testing.T) {
	t.Run("HostRetractsGeneratedServices", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		item := hostItem("web01", map[string]interface{}{
			"services": map[string]interface{}{"ping": "ping-template"},
		})
		require.NoError(t, e.CommitConfigItem(item, errs))
		require.True(t, e.Registry().ServiceExists("web01-ping"))

		e.RemoveConfigItem(item)

		assert.False(t, e.Registry().HostExists("web01"))
		assert.False(t, e.Registry().ServiceExists("web01-ping"))
	})

	t.Run("Service", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		require.NoError(t, e.CommitConfigItem(hostItem("web01", nil), errs))

		b := NewConfigItemBuilder(DebugInfo{})
		b.SetType("Service").SetName("web01-backup").SetExpr("host_name", "web01")
		item := b.Compile()
		require.NoError(t, e.CommitConfigItem(item, errs))

		e.RemoveConfigItem(item)
		assert.False(t, e.Registry().ServiceExists("web01-backup"))
	})

	t.Run("UnknownHostIsNoop", func(t *testing.T) {
		e := newTestEngine(t)
		e.RemoveConfigItem(hostItem("ghost", nil))
	})
}

func TestEngine_ProcessCheckEvent(t *testing.T) {
	t.Run("UpdatesStateAndFlapping", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}
		require.NoError(t, e.CommitConfigItem(hostItem("web01", nil), errs))

		require.NoError(t, e.ProcessCheckEvent(CheckEvent{
			Name:         "web01",
			State:        types.StateDown,
			StateType:    types.StateTypeHard,
			StateChanged: true,
			Output:       "CRITICAL - host unreachable",
		}))

		h, err := e.Registry().Host("web01")
		require.NoError(t, err)
		assert.Equal(t, types.StateDown, h.State())
		assert.Equal(t, types.StateTypeHard, h.StateType())
		require.NotNil(t, h.LastCheckResult())
		assert.Equal(t, "CRITICAL - host unreachable", h.LastCheckResult().Output)
		assert.Greater(t, h.FlappingValue(), 0.0)
	})

	t.Run("UnknownCheckable", func(t *testing.T) {
		e := newTestEngine(t)

		err := e.ProcessCheckEvent(CheckEvent{Name: "ghost", State: types.StateOK})
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})
}

func TestEngine_ValidateServiceDictionary(t *testing.T) {
	t.Run("MissingArguments", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		err := e.ValidateServiceDictionary("", map[string]interface{}{}, errs)
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))

		err = e.ValidateServiceDictionary("host web01", nil, errs)
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("KnownTemplatesPass", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		require.NoError(t, e.CommitConfigItem(serviceTemplateItem("ping-template", nil), errs))

		require.NoError(t, e.ValidateServiceDictionary("host web01", map[string]interface{}{
			"ping": "ping-template",
			"more": map[string]interface{}{"service": "ping-template"},
		}, errs))
		assert.Empty(t, errs.Errors())
	})

	t.Run("UnknownTemplateReported", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		require.NoError(t, e.ValidateServiceDictionary("host web01", map[string]interface{}{
			"ping": "no-such-template",
		}, errs))

		collected := errs.Errors()
		require.Len(t, collected, 1)
		assert.False(t, collected[0].Fatal)
		assert.Contains(t, collected[0].Message, "no-such-template")
		assert.Contains(t, collected[0].Message, "host web01")
	})

	t.Run("InvalidDescriptorSkipped", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		require.NoError(t, e.ValidateServiceDictionary("host web01", map[string]interface{}{
			"broken": 42,
		}, errs))
		assert.Empty(t, errs.Errors())
	})
}

func TestEngine_OnAttributeChanged(t *testing.T) {
	e := newTestEngine(t)
	errs := &CompilerErrors{}

	require.NoError(t, e.CommitConfigItem(hostItem("web01", map[string]interface{}{
		"services": map[string]interface{}{"ping": "ping-template"},
	}), errs))

	h, err := e.Registry().Host("web01")
	require.NoError(t, err)
	require.Len(t, e.ServiceCache().GetServices(h), 1)

	e.OnAttributeChanged("hostgroups")

	e.ServiceCache().mu.RLock()
	assert.Nil(t, e.ServiceCache().byHost)
	e.ServiceCache().mu.RUnlock()

	// Downtime mutations route to the downtime index.
	h.addDowntime(&Downtime{ID: "ext-1", Checkable: "web01"})
	e.OnAttributeChanged("downtimes")
	assert.Len(t, e.Downtimes().GetDowntimes(&h.Checkable), 1)
}

func TestEngine_SnapshotRestore(t *testing.T) {
	e := newTestEngine(t)
	errs := &CompilerErrors{}

	require.NoError(t, e.CommitConfigItem(hostItem("web01", map[string]interface{}{
		"services": map[string]interface{}{"ping": "ping-template"},
	}), errs))

	require.NoError(t, e.ProcessCheckEvent(CheckEvent{
		Name: "web01", State: types.StateDown, StateType: types.StateTypeHard, StateChanged: true, Output: "down",
	}))
	require.NoError(t, e.ProcessCheckEvent(CheckEvent{
		Name: "web01-ping", State: types.StateCritical, StateType: types.StateTypeSoft, StateChanged: true, Output: "timeout",
	}))

	snaps := e.SnapshotAll()
	require.Len(t, snaps, 2)

	// A fresh engine with the same objects picks up where the old one stopped.
	e2 := newTestEngine(t)
	require.NoError(t, e2.CommitConfigItem(hostItem("web01", map[string]interface{}{
		"services": map[string]interface{}{"ping": "ping-template"},
	}), errs))

	restored := e2.RestoreAll(snaps)
	assert.Equal(t, 2, restored)

	h, err := e2.Registry().Host("web01")
	require.NoError(t, err)
	assert.Equal(t, types.StateDown, h.State())
	require.NotNil(t, h.LastCheckResult())
	assert.Equal(t, "down", h.LastCheckResult().Output)

	svc, err := e2.Registry().Service("web01-ping")
	require.NoError(t, err)
	assert.Equal(t, types.StateCritical, svc.State())
	assert.Equal(t, types.StateTypeSoft, svc.StateType())

	// Snapshots of vanished checkables are skipped.
	e3 := newTestEngine(t)
	assert.Zero(t, e3.RestoreAll(snaps))
}

func TestEngine_AttributeParsing(t *testing.T) {
	t.Run("FlappingThresholds", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		require.NoError(t, e.CommitConfigItem(hostItem("web01", map[string]interface{}{
			"enable_flapping":         false,
			"flapping_threshold_low":  10,
			"flapping_threshold_high": 20,
		}), errs))

		h, err := e.Registry().Host("web01")
		require.NoError(t, err)
		assert.False(t, h.FlappingEnabled())
		assert.Equal(t, 10.0, h.flappingThresholdLow)
		assert.Equal(t, 20.0, h.flappingThresholdHigh)
	})

	t.Run("FlappingDefaultsApply", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		require.NoError(t, e.CommitConfigItem(hostItem("web01", nil), errs))

		h, err := e.Registry().Host("web01")
		require.NoError(t, err)
		assert.True(t, h.FlappingEnabled())
		assert.Equal(t, 25.0, h.flappingThresholdLow)
		assert.Equal(t, 30.0, h.flappingThresholdHigh)
	})

	t.Run("Acknowledgement", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		expiry := time.Now().Add(time.Hour).Unix()
		require.NoError(t, e.CommitConfigItem(hostItem("web01", map[string]interface{}{
			"acknowledgement":        1,
			"acknowledgement_expiry": expiry,
		}), errs))

		h, err := e.Registry().Host("web01")
		require.NoError(t, err)
		assert.Equal(t, types.AcknowledgementNormal, h.Acknowledgement())
		assert.Equal(t, expiry, h.AcknowledgementExpiry().Time().Unix())
	})

	t.Run("Dependencies", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		require.NoError(t, e.CommitConfigItem(hostItem("web01", map[string]interface{}{
			"hostdependencies":    []interface{}{"gw01"},
			"servicedependencies": map[string]interface{}{"gw01-uplink": nil},
		}), errs))

		h, err := e.Registry().Host("web01")
		require.NoError(t, err)
		assert.Equal(t, []string{"gw01"}, h.HostDependencies())
		assert.Equal(t, []string{"gw01-uplink"}, h.ServiceDependencies())
	})

	t.Run("ReplicatedDowntimes", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		now := time.Now().Unix()
		require.NoError(t, e.CommitConfigItem(hostItem("web01", map[string]interface{}{
			"downtimes": map[string]interface{}{
				"dt-1": map[string]interface{}{
					"author":     "icingaadmin",
					"comment":    "maintenance",
					"start_time": now - 3600,
					"end_time":   now + 3600,
				},
			},
		}), errs))

		h, err := e.Registry().Host("web01")
		require.NoError(t, err)
		assert.True(t, e.Downtimes().IsInDowntime(&h.Checkable))

		downtimes := e.Downtimes().GetDowntimes(&h.Checkable)
		require.Len(t, downtimes, 1)
		assert.Equal(t, "dt-1", downtimes[0].ID)
		assert.Equal(t, "icingaadmin", downtimes[0].Author)
	})

	t.Run("BadAttributeType", func(t *testing.T) {
		e := newTestEngine(t)
		errs := &CompilerErrors{}

		err := e.CommitConfigItem(hostItem("web01", map[string]interface{}{
			"alias": 42,
		}), errs)
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})
}
