package icinga

import (
	"fmt"
	"github.com/icinga/icinga-state-engine/pkg/logging"
	"github.com/icinga/icinga-state-engine/pkg/types"
	"sync"
	"time"
)

// FlappingDefaults carries the process-wide flapping settings. Per-checkable
// configuration attributes take precedence over the thresholds given here.
type FlappingDefaults struct {
	Enable        bool
	ThresholdLow  float64
	ThresholdHigh float64
}

// Engine is the object and state coordinator: it owns the registry, the
// lazily rebuilt caches and the expansion of host service descriptors, and
// it consumes commit/removal events from the configuration compiler and
// check events from the scheduler.
//
// All handlers are wired here at construction time. Nothing registers
// itself behind the scenes on first object construction.
type Engine struct {
	// mu serializes configuration commits and removals. Commits are
	// infrequent relative to checks, so one lock for all of them is fine.
	mu sync.Mutex

	registry     *Registry
	serviceCache *ServiceCache
	downtimes    *DowntimeIndex
	flapping     *FlappingDetector
	resolver     *DependencyResolver
	expander     *ServiceExpander

	// items holds every committed config item by type and name,
	// including abstract templates.
	items map[string]map[string]*ConfigItem

	defaults FlappingDefaults
	logger   *logging.Logger
}

// NewEngine returns a new Engine with all components wired.
func NewEngine(defaults FlappingDefaults, logs *logging.Logging) *Engine {
	registry := NewRegistry()
	downtimes := NewDowntimeIndex(registry, logs.GetChildLogger("downtime-index"))

	e := &Engine{
		registry:     registry,
		serviceCache: NewServiceCache(registry, logs.GetChildLogger("service-cache")),
		downtimes:    downtimes,
		flapping:     NewFlappingDetector(defaults.Enable, logs.GetChildLogger("flapping")),
		resolver:     NewDependencyResolver(registry, downtimes, logs.GetChildLogger("dependency")),
		items:        map[string]map[string]*ConfigItem{},
		defaults:     defaults,
		logger:       logs.GetChildLogger("engine"),
	}
	e.expander = NewServiceExpander(e.commitLocked, e.retractServiceLocked, logs.GetChildLogger("expander"))

	return e
}

// Registry returns the object registry.
func (e *Engine) Registry() *Registry { return e.registry }

// ServiceCache returns the host-to-services cache.
func (e *Engine) ServiceCache() *ServiceCache { return e.serviceCache }

// Downtimes returns the downtime and comment index.
func (e *Engine) Downtimes() *DowntimeIndex { return e.downtimes }

// Flapping returns the flapping detector.
func (e *Engine) Flapping() *FlappingDetector { return e.flapping }

// Resolver returns the dependency resolver.
func (e *Engine) Resolver() *DependencyResolver { return e.resolver }

// Expander returns the service expander.
func (e *Engine) Expander() *ServiceExpander { return e.expander }

// CheckEvent is one completed check as reported by the check scheduler.
type CheckEvent struct {
	Name         string
	StateChanged bool
	State        types.State
	StateType    types.StateType
	Output       string
	Time         time.Time
}

// ProcessCheckEvent records a completed check on the named checkable and
// updates its flapping status. The scheduler guarantees at most one
// in-flight check per checkable.
func (e *Engine) ProcessCheckEvent(ev CheckEvent) error {
	c, err := e.registry.Checkable(ev.Name)
	if err != nil {
		return err
	}

	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}

	c.applyCheckResult(ev.State, ev.StateType, ev.Output, at)
	e.flapping.UpdateFlappingStatus(c, ev.StateChanged)

	return nil
}

// CommitConfigItem consumes one commit event from the configuration
// compiler. Errors abort that single item, never the whole reload.
func (e *Engine) CommitConfigItem(item *ConfigItem, sink ErrorSink) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.commitLocked(item, sink)
}

// RemoveConfigItem consumes one removal event from the configuration compiler.
func (e *Engine) RemoveConfigItem(item *ConfigItem) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch item.Type {
	case "Host":
		e.expander.HostRemoved(item.Name)

		if e.registry.DeregisterHost(item.Name) != nil {
			e.serviceCache.InvalidateServicesCache()
			e.downtimes.Invalidate()
			e.logger.Infow("Removed host", "host", item.Name)
		}
	case "Service":
		e.retractServiceLocked(item.Name)
	}

	if byName, ok := e.items[item.Type]; ok {
		delete(byName, item.Name)
	}
}

// OnAttributeChanged propagates an attribute-change notification: hostgroups
// changes invalidate the services cache, downtime and comment mutations
// invalidate the downtime index - for any checkable, coarsely.
func (e *Engine) OnAttributeChanged(name string) {
	switch name {
	case "hostgroups":
		e.serviceCache.InvalidateServicesCache()
	case "downtimes", "comments":
		e.downtimes.OnAttributeChanged(name)
	}
}

// ValidateServiceDictionary walks a services attribute dictionary and
// reports every descriptor whose effective template name does not resolve
// to a committed service config item. Reports are non-fatal; missing
// arguments are a configuration error of the validation call itself.
func (e *Engine) ValidateServiceDictionary(location string, attrs map[string]interface{}, sink ErrorSink) error {
	if location == "" {
		return &ConfigurationError{Message: "missing argument: location must be specified"}
	}
	if attrs == nil {
		return &ConfigurationError{Message: "missing argument: attribute dictionary must be specified"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, key := range sortedKeys(attrs) {
		desc := ParseServiceDescriptor(attrs[key])

		var name string
		switch desc.Kind {
		case DescriptorReference:
			name = desc.Template
		case DescriptorOverride:
			name = desc.Template
			if name == "" {
				name = key
			}
		default:
			continue
		}

		if _, ok := e.items["Service"][name]; !ok {
			sink.AddError(false, fmt.Sprintf("validation failed for %s: service %q not found", location, name))
		}
	}

	return nil
}

// NamedSnapshot pairs a checkable's identity with its volatile state.
type NamedSnapshot struct {
	Kind string // "host" or "service"
	Name string
	StateSnapshot
}

// SnapshotAll copies the volatile state of every registered checkable,
// e.g. for the retention store.
func (e *Engine) SnapshotAll() []NamedSnapshot {
	var snaps []NamedSnapshot
	e.registry.EachHost(func(h *Host) {
		snaps = append(snaps, NamedSnapshot{Kind: "host", Name: h.Name(), StateSnapshot: h.SnapshotState()})
	})
	e.registry.EachService(func(s *Service) {
		snaps = append(snaps, NamedSnapshot{Kind: "service", Name: s.Name(), StateSnapshot: s.SnapshotState()})
	})

	return snaps
}

// RestoreAll applies previously taken snapshots to the checkables that still
// exist, skipping the rest, and returns how many were restored.
func (e *Engine) RestoreAll(snaps []NamedSnapshot) int {
	var restored int
	for _, snap := range snaps {
		switch snap.Kind {
		case "host":
			if h, err := e.registry.Host(snap.Name); err == nil {
				h.RestoreState(snap.StateSnapshot)
				restored++
			}
		case "service":
			if s, err := e.registry.Service(snap.Name); err == nil {
				s.RestoreState(snap.StateSnapshot)
				restored++
			}
		}
	}

	return restored
}

// commitLocked dispatches a commit event by item type. Callers must hold e.mu.
func (e *Engine) commitLocked(item *ConfigItem, sink ErrorSink) error {
	if e.items[item.Type] == nil {
		e.items[item.Type] = map[string]*ConfigItem{}
	}
	e.items[item.Type][item.Name] = item

	switch item.Type {
	case "Host":
		return e.commitHostLocked(item, sink)
	case "Service":
		return e.commitServiceLocked(item)
	default:
		// Other object types are none of the engine's business.
		return nil
	}
}

// commitHostLocked materializes or updates the host object and expands its
// service descriptors. Abstract host items stay templates.
func (e *Engine) commitHostLocked(item *ConfigItem, sink ErrorSink) error {
	if item.Abstract {
		return nil
	}

	h, err := e.registry.Host(item.Name)
	isNew := err != nil
	if isNew {
		h = NewHost(item.Name)
	}

	oldGroups := h.Groups()
	if err := e.applyHostConfig(h, item); err != nil {
		return wrapItemError(err, item)
	}

	if isNew {
		e.registry.RegisterHost(h)
		e.serviceCache.InvalidateServicesCache()
		e.downtimes.Invalidate()
		e.logger.Infow("Committed host", "host", item.Name)
	} else if !equalStrings(oldGroups, h.Groups()) {
		e.OnAttributeChanged("hostgroups")
	}

	return e.expander.HostCommitted(item, sink)
}

// commitServiceLocked materializes the service object with fresh identity,
// replacing any previous service of the same name.
func (e *Engine) commitServiceLocked(item *ConfigItem) error {
	if item.Abstract {
		return nil
	}

	hostName, err := attrString(item.Attrs, "host_name")
	if err != nil {
		return wrapItemError(err, item)
	}
	if hostName == "" {
		return wrapItemError(&ConfigurationError{Message: "attribute \"host_name\" is required"}, item)
	}

	s := NewService(item.Name, hostName)
	if err := e.applyServiceConfig(s, item); err != nil {
		return wrapItemError(err, item)
	}

	e.registry.RegisterService(s)
	e.serviceCache.InvalidateServicesCache()
	e.downtimes.Invalidate()

	return nil
}

// retractServiceLocked unregisters a service and invalidates the dependent
// caches, including the downtime index for the orphaned records.
func (e *Engine) retractServiceLocked(name string) {
	if e.registry.DeregisterService(name) == nil {
		return
	}

	e.serviceCache.InvalidateServicesCache()
	e.downtimes.Invalidate()

	if byName, ok := e.items["Service"]; ok {
		delete(byName, name)
	}
}

// applyHostConfig parses the item's attributes into the host object.
func (e *Engine) applyHostConfig(h *Host, item *ConfigItem) error {
	c, err := e.parseCheckableAttrs(&h.Checkable, item.Attrs)
	if err != nil {
		return err
	}

	hostcheck, err := attrString(item.Attrs, "hostcheck")
	if err != nil {
		return err
	}
	hostchecks, err := attrStringSlice(item.Attrs, "hostchecks")
	if err != nil {
		return err
	}
	groups, err := attrStringSlice(item.Attrs, "hostgroups")
	if err != nil {
		return err
	}

	h.mu.Lock()
	c.apply(&h.Checkable)
	h.hostcheck = hostcheck
	h.hostchecks = hostchecks
	h.groups = groups
	h.mu.Unlock()

	return nil
}

// applyServiceConfig parses the item's attributes into the service object.
func (e *Engine) applyServiceConfig(s *Service, item *ConfigItem) error {
	c, err := e.parseCheckableAttrs(&s.Checkable, item.Attrs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	c.apply(&s.Checkable)
	s.mu.Unlock()

	return nil
}

// checkableAttrs is the parsed form of the checkable-level configuration
// attributes, applied under the checkable's lock in one go.
type checkableAttrs struct {
	displayName           string
	flappingEnabled       bool
	flappingThresholdLow  float64
	flappingThresholdHigh float64
	acknowledgement       types.AcknowledgementState
	acknowledgementExpiry types.UnixMilli
	hostDependencies      map[string]interface{}
	serviceDependencies   map[string]interface{}
	downtimes             map[string]*Downtime
	comments              map[string]*Comment
}

func (a *checkableAttrs) apply(c *Checkable) {
	c.displayName = a.displayName
	c.flappingEnabled = a.flappingEnabled
	c.flappingThresholdLow = a.flappingThresholdLow
	c.flappingThresholdHigh = a.flappingThresholdHigh
	c.acknowledgement = a.acknowledgement
	c.acknowledgementExpiry = a.acknowledgementExpiry
	c.hostDependencies = a.hostDependencies
	c.serviceDependencies = a.serviceDependencies

	if a.downtimes != nil {
		c.downtimes = a.downtimes
	}
	if a.comments != nil {
		c.comments = a.comments
	}
}

// parseCheckableAttrs parses the common checkable attributes, falling back
// on the engine's flapping defaults.
func (e *Engine) parseCheckableAttrs(c *Checkable, attrs map[string]interface{}) (*checkableAttrs, error) {
	out := &checkableAttrs{}

	var err error
	if out.displayName, err = attrString(attrs, "alias"); err != nil {
		return nil, err
	}
	if out.flappingEnabled, err = attrBool(attrs, "enable_flapping", true); err != nil {
		return nil, err
	}
	if out.flappingThresholdLow, err = attrFloat(attrs, "flapping_threshold_low", e.defaults.ThresholdLow); err != nil {
		return nil, err
	}
	if out.flappingThresholdHigh, err = attrFloat(attrs, "flapping_threshold_high", e.defaults.ThresholdHigh); err != nil {
		return nil, err
	}

	ack, err := attrFloat(attrs, "acknowledgement", float64(types.AcknowledgementNone))
	if err != nil {
		return nil, err
	}
	out.acknowledgement = types.AcknowledgementState(uint8(ack))

	expiry, err := attrFloat(attrs, "acknowledgement_expiry", 0)
	if err != nil {
		return nil, err
	}
	if expiry != 0 {
		out.acknowledgementExpiry = types.FromTime(time.Unix(int64(expiry), 0))
	}

	if out.hostDependencies, err = attrDependencies(attrs, "hostdependencies"); err != nil {
		return nil, err
	}
	if out.serviceDependencies, err = attrDependencies(attrs, "servicedependencies"); err != nil {
		return nil, err
	}

	if out.downtimes, err = parseDowntimeAttrs(c.Name(), attrs); err != nil {
		return nil, err
	}
	if out.comments, err = parseCommentAttrs(c.Name(), attrs); err != nil {
		return nil, err
	}

	return out, nil
}

// parseDowntimeAttrs parses replicated downtime records from the item's
// downtimes attribute, nil if absent.
func parseDowntimeAttrs(checkable string, attrs map[string]interface{}) (map[string]*Downtime, error) {
	dict, err := attrDict(attrs, "downtimes")
	if err != nil || dict == nil {
		return nil, err
	}

	out := make(map[string]*Downtime, len(dict))
	for id, raw := range dict {
		rec, ok := raw.(map[string]interface{})
		if !ok {
			return nil, &ConfigurationError{Message: fmt.Sprintf("downtime %q must be a dictionary", id)}
		}

		d := &Downtime{ID: id, Checkable: checkable}
		if d.Author, err = attrString(rec, "author"); err != nil {
			return nil, err
		}
		if d.Comment, err = attrString(rec, "comment"); err != nil {
			return nil, err
		}

		start, err := attrFloat(rec, "start_time", 0)
		if err != nil {
			return nil, err
		}
		end, err := attrFloat(rec, "end_time", 0)
		if err != nil {
			return nil, err
		}
		d.Start = types.FromTime(time.Unix(int64(start), 0))
		d.End = types.FromTime(time.Unix(int64(end), 0))

		out[id] = d
	}

	return out, nil
}

// parseCommentAttrs parses replicated comment records from the item's
// comments attribute, nil if absent.
func parseCommentAttrs(checkable string, attrs map[string]interface{}) (map[string]*Comment, error) {
	dict, err := attrDict(attrs, "comments")
	if err != nil || dict == nil {
		return nil, err
	}

	out := make(map[string]*Comment, len(dict))
	for id, raw := range dict {
		rec, ok := raw.(map[string]interface{})
		if !ok {
			return nil, &ConfigurationError{Message: fmt.Sprintf("comment %q must be a dictionary", id)}
		}

		cm := &Comment{ID: id, Checkable: checkable}
		if cm.Author, err = attrString(rec, "author"); err != nil {
			return nil, err
		}
		if cm.Text, err = attrString(rec, "text"); err != nil {
			return nil, err
		}

		out[id] = cm
	}

	return out, nil
}

// equalStrings compares two string slices element-wise.
func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
