package icinga

import (
	"github.com/icinga/icinga-state-engine/pkg/types"
	"sort"
	"sync"
	"time"
)

// flappingBufferSize is the number of state change flags kept per checkable.
const flappingBufferSize = 20

// CheckResult is the outcome of a completed check.
// A checkable without one is pending, i.e. has never been checked.
type CheckResult struct {
	State        types.State
	Output       string
	ExecutionEnd types.UnixMilli
}

// Checkable is the common state of hosts and services.
//
// The check scheduler never runs two checks for the same checkable
// concurrently, but readers and the scheduler do overlap, so every
// read-modify-write of the volatile fields goes through mu.
type Checkable struct {
	mu sync.Mutex

	name        string
	displayName string

	state           types.State
	stateType       types.StateType
	lastCheckResult *CheckResult

	flappingEnabled       bool
	flappingThresholdLow  float64
	flappingThresholdHigh float64
	flappingBuffer        uint32
	flappingIndex         int
	flappingCurrent       float64
	flapping              bool
	flappingLastChange    types.UnixMilli

	acknowledgement       types.AcknowledgementState
	acknowledgementExpiry types.UnixMilli

	hostDependencies    map[string]interface{}
	serviceDependencies map[string]interface{}

	downtimes map[string]*Downtime
	comments  map[string]*Comment
}

// Name returns the unique object name. Immutable after construction.
func (c *Checkable) Name() string {
	return c.name
}

// DisplayName returns the configured alias, falling back on the object name.
func (c *Checkable) DisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.displayName != "" {
		return c.displayName
	}

	return c.name
}

// State returns the current monitoring state.
func (c *Checkable) State() types.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// StateType returns whether the current state is soft or hard.
func (c *Checkable) StateType() types.StateType {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stateType
}

// LastCheckResult returns the most recent check result, nil if pending.
func (c *Checkable) LastCheckResult() *CheckResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastCheckResult
}

// FlappingEnabled returns whether flapping detection is enabled for this checkable.
func (c *Checkable) FlappingEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.flappingEnabled
}

// FlappingValue returns the current weighted state change percentage.
func (c *Checkable) FlappingValue() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.flappingCurrent
}

// FlappingLastChange returns when the flapping flag last flipped.
func (c *Checkable) FlappingLastChange() types.UnixMilli {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.flappingLastChange
}

// HostDependencies returns the names of the hosts this checkable depends on.
func (c *Checkable) HostDependencies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return dependencyNames(c.hostDependencies)
}

// ServiceDependencies returns the names of the services this checkable depends on.
func (c *Checkable) ServiceDependencies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return dependencyNames(c.serviceDependencies)
}

// applyCheckResult records the outcome of a completed check.
func (c *Checkable) applyCheckResult(state types.State, stateType types.StateType, output string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = state
	c.stateType = stateType
	c.lastCheckResult = &CheckResult{
		State:        state,
		Output:       output,
		ExecutionEnd: types.FromTime(at),
	}
}

// StateSnapshot is the volatile per-checkable state persisted across restarts.
type StateSnapshot struct {
	State                 types.State
	StateType             types.StateType
	CheckedAt             types.UnixMilli // zero means pending
	Output                string
	FlappingBuffer        uint32
	FlappingIndex         uint8
	FlappingCurrent       float64
	Flapping              bool
	FlappingLastChange    types.UnixMilli
	Acknowledgement       types.AcknowledgementState
	AcknowledgementExpiry types.UnixMilli
}

// SnapshotState copies the volatile state as one consistent unit.
func (c *Checkable) SnapshotState() StateSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := StateSnapshot{
		State:                 c.state,
		StateType:             c.stateType,
		FlappingBuffer:        c.flappingBuffer,
		FlappingIndex:         uint8(c.flappingIndex),
		FlappingCurrent:       c.flappingCurrent,
		Flapping:              c.flapping,
		FlappingLastChange:    c.flappingLastChange,
		Acknowledgement:       c.acknowledgement,
		AcknowledgementExpiry: c.acknowledgementExpiry,
	}

	if c.lastCheckResult != nil {
		s.CheckedAt = c.lastCheckResult.ExecutionEnd
		s.Output = c.lastCheckResult.Output
	}

	return s
}

// RestoreState applies a previously taken snapshot,
// e.g. state loaded from the retention store at startup.
func (c *Checkable) RestoreState(s StateSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = s.State
	c.stateType = s.StateType
	c.flappingBuffer = s.FlappingBuffer
	c.flappingIndex = int(s.FlappingIndex) % flappingBufferSize
	c.flappingCurrent = s.FlappingCurrent
	c.flapping = s.Flapping
	c.flappingLastChange = s.FlappingLastChange
	c.acknowledgement = s.Acknowledgement
	c.acknowledgementExpiry = s.AcknowledgementExpiry

	if !s.CheckedAt.IsZero() {
		c.lastCheckResult = &CheckResult{
			State:        s.State,
			Output:       s.Output,
			ExecutionEnd: s.CheckedAt,
		}
	}
}

// addDowntime files a downtime record under this checkable.
func (c *Checkable) addDowntime(d *Downtime) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.downtimes == nil {
		c.downtimes = map[string]*Downtime{}
	}
	c.downtimes[d.ID] = d
}

// addComment files a comment record under this checkable.
func (c *Checkable) addComment(cm *Comment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.comments == nil {
		c.comments = map[string]*Comment{}
	}
	c.comments[cm.ID] = cm
}

// removeComment drops a comment record, reporting whether it existed.
func (c *Checkable) removeComment(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.comments[id]; !ok {
		return false
	}
	delete(c.comments, id)

	return true
}

// downtimeRecords returns the downtime records filed under this checkable.
func (c *Checkable) downtimeRecords() []*Downtime {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := make([]*Downtime, 0, len(c.downtimes))
	for _, d := range c.downtimes {
		records = append(records, d)
	}

	return records
}

// commentRecords returns the comment records filed under this checkable.
func (c *Checkable) commentRecords() []*Comment {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := make([]*Comment, 0, len(c.comments))
	for _, cm := range c.comments {
		records = append(records, cm)
	}

	return records
}

// Host is a checkable that owns the lifecycle of its generated services.
type Host struct {
	Checkable

	groups     []string
	hostcheck  string
	hostchecks []string
}

// NewHost returns a new Host with the given name.
func NewHost(name string) *Host {
	return &Host{Checkable: Checkable{name: name}}
}

// Groups returns the host's group memberships.
func (h *Host) Groups() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.groups...)
}

// HostCheck returns the name of the single service standing in as
// host-liveness check, empty if none is configured.
func (h *Host) HostCheck() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.hostcheck
}

// HostChecks returns the names of the services standing in as
// host-liveness checks.
func (h *Host) HostChecks() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.hostchecks...)
}

// Service is a checkable that belongs to exactly one host.
type Service struct {
	Checkable

	hostName   string
	generation uint64
}

// NewService returns a new Service with the given name, belonging to the named host.
func NewService(name, hostName string) *Service {
	return &Service{Checkable: Checkable{name: name}, hostName: hostName}
}

// HostName returns the name of the host this service belongs to.
func (s *Service) HostName() string {
	return s.hostName
}

// Generation returns the registry generation this service was registered at.
// Two services under the same name but different generations are distinct objects.
func (s *Service) Generation() uint64 {
	return s.generation
}

// dependencyNames extracts the sorted key set of a dependency mapping.
func dependencyNames(deps map[string]interface{}) []string {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
