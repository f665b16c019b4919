package icinga

import (
	"fmt"
	"github.com/icinga/icinga-state-engine/pkg/logging"
	"github.com/icinga/icinga-state-engine/pkg/utils"
	"sort"
	"sync"
	"time"
)

// copiedServiceAttrs are the attributes a derived service inherits from its
// host's defaults and, for inline descriptors, from the descriptor itself.
// Merged attributes accumulate across layers, set attributes are replaced,
// so descriptor-level values take precedence over host-level ones.
var copiedServiceAttrs = []struct {
	name  string
	merge bool
}{
	{"macros", true},
	{"check_interval", false},
	{"retry_interval", false},
	{"servicegroups", true},
	{"checkers", false},
}

// ServiceExpander derives concrete service config items from a host's inline
// services descriptors on every configuration commit for that host, and
// retracts generated services that disappear from a new descriptor set.
//
// The commit and retract functions are injected at wiring time; the expander
// never reaches into the engine directly.
type ServiceExpander struct {
	mu sync.Mutex

	// generated tracks, per host, the service items generated by the last
	// commit (the host's convenience services).
	generated map[string]map[string]*ConfigItem

	commit  func(item *ConfigItem, sink ErrorSink) error
	retract func(name string)
	logger  *logging.Logger
}

// NewServiceExpander returns a new ServiceExpander committing derived items
// through commit and retracting them through retract.
func NewServiceExpander(commit func(*ConfigItem, ErrorSink) error, retract func(string), logger *logging.Logger) *ServiceExpander {
	return &ServiceExpander{
		generated: map[string]map[string]*ConfigItem{},
		commit:    commit,
		retract:   retract,
		logger:    logger,
	}
}

// HostCommitted expands the committed host item's services descriptors into
// derived service items and reconciles them against the previously generated
// set: every entry is (re-)committed with fresh identity, entries absent
// from the new set are individually retracted.
//
// A descriptor that is neither a reference name nor a dictionary rejects
// that single service via the error sink, not the whole host.
func (e *ServiceExpander) HostCommitted(item *ConfigItem, sink ErrorSink) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var created, retracted int
	defer utils.Timed(time.Now(), func(elapsed time.Duration) {
		e.logger.Debugw("Expanded services for host",
			"host", item.Name, "created", created, "retracted", retracted, "took", elapsed)
	})

	descs, err := attrDict(item.Attrs, "services")
	if err != nil {
		return wrapItemError(err, item)
	}

	newServices := map[string]*ConfigItem{}

	for _, svcName := range sortedKeys(descs) {
		desc := ParseServiceDescriptor(descs[svcName])
		name := utils.JoinNames(item.Name, svcName)

		if desc.Kind == DescriptorInvalid {
			sink.AddError(false, fmt.Sprintf(
				"service description for %q must be either a string or a dictionary (%s)", name, item.Debug))
			continue
		}

		b := NewConfigItemBuilder(item.Debug)
		b.SetType("Service").SetName(name)
		b.SetExpr("host_name", item.Name)
		b.SetExpr("alias", svcName)

		copyServiceAttributes(b, item.Attrs)

		switch desc.Kind {
		case DescriptorReference:
			b.AddParent(desc.Template)
		case DescriptorOverride:
			parent := desc.Template
			if parent == "" {
				parent = svcName
			}
			b.AddParent(parent)

			copyServiceAttributes(b, desc.Overrides)
		}

		svcItem := b.Compile()
		if err := e.commit(svcItem, sink); err != nil {
			sink.AddError(false, fmt.Sprintf("can't commit generated service %q: %s", name, err))
			continue
		}

		newServices[name] = svcItem
		created++
	}

	for name := range e.generated[item.Name] {
		if _, ok := newServices[name]; !ok {
			e.retract(name)
			retracted++
		}
	}

	e.generated[item.Name] = newServices

	return nil
}

// HostRemoved unconditionally retracts every service generated for the host.
func (e *ServiceExpander) HostRemoved(hostName string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.generated[hostName]
	delete(e.generated, hostName)

	for _, name := range sortedItemKeys(old) {
		e.retract(name)
	}

	if len(old) > 0 {
		e.logger.Debugw("Retracted generated services of removed host",
			"host", hostName, "retracted", len(old))
	}
}

// GeneratedServices returns the names of the services generated for the host
// by the last commit.
func (e *ServiceExpander) GeneratedServices(hostName string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return sortedItemKeys(e.generated[hostName])
}

// copyServiceAttributes layers the service-relevant attributes of src onto the builder.
func copyServiceAttributes(b *ConfigItemBuilder, src map[string]interface{}) {
	for _, attr := range copiedServiceAttrs {
		v, ok := src[attr.name]
		if !ok || v == nil {
			continue
		}

		if attr.merge {
			b.MergeExpr(attr.name, v)
		} else {
			b.SetExpr(attr.name, v)
		}
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

func sortedItemKeys(m map[string]*ConfigItem) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
