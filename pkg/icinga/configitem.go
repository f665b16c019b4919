package icinga

import (
	"fmt"
	"github.com/pkg/errors"
	"sync"
)

// DebugInfo locates a config item in its declarative source.
type DebugInfo struct {
	Path string
	Line int
}

// String implements the fmt.Stringer interface.
func (d DebugInfo) String() string {
	if d.Path == "" {
		return "<generated>"
	}

	return fmt.Sprintf("%s:%d", d.Path, d.Line)
}

// ConfigItem is one compiled configuration object as handed over by the
// configuration compiler: a name, a type tag, the parsed attribute
// dictionary, the template parents and the source location.
type ConfigItem struct {
	Type     string
	Name     string
	Abstract bool
	Parents  []string
	Attrs    map[string]interface{}
	Debug    DebugInfo
}

// ConfigItemBuilder assembles a derived ConfigItem, layering set and merge
// expressions in application order.
type ConfigItemBuilder struct {
	item ConfigItem
}

// NewConfigItemBuilder returns a new ConfigItemBuilder carrying the given source location.
func NewConfigItemBuilder(debug DebugInfo) *ConfigItemBuilder {
	return &ConfigItemBuilder{item: ConfigItem{Attrs: map[string]interface{}{}, Debug: debug}}
}

// SetType sets the item's type tag.
func (b *ConfigItemBuilder) SetType(t string) *ConfigItemBuilder {
	b.item.Type = t
	return b
}

// SetName sets the item's object name.
func (b *ConfigItemBuilder) SetName(name string) *ConfigItemBuilder {
	b.item.Name = name
	return b
}

// SetAbstract marks the item as a template that never
// materializes an object of its own.
func (b *ConfigItemBuilder) SetAbstract(abstract bool) *ConfigItemBuilder {
	b.item.Abstract = abstract
	return b
}

// AddParent appends a template parent.
func (b *ConfigItemBuilder) AddParent(name string) *ConfigItemBuilder {
	b.item.Parents = append(b.item.Parents, name)
	return b
}

// SetExpr sets the attribute outright, replacing any previous value.
func (b *ConfigItemBuilder) SetExpr(attr string, value interface{}) *ConfigItemBuilder {
	b.item.Attrs[attr] = value
	return b
}

// MergeExpr merges the value into the attribute: dictionaries are merged
// key-wise with the new value winning, lists are appended. Anything else
// replaces the previous value.
func (b *ConfigItemBuilder) MergeExpr(attr string, value interface{}) *ConfigItemBuilder {
	existing, ok := b.item.Attrs[attr]
	if !ok {
		b.item.Attrs[attr] = value
		return b
	}

	switch ev := existing.(type) {
	case map[string]interface{}:
		if mv, ok := value.(map[string]interface{}); ok {
			merged := make(map[string]interface{}, len(ev)+len(mv))
			for k, v := range ev {
				merged[k] = v
			}
			for k, v := range mv {
				merged[k] = v
			}
			b.item.Attrs[attr] = merged

			return b
		}
	case []interface{}:
		if sv, ok := value.([]interface{}); ok {
			b.item.Attrs[attr] = append(append([]interface{}(nil), ev...), sv...)
			return b
		}
	}

	b.item.Attrs[attr] = value

	return b
}

// Compile returns the assembled ConfigItem.
func (b *ConfigItemBuilder) Compile() *ConfigItem {
	item := b.item
	return &item
}

// ErrorSink receives configuration errors, e.g. the compiler context of a running reload.
type ErrorSink interface {
	AddError(fatal bool, message string)
}

// CompilerError is one error reported to a CompilerErrors sink.
type CompilerError struct {
	Fatal   bool
	Message string
}

// CompilerErrors is an ErrorSink collecting errors in memory,
// mirroring the compiler context of a configuration reload.
type CompilerErrors struct {
	mu     sync.Mutex
	errors []CompilerError
}

// AddError implements the ErrorSink interface.
func (s *CompilerErrors) AddError(fatal bool, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errors = append(s.errors, CompilerError{Fatal: fatal, Message: message})
}

// Errors returns the errors collected so far.
func (s *CompilerErrors) Errors() []CompilerError {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]CompilerError(nil), s.errors...)
}

// HasFatal returns whether any collected error was fatal.
func (s *CompilerErrors) HasFatal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.errors {
		if e.Fatal {
			return true
		}
	}

	return false
}

// DescriptorKind tags the shape of a service descriptor.
type DescriptorKind uint8

const (
	// DescriptorInvalid marks a descriptor that is neither a plain
	// reference name nor a dictionary.
	DescriptorInvalid DescriptorKind = iota
	// DescriptorReference is a scalar naming the template service.
	DescriptorReference
	// DescriptorOverride is an inline dictionary overriding attributes and
	// optionally redirecting the template parent via a "service" key.
	DescriptorOverride
)

// ServiceDescriptor is one entry of a host's services mapping, resolved into
// its tagged variant once at parse time.
type ServiceDescriptor struct {
	Kind      DescriptorKind
	Template  string
	Overrides map[string]interface{}
}

// ParseServiceDescriptor classifies the raw descriptor value.
func ParseServiceDescriptor(v interface{}) ServiceDescriptor {
	switch desc := v.(type) {
	case string:
		return ServiceDescriptor{Kind: DescriptorReference, Template: desc}
	case map[string]interface{}:
		template, _ := desc["service"].(string)
		return ServiceDescriptor{Kind: DescriptorOverride, Template: template, Overrides: desc}
	default:
		return ServiceDescriptor{Kind: DescriptorInvalid}
	}
}

// attrString reads a string attribute, "" if absent.
func attrString(attrs map[string]interface{}, name string) (string, error) {
	v, ok := attrs[name]
	if !ok || v == nil {
		return "", nil
	}

	s, ok := v.(string)
	if !ok {
		return "", &ConfigurationError{Message: fmt.Sprintf("attribute %q must be a string, got %T", name, v)}
	}

	return s, nil
}

// attrFloat reads a numeric attribute, def if absent.
func attrFloat(attrs map[string]interface{}, name string, def float64) (float64, error) {
	v, ok := attrs[name]
	if !ok || v == nil {
		return def, nil
	}

	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, &ConfigurationError{Message: fmt.Sprintf("attribute %q must be a number, got %T", name, v)}
	}
}

// attrBool reads a boolean attribute, def if absent.
func attrBool(attrs map[string]interface{}, name string, def bool) (bool, error) {
	v, ok := attrs[name]
	if !ok || v == nil {
		return def, nil
	}

	b, ok := v.(bool)
	if !ok {
		return false, &ConfigurationError{Message: fmt.Sprintf("attribute %q must be a boolean, got %T", name, v)}
	}

	return b, nil
}

// attrDict reads a dictionary attribute, nil if absent.
func attrDict(attrs map[string]interface{}, name string) (map[string]interface{}, error) {
	v, ok := attrs[name]
	if !ok || v == nil {
		return nil, nil
	}

	d, ok := v.(map[string]interface{})
	if !ok {
		return nil, &ConfigurationError{Message: fmt.Sprintf("attribute %q must be a dictionary, got %T", name, v)}
	}

	return d, nil
}

// attrStringSlice reads a list-of-names attribute, nil if absent.
// A single string is accepted as a one-element list.
func attrStringSlice(attrs map[string]interface{}, name string) ([]string, error) {
	v, ok := attrs[name]
	if !ok || v == nil {
		return nil, nil
	}

	switch l := v.(type) {
	case string:
		return []string{l}, nil
	case []string:
		return append([]string(nil), l...), nil
	case []interface{}:
		out := make([]string, 0, len(l))
		for _, e := range l {
			s, ok := e.(string)
			if !ok {
				return nil, &ConfigurationError{Message: fmt.Sprintf("attribute %q must contain only strings, got %T", name, e)}
			}
			out = append(out, s)
		}

		return out, nil
	default:
		return nil, &ConfigurationError{Message: fmt.Sprintf("attribute %q must be a list, got %T", name, v)}
	}
}

// attrDependencies reads a dependency mapping: either a dictionary whose
// keys are the dependency names, or a plain list of names.
func attrDependencies(attrs map[string]interface{}, name string) (map[string]interface{}, error) {
	v, ok := attrs[name]
	if !ok || v == nil {
		return nil, nil
	}

	switch deps := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(deps))
		for k, meta := range deps {
			out[k] = meta
		}

		return out, nil
	case []interface{}, []string:
		names, err := attrStringSlice(attrs, name)
		if err != nil {
			return nil, err
		}

		out := make(map[string]interface{}, len(names))
		for _, n := range names {
			out[n] = nil
		}

		return out, nil
	default:
		return nil, &ConfigurationError{Message: fmt.Sprintf("attribute %q must be a dictionary or a list, got %T", name, v)}
	}
}

// wrapItemError annotates an error with the item's identity and source location.
func wrapItemError(err error, item *ConfigItem) error {
	return errors.Wrapf(err, "can't commit %s %q (%s)", item.Type, item.Name, item.Debug)
}
