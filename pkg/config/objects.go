package config

import (
	"github.com/goccy/go-yaml"
	"github.com/icinga/icinga-state-engine/pkg/icinga"
	"github.com/pkg/errors"
	"os"
	"sort"
)

// ObjectsFile is the compiled monitoring object configuration committed into
// the engine at startup: abstract service templates plus concrete hosts and
// services, each as a free-form attribute dictionary.
//
// Objects may layer templates beneath their own attributes via a "use" key,
// a name or list of names from the templates section.
type ObjectsFile struct {
	Templates map[string]map[string]interface{} `yaml:"templates"`
	Hosts     map[string]map[string]interface{} `yaml:"hosts"`
	Services  map[string]map[string]interface{} `yaml:"services"`
}

// LoadObjectsFile parses the objects YAML file at the given path.
func LoadObjectsFile(path string) (*ObjectsFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "can't open objects file "+path)
	}
	defer f.Close()

	objects := &ObjectsFile{}
	if err := yaml.NewDecoder(f).Decode(objects); err != nil {
		return nil, errors.Wrap(err, "can't parse objects file "+path)
	}

	return objects, nil
}

// Items compiles the file into config items in commit order: abstract
// service templates first, then hosts, then standalone services, each
// section in name order. Template attributes named by "use" are flattened
// beneath the object's own attributes.
func (o *ObjectsFile) Items(path string) ([]*icinga.ConfigItem, error) {
	debug := icinga.DebugInfo{Path: path}

	var items []*icinga.ConfigItem
	for _, name := range sortedNames(o.Templates) {
		item, err := o.compile("Service", name, o.Templates[name], true, debug)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	for _, name := range sortedNames(o.Hosts) {
		item, err := o.compile("Host", name, o.Hosts[name], false, debug)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	for _, name := range sortedNames(o.Services) {
		item, err := o.compile("Service", name, o.Services[name], false, debug)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, nil
}

func (o *ObjectsFile) compile(typ, name string, attrs map[string]interface{}, abstract bool, debug icinga.DebugInfo) (*icinga.ConfigItem, error) {
	b := icinga.NewConfigItemBuilder(debug)
	b.SetType(typ).SetName(name).SetAbstract(abstract)

	parents, err := o.flatten(b, attrs, map[string]struct{}{})
	if err != nil {
		return nil, errors.Wrapf(err, "can't compile %s %q", typ, name)
	}
	for _, parent := range parents {
		b.AddParent(parent)
	}

	return b.Compile(), nil
}

// flatten layers the attributes onto the builder, recursing into used
// templates first so the object's own attributes win. The visited set holds
// the template names on the current resolution path; meeting one again means
// the template graph is cyclic.
func (o *ObjectsFile) flatten(b *icinga.ConfigItemBuilder, attrs map[string]interface{}, visited map[string]struct{}) ([]string, error) {
	parents, err := useNames(attrs)
	if err != nil {
		return nil, err
	}

	for _, parent := range parents {
		if _, onPath := visited[parent]; onPath {
			return nil, errors.Errorf("template cycle detected at %q", parent)
		}

		tmpl, ok := o.Templates[parent]
		if !ok {
			return nil, errors.Errorf("template %q not found", parent)
		}

		visited[parent] = struct{}{}
		if _, err := o.flatten(b, tmpl, visited); err != nil {
			return nil, err
		}
		delete(visited, parent)
	}

	keys := make([]string, 0, len(attrs))
	for attr := range attrs {
		keys = append(keys, attr)
	}
	sort.Strings(keys)

	for _, attr := range keys {
		if attr == "use" {
			continue
		}

		if _, isDict := attrs[attr].(map[string]interface{}); isDict {
			b.MergeExpr(attr, attrs[attr])
		} else {
			b.SetExpr(attr, attrs[attr])
		}
	}

	return parents, nil
}

// useNames reads the "use" key as a name or list of names.
func useNames(attrs map[string]interface{}) ([]string, error) {
	v, ok := attrs["use"]
	if !ok || v == nil {
		return nil, nil
	}

	switch u := v.(type) {
	case string:
		return []string{u}, nil
	case []interface{}:
		names := make([]string, 0, len(u))
		for _, e := range u {
			s, ok := e.(string)
			if !ok {
				return nil, errors.Errorf("\"use\" must contain only template names, got %T", e)
			}
			names = append(names, s)
		}

		return names, nil
	default:
		return nil, errors.Errorf("\"use\" must be a template name or a list of them, got %T", v)
	}
}

func sortedNames(m map[string]map[string]interface{}) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
