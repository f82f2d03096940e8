// Package types implements the type registry: built-in base types plus the
// types a template declares, with super-type chains and derivation checks.
package types

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"github.com/agentic-research/stratum/api"
	"github.com/agentic-research/stratum/internal/template"
)

// Kind is the family a type belongs to.
type Kind string

const (
	NodeKind         Kind = "node"
	CapabilityKind   Kind = "capability"
	RelationshipKind Kind = "relationship"
	ArtifactKind     Kind = "artifact"
	GroupKind        Kind = "group"
	PolicyKind       Kind = "policy"
	DataKind         Kind = "data"
)

// Well-known type names the engine depends on.
const (
	RootNode          = "tosca.nodes.Root"
	LocalRepository   = "tosca.nodes.LocalRepository"
	NodeCapability    = "tosca.capabilities.Node"
	RootRelationship  = "tosca.relationships.Root"
	RootArtifact      = "tosca.artifacts.Root"
	RootGroup         = "tosca.groups.Root"
	FeatureCapability = "feature"
)

var sections = []struct {
	key  string
	kind Kind
}{
	{"data_types", DataKind},
	{"capability_types", CapabilityKind},
	{"relationship_types", RelationshipKind},
	{"artifact_types", ArtifactKind},
	{"node_types", NodeKind},
	{"group_types", GroupKind},
	{"policy_types", PolicyKind},
}

// Type is one declared type.
type Type struct {
	Name        string
	Kind        Kind
	DerivedFrom string
	Def         *template.Map
	Builtin     bool
}

// CapabilityDef is a capability a node type provides.
type CapabilityDef struct {
	Name       string
	Type       string
	Properties *template.Map
}

// RequirementDef is a requirement declared on a node type.
type RequirementDef struct {
	Name         string
	Capability   string
	Node         string
	Relationship string
	Occurrences  api.Occurrences
}

//go:embed builtins.yaml
var builtinSource []byte

var (
	builtinOnce  sync.Once
	builtinTypes *template.Map
)

func builtins() *template.Map {
	builtinOnce.Do(func() {
		m, err := template.Parse(builtinSource, "builtins.yaml")
		if err != nil {
			panic(fmt.Sprintf("types: builtin definitions: %v", err))
		}
		builtinTypes = m
	})
	return builtinTypes
}

// Registry resolves type names. It is built once per build pass.
type Registry struct {
	types map[string]*Type
}

// New returns a registry holding the built-in types.
func New() *Registry {
	r := &Registry{types: make(map[string]*Type)}
	r.add(template.CopyMap(builtins()), true)
	return r
}

// LoadTemplate registers every type declared in the template's type
// sections. A declared type replaces a built-in of the same name. The
// returned errors describe unusable declarations; the rest still load.
func (r *Registry) LoadTemplate(root *template.Map) []error {
	errs := r.add(root, false)
	return append(errs, r.check()...)
}

func (r *Registry) add(root *template.Map, builtin bool) []error {
	var errs []error
	for _, s := range sections {
		raw, ok := root.Get(s.key)
		if !ok || raw == nil {
			continue
		}
		section, ok := raw.(*template.Map)
		if !ok {
			errs = append(errs, fmt.Errorf("%s must be a mapping", s.key))
			continue
		}
		for p := section.Oldest(); p != nil; p = p.Next() {
			def, ok := p.Value.(*template.Map)
			if p.Value == nil {
				def, ok = template.NewMap(), true
			}
			if !ok {
				errs = append(errs, fmt.Errorf("%s %q must be a mapping", s.key, p.Key))
				continue
			}
			r.types[p.Key] = &Type{
				Name:        p.Key,
				Kind:        s.kind,
				DerivedFrom: template.GetString(def, "derived_from"),
				Def:         def,
				Builtin:     builtin,
			}
		}
	}
	return errs
}

// check reports unknown parents, kind mismatches and derivation cycles in
// declared types. Names are visited in sorted order so reports are stable.
func (r *Registry) check() []error {
	names := make([]string, 0, len(r.types))
	for name, t := range r.types {
		if !t.Builtin {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		t := r.types[name]
		if t.DerivedFrom == "" {
			continue
		}
		parent, ok := r.types[t.DerivedFrom]
		if !ok {
			errs = append(errs, fmt.Errorf("type %q derives from unknown type %q", name, t.DerivedFrom))
			continue
		}
		if parent.Kind != t.Kind {
			errs = append(errs, fmt.Errorf("%s type %q derives from %s type %q", t.Kind, name, parent.Kind, parent.Name))
		}
		if r.cyclic(name) {
			errs = append(errs, fmt.Errorf("type %q has a derivation cycle", name))
		}
	}
	return errs
}

func (r *Registry) cyclic(name string) bool {
	seen := map[string]bool{}
	for cur := name; cur != ""; {
		if seen[cur] {
			return true
		}
		seen[cur] = true
		t, ok := r.types[cur]
		if !ok {
			return false
		}
		cur = t.DerivedFrom
	}
	return false
}

// Lookup returns the named type.
func (r *Registry) Lookup(name string) (*Type, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Ancestors returns name followed by its super types, nearest first.
// Unknown names yield nil. Cycles stop at the first repeat.
func (r *Registry) Ancestors(name string) []string {
	var out []string
	seen := map[string]bool{}
	for cur := name; cur != "" && !seen[cur]; {
		t, ok := r.types[cur]
		if !ok {
			break
		}
		seen[cur] = true
		out = append(out, cur)
		cur = t.DerivedFrom
	}
	return out
}

// IsDerivedFrom reports whether name is base or one of its descendants.
func (r *Registry) IsDerivedFrom(name, base string) bool {
	if name == base {
		return true
	}
	for _, a := range r.Ancestors(name) {
		if a == base {
			return true
		}
	}
	return false
}

// Names lists every type of the given kind, sorted.
func (r *Registry) Names(kind Kind) []string {
	var out []string
	for name, t := range r.types {
		if t.Kind == kind {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// IsArtifactKind reports whether name is a registered artifact type.
func (r *Registry) IsArtifactKind(name string) bool {
	t, ok := r.types[name]
	return ok && t.Kind == ArtifactKind
}

// rootFirst walks ancestors from the most general type down, so a
// descendant's declarations override its parents'.
func (r *Registry) rootFirst(name string, fn func(def *template.Map)) {
	chain := r.Ancestors(name)
	for i := len(chain) - 1; i >= 0; i-- {
		fn(r.types[chain[i]].Def)
	}
}

// PropertyDefaults returns the default value of every property the type
// chain declares with a default.
func (r *Registry) PropertyDefaults(name string) *template.Map {
	return r.defaults(name, "properties")
}

// AttributeDefaults is PropertyDefaults for attributes.
func (r *Registry) AttributeDefaults(name string) *template.Map {
	return r.defaults(name, "attributes")
}

func (r *Registry) defaults(name, section string) *template.Map {
	out := template.NewMap()
	r.rootFirst(name, func(def *template.Map) {
		decls, ok := template.GetMap(def, section)
		if !ok {
			return
		}
		for p := decls.Oldest(); p != nil; p = p.Next() {
			decl, ok := p.Value.(*template.Map)
			if !ok {
				continue
			}
			if v, ok := decl.Get("default"); ok {
				out.Set(p.Key, template.Copy(v))
			}
		}
	})
	return out
}

// Capabilities returns the capabilities the node type chain provides, in
// declaration order with inherited ones first.
func (r *Registry) Capabilities(name string) []CapabilityDef {
	byName := template.NewMap()
	r.rootFirst(name, func(def *template.Map) {
		caps, ok := template.GetMap(def, "capabilities")
		if !ok {
			return
		}
		for p := caps.Oldest(); p != nil; p = p.Next() {
			cd := CapabilityDef{Name: p.Key}
			switch v := p.Value.(type) {
			case string:
				cd.Type = v
			case *template.Map:
				cd.Type = template.GetString(v, "type")
				cd.Properties, _ = template.GetMap(v, "properties")
			}
			if prev, ok := byName.Get(p.Key); ok && cd.Type == "" {
				cd.Type = prev.(CapabilityDef).Type
			}
			byName.Set(p.Key, cd)
		}
	})
	out := make([]CapabilityDef, 0, byName.Len())
	for p := byName.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value.(CapabilityDef))
	}
	return out
}

// Requirements returns the requirements the node type chain declares,
// inherited ones first. A descendant redeclaring a name replaces it.
func (r *Registry) Requirements(name string) []RequirementDef {
	byName := template.NewMap()
	r.rootFirst(name, func(def *template.Map) {
		raw, _ := def.Get("requirements")
		entries, err := Entries(raw)
		if err != nil {
			return
		}
		for _, e := range entries {
			rd, err := requirementDef(e.Name, e.Value)
			if err != nil {
				continue
			}
			byName.Set(e.Name, rd)
		}
	})
	out := make([]RequirementDef, 0, byName.Len())
	for p := byName.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value.(RequirementDef))
	}
	return out
}

func requirementDef(name string, raw any) (RequirementDef, error) {
	rd := RequirementDef{Name: name, Occurrences: api.DefaultOccurrences}
	switch v := raw.(type) {
	case string:
		rd.Capability = v
	case *template.Map:
		rd.Capability = template.GetString(v, "capability")
		rd.Node = template.GetString(v, "node")
		switch rel := mustGet(v, "relationship").(type) {
		case string:
			rd.Relationship = rel
		case *template.Map:
			rd.Relationship = template.GetString(rel, "type")
		}
		if occ, ok := v.Get("occurrences"); ok {
			parsed, err := api.ParseOccurrences(occ)
			if err != nil {
				return rd, fmt.Errorf("requirement %q: %w", name, err)
			}
			rd.Occurrences = parsed
		}
	default:
		return rd, fmt.Errorf("requirement %q: expected a capability type or a mapping", name)
	}
	return rd, nil
}

func mustGet(m *template.Map, key string) any {
	v, _ := m.Get(key)
	return v
}

// ValidTargetTypes returns the nearest valid_target_types declared on the
// relationship type chain.
func (r *Registry) ValidTargetTypes(name string) []string {
	for _, a := range r.Ancestors(name) {
		if v, ok := r.types[a].Def.Get("valid_target_types"); ok {
			return template.StringList(v)
		}
	}
	return nil
}

// Entry is one named item of a list-of-single-key-maps section, the shape
// TOSCA uses for requirements.
type Entry struct {
	Name  string
	Value any
}

// Entries reads either a list of single-key mappings or a plain mapping,
// keeping order and duplicates.
func Entries(raw any) ([]Entry, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case *template.Map:
		out := make([]Entry, 0, v.Len())
		for p := v.Oldest(); p != nil; p = p.Next() {
			out = append(out, Entry{Name: p.Key, Value: p.Value})
		}
		return out, nil
	case []any:
		out := make([]Entry, 0, len(v))
		for i, item := range v {
			m, ok := item.(*template.Map)
			if !ok || m.Len() != 1 {
				return nil, fmt.Errorf("entry %d must be a single-key mapping", i)
			}
			p := m.Oldest()
			out = append(out, Entry{Name: p.Key, Value: p.Value})
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list or a mapping")
}
