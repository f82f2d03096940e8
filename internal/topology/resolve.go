package topology

import (
	"fmt"
	"strings"

	"github.com/agentic-research/stratum/api"
	"github.com/agentic-research/stratum/internal/template"
	"github.com/agentic-research/stratum/internal/types"
)

// ResolveArtifact turns an artifact reference into an Artifact. ref is a
// name (optionally "repository:name") or an inline declaration mapping;
// owner may be nil. Resolution order:
//
//  1. an artifact the owner declares under that name
//  2. an artifact declared on a node derived from tosca.nodes.LocalRepository,
//     copied and bound to that node
//  3. a repository qualifier naming a declared repository
//  4. a registered artifact type name
//  5. a bare path or URL
//
// Anything else fails with a NotFoundError.
func (t *Topology) ResolveArtifact(ref any, owner *Node) (*Artifact, error) {
	var ownerEntity Entity = t
	if owner != nil {
		ownerEntity = owner
	}
	switch v := ref.(type) {
	case *template.Map:
		return t.inlineArtifact(v, ownerEntity)
	case map[string]any:
		return t.inlineArtifact(template.FromPlain(v).(*template.Map), ownerEntity)
	case string:
		return t.namedArtifact(v, owner, ownerEntity)
	}
	return nil, fmt.Errorf("artifact reference must be a name or a mapping, got %T", ref)
}

func (t *Topology) inlineArtifact(def *template.Map, owner Entity) (*Artifact, error) {
	decl, err := artifactDecl(def)
	if err != nil {
		return nil, invalidErr(owner.Address(), err, "invalid inline artifact")
	}
	return t.newArtifact("", owner.Address(), decl, owner)
}

func (t *Topology) namedArtifact(name string, owner *Node, ownerEntity Entity) (*Artifact, error) {
	if name == "" {
		return nil, &NotFoundError{Name: name}
	}
	if owner != nil {
		if a := owner.Artifact(name); a != nil {
			return a, nil
		}
	}
	for _, repo := range t.FindByType(types.LocalRepository) {
		if a := repo.Artifact(name); a != nil {
			return t.bind(a, repo)
		}
	}
	if repoName, file, ok := strings.Cut(name, ":"); ok {
		if _, declared := t.repositories[repoName]; declared && file != "" {
			return t.newArtifact(file, ownerEntity.Address(), api.Artifact{File: file, Repository: repoName}, ownerEntity)
		}
	}
	if t.registry.IsArtifactKind(name) {
		return t.newArtifact(name, ownerEntity.Address(), api.Artifact{File: name, Type: name}, ownerEntity)
	}
	if pathLike(name) {
		return t.newArtifact(name, ownerEntity.Address(), api.Artifact{File: name}, ownerEntity)
	}
	return nil, &NotFoundError{Name: name}
}

// bind copies a repository node's artifact so it resolves relative to that
// node.
func (t *Topology) bind(a *Artifact, repo *Node) (*Artifact, error) {
	c, err := t.newArtifact(a.name, a.address, a.decl, repo)
	if err != nil {
		return nil, err
	}
	c.baseDir = a.baseDir
	return c, nil
}

func pathLike(name string) bool {
	return strings.ContainsAny(name, "/.") || template.HasScheme(name)
}

// Intrinsic functions usable in outputs.
const (
	fnGetProperty  = "get_property"
	fnGetAttribute = "get_attribute"
)

// evaluateOutputs resolves every declared output value. Values may embed
// {eval: ...} expressions (evaluated against the topology), get_input,
// get_property and get_attribute.
func (t *Topology) evaluateOutputs() {
	outputs := section(t.root, keyOutputs)
	for p := outputs.Oldest(); p != nil; p = p.Next() {
		entity := "outputs::" + p.Key
		def, _ := p.Value.(*template.Map)
		var decl api.Output
		if def == nil {
			t.addError(invalid(entity, "output must be a mapping with a value"))
			continue
		}
		if err := api.Decode(template.ToPlain(def), &decl); err != nil {
			t.addError(invalidErr(entity, err, "invalid output"))
			continue
		}
		raw, _ := def.Get("value")
		v, err := template.Expand(raw, func(src string) (any, error) {
			res, err := t.evaluate(src, t, nil)
			if err != nil {
				return nil, err
			}
			return valueOf(res), nil
		})
		if err == nil {
			v, err = t.intrinsics(v)
		}
		if err != nil {
			t.addError(&ResolutionError{Entity: entity, Reference: "value", Err: err})
			continue
		}
		t.outputs.Set(p.Key, v)
	}
	t.touch()
}

// intrinsics resolves get_input, get_property and get_attribute calls.
func (t *Topology) intrinsics(v any) (any, error) {
	switch m := v.(type) {
	case *template.Map:
		if m.Len() == 1 {
			fn := m.Oldest()
			switch fn.Key {
			case keyGetInput:
				name, _ := fn.Value.(string)
				val, ok := t.inputs.Get(name)
				if !ok {
					return nil, fmt.Errorf("no input %q", name)
				}
				return template.Copy(val), nil
			case fnGetProperty, fnGetAttribute:
				return t.entityValue(fn.Key, fn.Value)
			}
		}
		out := template.NewMap()
		for p := m.Oldest(); p != nil; p = p.Next() {
			item, err := t.intrinsics(p.Value)
			if err != nil {
				return nil, err
			}
			out.Set(p.Key, item)
		}
		return out, nil
	case []any:
		out := make([]any, len(m))
		for i, item := range m {
			resolved, err := t.intrinsics(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	}
	return v, nil
}

// entityValue reads [address, name, nested keys...] from an entity's
// properties or attributes.
func (t *Topology) entityValue(fn string, args any) (any, error) {
	list := template.StringList(args)
	if len(list) < 2 {
		return nil, fmt.Errorf("%s needs an entity address and a name", fn)
	}
	e := t.Get(list[0])
	if e == nil {
		return nil, fmt.Errorf("%s: no entity %q", fn, list[0])
	}
	source := e.Properties()
	if fn == fnGetAttribute {
		source = e.Attributes()
	}
	v, ok := template.GetPath(source, list[1:])
	if !ok {
		return nil, fmt.Errorf("%s: %s has no %s", fn, list[0], strings.Join(list[1:], "."))
	}
	return template.Copy(v), nil
}
