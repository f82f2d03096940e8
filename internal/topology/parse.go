package topology

import (
	"fmt"
	"sort"

	"github.com/agentic-research/stratum/api"
	"github.com/agentic-research/stratum/internal/template"
	"github.com/agentic-research/stratum/internal/types"
)

// Raw template sections.
const (
	keyNodeTemplates    = "node_templates"
	keyRelationships    = "relationship_templates"
	keyGroups           = "groups"
	keyPolicies         = "policies"
	keyWorkflows        = "workflows"
	keyInputs           = "inputs"
	keyOutputs          = "outputs"
	keyRepositories     = "repositories"
	keyDecorators       = "decorators"
	keySubstitution     = "substitution_mappings"
	keyImports          = "imports"
	keyProperties       = "properties"
	keyAttributes       = "attributes"
	keyCapabilities     = "capabilities"
	keyRequirements     = "requirements"
	keyArtifacts        = "artifacts"
	keyNodeFilter       = "node_filter"
	keyGetInput         = "get_input"
	defaultArtifactType = "tosca.artifacts.File"
)

// mappingSections must be mappings when present.
var mappingSections = []string{
	keyNodeTemplates, keyRelationships, keyGroups, keyPolicies, keyWorkflows,
	keyInputs, keyOutputs, keyRepositories, keySubstitution,
}

// passInput is everything one parse pass reads.
type passInput struct {
	root    *template.Map
	origins map[string]string // node name -> defining document directory
	path    string
	baseDir string
	inputs  map[string]any
	imports []*template.Import
}

type parser struct {
	t       *Topology
	in      *passInput
	claimed map[string]string // entity name -> kind that claimed it
}

// parse builds typed entities without resolving cross references between
// nodes. A section of the wrong shape is a ParseError; every other problem
// is collected on the topology.
func (b *Builder) parse(in *passInput) (*Topology, error) {
	for _, key := range mappingSections {
		if v, ok := in.root.Get(key); ok && v != nil {
			if _, isMap := v.(*template.Map); !isMap {
				return nil, &ParseError{Path: in.path, Message: fmt.Sprintf("%s must be a mapping", key)}
			}
		}
	}
	if v, ok := in.root.Get(keyDecorators); ok && v != nil {
		switch v.(type) {
		case *template.Map, []any:
		default:
			return nil, &ParseError{Path: in.path, Message: "decorators must be a mapping or a list"}
		}
	}

	reg := b.newRegistry()
	t := newTopology(in.root, in.path, in.baseDir, reg, b.eval)
	t.imports = in.imports
	for _, err := range reg.LoadTemplate(in.root) {
		t.addError(&ValidationError{Entity: "types", Message: err.Error()})
	}

	p := &parser{t: t, in: in, claimed: make(map[string]string)}
	p.inputs()
	p.repositories()
	p.relationshipTemplates()
	p.nodes()
	p.groups()
	p.policies()
	p.workflows()
	p.substitution()
	return t, nil
}

func section(root *template.Map, key string) *template.Map {
	m, _ := template.GetMap(root, key)
	if m == nil {
		return template.NewMap()
	}
	return m
}

// claim reserves name across nodes, relationship templates, groups and
// policies.
func (p *parser) claim(name, kind string) bool {
	if !api.ValidName(name) {
		p.t.addError(invalidErr(name, ErrInvalidName, "%s name %q is not a valid identifier", kind, name))
		return false
	}
	if prev, ok := p.claimed[name]; ok {
		p.t.addError(invalidErr(name, ErrDuplicateName, "%s name %q is already used by a %s", kind, name, prev))
		return false
	}
	p.claimed[name] = kind
	return true
}

func (p *parser) inputs() {
	t := p.t
	decls := section(t.root, keyInputs)
	for pair := decls.Oldest(); pair != nil; pair = pair.Next() {
		name := pair.Key
		var decl api.Input
		raw, _ := pair.Value.(*template.Map)
		if raw != nil {
			if err := api.Decode(template.ToPlain(raw), &decl); err != nil {
				t.addError(invalidErr("inputs::"+name, err, "invalid input declaration"))
				continue
			}
		}
		if v, ok := p.in.inputs[name]; ok {
			t.inputs.Set(name, template.FromPlain(v))
			continue
		}
		if def, ok := template.GetPath(raw, []string{"default"}); raw != nil && ok {
			t.inputs.Set(name, template.Copy(def))
			continue
		}
		if decl.IsRequired() {
			t.addError(invalid("inputs::"+name, "input %q has no value and no default", name))
		}
	}

	// values for undeclared inputs are still visible to get_input
	extra := make([]string, 0, len(p.in.inputs))
	for name := range p.in.inputs {
		if _, declared := decls.Get(name); !declared {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		t.inputs.Set(name, template.FromPlain(p.in.inputs[name]))
	}
}

func (p *parser) repositories() {
	t := p.t
	repos := section(t.root, keyRepositories)
	for pair := repos.Oldest(); pair != nil; pair = pair.Next() {
		var decl api.Repository
		switch v := pair.Value.(type) {
		case string:
			decl.URL = v
		case *template.Map:
			if err := api.Decode(template.ToPlain(v), &decl); err != nil {
				t.addError(invalidErr("repositories::"+pair.Key, err, "invalid repository"))
				continue
			}
		default:
			t.addError(invalid("repositories::"+pair.Key, "repository must be a url or a mapping"))
			continue
		}
		t.repositories[pair.Key] = &Repository{Name: pair.Key, URL: decl.URL}
	}
}

func (p *parser) relationshipTemplates() {
	t := p.t
	rels := section(t.root, keyRelationships)
	for pair := rels.Oldest(); pair != nil; pair = pair.Next() {
		name := pair.Key
		addr := sectionRelationships + addressSeparator + name
		def, ok := pair.Value.(*template.Map)
		if !ok {
			t.addError(invalid(addr, "relationship template must be a mapping"))
			continue
		}
		var decl api.RelationshipTemplate
		if err := api.Decode(template.ToPlain(def), &decl); err != nil {
			t.addError(invalidErr(addr, err, "invalid relationship template"))
			continue
		}
		if !p.claim(name, "relationship template") {
			continue
		}
		p.checkType(addr, decl.Type, types.RelationshipKind)
		r := &Relationship{
			EntityCore: newCore(t, KindRelationship, name, decl.Type, addr, t),
			defaultFor: decl.DefaultFor,
			global:     true,
		}
		r.rawPath = []string{keyRelationships, name}
		p.fill(&r.EntityCore, def, decl.Type)
		r.interfaces = template.CopyMap(mapOrNil(def, "interfaces"))
		t.relationships = append(t.relationships, r)
		t.relIndex[name] = r
	}
}

// checkType reports a type name that is missing or of the wrong kind.
func (p *parser) checkType(entity, name string, kind types.Kind) {
	typ, ok := p.t.registry.Lookup(name)
	switch {
	case !ok:
		p.t.addError(invalid(entity, "unknown %s type %q", kind, name))
	case typ.Kind != kind:
		p.t.addError(invalid(entity, "%q is a %s type, not a %s type", name, typ.Kind, kind))
	}
}

// fill sets properties and attributes from type defaults overlaid with the
// definition's own values, resolving get_input references.
func (p *parser) fill(core *EntityCore, def *template.Map, typeName string, extra ...*template.Map) {
	reg := p.t.registry
	props := append([]*template.Map{reg.PropertyDefaults(typeName)}, extra...)
	props = append(props, mapOrNil(def, keyProperties))
	core.properties = p.resolveInputs(core.address, template.Layer(props...))
	core.attributes = p.resolveInputs(core.address, template.Layer(reg.AttributeDefaults(typeName), mapOrNil(def, keyAttributes)))
}

func mapOrNil(m *template.Map, key string) *template.Map {
	sub, _ := template.GetMap(m, key)
	return sub
}

// resolveInputs replaces {get_input: name} values with the input's value.
func (p *parser) resolveInputs(entity string, m *template.Map) *template.Map {
	out, _ := p.resolveValue(entity, m).(*template.Map)
	return out
}

func (p *parser) resolveValue(entity string, v any) any {
	switch t := v.(type) {
	case *template.Map:
		if t.Len() == 1 {
			if raw, ok := t.Get(keyGetInput); ok {
				name, _ := raw.(string)
				if val, ok := p.t.inputs.Get(name); ok {
					return template.Copy(val)
				}
				p.t.addError(&ResolutionError{Entity: entity, Reference: keyGetInput + ":" + name, Err: fmt.Errorf("no such input")})
				return nil
			}
		}
		out := template.NewMap()
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, p.resolveValue(entity, pair.Value))
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = p.resolveValue(entity, item)
		}
		return out
	}
	return v
}

func (p *parser) nodes() {
	t := p.t
	templates := section(t.root, keyNodeTemplates)
	for pair := templates.Oldest(); pair != nil; pair = pair.Next() {
		name := pair.Key
		def, ok := pair.Value.(*template.Map)
		if !ok {
			t.addError(invalid(name, "node template must be a mapping"))
			continue
		}
		var decl api.NodeTemplate
		if err := api.Decode(template.ToPlain(def), &decl); err != nil {
			t.addError(invalidErr(name, err, "invalid node template"))
			continue
		}
		if !p.claim(name, "node") {
			continue
		}
		p.checkType(name, decl.Type, types.NodeKind)

		n := &Node{
			EntityCore: newCore(t, KindNode, name, decl.Type, name, t),
			ID:         NodeID(len(t.nodes)),
			directives: decl.Directives,
		}
		n.baseDir = p.in.origins[name]
		n.rawPath = []string{keyNodeTemplates, name}
		p.fill(&n.EntityCore, def, decl.Type)
		p.capabilities(n, def)
		p.requirements(n, def)
		p.artifacts(n, def)

		t.nodes = append(t.nodes, n)
		t.nodeIndex[name] = n
		t.indexType(n)
	}
}

func (p *parser) capabilities(n *Node, def *template.Map) {
	t := p.t
	declared := section(def, keyCapabilities)
	defs := t.registry.Capabilities(n.typeName)
	hasFeature := false
	for _, cd := range defs {
		if cd.Name == types.FeatureCapability {
			hasFeature = true
		}
	}
	if !hasFeature {
		defs = append([]types.CapabilityDef{{Name: types.FeatureCapability, Type: types.NodeCapability}}, defs...)
	}

	known := make(map[string]bool, len(defs))
	for _, cd := range defs {
		known[cd.Name] = true
		own, _ := template.GetMap(declared, cd.Name)
		n.capabilities = append(n.capabilities, p.newCapability(n, cd.Name, cd.Type, own, cd.Properties))
	}
	for pair := declared.Oldest(); pair != nil; pair = pair.Next() {
		if known[pair.Key] {
			continue
		}
		own, _ := pair.Value.(*template.Map)
		typ := template.GetString(own, "type")
		if typ == "" {
			t.addError(invalid(n.name+addressSeparator+pair.Key, "capability %q is not declared by type %q and has no type", pair.Key, n.typeName))
			continue
		}
		p.checkType(n.name+addressSeparator+pair.Key, typ, types.CapabilityKind)
		n.capabilities = append(n.capabilities, p.newCapability(n, pair.Key, typ, own, nil))
	}
}

func (p *parser) newCapability(n *Node, name, typeName string, def, typeProps *template.Map) *Capability {
	if own := template.GetString(def, "type"); own != "" {
		typeName = own
	}
	addr := n.name + addressSeparator + sectionCapabilities + addressSeparator + name
	c := &Capability{
		EntityCore: newCore(p.t, KindCapability, name, typeName, addr, n),
		node:       n,
	}
	c.rawPath = []string{keyNodeTemplates, n.name, keyCapabilities, name}
	p.fill(&c.EntityCore, def, typeName, typeProps)
	return c
}

func (p *parser) requirements(n *Node, def *template.Map) {
	t := p.t
	raw, _ := def.Get(keyRequirements)
	entries, err := types.Entries(raw)
	if err != nil {
		t.addError(invalidErr(n.name, err, "invalid requirements"))
		return
	}

	typeDefs := make(map[string]types.RequirementDef)
	ordered := t.registry.Requirements(n.typeName)
	for _, rd := range ordered {
		typeDefs[rd.Name] = rd
	}
	inTemplate := make(map[string]bool, len(entries))
	for _, e := range entries {
		inTemplate[e.Name] = true
	}
	for _, rd := range ordered {
		if rd.Occurrences.Lower > 0 && !inTemplate[rd.Name] {
			rd := rd
			n.requirements = append(n.requirements, p.newRequirement(n, rd.Name, &rd, template.NewMap()))
		}
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.Name] {
			t.addError(invalidErr(n.name, ErrDuplicateName, "requirement %q is declared more than once", e.Name))
			continue
		}
		seen[e.Name] = true
		spec, err := requirementSpec(e.Value)
		if err != nil {
			t.addError(invalidErr(n.name+addressSeparator+e.Name, err, "invalid requirement"))
			continue
		}
		var rd *types.RequirementDef
		if d, ok := typeDefs[e.Name]; ok {
			rd = &d
		}
		n.requirements = append(n.requirements, p.newRequirement(n, e.Name, rd, spec))
	}
}

// requirementSpec normalizes the short form "name: target" to a mapping.
func requirementSpec(v any) (*template.Map, error) {
	switch s := v.(type) {
	case nil:
		return template.NewMap(), nil
	case string:
		return template.MapOf("node", s), nil
	case *template.Map:
		return template.CopyMap(s), nil
	}
	return nil, fmt.Errorf("expected a node name or a mapping")
}

func (p *parser) newRequirement(n *Node, name string, def *types.RequirementDef, spec *template.Map) *Requirement {
	return newRequirement(p.t, n, name, def, spec)
}

func newRequirement(t *Topology, n *Node, name string, def *types.RequirementDef, spec *template.Map) *Requirement {
	addr := n.name + addressSeparator + sectionRequirements + addressSeparator + name
	r := &Requirement{
		EntityCore:  newCore(t, KindRequirement, name, "", addr, n),
		node:        n,
		def:         def,
		spec:        spec,
		occurrences: api.DefaultOccurrences,
	}
	if def != nil {
		r.occurrences = def.Occurrences
	}
	r.readOccurrences()
	return r
}

// readOccurrences applies occurrences declared on the requirement itself, if valid.
func (r *Requirement) readOccurrences() {
	raw, ok := r.spec.Get("occurrences")
	if !ok {
		return
	}
	occ, err := api.ParseOccurrences(raw)
	if err != nil {
		r.topology.addError(invalidErr(r.address, err, "invalid occurrences"))
		return
	}
	r.occurrences = occ
}

func (p *parser) artifacts(n *Node, def *template.Map) {
	t := p.t
	arts := section(def, keyArtifacts)
	for pair := arts.Oldest(); pair != nil; pair = pair.Next() {
		addr := n.name + addressSeparator + sectionArtifacts + addressSeparator + pair.Key
		decl, err := artifactDecl(pair.Value)
		if err != nil {
			t.addError(invalidErr(addr, err, "invalid artifact"))
			continue
		}
		a, err := t.newArtifact(pair.Key, addr, decl, n)
		if err != nil {
			t.addError(err)
			continue
		}
		a.rawPath = []string{keyNodeTemplates, n.name, keyArtifacts, pair.Key}
		n.artifacts = append(n.artifacts, a)
	}
}

// artifactDecl reads the short form (a file reference) or a mapping.
func artifactDecl(v any) (api.Artifact, error) {
	var decl api.Artifact
	switch s := v.(type) {
	case string:
		decl.File = s
		return decl, api.Validate(&decl)
	case *template.Map:
		err := api.Decode(template.ToPlain(s), &decl)
		return decl, err
	}
	return decl, fmt.Errorf("expected a file reference or a mapping")
}

// newArtifact binds a declaration to its owner and repository.
func (t *Topology) newArtifact(name, addr string, decl api.Artifact, owner Entity) (*Artifact, error) {
	typeName := decl.Type
	if typeName == "" {
		typeName = defaultArtifactType
	} else if !t.registry.IsArtifactKind(typeName) {
		return nil, invalid(addr, "unknown artifact type %q", typeName)
	}
	a := &Artifact{
		EntityCore: newCore(t, KindArtifact, name, typeName, addr, owner),
		decl:       decl,
	}
	if decl.Repository != "" {
		repo := t.repositories[decl.Repository]
		if repo == nil {
			return nil, invalid(addr, "unknown repository %q", decl.Repository)
		}
		a.repository = repo
	}
	return a, nil
}

func (p *parser) groups() {
	t := p.t
	groups := section(t.root, keyGroups)
	for pair := groups.Oldest(); pair != nil; pair = pair.Next() {
		name := pair.Key
		addr := sectionGroups + addressSeparator + name
		def, _ := pair.Value.(*template.Map)
		var decl api.Group
		if def != nil {
			if err := api.Decode(template.ToPlain(def), &decl); err != nil {
				t.addError(invalidErr(addr, err, "invalid group"))
				continue
			}
		}
		if !p.claim(name, "group") {
			continue
		}
		if decl.Type == "" {
			decl.Type = types.RootGroup
		}
		p.checkType(addr, decl.Type, types.GroupKind)
		g := &Group{
			EntityCore: newCore(t, KindGroup, name, decl.Type, addr, t),
			index:      uint32(len(t.groups)),
			members:    decl.Members,
		}
		g.rawPath = []string{keyGroups, name}
		p.fill(&g.EntityCore, def, decl.Type)
		t.groups = append(t.groups, g)
		t.groupIndex[name] = g
	}
	for _, g := range t.groups {
		for _, m := range g.members {
			if t.nodeIndex[m] == nil && t.groupIndex[m] == nil {
				t.addError(invalid(g.address, "member %q is not a node or group", m))
			}
		}
	}
}

func (p *parser) policies() {
	t := p.t
	policies := section(t.root, keyPolicies)
	for pair := policies.Oldest(); pair != nil; pair = pair.Next() {
		name := pair.Key
		addr := sectionPolicies + addressSeparator + name
		def, ok := pair.Value.(*template.Map)
		if !ok {
			t.addError(invalid(addr, "policy must be a mapping"))
			continue
		}
		var decl api.Policy
		if err := api.Decode(template.ToPlain(def), &decl); err != nil {
			t.addError(invalidErr(addr, err, "invalid policy"))
			continue
		}
		if !p.claim(name, "policy") {
			continue
		}
		p.checkType(addr, decl.Type, types.PolicyKind)
		pol := &Policy{
			EntityCore: newCore(t, KindPolicy, name, decl.Type, addr, t),
			targets:    decl.Targets,
		}
		pol.rawPath = []string{keyPolicies, name}
		p.fill(&pol.EntityCore, def, decl.Type)
		for _, target := range decl.Targets {
			if t.nodeIndex[target] == nil && t.groupIndex[target] == nil {
				t.addError(invalid(addr, "target %q is not a node or group", target))
			}
		}
		t.policies = append(t.policies, pol)
		t.policyIndex[name] = pol
	}
}

func (p *parser) workflows() {
	t := p.t
	workflows := section(t.root, keyWorkflows)
	for pair := workflows.Oldest(); pair != nil; pair = pair.Next() {
		name := pair.Key
		entity := "workflows::" + name
		var decl api.Workflow
		if err := api.Decode(template.ToPlain(pair.Value), &decl); err != nil {
			t.addError(invalidErr(entity, err, "invalid workflow"))
			continue
		}
		w := &Workflow{Name: name, Description: decl.Description, steps: make(map[string]*Step, len(decl.Steps))}
		for _, pre := range decl.Preconditions {
			if !p.targetExists(pre.Target) {
				t.addError(invalid(entity, "precondition target %q is not a node or group", pre.Target))
			}
			w.Preconditions = append(w.Preconditions, Precondition{Target: pre.Target, Condition: pre.Condition})
		}
		for stepName, s := range decl.Steps {
			w.steps[stepName] = &Step{
				Name:               stepName,
				Target:             s.Target,
				TargetRelationship: s.TargetRelationship,
				Filter:             s.Filter,
				Activities:         s.Activities,
				OnSuccess:          s.OnSuccess,
				OnFailure:          s.OnFailure,
			}
		}
		for _, stepName := range w.StepNames() {
			s := w.steps[stepName]
			if !p.targetExists(s.Target) {
				t.addError(invalid(entity, "step %q targets %q, which is not a node or group", stepName, s.Target))
			}
			for _, next := range s.successors() {
				if w.steps[next] == nil {
					t.addError(invalid(entity, "step %q leads to unknown step %q", stepName, next))
				}
			}
		}
		t.workflows[name] = w
	}
}

func (p *parser) targetExists(name string) bool {
	return p.t.nodeIndex[name] != nil || p.t.groupIndex[name] != nil
}

// substitution picks the node the topology stands for: the one named by
// substitution_mappings.node, else the first node with the substitute
// directive.
func (p *parser) substitution() {
	t := p.t
	if name := template.GetString(mapOrNil(t.root, keySubstitution), "node"); name != "" {
		if n := t.nodeIndex[name]; n != nil {
			t.substitution = n
		} else {
			t.addError(invalid(keySubstitution, "substitution node %q does not exist", name))
		}
		return
	}
	for _, n := range t.nodes {
		if n.HasDirective(DirectiveSubstitute) {
			t.substitution = n
			return
		}
	}
}
