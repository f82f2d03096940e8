package topology

import (
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"

	"github.com/agentic-research/stratum/internal/template"
)

// Topology is the root of a built template. It owns every node,
// relationship template, group, policy and workflow. It is read-only once
// Build returns.
type Topology struct {
	EntityCore
	// ID is fresh for every parse pass.
	ID uuid.UUID
	// Path is the document the topology was built from, if any.
	Path string
	// Passes is how many parse passes produced the topology.
	Passes int

	nodes         []*Node
	nodeIndex     map[string]*Node
	relationships []*Relationship
	relIndex      map[string]*Relationship
	groups        []*Group
	groupIndex    map[string]*Group
	policies      []*Policy
	policyIndex   map[string]*Policy
	workflows     map[string]*Workflow
	repositories  map[string]*Repository
	inputs        *template.Map
	outputs       *template.Map
	substitution  *Node
	links         []*Relationship
	imports       []*template.Import

	// typeIndex maps every type name to the nodes derived from it.
	typeIndex map[string]*roaring.Bitmap

	registry TypeRegistry
	eval     Evaluator
	root     *template.Map
	errors   errorList
	doc      map[string]any
}

func newTopology(root *template.Map, path, baseDir string, registry TypeRegistry, eval Evaluator) *Topology {
	t := &Topology{
		ID:           uuid.New(),
		Path:         path,
		nodeIndex:    make(map[string]*Node),
		relIndex:     make(map[string]*Relationship),
		groupIndex:   make(map[string]*Group),
		policyIndex:  make(map[string]*Policy),
		workflows:    make(map[string]*Workflow),
		repositories: make(map[string]*Repository),
		inputs:       template.NewMap(),
		outputs:      template.NewMap(),
		typeIndex:    make(map[string]*roaring.Bitmap),
		registry:     registry,
		eval:         eval,
		root:         root,
	}
	name := path
	if name == "" {
		name = "topology"
	}
	t.EntityCore = newCore(t, KindTopology, name, "", "", nil)
	t.baseDir = baseDir
	t.rawPath = []string{}
	return t
}

// Nodes returns every node in declaration order.
func (t *Topology) Nodes() []*Node { return t.nodes }

// Node returns the named node or nil.
func (t *Topology) Node(name string) *Node { return t.nodeIndex[name] }

// RelationshipTemplates returns the globally declared relationship
// templates in declaration order.
func (t *Topology) RelationshipTemplates() []*Relationship { return t.relationships }

// Links returns every linked relationship instance in link order.
func (t *Topology) Links() []*Relationship { return t.links }

// Groups returns the groups in declaration order.
func (t *Topology) Groups() []*Group { return t.groups }

// Policies returns the policies in declaration order.
func (t *Topology) Policies() []*Policy { return t.policies }

// Repositories returns the declared repositories by name.
func (t *Topology) Repositories() map[string]*Repository { return t.repositories }

// Inputs returns the resolved input values.
func (t *Topology) Inputs() *template.Map { return t.inputs }

// Outputs returns the evaluated outputs.
func (t *Topology) Outputs() *template.Map { return t.outputs }

// Substitution returns the substitution root, or nil.
func (t *Topology) Substitution() *Node { return t.substitution }

// Registry returns the type registry the topology was built with.
func (t *Topology) Registry() TypeRegistry { return t.registry }

// Template returns the assembled raw template of the final pass.
func (t *Topology) Template() *template.Map { return t.root }

// Imports returns the import fragments that contributed to the topology.
func (t *Topology) Imports() []*template.Import { return t.imports }

// Errors returns every non-fatal error collected during the build, in
// order.
func (t *Topology) Errors() []error { return t.errors.errs }

// Workflow returns the named workflow or nil.
func (t *Topology) Workflow(name string) *Workflow { return t.workflows[name] }

// WorkflowNames returns the workflow names, sorted.
func (t *Topology) WorkflowNames() []string {
	names := make([]string, 0, len(t.workflows))
	for name := range t.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FindByType returns the nodes whose type is typeName or derives from it,
// in declaration order.
func (t *Topology) FindByType(typeName string) []*Node {
	ids, ok := t.typeIndex[typeName]
	if !ok {
		return nil
	}
	return t.nodesOf(ids)
}

func (t *Topology) indexType(n *Node) {
	names := t.registry.Ancestors(n.typeName)
	if len(names) == 0 {
		// unknown types are still findable by their literal name
		names = []string{n.typeName}
	}
	for _, a := range names {
		bm, ok := t.typeIndex[a]
		if !ok {
			bm = roaring.New()
			t.typeIndex[a] = bm
		}
		bm.Add(uint32(n.ID))
	}
}

// Address sections for qualified lookups.
const (
	sectionCapabilities  = "capabilities"
	sectionRequirements  = "requirements"
	sectionArtifacts     = "artifacts"
	sectionRelationships = "relationships"
	sectionGroups        = "groups"
	sectionPolicies      = "policies"
	addressSeparator     = "::"
)

// Get resolves an address to an entity, or nil when nothing matches.
//
//	web                          node, relationship template, group, policy
//	web::host                    capability, requirement, artifact of web
//	web::requirements::host      qualified sub-entity
//	relationships::hosted        relationship template
//	groups::tier / policies::p   group / policy
//	main.yaml#web                any of the above, scoped to a document
func (t *Topology) Get(address string) Entity {
	if doc, rest, ok := strings.Cut(address, "#"); ok {
		if doc != "" && doc != t.Path && !strings.HasSuffix(t.Path, "/"+doc) {
			return nil
		}
		address = rest
	}
	if address == "" {
		return nil
	}
	parts := strings.Split(address, addressSeparator)
	switch len(parts) {
	case 1:
		return t.getPlain(parts[0])
	case 2:
		if e := t.getSection(parts[0], parts[1]); e != nil {
			return e
		}
		n := t.nodeIndex[parts[0]]
		if n == nil {
			return nil
		}
		if c := n.Capability(parts[1]); c != nil {
			return c
		}
		if r := n.Requirement(parts[1]); r != nil {
			return r
		}
		if a := n.Artifact(parts[1]); a != nil {
			return a
		}
	case 3:
		n := t.nodeIndex[parts[0]]
		if n == nil {
			return nil
		}
		switch parts[1] {
		case sectionCapabilities:
			if c := n.Capability(parts[2]); c != nil {
				return c
			}
		case sectionRequirements:
			if r := n.Requirement(parts[2]); r != nil {
				return r
			}
		case sectionArtifacts:
			if a := n.Artifact(parts[2]); a != nil {
				return a
			}
		}
	}
	return nil
}

func (t *Topology) getPlain(name string) Entity {
	if n := t.nodeIndex[name]; n != nil {
		return n
	}
	if r := t.relIndex[name]; r != nil {
		return r
	}
	if g := t.groupIndex[name]; g != nil {
		return g
	}
	if p := t.policyIndex[name]; p != nil {
		return p
	}
	return nil
}

func (t *Topology) getSection(section, name string) Entity {
	switch section {
	case sectionRelationships:
		if r := t.relIndex[name]; r != nil {
			return r
		}
	case sectionGroups:
		if g := t.groupIndex[name]; g != nil {
			return g
		}
	case sectionPolicies:
		if p := t.policyIndex[name]; p != nil {
			return p
		}
	}
	return nil
}

// addError records a non-fatal error.
func (t *Topology) addError(errs ...error) {
	t.errors.add(errs...)
}

// touch drops cached projections after the model changed.
func (t *Topology) touch() {
	t.doc = nil
}
