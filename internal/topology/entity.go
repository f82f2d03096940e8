// Package topology builds a linked, queryable model from a raw topology
// template.
//
// A Builder runs a bounded multi-pass state machine: assemble the template
// with its kept imports, parse typed entities, apply decorators and import
// guards (reparsing while they change the template), link requirements to
// capabilities, push node-filter constraints onto targets, and evaluate
// outputs. The resulting Topology is read-only.
package topology

import (
	"github.com/agentic-research/stratum/internal/template"
)

// Kind identifies an entity variant.
type Kind int

const (
	KindTopology Kind = iota
	KindNode
	KindCapability
	KindRequirement
	KindRelationship
	KindArtifact
	KindGroup
	KindPolicy
)

var kindNames = [...]string{
	KindTopology:     "topology",
	KindNode:         "node",
	KindCapability:   "capability",
	KindRequirement:  "requirement",
	KindRelationship: "relationship",
	KindArtifact:     "artifact",
	KindGroup:        "group",
	KindPolicy:       "policy",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Entity is what every addressable part of a topology exposes.
type Entity interface {
	Name() string
	Kind() Kind
	TypeName() string
	Properties() *template.Map
	Attributes() *template.Map
	// BaseDir is the directory relative paths declared by the entity are
	// resolved against.
	BaseDir() string
	// Owner is the enclosing entity: the node for a capability, the
	// topology for a node. The topology has no owner.
	Owner() Entity
	// Address is the compound name Topology.Get accepts.
	Address() string
}

// EntityCore carries the state every entity variant shares. Variants embed
// it rather than deriving from one another.
type EntityCore struct {
	name       string
	kind       Kind
	typeName   string
	address    string
	properties *template.Map
	attributes *template.Map
	baseDir    string
	owner      Entity
	topology   *Topology
	// rawPath locates the entity's own definition in the base template.
	rawPath []string
}

func newCore(t *Topology, kind Kind, name, typeName, address string, owner Entity) EntityCore {
	return EntityCore{
		name:       name,
		kind:       kind,
		typeName:   typeName,
		address:    address,
		properties: template.NewMap(),
		attributes: template.NewMap(),
		owner:      owner,
		topology:   t,
	}
}

func (c *EntityCore) Name() string     { return c.name }
func (c *EntityCore) Kind() Kind       { return c.kind }
func (c *EntityCore) TypeName() string { return c.typeName }
func (c *EntityCore) Address() string  { return c.address }

func (c *EntityCore) Properties() *template.Map { return c.properties }
func (c *EntityCore) Attributes() *template.Map { return c.attributes }

// Owner returns nil (not a typed nil) when there is no owner.
func (c *EntityCore) Owner() Entity {
	if c.owner == nil {
		return nil
	}
	return c.owner
}

// BaseDir falls back from the entity's own document directory to its
// owner's, then to the topology's.
func (c *EntityCore) BaseDir() string {
	if c.baseDir != "" {
		return c.baseDir
	}
	if c.owner != nil {
		return c.owner.BaseDir()
	}
	if c.topology != nil && c.kind != KindTopology {
		return c.topology.BaseDir()
	}
	return ""
}

// RawPath is the key path of the entity's definition in the raw template,
// or nil for entities that have none (link instances, synthesized
// artifacts).
func (c *EntityCore) RawPath() []string { return c.rawPath }

// Topology returns the topology the entity belongs to.
func (c *EntityCore) Topology() *Topology { return c.topology }

// Property returns one property value.
func (c *EntityCore) Property(name string) (any, bool) {
	return c.properties.Get(name)
}

// Attribute returns one attribute value.
func (c *EntityCore) Attribute(name string) (any, bool) {
	return c.attributes.Get(name)
}
