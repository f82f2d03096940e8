package topology

import (
	"time"

	"github.com/agentic-research/stratum/internal/expr"
	"github.com/agentic-research/stratum/internal/template"
	"github.com/agentic-research/stratum/internal/types"
)

// Evaluator resolves match expressions. Results are plain values; entity
// matches come back as their document projections.
type Evaluator interface {
	Evaluate(src string, ctx expr.Context) ([]any, error)
}

// TypeRegistry answers type questions during parsing and linking.
// types.Registry is the standard implementation.
type TypeRegistry interface {
	// LoadTemplate registers the types a template declares.
	LoadTemplate(root *template.Map) []error
	Lookup(name string) (*types.Type, bool)
	IsDerivedFrom(name, base string) bool
	// Ancestors returns name followed by its super types.
	Ancestors(name string) []string
	PropertyDefaults(name string) *template.Map
	AttributeDefaults(name string) *template.Map
	Capabilities(name string) []types.CapabilityDef
	Requirements(name string) []types.RequirementDef
	ValidTargetTypes(name string) []string
	IsArtifactKind(name string) bool
}

// Observer is notified as a build progresses.
type Observer interface {
	// PassCompleted fires after decorators and import guards ran for a
	// parse pass.
	PassCompleted(pass int, decorated, pruned bool)
	// BuildFinished fires once per Build. t is nil when parsing failed.
	BuildFinished(t *Topology, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) PassCompleted(int, bool, bool)                 {}
func (nopObserver) BuildFinished(*Topology, time.Duration, error) {}
