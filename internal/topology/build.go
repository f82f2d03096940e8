package topology

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/agentic-research/stratum/internal/expr"
	"github.com/agentic-research/stratum/internal/template"
	"github.com/agentic-research/stratum/internal/types"
)

// DefaultMaxPasses bounds both the reparse loop and the node-filter loop.
const DefaultMaxPasses = 5

// Builder turns template documents into topologies. A Builder holds no
// per-build state and may be shared between goroutines.
type Builder struct {
	logger          *slog.Logger
	observer        Observer
	permissive      bool
	maxPasses       int
	defaultTemplate *template.Map
	eval            Evaluator
	newRegistry     func() TypeRegistry
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger used for pass tracing and permissive warnings.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithObserver registers a build observer, such as a metrics collector.
func WithObserver(o Observer) Option {
	return func(b *Builder) {
		if o != nil {
			b.observer = o
		}
	}
}

// WithPermissive downgrades collected errors to warnings: Build logs them
// and returns the partially linked topology.
func WithPermissive(permissive bool) Option {
	return func(b *Builder) { b.permissive = permissive }
}

// WithMaxPasses sets the pass budget. Values below one are ignored.
func WithMaxPasses(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxPasses = n
		}
	}
}

// WithDefaultTemplate sets the template built when Build gets a nil
// document.
func WithDefaultTemplate(root *template.Map) Option {
	return func(b *Builder) { b.defaultTemplate = root }
}

// WithEvaluator replaces the JSONPath expression evaluator.
func WithEvaluator(e Evaluator) Option {
	return func(b *Builder) {
		if e != nil {
			b.eval = e
		}
	}
}

// WithRegistry sets the factory for the per-pass type registry.
func WithRegistry(newRegistry func() TypeRegistry) Option {
	return func(b *Builder) {
		if newRegistry != nil {
			b.newRegistry = newRegistry
		}
	}
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		logger:      slog.New(slog.DiscardHandler),
		observer:    nopObserver{},
		maxPasses:   DefaultMaxPasses,
		eval:        expr.NewJSONPath(),
		newRegistry: func() TypeRegistry { return types.New() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MaxPasses returns the configured pass budget.
func (b *Builder) MaxPasses() int { return b.maxPasses }

type buildState int

const (
	stateAssemble buildState = iota
	stateParse
	stateDecorate
	stateLink
	stateFilter
	stateOutputs
	stateDone
)

func (s buildState) String() string {
	switch s {
	case stateAssemble:
		return "assemble"
	case stateParse:
		return "parse"
	case stateDecorate:
		return "decorate"
	case stateLink:
		return "link"
	case stateFilter:
		return "filter"
	case stateOutputs:
		return "outputs"
	}
	return "done"
}

// build is the state of one Build call.
type build struct {
	b       *Builder
	work    *template.Document
	inputs  map[string]any
	imports []*template.Import

	root    *template.Map
	origins map[string]string
	t       *Topology
	pass    int

	// carried holds decorator and import-guard errors from earlier passes.
	carried  errorList
	lastPass []string
}

// Build resolves doc into a Topology. doc is not modified; a nil doc
// builds the default template. A malformed template returns a ParseError.
// Any other error is collected; unless the builder is permissive, Build
// then returns nil and a *BuildError listing all of them.
func (b *Builder) Build(doc *template.Document, inputs map[string]any) (*Topology, error) {
	start := time.Now()
	if doc == nil {
		doc = template.NewDocument(template.CopyMap(b.defaultTemplate), "")
	}
	st := &build{
		b:      b,
		work:   doc.Clone(),
		inputs: inputs,
	}
	st.imports = st.work.Imports

	state := stateAssemble
	for state != stateDone {
		next, err := st.step(state)
		if err != nil {
			b.observer.BuildFinished(nil, time.Since(start), err)
			return nil, err
		}
		state = next
	}

	t := st.t
	elapsed := time.Since(start)
	errs := t.Errors()
	b.logger.Debug("build finished",
		"path", doc.Path, "passes", t.Passes, "nodes", len(t.nodes),
		"links", len(t.links), "errors", len(errs), "elapsed", elapsed)

	var err error
	if len(errs) > 0 {
		if b.permissive {
			for _, e := range errs {
				b.logger.Warn("topology error", "entity", errorEntity(e), "error", e.Error())
			}
		} else {
			err = &BuildError{Errors: errs}
		}
	}
	b.observer.BuildFinished(t, elapsed, err)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (st *build) step(state buildState) (buildState, error) {
	b := st.b
	switch state {
	case stateAssemble:
		st.root, st.origins = assemble(st.work.Root, st.imports, st.work.BaseDir)
		return stateParse, nil

	case stateParse:
		st.pass++
		t, err := b.parse(&passInput{
			root:    st.root,
			origins: st.origins,
			path:    st.work.Path,
			baseDir: st.work.BaseDir,
			inputs:  st.inputs,
			imports: st.imports,
		})
		if err != nil {
			return stateDone, err
		}
		t.Passes = st.pass
		t.addError(st.carried.errs...)
		st.t = t
		b.logger.Debug("parsed", "pass", st.pass, "id", t.ID, "nodes", len(t.nodes))
		return stateDecorate, nil

	case stateDecorate:
		t := st.t
		// collect this pass's errors on their own so repeats stay visible
		kept := t.errors
		t.errors = errorList{}
		decorated := t.decorate(st.work.Root)
		imports, pruned := t.filterImports(st.imports)
		passErrs := t.errors
		t.errors = kept
		t.addError(passErrs.errs...)
		st.carried.add(passErrs.errs...)
		st.imports = imports
		b.observer.PassCompleted(st.pass, decorated, pruned)
		b.logger.Debug("pass completed", "pass", st.pass, "decorated", decorated, "pruned", pruned)

		if !decorated && !pruned {
			return stateLink, nil
		}
		msgs := passErrs.messages()
		if len(msgs) > 0 && slices.Equal(msgs, st.lastPass) {
			b.logger.Debug("pass repeated its errors, stopping", "pass", st.pass)
			return stateLink, nil
		}
		st.lastPass = msgs
		if st.pass >= b.maxPasses {
			t.addError(invalidErr("topology", ErrUnstable, "decorators or import guards still changing after %d passes", st.pass))
			return stateLink, nil
		}
		return stateAssemble, nil

	case stateLink:
		st.t.link()
		return stateFilter, nil

	case stateFilter:
		t := st.t
		for rounds := 1; t.enforceNodeFilters(); rounds++ {
			if rounds >= b.maxPasses {
				t.addError(invalidErr("topology", ErrUnstable, "node filters still changing after %d rounds", rounds))
				break
			}
		}
		return stateOutputs, nil

	case stateOutputs:
		st.t.evaluateOutputs()
		return stateDone, nil
	}
	return stateDone, fmt.Errorf("unknown build state %v", state)
}

// errorEntity extracts the originating entity for log attributes.
func errorEntity(err error) string {
	switch e := err.(type) {
	case *ValidationError:
		return e.Entity
	case *ResolutionError:
		return e.Entity
	}
	return ""
}
