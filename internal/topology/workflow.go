package topology

import (
	"fmt"
	"sort"
)

// Workflow is a named set of steps and the preconditions that gate it.
// Only the static graph is modelled; nothing here runs a step.
type Workflow struct {
	Name          string
	Description   string
	Preconditions []Precondition
	steps         map[string]*Step
}

// Precondition names an entity and attribute filters it must satisfy.
type Precondition struct {
	Target    string
	Condition []any
}

// Step is one workflow step.
type Step struct {
	Name               string
	Target             string
	TargetRelationship string
	Filter             []any
	Activities         []any
	OnSuccess          []string
	OnFailure          []string
}

// Step returns the named step or nil.
func (w *Workflow) Step(name string) *Step { return w.steps[name] }

// StepNames returns every step name, sorted.
func (w *Workflow) StepNames() []string {
	names := make([]string, 0, len(w.steps))
	for name := range w.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// successors returns the union of on_success and on_failure, in order,
// without repeats.
func (s *Step) successors() []string {
	out := make([]string, 0, len(s.OnSuccess)+len(s.OnFailure))
	seen := make(map[string]bool)
	for _, list := range [][]string{s.OnSuccess, s.OnFailure} {
		for _, name := range list {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// Initial returns the steps no other step leads to, sorted.
func (w *Workflow) Initial() []string {
	indegree := w.indegrees()
	var out []string
	for _, name := range w.StepNames() {
		if indegree[name] == 0 {
			out = append(out, name)
		}
	}
	return out
}

func (w *Workflow) indegrees() map[string]int {
	indegree := make(map[string]int, len(w.steps))
	for _, s := range w.steps {
		for _, next := range s.successors() {
			indegree[next]++
		}
	}
	return indegree
}

// Order returns a static ordering of the steps in which every step comes
// after all steps leading to it. Ties break by name. Unknown successors
// and cycles are errors.
func (w *Workflow) Order() ([]string, error) {
	for _, name := range w.StepNames() {
		for _, next := range w.steps[name].successors() {
			if _, ok := w.steps[next]; !ok {
				return nil, fmt.Errorf("workflow %q: step %q leads to unknown step %q", w.Name, name, next)
			}
		}
	}

	indegree := w.indegrees()
	ready := w.Initial()
	order := make([]string, 0, len(w.steps))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		var released []string
		for _, next := range w.steps[name].successors() {
			indegree[next]--
			if indegree[next] == 0 {
				released = append(released, next)
			}
		}
		ready = append(ready, released...)
		sort.Strings(ready)
	}
	if len(order) != len(w.steps) {
		var stuck []string
		for _, name := range w.StepNames() {
			if indegree[name] > 0 {
				stuck = append(stuck, name)
			}
		}
		return nil, fmt.Errorf("workflow %q: step cycle among %v", w.Name, stuck)
	}
	return order, nil
}
