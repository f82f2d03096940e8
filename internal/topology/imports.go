package topology

import (
	"github.com/agentic-research/stratum/internal/expr"
	"github.com/agentic-research/stratum/internal/template"
)

// filterImports evaluates each import's when guard against t. Unguarded
// imports are kept. A guard that selects nothing drops its import along
// with everything that import pulled in. A guard that fails to evaluate is
// reported and its import kept. The caller never re-adds a dropped import.
func (t *Topology) filterImports(imports []*template.Import) ([]*template.Import, bool) {
	dropped := make(map[*template.Import]bool)
	for _, imp := range imports {
		if imp.When == "" {
			continue
		}
		results, err := t.evaluate(imp.When, t, nil)
		if err != nil {
			t.addError(&ResolutionError{Entity: "imports::" + imp.File, Reference: imp.When, Err: err})
			continue
		}
		if !expr.Truthy(results) {
			dropped[imp] = true
		}
	}

	kept := make([]*template.Import, 0, len(imports))
	for _, imp := range imports {
		if !droppedWithParent(imp, dropped) {
			kept = append(kept, imp)
		}
	}
	return kept, len(kept) != len(imports)
}

func droppedWithParent(imp *template.Import, dropped map[*template.Import]bool) bool {
	for cur := imp; cur != nil; cur = cur.Parent {
		if dropped[cur] {
			return true
		}
	}
	return false
}

// assemble layers the kept import fragments under base, in order, with
// base winning. It also records which document directory each node
// template came from: the last import defining it, else baseDir.
func assemble(base *template.Map, imports []*template.Import, baseDir string) (*template.Map, map[string]string) {
	fragments := make([]*template.Map, 0, len(imports)+1)
	origins := make(map[string]string)
	for _, imp := range imports {
		frag := template.CopyMap(imp.Root)
		frag.Delete(keyImports)
		fragments = append(fragments, frag)
		for _, name := range template.Keys(mapOrNil(frag, keyNodeTemplates)) {
			origins[name] = imp.BaseDir
		}
	}
	fragments = append(fragments, base)
	for _, name := range template.Keys(mapOrNil(base, keyNodeTemplates)) {
		if _, fromImport := origins[name]; !fromImport {
			origins[name] = baseDir
		}
	}
	return template.Layer(fragments...), origins
}
