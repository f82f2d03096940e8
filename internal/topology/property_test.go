package topology

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/agentic-research/stratum/internal/template"
)

func ringName(i int) string { return fmt.Sprintf("n%d", i) }

// ringTemplate declares size nodes where node i requires node i+1 (mod
// size). Nodes listed in concrete carry no default directive.
func ringTemplate(size int, concrete map[int]bool) *template.Map {
	nodes := template.NewMap()
	for i := 0; i < size; i++ {
		def := template.MapOf(
			"type", "tosca.nodes.Root",
			"requirements", []any{map[string]any{"next": ringName((i + 1) % size)}},
		)
		if !concrete[i] {
			def.Set("directives", []any{DirectiveDefault})
		}
		nodes.Set(ringName(i), def)
	}
	root := template.NewMap()
	root.Set("node_templates", nodes)
	return root
}

func TestRequired_RingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("required-ness on a ring is all or nothing", prop.ForAll(
		func(size int, picks []int) bool {
			concrete := make(map[int]bool)
			for _, p := range picks {
				concrete[p%size] = true
			}
			topo, err := NewBuilder().Build(template.NewDocument(ringTemplate(size, concrete), "/"), nil)
			if err != nil {
				return false
			}
			want := len(concrete) > 0
			for _, n := range topo.Nodes() {
				if n.Required() != want {
					return false
				}
			}
			return true
		},
		gen.IntRange(2, 12),
		gen.SliceOfN(2, gen.IntRange(0, 20)).Map(func(picks []int) []int {
			// keep roughly half of the runs free of concrete nodes
			if picks[0]%2 == 0 {
				return nil
			}
			return picks[1:]
		}),
	))

	properties.TestingRun(t)
}

func TestBuild_IdempotentRebuild(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("building the same document twice gives the same model", prop.ForAll(
		func(size int) bool {
			doc := template.NewDocument(ringTemplate(size, map[int]bool{0: true}), "/")
			b := NewBuilder()
			first, err := b.Build(doc, nil)
			if err != nil {
				return false
			}
			second, err := b.Build(doc, nil)
			if err != nil {
				return false
			}
			if len(first.Links()) != len(second.Links()) || len(first.Links()) != size {
				return false
			}
			for i, n := range first.Nodes() {
				other := second.Nodes()[i]
				if n.Name() != other.Name() || !template.Equal(n.Properties(), other.Properties()) {
					return false
				}
				if n.Targets()[0].Name() != other.Targets()[0].Name() {
					return false
				}
			}
			return template.Equal(doc.Root, ringTemplate(size, map[int]bool{0: true}))
		},
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

func TestNodeFilter_ConvergesToLastWriter(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("the last declared filter wins", prop.ForAll(
		func(values []int) bool {
			nodes := template.NewMap()
			for i, v := range values {
				nodes.Set(fmt.Sprintf("src%d", i), template.MapOf(
					"type", "tosca.nodes.Root",
					"requirements", []any{map[string]any{
						"store": map[string]any{
							"node":        "target",
							"node_filter": map[string]any{"properties": []any{map[string]any{"size": v}}},
						},
					}},
				))
			}
			nodes.Set("target", template.MapOf("type", "tosca.nodes.Root"))
			root := template.NewMap()
			root.Set("node_templates", nodes)

			topo, err := NewBuilder().Build(template.NewDocument(root, "/"), nil)
			if err != nil {
				return false
			}
			got, ok := topo.Node("target").Property("size")
			return ok && template.Equal(got, values[len(values)-1])
		},
		gen.SliceOf(gen.IntRange(-100, 100)).SuchThat(func(v []int) bool { return len(v) > 0 }),
	))

	properties.TestingRun(t)
}
