package topology

import (
	"github.com/RoaringBitmap/roaring"
)

// Group collects nodes and nested groups by name.
type Group struct {
	EntityCore
	index   uint32
	members []string
}

// Members returns the declared member names (nodes or groups).
func (g *Group) Members() []string { return g.members }

// Nodes resolves membership transitively through nested groups. Each node
// appears once, in declaration order.
func (g *Group) Nodes() []*Node {
	nodes := roaring.New()
	g.topology.collectGroup(g, nodes, roaring.New())
	return g.topology.nodesOf(nodes)
}

// collectGroup adds every node reachable from g's members to nodes. The
// groups bitmap is the seen-set for nested groups, so membership cycles
// terminate.
func (t *Topology) collectGroup(g *Group, nodes, groups *roaring.Bitmap) {
	if !groups.CheckedAdd(g.index) {
		return
	}
	for _, m := range g.members {
		if n := t.nodeIndex[m]; n != nil {
			nodes.Add(uint32(n.ID))
			continue
		}
		if nested := t.groupIndex[m]; nested != nil {
			t.collectGroup(nested, nodes, groups)
		}
	}
}

func (t *Topology) nodesOf(ids *roaring.Bitmap) []*Node {
	out := make([]*Node, 0, ids.GetCardinality())
	it := ids.Iterator()
	for it.HasNext() {
		out = append(out, t.nodes[it.Next()])
	}
	return out
}

// Policy applies a policy type to nodes or groups.
type Policy struct {
	EntityCore
	targets []string
}

// Targets returns the declared target names.
func (p *Policy) Targets() []string { return p.targets }

// Nodes resolves the policy's targets to nodes: node targets directly,
// group targets through their transitive membership.
func (p *Policy) Nodes() []*Node {
	t := p.topology
	nodes := roaring.New()
	groups := roaring.New()
	for _, name := range p.targets {
		if n := t.nodeIndex[name]; n != nil {
			nodes.Add(uint32(n.ID))
			continue
		}
		if g := t.groupIndex[name]; g != nil {
			t.collectGroup(g, nodes, groups)
		}
	}
	return t.nodesOf(nodes)
}
