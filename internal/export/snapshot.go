// Package export writes built topologies out as snapshots: JSON, CBOR, a
// plain-text summary, or a SQLite database.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/agentic-research/stratum/internal/template"
	"github.com/agentic-research/stratum/internal/topology"
)

// Snapshot is a plain-data copy of a topology.
type Snapshot struct {
	ID        string             `json:"id" cbor:"id"`
	Path      string             `json:"path,omitempty" cbor:"path,omitempty"`
	Passes    int                `json:"passes" cbor:"passes"`
	Inputs    map[string]any     `json:"inputs,omitempty" cbor:"inputs,omitempty"`
	Outputs   map[string]any     `json:"outputs,omitempty" cbor:"outputs,omitempty"`
	Nodes     []NodeSnapshot     `json:"nodes" cbor:"nodes"`
	Links     []LinkSnapshot     `json:"links" cbor:"links"`
	Groups    []GroupSnapshot    `json:"groups,omitempty" cbor:"groups,omitempty"`
	Policies  []PolicySnapshot   `json:"policies,omitempty" cbor:"policies,omitempty"`
	Workflows []WorkflowSnapshot `json:"workflows,omitempty" cbor:"workflows,omitempty"`
	Errors    []string           `json:"errors,omitempty" cbor:"errors,omitempty"`
}

type NodeSnapshot struct {
	Name         string                `json:"name" cbor:"name"`
	Type         string                `json:"type" cbor:"type"`
	Directives   []string              `json:"directives,omitempty" cbor:"directives,omitempty"`
	Required     bool                  `json:"required" cbor:"required"`
	Properties   map[string]any        `json:"properties,omitempty" cbor:"properties,omitempty"`
	Attributes   map[string]any        `json:"attributes,omitempty" cbor:"attributes,omitempty"`
	Capabilities []string              `json:"capabilities" cbor:"capabilities"`
	Requirements []RequirementSnapshot `json:"requirements,omitempty" cbor:"requirements,omitempty"`
	Artifacts    []ArtifactSnapshot    `json:"artifacts,omitempty" cbor:"artifacts,omitempty"`
}

type RequirementSnapshot struct {
	Name   string `json:"name" cbor:"name"`
	Target string `json:"target,omitempty" cbor:"target,omitempty"`
}

type ArtifactSnapshot struct {
	Name     string `json:"name" cbor:"name"`
	Type     string `json:"type" cbor:"type"`
	Location string `json:"location" cbor:"location"`
	Fragment string `json:"fragment,omitempty" cbor:"fragment,omitempty"`
}

// LinkSnapshot is one linked relationship.
type LinkSnapshot struct {
	Source      string `json:"source" cbor:"source"`
	Requirement string `json:"requirement" cbor:"requirement"`
	Target      string `json:"target" cbor:"target"`
	Capability  string `json:"capability" cbor:"capability"`
	Type        string `json:"type" cbor:"type"`
	Template    string `json:"template,omitempty" cbor:"template,omitempty"`
}

type GroupSnapshot struct {
	Name    string   `json:"name" cbor:"name"`
	Type    string   `json:"type" cbor:"type"`
	Members []string `json:"members" cbor:"members"`
	Nodes   []string `json:"nodes" cbor:"nodes"`
}

type PolicySnapshot struct {
	Name    string   `json:"name" cbor:"name"`
	Type    string   `json:"type" cbor:"type"`
	Targets []string `json:"targets" cbor:"targets"`
	Nodes   []string `json:"nodes" cbor:"nodes"`
}

type WorkflowSnapshot struct {
	Name  string   `json:"name" cbor:"name"`
	Order []string `json:"order,omitempty" cbor:"order,omitempty"`
	Error string   `json:"error,omitempty" cbor:"error,omitempty"`
}

// Take copies t into a Snapshot.
func Take(t *topology.Topology) *Snapshot {
	s := &Snapshot{
		ID:      t.ID.String(),
		Path:    t.Path,
		Passes:  t.Passes,
		Inputs:  plainMap(t.Inputs()),
		Outputs: plainMap(t.Outputs()),
		Nodes:   make([]NodeSnapshot, 0, len(t.Nodes())),
		Links:   make([]LinkSnapshot, 0, len(t.Links())),
	}
	for _, n := range t.Nodes() {
		ns := NodeSnapshot{
			Name:       n.Name(),
			Type:       n.TypeName(),
			Directives: n.Directives(),
			Required:   n.Required(),
			Properties: plainMap(n.Properties()),
			Attributes: plainMap(n.Attributes()),
		}
		for _, c := range n.Capabilities() {
			ns.Capabilities = append(ns.Capabilities, c.Name())
		}
		for _, r := range n.Requirements() {
			rs := RequirementSnapshot{Name: r.Name()}
			if target := r.TargetNode(); target != nil {
				rs.Target = target.Name()
			}
			ns.Requirements = append(ns.Requirements, rs)
		}
		for _, a := range n.Artifacts() {
			loc, frag := a.Location()
			ns.Artifacts = append(ns.Artifacts, ArtifactSnapshot{Name: a.Name(), Type: a.TypeName(), Location: loc, Fragment: frag})
		}
		s.Nodes = append(s.Nodes, ns)
	}
	for _, rel := range t.Links() {
		ls := LinkSnapshot{
			Source:      rel.SourceNode().Name(),
			Requirement: rel.Source().Name(),
			Target:      rel.TargetNode().Name(),
			Capability:  rel.Target().Name(),
			Type:        rel.TypeName(),
		}
		if tmpl := rel.Template(); tmpl != nil {
			ls.Template = tmpl.Name()
		}
		s.Links = append(s.Links, ls)
	}
	for _, g := range t.Groups() {
		s.Groups = append(s.Groups, GroupSnapshot{Name: g.Name(), Type: g.TypeName(), Members: g.Members(), Nodes: names(g.Nodes())})
	}
	for _, p := range t.Policies() {
		s.Policies = append(s.Policies, PolicySnapshot{Name: p.Name(), Type: p.TypeName(), Targets: p.Targets(), Nodes: names(p.Nodes())})
	}
	for _, name := range t.WorkflowNames() {
		ws := WorkflowSnapshot{Name: name}
		order, err := t.Workflow(name).Order()
		if err != nil {
			ws.Error = err.Error()
		}
		ws.Order = order
		s.Workflows = append(s.Workflows, ws)
	}
	for _, err := range t.Errors() {
		s.Errors = append(s.Errors, err.Error())
	}
	return s
}

func names(nodes []*topology.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
	}
	return out
}

func plainMap(m *template.Map) map[string]any {
	if m == nil || m.Len() == 0 {
		return nil
	}
	out, _ := template.ToPlain(m).(map[string]any)
	return out
}

// JSON encodes the snapshot as indented JSON.
func (s *Snapshot) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("export: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("export: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBOR encodes the snapshot with core deterministic encoding: the same
// topology always yields the same bytes.
func (s *Snapshot) CBOR() ([]byte, error) {
	return encMode.Marshal(s)
}

// DecodeCBOR reads a snapshot written by CBOR.
func DecodeCBOR(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := decMode.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// WriteText prints a human-readable summary.
func (s *Snapshot) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "topology %s (%d pass", s.ID, s.Passes)
	if s.Passes != 1 {
		b.WriteString("es")
	}
	b.WriteString(")\n")
	for _, n := range s.Nodes {
		fmt.Fprintf(&b, "node %s: %s", n.Name, n.Type)
		if !n.Required {
			b.WriteString(" (not required)")
		}
		b.WriteString("\n")
		for _, r := range n.Requirements {
			target := r.Target
			if target == "" {
				target = "-"
			}
			fmt.Fprintf(&b, "  %s -> %s\n", r.Name, target)
		}
	}
	for _, wf := range s.Workflows {
		if wf.Error != "" {
			fmt.Fprintf(&b, "workflow %s: %s\n", wf.Name, wf.Error)
			continue
		}
		fmt.Fprintf(&b, "workflow %s: %s\n", wf.Name, strings.Join(wf.Order, ", "))
	}
	if len(s.Outputs) > 0 {
		out, err := json.Marshal(s.Outputs)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "outputs %s\n", out)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "error: %s\n", e)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Encode writes s to w in format: text, json or cbor.
func (s *Snapshot) Encode(w io.Writer, format string) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "", "text":
		return s.WriteText(w)
	case "json":
		data, err = s.JSON()
		data = append(data, '\n')
	case "cbor":
		data, err = s.CBOR()
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	_, err = w.Write(data)
	return err
}
