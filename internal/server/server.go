// Package server exposes a built topology to MCP clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentic-research/stratum/internal/export"
	"github.com/agentic-research/stratum/internal/template"
	"github.com/agentic-research/stratum/internal/topology"
)

// Version is set at build time via ldflags.
var Version = "dev"

// LoadFunc rebuilds the topology from its source.
type LoadFunc func(ctx context.Context) (*topology.Topology, error)

var errNoTopology = errors.New("no topology loaded")

// Server answers lookups against the topology in its Holder.
type Server struct {
	holder *Holder
	load   LoadFunc
	logger *slog.Logger
}

// New returns a server over holder. A nil load disables the reload tool's
// effect: it reports an error instead.
func New(holder *Holder, load LoadFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{holder: holder, load: load, logger: logger}
}

// MCP builds the MCP server with every tool registered.
func (s *Server) MCP() *server.MCPServer {
	m := server.NewMCPServer(
		"stratum",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	m.AddTool(mcp.NewTool("get_entity",
		mcp.WithDescription("Look up an entity by address, e.g. web, web::host or groups::tier."),
		mcp.WithString("address", mcp.Required(), mcp.Description("Entity address")),
	), s.handleGetEntity)

	m.AddTool(mcp.NewTool("find_by_type",
		mcp.WithDescription("List the nodes whose type is or derives from the given type."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Node type name")),
	), s.handleFindByType)

	m.AddTool(mcp.NewTool("get_workflow",
		mcp.WithDescription("Describe a workflow and the order its steps can run in."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Workflow name")),
	), s.handleGetWorkflow)

	m.AddTool(mcp.NewTool("list_errors",
		mcp.WithDescription("List the errors collected while building the topology."),
	), s.handleListErrors)

	m.AddTool(mcp.NewTool("reload",
		mcp.WithDescription("Rebuild the topology from its template and swap it in."),
	), s.handleReload)

	return m
}

const instructions = `stratum serves a linked topology model built from a template.
Use get_entity with an address to inspect nodes, capabilities, requirements,
artifacts, groups and policies. find_by_type searches nodes by type,
get_workflow orders a workflow's steps, list_errors shows build problems and
reload rebuilds after the template changed.`

// ServeStdio runs the server over stdin and stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.MCP())
}

func (s *Server) topology() (*topology.Topology, error) {
	t := s.holder.Current()
	if t == nil {
		return nil, errNoTopology
	}
	return t, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// EntityView is the get_entity answer.
type EntityView struct {
	Kind       string                `json:"kind"`
	Name       string                `json:"name"`
	Type       string                `json:"type,omitempty"`
	Address    string                `json:"address"`
	Owner      string                `json:"owner,omitempty"`
	Properties map[string]any        `json:"properties,omitempty"`
	Attributes map[string]any        `json:"attributes,omitempty"`
	Node       *export.NodeSnapshot  `json:"node,omitempty"`
	Links      []export.LinkSnapshot `json:"links,omitempty"`
}

func (s *Server) handleGetEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address, err := req.RequireString("address")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t, err := s.topology()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e := t.Get(address)
	if e == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no entity at %q", address)), nil
	}

	view := EntityView{
		Kind:       e.Kind().String(),
		Name:       e.Name(),
		Type:       e.TypeName(),
		Address:    e.Address(),
		Properties: plain(e.Properties()),
		Attributes: plain(e.Attributes()),
	}
	if owner := e.Owner(); owner != nil && owner.Kind() != topology.KindTopology {
		view.Owner = owner.Address()
	}
	switch v := e.(type) {
	case *topology.Node:
		snap := export.Take(t)
		for i := range snap.Nodes {
			if snap.Nodes[i].Name == v.Name() {
				view.Node = &snap.Nodes[i]
			}
		}
		for _, l := range snap.Links {
			if l.Source == v.Name() || l.Target == v.Name() {
				view.Links = append(view.Links, l)
			}
		}
	case *topology.Requirement:
		if rel := v.Relationship(); rel != nil {
			view.Links = append(view.Links, linkOf(rel))
		}
	case *topology.Capability:
		for _, rel := range v.Relationships() {
			view.Links = append(view.Links, linkOf(rel))
		}
	}
	s.logger.Debug("get_entity", "address", address, "kind", view.Kind)
	return jsonResult(view)
}

func linkOf(rel *topology.Relationship) export.LinkSnapshot {
	l := export.LinkSnapshot{
		Source:      rel.SourceNode().Name(),
		Requirement: rel.Source().Name(),
		Target:      rel.TargetNode().Name(),
		Capability:  rel.Target().Name(),
		Type:        rel.TypeName(),
	}
	if tmpl := rel.Template(); tmpl != nil {
		l.Template = tmpl.Name()
	}
	return l
}

func plain(m *template.Map) map[string]any {
	if m == nil || m.Len() == 0 {
		return nil
	}
	out, _ := template.ToPlain(m).(map[string]any)
	return out
}

func (s *Server) handleFindByType(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t, err := s.topology()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	names := []string{}
	for _, n := range t.FindByType(typeName) {
		names = append(names, n.Name())
	}
	return jsonResult(map[string]any{"type": typeName, "nodes": names})
}

// WorkflowView is the get_workflow answer.
type WorkflowView struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Order       []string            `json:"order,omitempty"`
	OrderError  string              `json:"order_error,omitempty"`
	Steps       map[string]StepView `json:"steps"`
}

type StepView struct {
	Target    string   `json:"target,omitempty"`
	OnSuccess []string `json:"on_success,omitempty"`
	OnFailure []string `json:"on_failure,omitempty"`
}

func (s *Server) handleGetWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t, err := s.topology()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	w := t.Workflow(name)
	if w == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no workflow %q", name)), nil
	}
	view := WorkflowView{Name: w.Name, Description: w.Description, Steps: make(map[string]StepView)}
	for _, step := range w.StepNames() {
		st := w.Step(step)
		view.Steps[step] = StepView{Target: st.Target, OnSuccess: st.OnSuccess, OnFailure: st.OnFailure}
	}
	if view.Order, err = w.Order(); err != nil {
		view.OrderError = err.Error()
	}
	return jsonResult(view)
}

func (s *Server) handleListErrors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, err := s.topology()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msgs := []string{}
	for _, e := range t.Errors() {
		msgs = append(msgs, e.Error())
	}
	return jsonResult(map[string]any{"count": len(msgs), "errors": msgs})
}

func (s *Server) handleReload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.load == nil {
		return mcp.NewToolResultError("reload is not configured"), nil
	}
	t, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("reload failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("reload failed: %v", err)), nil
	}
	s.holder.Swap(t)
	s.logger.Info("topology reloaded", "id", t.ID, "passes", t.Passes)
	return mcp.NewToolResultText(fmt.Sprintf("reloaded %s: %d nodes, %d links, %d errors after %d passes",
		t.ID, len(t.Nodes()), len(t.Links()), len(t.Errors()), t.Passes)), nil
}
