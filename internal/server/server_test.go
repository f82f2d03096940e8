package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/stratum/internal/template"
	"github.com/agentic-research/stratum/internal/topology"
)

const stack = `
node_templates:
  server:
    type: tosca.nodes.Compute
  web:
    type: tosca.nodes.SoftwareComponent
    properties:
      port: 8080
workflows:
  deploy:
    description: bring up web
    steps:
      boot:
        target: server
        on_success: [install]
      install:
        target: web
`

func build(t *testing.T, src string) *topology.Topology {
	t.Helper()
	root, err := template.Parse([]byte(src), "stack.yaml")
	require.NoError(t, err)
	topo, err := topology.NewBuilder(topology.WithPermissive(true)).Build(template.NewDocument(root, "/srv"), nil)
	require.NoError(t, err)
	return topo
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func decode[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	require.False(t, res.IsError, text(t, res))
	var v T
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &v))
	return v
}

func TestGetEntity(t *testing.T) {
	s := New(NewHolder(build(t, stack)), nil, nil)
	ctx := context.Background()

	res, err := s.handleGetEntity(ctx, call(map[string]any{"address": "web"}))
	require.NoError(t, err)
	web := decode[EntityView](t, res)
	assert.Equal(t, "node", web.Kind)
	assert.Equal(t, "tosca.nodes.SoftwareComponent", web.Type)
	assert.Equal(t, 8080.0, web.Properties["port"])
	require.NotNil(t, web.Node)
	assert.True(t, web.Node.Required)
	require.Len(t, web.Links, 1)
	assert.Equal(t, "server", web.Links[0].Target)

	res, err = s.handleGetEntity(ctx, call(map[string]any{"address": "server::host"}))
	require.NoError(t, err)
	host := decode[EntityView](t, res)
	assert.Equal(t, "capability", host.Kind)
	assert.Equal(t, "server", host.Owner)
	require.Len(t, host.Links, 1)
	assert.Equal(t, "web", host.Links[0].Source)

	res, err = s.handleGetEntity(ctx, call(map[string]any{"address": "web::requirements::host"}))
	require.NoError(t, err)
	req := decode[EntityView](t, res)
	assert.Equal(t, "requirement", req.Kind)
	require.Len(t, req.Links, 1)
	assert.Equal(t, "host", req.Links[0].Capability)
}

func TestGetEntity_Errors(t *testing.T) {
	ctx := context.Background()
	s := New(NewHolder(build(t, stack)), nil, nil)

	res, err := s.handleGetEntity(ctx, call(map[string]any{"address": "ghost"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), `no entity at "ghost"`)

	res, err = s.handleGetEntity(ctx, call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	empty := New(NewHolder(nil), nil, nil)
	res, err = empty.handleGetEntity(ctx, call(map[string]any{"address": "web"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "no topology loaded")
}

func TestFindByType(t *testing.T) {
	s := New(NewHolder(build(t, stack)), nil, nil)
	res, err := s.handleFindByType(context.Background(), call(map[string]any{"type": "tosca.nodes.Root"}))
	require.NoError(t, err)
	got := decode[struct {
		Nodes []string `json:"nodes"`
	}](t, res)
	assert.Equal(t, []string{"server", "web"}, got.Nodes)

	res, err = s.handleFindByType(context.Background(), call(map[string]any{"type": "no.such.Type"}))
	require.NoError(t, err)
	got = decode[struct {
		Nodes []string `json:"nodes"`
	}](t, res)
	assert.Empty(t, got.Nodes)
}

func TestGetWorkflow(t *testing.T) {
	s := New(NewHolder(build(t, stack)), nil, nil)
	res, err := s.handleGetWorkflow(context.Background(), call(map[string]any{"name": "deploy"}))
	require.NoError(t, err)
	w := decode[WorkflowView](t, res)
	assert.Equal(t, "bring up web", w.Description)
	assert.Equal(t, []string{"boot", "install"}, w.Order)
	assert.Equal(t, StepView{Target: "server", OnSuccess: []string{"install"}}, w.Steps["boot"])

	res, err = s.handleGetWorkflow(context.Background(), call(map[string]any{"name": "undeploy"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestListErrors(t *testing.T) {
	s := New(NewHolder(build(t, `
node_templates:
  app: {type: tosca.nodes.SoftwareComponent}
`)), nil, nil)
	res, err := s.handleListErrors(context.Background(), call(nil))
	require.NoError(t, err)
	got := decode[struct {
		Count  int      `json:"count"`
		Errors []string `json:"errors"`
	}](t, res)
	assert.Equal(t, 1, got.Count)
	assert.Contains(t, got.Errors[0], "app")
}

func TestReload(t *testing.T) {
	ctx := context.Background()
	first := build(t, stack)
	holder := NewHolder(first)

	sources := []string{`
node_templates:
  only: {type: tosca.nodes.Root}
`}
	fail := false
	s := New(holder, func(context.Context) (*topology.Topology, error) {
		if fail {
			return nil, errors.New("template vanished")
		}
		return build(t, sources[0]), nil
	}, nil)

	res, err := s.handleReload(ctx, call(nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "1 nodes, 0 links")
	assert.NotSame(t, first, holder.Current())
	assert.NotNil(t, holder.Current().Node("only"))
	assert.Nil(t, first.Node("only"), "earlier readers keep their topology")

	fail = true
	kept := holder.Current()
	res, err = s.handleReload(ctx, call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "template vanished")
	assert.Same(t, kept, holder.Current())

	res, err = New(holder, nil, nil).handleReload(ctx, call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHolder_ConcurrentSwap(t *testing.T) {
	a, b := build(t, stack), build(t, stack)
	h := NewHolder(a)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Swap(b)
		}()
		go func() {
			defer wg.Done()
			cur := h.Current()
			assert.True(t, cur == a || cur == b)
		}()
	}
	wg.Wait()
	assert.Same(t, b, h.Current())
}

func TestMCP_RegistersTools(t *testing.T) {
	m := New(NewHolder(nil), nil, nil).MCP()
	resp := m.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	for _, name := range []string{"get_entity", "find_by_type", "get_workflow", "list_errors", "reload"} {
		assert.Contains(t, string(data), `"name":"`+name+`"`)
	}
}
