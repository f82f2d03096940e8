package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/stratum/internal/template"
	"github.com/agentic-research/stratum/internal/topology"
)

func build(t *testing.T, r *Registry, src string, opts ...topology.Option) error {
	t.Helper()
	root, err := template.Parse([]byte(src), "main.yaml")
	require.NoError(t, err)
	opts = append(opts, topology.WithObserver(r))
	_, err = topology.NewBuilder(opts...).Build(template.NewDocument(root, "/"), nil)
	return err
}

func TestRegistry_RecordsBuilds(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, build(t, r, `
node_templates:
  web: {type: tosca.nodes.Root}
  db:
    type: tosca.nodes.Root
    requirements:
      - uses: web
`))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BuildsTotal.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.TopologyNodes))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TopologyLinks))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PassesTotal.WithLabelValues("stable")))

	require.Error(t, build(t, r, `
node_templates:
  app: {type: tosca.nodes.SoftwareComponent}
`))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BuildsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BuildErrors.WithLabelValues("missing_target")))

	require.NoError(t, build(t, r, `
node_templates:
  app: {type: tosca.nodes.SoftwareComponent}
`, topology.WithPermissive(true)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BuildsTotal.WithLabelValues("degraded")))

	require.Error(t, build(t, r, `node_templates: [broken]`))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BuildsTotal.WithLabelValues("parse_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BuildErrors.WithLabelValues("parse")))
}

func TestRegistry_DecoratedPass(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, build(t, r, `
decorators:
  "$.nodes[*]":
    properties: {tagged: true}
node_templates:
  web: {type: tosca.nodes.Root}
`))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PassesTotal.WithLabelValues("decorated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PassesTotal.WithLabelValues("stable")))
}

func TestClass(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&topology.ParseError{Path: "x", Message: "bad"}, "parse"},
		{&topology.ValidationError{Entity: "a", Err: &topology.MissingTargetError{Node: "a", Requirement: "r"}}, "missing_target"},
		{&topology.ValidationError{Entity: "a", Err: topology.ErrUnstable}, "unstable"},
		{&topology.ResolutionError{Entity: "a", Reference: "$.x", Err: os.ErrNotExist}, "resolution"},
		{&topology.ValidationError{Entity: "a", Message: "m"}, "validation"},
		{os.ErrClosed, "other"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Class(tt.err))
		})
	}
}

func TestRegistry_WriteTextfile(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, build(t, r, `
node_templates:
  web: {type: tosca.nodes.Root}
`))
	path := filepath.Join(t.TempDir(), "stratum.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `stratum_build_total{status="ok"} 1`), text)
	assert.Contains(t, text, "stratum_build_nodes 1")
}
