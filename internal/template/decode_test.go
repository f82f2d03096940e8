package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_YAMLKeepsOrder(t *testing.T) {
	src := []byte(`
node_templates:
  zeta:
    type: tosca.nodes.Root
  alpha:
    type: tosca.nodes.Compute
    properties:
      ports: [80, 443]
`)
	root, err := Parse(src, "service.yaml")
	require.NoError(t, err)

	nodes := mustMap(t, root, "node_templates")
	assert.Equal(t, []string{"zeta", "alpha"}, Keys(nodes))

	ports, ok := GetPath(root, []string{"node_templates", "alpha", "properties", "ports"})
	require.True(t, ok)
	assert.Equal(t, []any{80, 443}, ports)
}

func TestParse_YAMLMergeKey(t *testing.T) {
	src := []byte(`
defaults: &defaults
  type: tosca.nodes.Root
  properties: {a: 1}
node_templates:
  web:
    <<: *defaults
    properties: {b: 2}
`)
	root, err := Parse(src, "t.yaml")
	require.NoError(t, err)

	typ, _ := GetPath(root, []string{"node_templates", "web", "type"})
	assert.Equal(t, "tosca.nodes.Root", typ)
	props, _ := GetPath(root, []string{"node_templates", "web", "properties"})
	assert.True(t, Equal(props, MapOf("b", 2)), "explicit keys win over merged ones")
}

func TestParse_Empty(t *testing.T) {
	root, err := Parse(nil, "empty.yaml")
	require.NoError(t, err)
	assert.Equal(t, 0, root.Len())
}

func TestParse_TopLevelMustBeMapping(t *testing.T) {
	_, err := Parse([]byte("- a\n- b\n"), "list.yaml")
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "list.yaml", perr.Path)
	assert.Equal(t, 1, perr.Line)
}

func TestParse_YAMLSyntaxErrorHasLocation(t *testing.T) {
	src := []byte("node_templates:\n  web:\n    type: [unclosed\n")
	_, err := Parse(src, "broken.yaml")
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Greater(t, perr.Line, 0)
	assert.Contains(t, perr.Error(), "broken.yaml:")
}

func TestParse_JSONC(t *testing.T) {
	src := []byte(`{
  // comments and trailing commas are allowed
  "node_templates": {
    "b": {"type": "tosca.nodes.Root"},
    "a": {"type": "tosca.nodes.Root"},
  },
}`)
	root, err := Parse(src, "t.jsonc")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, Keys(mustMap(t, root, "node_templates")))
}

func TestParse_HCL(t *testing.T) {
	src := []byte(`
description = "hcl topology"

node_templates "web" {
  type = "tosca.nodes.Compute"
  properties = {
    port  = 8080
    ratio = 0.5
    tags  = ["a", "b"]
  }
}

node_templates "db" {
  type = "tosca.nodes.Root"
}
`)
	root, err := Parse(src, "t.hcl")
	require.NoError(t, err)

	assert.Equal(t, []string{"description", "node_templates"}, Keys(root))
	assert.Equal(t, []string{"web", "db"}, Keys(mustMap(t, root, "node_templates")))

	props, ok := GetPath(root, []string{"node_templates", "web", "properties"})
	require.True(t, ok)
	assert.True(t, Equal(props, MapOf("port", 8080, "ratio", 0.5, "tags", []any{"a", "b"})))
}

func TestParse_HCLError(t *testing.T) {
	_, err := Parse([]byte("node_templates \"web\" {\n  type = \n"), "bad.hcl")
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "bad.hcl", perr.Path)
	assert.Greater(t, perr.Line, 0)
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatForPath("a.yaml"))
	assert.Equal(t, FormatYAML, FormatForPath("a.tosca"))
	assert.Equal(t, FormatJSON, FormatForPath("a.JSON"))
	assert.Equal(t, FormatHCL, FormatForPath("a.tf"))
}

func TestParse_DuplicateKeyRejected(t *testing.T) {
	src := []byte("node_templates:\n  web: {type: a}\n  web: {type: b}\n")
	_, err := Parse(src, "dup.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `mapping key "web" already defined`)
}
