package cmd

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/stratum/internal/config"
	"github.com/agentic-research/stratum/internal/export"
)

const mainTemplate = `
inputs:
  port: {default: 80}
imports:
  - file: extra.yaml
    when: "$.nodes[?(@.name == 'web')]"
node_templates:
  server:
    type: tosca.nodes.Compute
  web:
    type: tosca.nodes.SoftwareComponent
    properties:
      port: {get_input: port}
outputs:
  port:
    value: {get_property: [web, port]}
`

const extraTemplate = `
node_templates:
  cache:
    type: tosca.nodes.Root
    directives: [default]
`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv(config.EnvVar, "")
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestBuildCmd_JSON(t *testing.T) {
	dir := writeFiles(t, map[string]string{"main.yaml": mainTemplate, "extra.yaml": extraTemplate})

	out, _, err := run(t, "build", filepath.Join(dir, "main.yaml"), "--format", "json", "--input", "port=8080")
	require.NoError(t, err)

	var snap export.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, map[string]any{"port": 8080.0}, snap.Outputs)

	var names []string
	for _, n := range snap.Nodes {
		names = append(names, n.Name)
	}
	assert.ElementsMatch(t, []string{"server", "web", "cache"}, names)
}

func TestBuildCmd_ExportAndMetrics(t *testing.T) {
	dir := writeFiles(t, map[string]string{"main.yaml": mainTemplate, "extra.yaml": extraTemplate})
	dbPath := filepath.Join(dir, "out.db")
	promPath := filepath.Join(dir, "build.prom")

	out, _, err := run(t, "build", filepath.Join(dir, "main.yaml"), "--export", dbPath, "--metrics-file", promPath)
	require.NoError(t, err)
	assert.Contains(t, out, "node web: tosca.nodes.SoftwareComponent")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	var target string
	require.NoError(t, db.QueryRow(`SELECT target FROM links WHERE source = 'web'`).Scan(&target))
	assert.Equal(t, "server", target)

	prom, err := os.ReadFile(promPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `stratum_build_total{status="ok"} 1`)
}

func TestBuildCmd_ConfigFile(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"app.yaml": `
node_templates:
  app: {type: tosca.nodes.SoftwareComponent}
`,
		"stratum.yaml": "permissive: true\nlog_level: warn\nexport:\n  format: json\n",
	})

	_, _, err := run(t, "build", filepath.Join(dir, "app.yaml"))
	require.Error(t, err, "missing host fails without the config")

	out, stderr, err := run(t, "--config", filepath.Join(dir, "stratum.yaml"), "build", filepath.Join(dir, "app.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, `"errors": [`)
	assert.Contains(t, stderr, "topology error")

	_, _, err = run(t, "--config", filepath.Join(dir, "stratum.yaml"), "build", filepath.Join(dir, "app.yaml"), "--permissive=false")
	require.Error(t, err, "flags override the file")
}

func TestBuildCmd_Errors(t *testing.T) {
	dir := writeFiles(t, map[string]string{"main.yaml": "node_templates: {web: {type: tosca.nodes.Root}}\n"})
	main := filepath.Join(dir, "main.yaml")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file", []string{"build", filepath.Join(dir, "nope.yaml")}, "read template"},
		{"bad input", []string{"build", main, "--input", "novalue"}, "expected key=value"},
		{"bad format", []string{"build", main, "--format", "xml"}, "invalid config"},
		{"bad max passes", []string{"build", main, "--max-passes", "0"}, "invalid config"},
		{"bad log level", []string{"--log-level", "loud", "build", main}, "invalid config"},
		{"missing config", []string{"--config", filepath.Join(dir, "none.yaml"), "build", main}, "read config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCheckCmd(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"good.yaml":  "node_templates:\n  web:\n    type: tosca.nodes.Root\n",
		"bad.json":   `{"node_templates": {"web": }`,
		"broken.hcl": "node_templates {\n  web = {\n",
	})

	out, _, err := run(t, "check", filepath.Join(dir, "good.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "good.yaml: ok")

	out, _, err = run(t, "check", filepath.Join(dir, "bad.json"))
	require.Error(t, err)
	assert.Contains(t, out, "bad.json")

	_, _, err = run(t, "check", filepath.Join(dir, "broken.hcl"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error(s)")
}
