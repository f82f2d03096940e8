package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shopTemplate = `
relationship_templates:
  hosted:
    type: tosca.relationships.HostedOn
groups:
  tier:
    members: [web, backend]
  backend:
    members: [db, tier]
policies:
  spread:
    type: tosca.policies.Placement
    targets: [backend, web]
node_templates:
  server:
    type: tosca.nodes.Compute
  web:
    type: tosca.nodes.SoftwareComponent
    artifacts:
      setup: scripts/setup.sh
  db:
    type: tosca.nodes.SoftwareComponent
`

func TestTopology_Get(t *testing.T) {
	topo := mustBuild(t, shopTemplate)

	tests := []struct {
		address string
		kind    Kind
		name    string
	}{
		{"web", KindNode, "web"},
		{"hosted", KindRelationship, "hosted"},
		{"tier", KindGroup, "tier"},
		{"spread", KindPolicy, "spread"},
		{"server::host", KindCapability, "host"},
		{"web::host", KindRequirement, "host"},
		{"web::setup", KindArtifact, "setup"},
		{"server::capabilities::endpoint", KindCapability, "endpoint"},
		{"web::requirements::host", KindRequirement, "host"},
		{"web::artifacts::setup", KindArtifact, "setup"},
		{"relationships::hosted", KindRelationship, "hosted"},
		{"groups::backend", KindGroup, "backend"},
		{"policies::spread", KindPolicy, "spread"},
		{"main.yaml#web", KindNode, "web"},
		{"/app/main.yaml#server::host", KindCapability, "host"},
		{"#db", KindNode, "db"},
	}
	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			e := topo.Get(tt.address)
			require.NotNil(t, e)
			assert.Equal(t, tt.kind, e.Kind())
			assert.Equal(t, tt.name, e.Name())
		})
	}

	for _, missing := range []string{
		"", "nope", "web::nope", "nope::host", "web::capabilities::host",
		"groups::web", "other.yaml#web", "a::b::c::d",
	} {
		assert.Nil(t, topo.Get(missing), missing)
	}
}

func TestTopology_Owners(t *testing.T) {
	topo := mustBuild(t, shopTemplate)
	web := topo.Node("web")
	assert.Nil(t, topo.Owner())
	assert.Equal(t, Entity(topo), web.Owner())
	assert.Equal(t, Entity(web), web.Requirement("host").Owner())
	assert.Equal(t, Entity(web), web.Artifact("setup").Owner())
	assert.Equal(t, "/app", web.Capability("feature").BaseDir())
	assert.Equal(t, KindTopology, topo.Kind())
	assert.Equal(t, "/app/main.yaml", topo.Name())
}

func TestTopology_FindByType(t *testing.T) {
	topo := mustBuild(t, shopTemplate)
	assert.Equal(t, []string{"web", "db"}, nodeNames(topo.FindByType("tosca.nodes.SoftwareComponent")))
	assert.Equal(t, []string{"server", "web", "db"}, nodeNames(topo.FindByType("tosca.nodes.Root")))
	assert.Empty(t, topo.FindByType("tosca.nodes.Storage.BlockStorage"))
	assert.Empty(t, topo.FindByType("no.such.Type"))
}

func TestTopology_GroupsAndPolicies(t *testing.T) {
	topo := mustBuild(t, shopTemplate)

	tier := topo.Get("groups::tier").(*Group)
	assert.Equal(t, []string{"web", "backend"}, tier.Members())
	assert.Equal(t, []string{"web", "db"}, nodeNames(tier.Nodes()), "nested cycle terminates")
	assert.Equal(t, "tosca.groups.Root", tier.TypeName())

	spread := topo.Get("policies::spread").(*Policy)
	assert.Equal(t, []string{"web", "db"}, nodeNames(spread.Nodes()))
}

func TestTopology_LinksShareTarget(t *testing.T) {
	topo := mustBuild(t, shopTemplate)
	host := topo.Node("server").Capability("host")
	require.Len(t, host.Relationships(), 2)
	for i, src := range []string{"web", "db"} {
		rel := host.Relationships()[i]
		assert.Equal(t, src, rel.SourceNode().Name())
		assert.Same(t, topo.Node(src).Requirement("host"), rel.Source())
	}
}

func TestNode_Required(t *testing.T) {
	topo := mustBuild(t, `
node_templates:
  app:
    type: tosca.nodes.Root
    requirements:
      - uses: lib
  lib:
    type: tosca.nodes.Root
    directives: [default]
  spare:
    type: tosca.nodes.Root
    directives: [default]
  loop_a:
    type: tosca.nodes.Root
    directives: [default]
    requirements:
      - next: loop_b
  loop_b:
    type: tosca.nodes.Root
    directives: [default]
    requirements:
      - next: loop_a
`)
	tests := []struct {
		node string
		want bool
	}{
		{"app", true},
		{"lib", true},
		{"spare", false},
		{"loop_a", false},
		{"loop_b", false},
	}
	for _, tt := range tests {
		t.Run(tt.node, func(t *testing.T) {
			assert.Equal(t, tt.want, topo.Node(tt.node).Required())
		})
	}
}

func TestNode_RequiredBySubstitution(t *testing.T) {
	topo := mustBuild(t, `
substitution_mappings:
  node: root
node_templates:
  root:
    type: tosca.nodes.Root
    directives: [default]
    requirements:
      - uses: dep
  dep:
    type: tosca.nodes.Root
    directives: [default]
`)
	require.NotNil(t, topo.Substitution())
	assert.Equal(t, "root", topo.Substitution().Name())
	assert.True(t, topo.Node("dep").Required())
}

func TestNode_SubstituteDirective(t *testing.T) {
	topo := mustBuild(t, `
node_templates:
  a: {type: tosca.nodes.Root}
  b:
    type: tosca.nodes.Root
    directives: [substitute]
`)
	require.NotNil(t, topo.Substitution())
	assert.Equal(t, "b", topo.Substitution().Name())
	assert.True(t, topo.Node("b").HasDirective(DirectiveSubstitute))
}

func TestWorkflow_Order(t *testing.T) {
	topo := mustBuild(t, `
node_templates:
  web: {type: tosca.nodes.Root}
  db: {type: tosca.nodes.Root}
workflows:
  deploy:
    description: bring up the stack
    preconditions:
      - target: db
        condition:
          - state: [{equal: available}]
    steps:
      start_db:
        target: db
        activities: [{call_operation: Standard.start}]
        on_success: [configure_web, check]
      configure_web:
        target: web
        on_success: start_web
      check:
        target: db
        on_failure: [start_web]
      start_web:
        target: web
`)
	assert.Equal(t, []string{"deploy"}, topo.WorkflowNames())
	assert.Nil(t, topo.Workflow("undeploy"))

	w := topo.Workflow("deploy")
	require.NotNil(t, w)
	assert.Equal(t, "bring up the stack", w.Description)
	require.Len(t, w.Preconditions, 1)
	assert.Equal(t, "db", w.Preconditions[0].Target)
	assert.Equal(t, []string{"start_web"}, w.Step("configure_web").OnSuccess)
	assert.Equal(t, []string{"start_db"}, w.Initial())

	order, err := w.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"start_db", "check", "configure_web", "start_web"}, order)
}

func TestWorkflow_OrderErrors(t *testing.T) {
	cyclic := &Workflow{Name: "w", steps: map[string]*Step{
		"a": {Name: "a", OnSuccess: []string{"b"}},
		"b": {Name: "b", OnFailure: []string{"a"}},
		"c": {Name: "c", OnSuccess: []string{"a"}},
	}}
	_, err := cyclic.Order()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step cycle among [a b]")

	dangling := &Workflow{Name: "w", steps: map[string]*Step{
		"a": {Name: "a", OnSuccess: []string{"ghost"}},
	}}
	_, err = dangling.Order()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `step "a" leads to unknown step "ghost"`)
}

func TestWorkflow_ValidationErrors(t *testing.T) {
	_, err := buildYAML(t, `
node_templates:
  web: {type: tosca.nodes.Root}
workflows:
  deploy:
    steps:
      one:
        target: ghost
        on_success: [two]
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `step "one" targets "ghost", which is not a node or group`)
	assert.Contains(t, err.Error(), `step "one" leads to unknown step "two"`)
}

func TestTopology_Document(t *testing.T) {
	topo := mustBuild(t, shopTemplate)
	doc := topo.Document()
	assert.Equal(t, "topology", doc[kindKey])

	nodes := doc["nodes"].([]any)
	require.Len(t, nodes, 3)
	web := nodes[1].(map[string]any)
	assert.Equal(t, "web", web["name"])
	assert.Equal(t, "web", web[addressKey])
	assert.Contains(t, web["types"], "tosca.nodes.Root")

	reqs := web["requirements"].(map[string]any)
	host := reqs["host"].(map[string]any)
	assert.Equal(t, "server", host["target"])

	results, err := topo.evaluate("$.nodes[?(@.name == 'db')]", topo, nil)
	require.NoError(t, err)
	ents, err := topo.entities(results)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Same(t, topo.Node("db"), ents[0])
}
