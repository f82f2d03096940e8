package topology

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

const artifactTemplate = `
repositories:
  local: file:shared
  remote: {url: "https://downloads.example.com/pkgs/"}
node_templates:
  repo:
    type: tosca.nodes.LocalRepository
    artifacts:
      common.tar: common.tar
  web:
    type: tosca.nodes.Root
    artifacts:
      setup: scripts/setup.sh
      image:
        type: tosca.artifacts.Deployment.Image
        file: app.tar
        repository: remote
      config:
        file: "app.conf#section"
        repository: local
`

func TestResolveArtifact(t *testing.T) {
	topo := mustBuild(t, artifactTemplate)
	web := topo.Node("web")

	tests := []struct {
		name     string
		ref      any
		owner    *Node
		location string
		fragment string
		ownerIs  string
	}{
		{"owned by name", "setup", web, "/app/scripts/setup.sh", "", "web"},
		{"remote repository", "image", web, "https://downloads.example.com/pkgs/app.tar", "", "web"},
		{"local repository with fragment", "config", web, "/app/shared/app.conf", "section", "web"},
		{"local repository node", "common.tar", web, "/app/common.tar", "", "repo"},
		{"repository qualifier", "remote:tools.zip", web, "https://downloads.example.com/pkgs/tools.zip", "", "web"},
		{"bare path", "setup.sh", web, "/app/setup.sh", "", "web"},
		{"bare url", "https://example.com/x.sh", nil, "https://example.com/x.sh", "", ""},
		{"absolute path", "/opt/run.sh", web, "/opt/run.sh", "", "web"},
		{"inline mapping", map[string]any{"file": "inline.sh"}, web, "/app/inline.sh", "", "web"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := topo.ResolveArtifact(tt.ref, tt.owner)
			require.NoError(t, err)
			loc, frag := a.Location()
			assert.Equal(t, tt.location, loc)
			assert.Equal(t, tt.fragment, frag)
			if tt.ownerIs != "" {
				require.NotNil(t, a.Node())
				assert.Equal(t, tt.ownerIs, a.Node().Name())
			}
		})
	}
}

func TestResolveArtifact_LocalRepositoryCopyIsBound(t *testing.T) {
	topo := mustBuild(t, artifactTemplate)
	repo := topo.Node("repo")

	a, err := topo.ResolveArtifact("common.tar", topo.Node("web"))
	require.NoError(t, err)
	assert.NotSame(t, repo.Artifact("common.tar"), a)
	assert.Same(t, repo, a.Node())
	assert.Len(t, repo.Artifacts(), 1, "the repository node is not modified")
}

func TestResolveArtifact_Errors(t *testing.T) {
	topo := mustBuild(t, artifactTemplate)

	_, err := topo.ResolveArtifact("nothing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nothing", nf.Name)

	_, err = topo.ResolveArtifact("", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = topo.ResolveArtifact(42, nil)
	assert.Error(t, err)

	_, err = topo.ResolveArtifact(map[string]any{"file": "x", "repository": "ghost"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown repository "ghost"`)

	// an undeclared qualifier reads as a URL scheme
	a, err := topo.ResolveArtifact("ghost:thing", nil)
	require.NoError(t, err)
	loc, _ := a.Location()
	assert.Equal(t, "ghost:thing", loc)
}

func TestResolveArtifact_TypeName(t *testing.T) {
	topo := mustBuild(t, artifactTemplate)
	a, err := topo.ResolveArtifact("tosca.artifacts.Implementation.Bash", nil)
	require.NoError(t, err)
	assert.Equal(t, "tosca.artifacts.Implementation.Bash", a.TypeName())
}

func TestArtifact_Verify(t *testing.T) {
	content := []byte("#!/bin/sh\necho ok\n")
	sha := sha256.Sum256(content)
	b3 := blake3.Sum256(content)

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/app/run.sh", content, 0o755))

	topo := mustBuild(t, `
node_templates:
  web:
    type: tosca.nodes.Root
    artifacts:
      plain: run.sh
      sha:
        file: run.sh
        checksum: "`+hex.EncodeToString(sha[:])+`"
      b3:
        file: run.sh
        checksum: "`+hex.EncodeToString(b3[:])+`"
        checksum_algorithm: BLAKE3
      wrong:
        file: run.sh
        checksum: deadbeef
      missing:
        file: gone.sh
        checksum: deadbeef
`)
	web := topo.Node("web")
	assert.NoError(t, web.Artifact("plain").Verify(fs))
	assert.NoError(t, web.Artifact("sha").Verify(fs))
	assert.NoError(t, web.Artifact("b3").Verify(fs))

	err := web.Artifact("wrong").Verify(fs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")

	assert.Error(t, web.Artifact("missing").Verify(fs))
}
