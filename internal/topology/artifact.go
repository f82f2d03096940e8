package topology

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"path"
	"strings"
	"sync"

	billy "github.com/go-git/go-billy/v5"
	"github.com/zeebo/blake3"

	"github.com/agentic-research/stratum/api"
	"github.com/agentic-research/stratum/internal/template"
)

// Repository is a named location artifacts resolve against.
type Repository struct {
	Name string
	URL  string
}

// Artifact is a file-like resource. Its location is computed on first use.
type Artifact struct {
	EntityCore
	decl       api.Artifact
	repository *Repository

	once     sync.Once
	location string
	fragment string
}

// File returns the declared file reference.
func (a *Artifact) File() string { return a.decl.File }

// Repository returns the repository the artifact resolves through, or nil.
func (a *Artifact) Repository() *Repository { return a.repository }

// Declaration returns the decoded artifact declaration.
func (a *Artifact) Declaration() api.Artifact { return a.decl }

// Node returns the owning node, or nil for an anonymous artifact.
func (a *Artifact) Node() *Node {
	n, _ := a.owner.(*Node)
	return n
}

// Location returns the artifact's absolute path or URL, and the fragment
// that followed a '#' in the file reference.
func (a *Artifact) Location() (string, string) {
	a.once.Do(func() {
		file, fragment, _ := strings.Cut(a.decl.File, "#")
		a.fragment = fragment
		a.location = a.compose(file)
	})
	return a.location, a.fragment
}

func (a *Artifact) compose(file string) string {
	if template.HasScheme(file) {
		return file
	}
	if a.repository != nil {
		if local, ok := template.LocalPath(a.repository.URL); ok {
			if !path.IsAbs(local) {
				local = path.Join(a.BaseDir(), local)
			}
			return path.Join(local, file)
		}
		return strings.TrimSuffix(a.repository.URL, "/") + "/" + strings.TrimPrefix(file, "/")
	}
	if path.IsAbs(file) {
		return path.Clean(file)
	}
	return path.Join(a.BaseDir(), file)
}

// Verify checks the declared checksum against the file in fs. Artifacts
// without a checksum always verify. SHA-256 is assumed when no algorithm
// is declared.
func (a *Artifact) Verify(fs billy.Filesystem) error {
	if a.decl.Checksum == "" {
		return nil
	}
	loc, _ := a.Location()
	if template.HasScheme(loc) {
		return fmt.Errorf("artifact %s: cannot verify remote location %s", a.address, loc)
	}
	var h hash.Hash
	switch strings.ToLower(strings.ReplaceAll(a.decl.ChecksumAlgorithm, "-", "")) {
	case "", "sha256":
		h = sha256.New()
	case "blake3":
		h = blake3.New()
	default:
		return fmt.Errorf("artifact %s: unsupported checksum algorithm %q", a.address, a.decl.ChecksumAlgorithm)
	}
	f, err := fs.Open(loc)
	if err != nil {
		return fmt.Errorf("artifact %s: %w", a.address, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("artifact %s: read %s: %w", a.address, loc, err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, a.decl.Checksum) {
		return fmt.Errorf("artifact %s: checksum mismatch: declared %s, computed %s", a.address, a.decl.Checksum, got)
	}
	return nil
}
