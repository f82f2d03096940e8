package template

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/stratum/api"
)

// Document is a loaded template plus the imports it pulled in. Imports are
// pending fragments: the loader never merges them, the builder does, so a
// guarded import can be dropped between passes.
type Document struct {
	Path    string
	BaseDir string
	Root    *Map
	Imports []*Import
}

// Import is one loaded import fragment. Nested imports appear in
// Document.Imports before the import that declared them; Parent links back
// so dropping an import also drops what it pulled in.
type Import struct {
	api.Import
	Path    string
	BaseDir string
	Root    *Map
	Parent  *Import
}

// NewDocument wraps an in-memory template. It has no imports.
func NewDocument(root *Map, baseDir string) *Document {
	if root == nil {
		root = NewMap()
	}
	return &Document{BaseDir: baseDir, Root: root}
}

// Clone deep-copies the base template. Import fragments are shared; the
// builder never writes to them.
func (d *Document) Clone() *Document {
	out := *d
	out.Root = CopyMap(d.Root)
	out.Imports = append([]*Import(nil), d.Imports...)
	return &out
}

// Loader reads templates and their imports from a billy filesystem.
type Loader struct {
	fs billy.Filesystem
}

// NewLoader creates a loader over fs. Paths handed to Load are slash
// separated and relative to the filesystem root.
func NewLoader(fs billy.Filesystem) *Loader {
	return &Loader{fs: fs}
}

// ReadFile returns the raw bytes of a template file.
func (l *Loader) ReadFile(p string) ([]byte, error) {
	return util.ReadFile(l.fs, p)
}

// Load reads the template at p and every import reachable from it.
func (l *Loader) Load(p string) (*Document, error) {
	p = path.Clean(p)
	root, err := l.parseFile(p)
	if err != nil {
		return nil, err
	}
	doc := &Document{Path: p, BaseDir: path.Dir(p), Root: root}
	visited := map[string]bool{p: true}
	imports, err := l.loadImports(root, doc.BaseDir, p, nil, visited)
	if err != nil {
		return nil, err
	}
	doc.Imports = imports
	return doc, nil
}

func (l *Loader) parseFile(p string) (*Map, error) {
	data, err := util.ReadFile(l.fs, p)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", p, err)
	}
	return Parse(data, p)
}

// loadImports loads the imports section of root depth first. A file that
// was already loaded (including the importing chain itself) is skipped, so
// import cycles terminate.
func (l *Loader) loadImports(root *Map, baseDir, from string, parent *Import, visited map[string]bool) ([]*Import, error) {
	decls, err := ImportDecls(root)
	if err != nil {
		return nil, &ParseError{Path: from, Message: err.Error()}
	}
	var out []*Import
	for _, decl := range decls {
		dir, err := RepositoryBase(root, decl.Repository, baseDir)
		if err != nil {
			return nil, &ParseError{Path: from, Message: err.Error()}
		}
		p := path.Clean(path.Join(dir, decl.File))
		if path.IsAbs(decl.File) {
			p = path.Clean(decl.File)
		}
		if visited[p] {
			continue
		}
		visited[p] = true

		fragment, err := l.parseFile(p)
		if err != nil {
			return nil, err
		}
		imp := &Import{Import: decl, Path: p, BaseDir: path.Dir(p), Root: fragment, Parent: parent}
		nested, err := l.loadImports(fragment, imp.BaseDir, p, imp, visited)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
		out = append(out, imp)
	}
	return out, nil
}

// ImportDecls reads the imports section. Entries are either a bare file
// name or a {file, repository, when} mapping.
func ImportDecls(root *Map) ([]api.Import, error) {
	raw, ok := root.Get("imports")
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("imports must be a list")
	}
	out := make([]api.Import, 0, len(list))
	for i, item := range list {
		var decl api.Import
		switch v := item.(type) {
		case string:
			decl.File = v
		case *Map:
			if err := api.Decode(ToPlain(v), &decl); err != nil {
				return nil, fmt.Errorf("imports[%d]: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("imports[%d]: expected a file name or a mapping", i)
		}
		out = append(out, decl)
	}
	return out, nil
}

// RepositoryBase resolves the directory a repository-qualified file is
// relative to. An empty repository name means baseDir itself. Only local
// repositories (file: URLs or plain paths) can be read.
func RepositoryBase(root *Map, repository, baseDir string) (string, error) {
	if repository == "" {
		return baseDir, nil
	}
	raw, ok := GetPath(root, []string{"repositories", repository})
	if !ok {
		return "", fmt.Errorf("unknown repository %q", repository)
	}
	var decl api.Repository
	switch v := raw.(type) {
	case string:
		decl.URL = v
	case *Map:
		if err := api.Decode(ToPlain(v), &decl); err != nil {
			return "", fmt.Errorf("repository %q: %w", repository, err)
		}
	default:
		return "", fmt.Errorf("repository %q: expected a url or a mapping", repository)
	}
	local, ok := LocalPath(decl.URL)
	if !ok {
		return "", fmt.Errorf("repository %q: %s is not a local repository", repository, decl.URL)
	}
	if path.IsAbs(local) {
		return path.Clean(local), nil
	}
	return path.Join(baseDir, local), nil
}

// LocalPath returns the filesystem path behind a file: URL or a plain
// path. Any other scheme is not local.
func LocalPath(raw string) (string, bool) {
	if !HasScheme(raw) {
		return raw, true
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	if u.Opaque != "" {
		return u.Opaque, true
	}
	return u.Path, true
}

// HasScheme reports whether s starts with a URL scheme such as https://.
func HasScheme(s string) bool {
	i := strings.Index(s, ":")
	if i <= 1 {
		// "c:" style drive letters and ":x" are not schemes
		return false
	}
	for j, r := range s[:i] {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case j > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}
