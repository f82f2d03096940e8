package template

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ParseError reports a malformed template. It is fatal for the build pass
// that hits it.
type ParseError struct {
	Path    string
	Line    int // 1-indexed, 0 when unknown
	Column  int // 1-indexed, 0 when unknown
	Message string
}

func (e *ParseError) Error() string {
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Format identifies a template source syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatHCL  Format = "hcl"
)

// FormatForPath picks the decoder from the file extension. Unknown
// extensions are treated as YAML.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSON
	case ".hcl", ".tf":
		return FormatHCL
	default:
		return FormatYAML
	}
}

// Parse decodes template source into a *Map. The top level must be a
// mapping. An empty document decodes to an empty map.
func Parse(data []byte, path string) (*Map, error) {
	switch FormatForPath(path) {
	case FormatJSON:
		return decodeYAML(jsonc.ToJSON(data), path)
	case FormatHCL:
		return decodeHCL(data, path)
	default:
		return decodeYAML(data, path)
	}
}

var yamlLinePattern = regexp.MustCompile(`line (\d+)`)

func decodeYAML(data []byte, path string) (*Map, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		perr := &ParseError{Path: path, Message: strings.TrimPrefix(err.Error(), "yaml: ")}
		if m := yamlLinePattern.FindStringSubmatch(err.Error()); m != nil {
			perr.Line, _ = strconv.Atoi(m[1])
		}
		locateSyntaxError(perr, data)
		return nil, perr
	}
	if len(doc.Content) == 0 {
		return NewMap(), nil
	}
	v, err := fromYAMLNode(doc.Content[0])
	if err != nil {
		return nil, &ParseError{Path: path, Line: doc.Content[0].Line, Message: err.Error()}
	}
	switch t := v.(type) {
	case *Map:
		return t, nil
	case nil:
		return NewMap(), nil
	default:
		return nil, &ParseError{Path: path, Line: doc.Content[0].Line, Message: "top level of a template must be a mapping"}
	}
}

func fromYAMLNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return fromYAMLNode(n.Content[0])
	case yaml.AliasNode:
		return fromYAMLNode(n.Alias)
	case yaml.MappingNode:
		m := NewMap()
		explicit := make(map[string]bool, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			if key.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: mapping keys must be scalars", key.Line)
			}
			if key.ShortTag() == "!!merge" {
				merged, err := fromYAMLNode(value)
				if err != nil {
					return nil, err
				}
				if mm, ok := merged.(*Map); ok {
					for p := mm.Oldest(); p != nil; p = p.Next() {
						if _, exists := m.Get(p.Key); !exists {
							m.Set(p.Key, p.Value)
						}
					}
				}
				continue
			}
			if explicit[key.Value] {
				return nil, fmt.Errorf("line %d: mapping key %q already defined", key.Line, key.Value)
			}
			explicit[key.Value] = true
			v, err := fromYAMLNode(value)
			if err != nil {
				return nil, err
			}
			m.Set(key.Value, v)
		}
		return m, nil
	case yaml.SequenceNode:
		list := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := fromYAMLNode(item)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node kind %d", n.Line, n.Kind)
}
