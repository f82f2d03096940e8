package template

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/hcl"
	"github.com/smacker/go-tree-sitter/yaml"
)

// SyntaxErrors returns every ERROR/MISSING node location in content. The
// decoders stop at the first problem; this walks the whole tree so a
// single `check` run reports all of them. Formats without a grammar
// return nil.
func SyntaxErrors(content []byte, path string) []ParseError {
	lang := languageForFormat(FormatForPath(path))
	if lang == nil {
		return nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil
	}

	root := tree.RootNode()
	if root == nil || !root.HasError() {
		return nil
	}

	var errs []ParseError
	collectErrors(root, path, &errs)
	return errs
}

// locateSyntaxError fills in a missing column (and line) on perr from the
// first syntax error tree-sitter finds.
func locateSyntaxError(perr *ParseError, content []byte) {
	if perr.Column > 0 {
		return
	}
	errs := SyntaxErrors(content, perr.Path)
	for _, e := range errs {
		if perr.Line == 0 || e.Line == perr.Line {
			perr.Line = e.Line
			perr.Column = e.Column
			return
		}
	}
}

func collectErrors(node *sitter.Node, path string, errs *[]ParseError) {
	if node.IsError() || node.IsMissing() {
		msg := "syntax error"
		if node.IsMissing() {
			msg = "missing " + node.Type()
		}
		*errs = append(*errs, ParseError{
			Path:    path,
			Line:    int(node.StartPoint().Row) + 1,
			Column:  int(node.StartPoint().Column) + 1,
			Message: msg,
		})
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.HasError() || child.IsError() || child.IsMissing() {
			collectErrors(child, path, errs)
		}
	}
}

func languageForFormat(f Format) *sitter.Language {
	switch f {
	case FormatYAML:
		return yaml.GetLanguage()
	case FormatHCL:
		return hcl.GetLanguage()
	default:
		return nil
	}
}
