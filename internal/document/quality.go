package document

import (
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// QualityReport summarizes the structure of an assembled document.
type QualityReport struct {
	Paragraphs int `json:"paragraphs"`
	Tables     int `json:"tables"`
	Figures    int `json:"figures"`
}

// Inspect parses the assembled Markdown and counts its structural
// elements. An assembled document that parses to nothing at all is a
// sign the pipeline produced garbage, which callers surface as a warning
// rather than a failure.
func Inspect(markdown string) (*QualityReport, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.Table),
	)

	source := []byte(markdown)
	root := md.Parser().Parse(text.NewReader(source))

	report := &QualityReport{}
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindParagraph:
			report.Paragraphs++
		case extast.KindTable:
			report.Tables++
		case ast.KindEmphasis:
			// Figure labels render as strong emphasis.
			if n.(*ast.Emphasis).Level == 2 {
				report.Figures++
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("inspect markdown: %w", err)
	}
	return report, nil
}
