// -----------------------------------------------------------------------
// Document Assembler - Renders pages of positioned blocks to Markdown in
// physical reading order
// -----------------------------------------------------------------------

package document

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/models"
)

// Assembler renders the merged document to Markdown. Within each page,
// blocks sort by region top then left; blocks without a region sort after
// everything positioned, keeping their insertion order. The sort is
// stable because extraction and annotation blocks can share a page
// without strictly ordered coordinates.
type Assembler struct {
	logger arbor.ILogger
}

// NewAssembler creates an assembler.
func NewAssembler(logger arbor.ILogger) *Assembler {
	return &Assembler{logger: logger}
}

// Assemble renders the document. Every page appears with a boundary
// marker, and no block is dropped.
func (a *Assembler) Assemble(doc *models.Document) string {
	var out strings.Builder
	if doc.SourceName != "" {
		out.WriteString("# " + doc.SourceName + "\n")
	}

	pages := append([]models.Page(nil), doc.Pages...)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })

	blocks := 0
	for _, page := range pages {
		out.WriteString(fmt.Sprintf("\n--- Page %d ---\n", page.Number))

		ordered := append([]models.Block(nil), page.Blocks...)
		sort.SliceStable(ordered, func(i, j int) bool {
			ti, tj := sortTop(ordered[i]), sortTop(ordered[j])
			if ti != tj {
				return ti < tj
			}
			return sortLeft(ordered[i]) < sortLeft(ordered[j])
		})

		for _, block := range ordered {
			out.WriteString("\n")
			renderBlock(&out, block)
			blocks++
		}
	}

	a.logger.Debug().
		Int("pages", len(pages)).
		Int("blocks", blocks).
		Msg("Document assembled")
	return out.String()
}

// sortTop orders positioned blocks by their top edge and pushes regionless
// blocks past everything, including the synthetic end-of-page region.
func sortTop(b models.Block) float64 {
	if !b.HasRegion {
		return 2
	}
	return b.Region.Top
}

func sortLeft(b models.Block) float64 {
	if !b.HasRegion {
		return 0
	}
	return b.Region.Left
}

func renderBlock(out *strings.Builder, block models.Block) {
	switch block.Kind {
	case models.BlockParagraph:
		out.WriteString(block.Text + "\n")
	case models.BlockTable:
		renderTable(out, block.Grid)
	case models.BlockFigure:
		out.WriteString("**Figure:** " + block.Text + "\n")
		for _, item := range block.Data {
			out.WriteString("  - " + item + "\n")
		}
	}
}

// renderTable writes a Markdown pipe table. The first row is the header;
// blank header cells get positional names so the table stays well-formed.
// Empty body cells render blank, not omitted, preserving column alignment.
func renderTable(out *strings.Builder, grid [][]string) {
	if len(grid) == 0 {
		return
	}

	cols := 0
	for _, row := range grid {
		if len(row) > cols {
			cols = len(row)
		}
	}
	if cols == 0 {
		return
	}

	header := make([]string, cols)
	for c := 0; c < cols; c++ {
		if c < len(grid[0]) && strings.TrimSpace(grid[0][c]) != "" {
			header[c] = cellText(grid[0][c])
		} else {
			header[c] = fmt.Sprintf("Col%d", c+1)
		}
	}
	writeRow(out, header)

	sep := make([]string, cols)
	for c := range sep {
		sep[c] = "---"
	}
	writeRow(out, sep)

	for _, row := range grid[1:] {
		cells := make([]string, cols)
		for c := 0; c < cols; c++ {
			if c < len(row) {
				cells[c] = cellText(row[c])
			}
		}
		writeRow(out, cells)
	}
}

func writeRow(out *strings.Builder, cells []string) {
	out.WriteString("| " + strings.Join(cells, " | ") + " |\n")
}

// cellText flattens cell content for a pipe table.
func cellText(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
