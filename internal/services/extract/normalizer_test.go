package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/models"
)

func testNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	return NewNormalizer(common.NewDefaultConfig().Normalize, common.GetLogger())
}

func geom(page int, top, left, width, height float64) *models.RawGeometry {
	return &models.RawGeometry{Page: page, Top: top, Left: left, Width: width, Height: height}
}

func TestNormalize_TableGrid(t *testing.T) {
	// 2x2 table with slight vertical skew between cells of the same row.
	raw := &models.RawResult{
		PageCount: 1,
		Cells: []models.RawCell{
			{TableID: "t1", Text: "A", Geometry: geom(1, 0.100, 0.10, 0.10, 0.05)},
			{TableID: "t1", Text: "B", Geometry: geom(1, 0.104, 0.30, 0.10, 0.05)},
			{TableID: "t1", Text: "C", Geometry: geom(1, 0.200, 0.10, 0.10, 0.05)},
			{TableID: "t1", Text: "D", Geometry: geom(1, 0.196, 0.30, 0.10, 0.05)},
		},
	}

	doc, err := testNormalizer(t).Normalize(raw)
	require.NoError(t, err)

	page := doc.PageByNumber(1)
	require.Len(t, page.Blocks, 1)
	block := page.Blocks[0]
	assert.Equal(t, models.BlockTable, block.Kind)
	assert.Equal(t, [][]string{{"A", "B"}, {"C", "D"}}, block.Grid)

	// Region is the union of all cell regions.
	assert.InDelta(t, 0.10, block.Region.Top, 0.001)
	assert.InDelta(t, 0.10, block.Region.Left, 0.001)
	assert.InDelta(t, 0.40, block.Region.Right, 0.001)
}

func TestNormalize_TableWithGapKeepsBlankCells(t *testing.T) {
	// Second row has no middle cell; the grid must keep the blank so
	// column alignment is preserved.
	raw := &models.RawResult{
		PageCount: 1,
		Cells: []models.RawCell{
			{TableID: "t1", Text: "H1", Geometry: geom(1, 0.10, 0.10, 0.10, 0.04)},
			{TableID: "t1", Text: "H2", Geometry: geom(1, 0.10, 0.30, 0.10, 0.04)},
			{TableID: "t1", Text: "H3", Geometry: geom(1, 0.10, 0.50, 0.10, 0.04)},
			{TableID: "t1", Text: "v1", Geometry: geom(1, 0.20, 0.10, 0.10, 0.04)},
			{TableID: "t1", Text: "v3", Geometry: geom(1, 0.20, 0.50, 0.10, 0.04)},
		},
	}

	doc, err := testNormalizer(t).Normalize(raw)
	require.NoError(t, err)
	block := doc.PageByNumber(1).Blocks[0]
	assert.Equal(t, [][]string{{"H1", "H2", "H3"}, {"v1", "", "v3"}}, block.Grid)
}

func TestNormalize_ZeroCellTableDropped(t *testing.T) {
	// The only cell has no geometry, so its table never materializes.
	raw := &models.RawResult{
		PageCount: 1,
		Cells: []models.RawCell{
			{TableID: "ghost", Text: "x"},
		},
	}

	doc, err := testNormalizer(t).Normalize(raw)
	require.NoError(t, err)
	assert.Empty(t, doc.PageByNumber(1).Blocks)
}

func TestNormalize_LineInsideTableDropped(t *testing.T) {
	raw := &models.RawResult{
		PageCount: 1,
		Cells: []models.RawCell{
			{TableID: "t1", Text: "A", Geometry: geom(1, 0.10, 0.10, 0.20, 0.05)},
			{TableID: "t1", Text: "B", Geometry: geom(1, 0.20, 0.10, 0.20, 0.05)},
		},
		Lines: []models.RawLine{
			// Fully inside the table region; already represented as cell A.
			{Text: "A", Geometry: geom(1, 0.11, 0.11, 0.10, 0.03)},
			// Well below the table; a real paragraph.
			{Text: "Footnote", Geometry: geom(1, 0.80, 0.10, 0.30, 0.03)},
		},
	}

	doc, err := testNormalizer(t).Normalize(raw)
	require.NoError(t, err)

	page := doc.PageByNumber(1)
	require.Len(t, page.Blocks, 2)
	var paragraphs []string
	for _, b := range page.Blocks {
		if b.Kind == models.BlockParagraph {
			paragraphs = append(paragraphs, b.Text)
		}
	}
	assert.Equal(t, []string{"Footnote"}, paragraphs)
}

func TestNormalize_LinePartiallyOverlappingTableKept(t *testing.T) {
	cfg := common.NewDefaultConfig().Normalize
	n := NewNormalizer(cfg, common.GetLogger())

	raw := &models.RawResult{
		PageCount: 1,
		Cells: []models.RawCell{
			{TableID: "t1", Text: "A", Geometry: geom(1, 0.10, 0.10, 0.20, 0.10)},
		},
		Lines: []models.RawLine{
			// Roughly half inside the table region; below the 0.9 threshold.
			{Text: "Caption straddling the edge", Geometry: geom(1, 0.18, 0.10, 0.20, 0.04)},
		},
	}

	doc, err := n.Normalize(raw)
	require.NoError(t, err)

	kinds := map[models.BlockKind]int{}
	for _, b := range doc.PageByNumber(1).Blocks {
		kinds[b.Kind]++
	}
	assert.Equal(t, 1, kinds[models.BlockTable])
	assert.Equal(t, 1, kinds[models.BlockParagraph])
}

func TestNormalize_ParagraphGrouping(t *testing.T) {
	raw := &models.RawResult{
		PageCount: 1,
		Lines: []models.RawLine{
			{Text: "First line of intro", Geometry: geom(1, 0.100, 0.10, 0.60, 0.012)},
			{Text: "second line of intro", Geometry: geom(1, 0.115, 0.10, 0.55, 0.012)},
			// Large vertical gap starts a new paragraph.
			{Text: "A separate closing note", Geometry: geom(1, 0.500, 0.10, 0.50, 0.012)},
		},
	}

	doc, err := testNormalizer(t).Normalize(raw)
	require.NoError(t, err)

	page := doc.PageByNumber(1)
	require.Len(t, page.Blocks, 2)
	assert.Equal(t, "First line of intro second line of intro", page.Blocks[0].Text)
	assert.Equal(t, "A separate closing note", page.Blocks[1].Text)
}

func TestNormalize_MisalignedLineStartsNewParagraph(t *testing.T) {
	raw := &models.RawResult{
		PageCount: 1,
		Lines: []models.RawLine{
			{Text: "Body text", Geometry: geom(1, 0.100, 0.10, 0.60, 0.012)},
			// Vertically adjacent but indented far right: a new block.
			{Text: "Right-aligned note", Geometry: geom(1, 0.114, 0.60, 0.30, 0.012)},
		},
	}

	doc, err := testNormalizer(t).Normalize(raw)
	require.NoError(t, err)
	assert.Len(t, doc.PageByNumber(1).Blocks, 2)
}

func TestNormalize_MalformedRegionPinnedToEndOfPage(t *testing.T) {
	raw := &models.RawResult{
		PageCount: 1,
		Lines: []models.RawLine{
			{Text: "Positioned text", Geometry: geom(1, 0.10, 0.10, 0.50, 0.02)},
			// Zero-area geometry.
			{Text: "Orphan footer", Geometry: geom(1, 0.95, 0.10, 0, 0)},
		},
	}

	doc, err := testNormalizer(t).Normalize(raw)
	require.NoError(t, err)

	page := doc.PageByNumber(1)
	require.Len(t, page.Blocks, 2)

	var orphan *models.Block
	for i := range page.Blocks {
		if page.Blocks[i].Text == "Orphan footer" {
			orphan = &page.Blocks[i]
		}
	}
	require.NotNil(t, orphan)
	assert.Equal(t, 1.0, orphan.Region.Top, "orphan must sort after all positioned content")
}

func TestNormalize_MissingPageCountDegrades(t *testing.T) {
	raw := &models.RawResult{
		Lines: []models.RawLine{
			{Text: "Text on page three", Geometry: geom(3, 0.10, 0.10, 0.50, 0.02)},
		},
	}

	doc, err := testNormalizer(t).Normalize(raw)
	var partial *models.PartialExtractionError
	require.ErrorAs(t, err, &partial)

	// The document is still usable; page count recovered from content and
	// the intermediate pages exist as empty pages.
	require.NotNil(t, doc)
	assert.Equal(t, 3, doc.PageCount)
	assert.Len(t, doc.Pages, 3)
	assert.Empty(t, doc.PageByNumber(2).Blocks)
}

func TestClusterCenters(t *testing.T) {
	cells := []models.RawCell{
		{Geometry: geom(1, 0.100, 0, 0.1, 0.02)},
		{Geometry: geom(1, 0.300, 0, 0.1, 0.02)},
		{Geometry: geom(1, 0.105, 0, 0.1, 0.02)}, // within tolerance of the first
	}
	rows := clusterCenters(cells, 0.01, func(c models.RawCell) float64 {
		return c.Geometry.Region().VerticalCenter()
	})
	assert.Equal(t, rows[0], rows[2])
	assert.NotEqual(t, rows[0], rows[1])
}
