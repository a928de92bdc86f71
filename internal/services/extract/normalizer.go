// -----------------------------------------------------------------------
// Extraction Normalizer - Converts the raw extraction payload into a
// page-indexed set of positioned paragraph and table blocks
// -----------------------------------------------------------------------

package extract

import (
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/models"
)

// Normalizer reconciles the extraction service's flat line/cell sets into
// per-page blocks. All thresholds come from configuration so boundary
// cases can be probed precisely.
type Normalizer struct {
	cfg    common.NormalizeConfig
	logger arbor.ILogger
}

// NewNormalizer creates a normalizer with the given thresholds.
func NewNormalizer(cfg common.NormalizeConfig, logger arbor.ILogger) *Normalizer {
	return &Normalizer{cfg: cfg, logger: logger}
}

// Normalize builds the document from a raw extraction result.
//
// A structurally incomplete result (missing page count) does not fail the
// job: the page count is recovered from the content and the error is
// returned alongside the usable document so the caller can record it.
func (n *Normalizer) Normalize(raw *models.RawResult) (*models.Document, error) {
	doc := &models.Document{PageCount: raw.PageCount}

	tables := n.buildTables(raw.Cells)
	for _, t := range tables {
		page := doc.PageByNumber(t.region.Page)
		page.Blocks = append(page.Blocks, models.Block{
			Kind:      models.BlockTable,
			Region:    t.region,
			HasRegion: true,
			Grid:      t.grid,
		})
	}

	lines := n.dropTableDuplicates(raw.Lines, tables)
	n.buildParagraphs(doc, lines)

	var err error
	if raw.PageCount == 0 {
		err = &models.PartialExtractionError{Missing: "page_count"}
		for _, p := range doc.Pages {
			if p.Number > doc.PageCount {
				doc.PageCount = p.Number
			}
		}
	}

	// Missing pages are empty, not absent.
	for p := 1; p <= doc.PageCount; p++ {
		doc.PageByNumber(p)
	}

	n.logger.Debug().
		Int("pages", doc.PageCount).
		Int("tables", len(tables)).
		Int("lines", len(raw.Lines)).
		Msg("Extraction result normalized")
	return doc, err
}

// -----------------------------------------------------------------------
// Tables
// -----------------------------------------------------------------------

type table struct {
	id     string
	region models.Region
	grid   [][]string
}

// buildTables groups cells by table id, computes each table's region as
// the union of its cells and renders the grid by clustering vertical then
// horizontal centers. Tables with zero cells never materialize. Result is
// ordered by page then position for deterministic first-table precedence
// during dedup.
func (n *Normalizer) buildTables(cells []models.RawCell) []table {
	byID := make(map[string][]models.RawCell)
	var order []string
	for _, c := range cells {
		if c.Geometry == nil {
			// A cell with no position cannot participate in clustering;
			// its text would land nowhere sensible. Drop it.
			n.logger.Warn().Str("table_id", c.TableID).Msg("Dropping cell with no geometry")
			continue
		}
		if _, seen := byID[c.TableID]; !seen {
			order = append(order, c.TableID)
		}
		byID[c.TableID] = append(byID[c.TableID], c)
	}

	tables := make([]table, 0, len(order))
	for _, id := range order {
		group := byID[id]
		region := group[0].Geometry.Region()
		for _, c := range group[1:] {
			region = region.Union(c.Geometry.Region())
		}
		tables = append(tables, table{
			id:     id,
			region: region,
			grid:   n.renderGrid(group),
		})
	}

	sort.SliceStable(tables, func(i, j int) bool {
		if tables[i].region.Page != tables[j].region.Page {
			return tables[i].region.Page < tables[j].region.Page
		}
		return tables[i].region.Top < tables[j].region.Top
	})
	return tables
}

// renderGrid sorts cells into rows by vertical center and columns by
// horizontal center, clustering within tolerance to absorb scan skew.
// Empty positions stay blank so column alignment survives.
func (n *Normalizer) renderGrid(cells []models.RawCell) [][]string {
	rowOf := clusterCenters(cells, n.cfg.RowTolerance, func(c models.RawCell) float64 {
		return c.Geometry.Region().VerticalCenter()
	})
	colOf := clusterCenters(cells, n.cfg.ColumnTolerance, func(c models.RawCell) float64 {
		return c.Geometry.Region().HorizontalCenter()
	})

	rows, cols := 0, 0
	for i := range cells {
		if rowOf[i]+1 > rows {
			rows = rowOf[i] + 1
		}
		if colOf[i]+1 > cols {
			cols = colOf[i] + 1
		}
	}

	grid := make([][]string, rows)
	for r := range grid {
		grid[r] = make([]string, cols)
	}
	for i, c := range cells {
		r, col := rowOf[i], colOf[i]
		if grid[r][col] != "" {
			// Two cells clustered into one position; keep both texts.
			grid[r][col] += " " + c.Text
			continue
		}
		grid[r][col] = c.Text
	}
	return grid
}

// clusterCenters assigns each cell a cluster ordinal along one axis.
// Clusters are seeded greedily in center order; a cell joins the cluster
// whose seed center is within tolerance, otherwise starts a new one.
func clusterCenters(cells []models.RawCell, tolerance float64, center func(models.RawCell) float64) []int {
	type indexed struct {
		idx    int
		center float64
	}
	sorted := make([]indexed, len(cells))
	for i, c := range cells {
		sorted[i] = indexed{idx: i, center: center(c)}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].center < sorted[j].center })

	assignment := make([]int, len(cells))
	cluster := -1
	var seed float64
	for _, item := range sorted {
		if cluster < 0 || item.center-seed > tolerance {
			cluster++
			seed = item.center
		}
		assignment[item.idx] = cluster
	}
	return assignment
}

// -----------------------------------------------------------------------
// Lines and paragraphs
// -----------------------------------------------------------------------

// dropTableDuplicates removes lines already represented as table cells: a
// line whose region sits at least the overlap threshold inside any table
// region is a duplicate. Tables are checked in page order, so a line that
// overlaps two tables equally is attributed to the first.
func (n *Normalizer) dropTableDuplicates(lines []models.RawLine, tables []table) []models.RawLine {
	kept := make([]models.RawLine, 0, len(lines))
	for _, line := range lines {
		if line.Geometry == nil {
			kept = append(kept, line)
			continue
		}
		region := line.Geometry.Region()
		duplicate := false
		for _, t := range tables {
			if region.OverlapRatio(t.region) >= n.cfg.TableOverlapThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, line)
		}
	}
	return kept
}

// buildParagraphs groups positioned lines into paragraphs with a greedy
// top-to-bottom pass per page: a line joins the open paragraph when its
// vertical gap from the paragraph's bottom edge is small and its left
// edge stays aligned. Lines with missing or degenerate regions become
// standalone paragraphs pinned after all positioned content of their page.
func (n *Normalizer) buildParagraphs(doc *models.Document, lines []models.RawLine) {
	type positioned struct {
		text   string
		region models.Region
	}
	byPage := make(map[int][]positioned)
	var pages []int

	addPage := func(p int) {
		if _, seen := byPage[p]; !seen {
			pages = append(pages, p)
		}
	}

	var unpositioned []models.RawLine
	for _, line := range lines {
		if strings.TrimSpace(line.Text) == "" {
			continue
		}
		if line.Geometry == nil {
			unpositioned = append(unpositioned, line)
			continue
		}
		region := line.Geometry.Region()
		if region.Area() == 0 {
			// Malformed region: keep the text, park it at the end of its page.
			page := doc.PageByNumber(region.Page)
			page.Blocks = append(page.Blocks, models.Block{
				Kind:      models.BlockParagraph,
				Region:    endOfPageRegion(region.Page),
				HasRegion: true,
				Text:      line.Text,
			})
			continue
		}
		addPage(region.Page)
		byPage[region.Page] = append(byPage[region.Page], positioned{text: line.Text, region: region})
	}

	sort.Ints(pages)
	for _, p := range pages {
		pageLines := byPage[p]
		sort.SliceStable(pageLines, func(i, j int) bool {
			if pageLines[i].region.Top != pageLines[j].region.Top {
				return pageLines[i].region.Top < pageLines[j].region.Top
			}
			return pageLines[i].region.Left < pageLines[j].region.Left
		})

		page := doc.PageByNumber(p)
		var texts []string
		var region models.Region
		flush := func() {
			if len(texts) == 0 {
				return
			}
			page.Blocks = append(page.Blocks, models.Block{
				Kind:      models.BlockParagraph,
				Region:    region,
				HasRegion: true,
				Text:      strings.Join(texts, " "),
			})
			texts = nil
		}

		for _, line := range pageLines {
			if len(texts) > 0 &&
				line.region.Top-region.Bottom <= n.cfg.ParagraphGap &&
				abs(line.region.Left-region.Left) <= n.cfg.AlignTolerance {
				texts = append(texts, line.text)
				region = region.Union(line.region)
				continue
			}
			flush()
			texts = []string{line.text}
			region = line.region
		}
		flush()
	}

	// Lines with no geometry at all have no page either; they land at the
	// end of the first page rather than vanish.
	for _, line := range unpositioned {
		page := doc.PageByNumber(1)
		page.Blocks = append(page.Blocks, models.Block{
			Kind:      models.BlockParagraph,
			Region:    endOfPageRegion(1),
			HasRegion: true,
			Text:      line.Text,
		})
	}
}

// endOfPageRegion is the synthetic "after all positioned content" region.
func endOfPageRegion(page int) models.Region {
	return models.Region{Page: page, Top: 1, Left: 0, Bottom: 1, Right: 1}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
