// -----------------------------------------------------------------------
// Document Model - Pages of positioned blocks in normalized coordinates
// -----------------------------------------------------------------------

package models

// Region is a bounding box in a normalized 0..1 coordinate space per axis,
// so blocks from independent extraction passes can be compared.
type Region struct {
	Page   int     `json:"page"`
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Bottom float64 `json:"bottom"`
	Right  float64 `json:"right"`
}

// VerticalCenter returns the midpoint of the region's vertical extent.
func (r Region) VerticalCenter() float64 {
	return (r.Top + r.Bottom) / 2
}

// HorizontalCenter returns the midpoint of the region's horizontal extent.
func (r Region) HorizontalCenter() float64 {
	return (r.Left + r.Right) / 2
}

// Area returns the region's area. Degenerate regions report zero.
func (r Region) Area() float64 {
	w := r.Right - r.Left
	h := r.Bottom - r.Top
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// OverlapRatio returns the fraction of r's area that lies inside other.
// Pages must match; zero otherwise.
func (r Region) OverlapRatio(other Region) float64 {
	if r.Page != other.Page {
		return 0
	}
	area := r.Area()
	if area == 0 {
		return 0
	}
	top := max(r.Top, other.Top)
	left := max(r.Left, other.Left)
	bottom := min(r.Bottom, other.Bottom)
	right := min(r.Right, other.Right)
	if bottom <= top || right <= left {
		return 0
	}
	return (bottom - top) * (right - left) / area
}

// Union returns the smallest region covering both r and other.
func (r Region) Union(other Region) Region {
	return Region{
		Page:   r.Page,
		Top:    min(r.Top, other.Top),
		Left:   min(r.Left, other.Left),
		Bottom: max(r.Bottom, other.Bottom),
		Right:  max(r.Right, other.Right),
	}
}

// BlockKind discriminates the block variants.
type BlockKind string

const (
	BlockParagraph BlockKind = "paragraph"
	BlockTable     BlockKind = "table"
	BlockFigure    BlockKind = "figure"
)

// Block is one positioned unit of page content. Text carries paragraph
// text or a figure summary; Grid carries table cells; Data carries any
// structured lines extracted from a figure.
type Block struct {
	Kind      BlockKind  `json:"kind"`
	Region    Region     `json:"region"`
	HasRegion bool       `json:"has_region"`
	Text      string     `json:"text,omitempty"`
	Grid      [][]string `json:"grid,omitempty"`
	Data      []string   `json:"data,omitempty"`
}

// Page holds a 1-based page number and its blocks in insertion order.
// Reading order is established by the assembler's stable sort.
type Page struct {
	Number int     `json:"number"`
	Blocks []Block `json:"blocks"`
}

// Document is the ordered page sequence handed to the assembler.
type Document struct {
	SourceName string `json:"source_name"`
	PageCount  int    `json:"page_count"`
	Pages      []Page `json:"pages"`
}

// PageByNumber returns the page with the given number, creating and
// inserting it in order when absent.
func (d *Document) PageByNumber(n int) *Page {
	for i := range d.Pages {
		if d.Pages[i].Number == n {
			return &d.Pages[i]
		}
	}
	idx := len(d.Pages)
	for i := range d.Pages {
		if d.Pages[i].Number > n {
			idx = i
			break
		}
	}
	d.Pages = append(d.Pages, Page{})
	copy(d.Pages[idx+1:], d.Pages[idx:])
	d.Pages[idx] = Page{Number: n}
	return &d.Pages[idx]
}
