package models

// Shapes of the extraction collaborator's DONE payload. Geometry values are
// fractions of the page (0..1); the normalizer still clamps and fills in
// missing geometry rather than trusting the service blindly.

// RawGeometry is a bounding box as reported by the extraction service.
type RawGeometry struct {
	Page   int     `json:"page"`
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Region converts collaborator geometry into the normalized Region form,
// clamping coordinates into 0..1.
func (g RawGeometry) Region() Region {
	clamp := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	top := clamp(g.Top)
	left := clamp(g.Left)
	return Region{
		Page:   g.Page,
		Top:    top,
		Left:   left,
		Bottom: clamp(top + g.Height),
		Right:  clamp(left + g.Width),
	}
}

// RawLine is one recognized text line.
type RawLine struct {
	Text     string       `json:"text"`
	Geometry *RawGeometry `json:"geometry,omitempty"`
}

// RawCell is one recognized table cell, grouped by TableID.
type RawCell struct {
	TableID  string       `json:"table_id"`
	Row      int          `json:"row"`
	Column   int          `json:"column"`
	Text     string       `json:"text"`
	Geometry *RawGeometry `json:"geometry,omitempty"`
}

// RawFigure is a detected figure/diagram region with no recognized text.
type RawFigure struct {
	ID       string       `json:"id"`
	Geometry *RawGeometry `json:"geometry,omitempty"`
}

// RawResult is the full DONE payload from the extraction service.
type RawResult struct {
	PageCount int         `json:"page_count"`
	Lines     []RawLine   `json:"lines"`
	Cells     []RawCell   `json:"cells"`
	Figures   []RawFigure `json:"figures,omitempty"`
}

// ExtractionStatus is the poll state of a submitted extraction job.
type ExtractionStatus string

const (
	ExtractionPending ExtractionStatus = "pending"
	ExtractionDone    ExtractionStatus = "done"
	ExtractionFailed  ExtractionStatus = "failed"
)

// ExtractionPoll is one poll response for an extraction job handle.
type ExtractionPoll struct {
	Status ExtractionStatus `json:"status"`
	Result *RawResult       `json:"result,omitempty"`
	Detail string           `json:"detail,omitempty"`
}
