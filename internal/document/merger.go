// -----------------------------------------------------------------------
// Figure Annotation Merger - Places annotation blocks among the page's
// text and table blocks
// -----------------------------------------------------------------------

package document

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/models"
)

// Merger inserts figure annotations into the normalized document. An
// annotation with a known region takes its spatial position among the
// existing blocks; one without a region is appended after all positioned
// content of its page, in production order. A skipped set is a no-op and
// the document stays exactly as the normalizer built it.
type Merger struct {
	logger arbor.ILogger
}

// NewMerger creates a merger.
func NewMerger(logger arbor.ILogger) *Merger {
	return &Merger{logger: logger}
}

// Merge adds the usable annotations to doc in place.
func (m *Merger) Merge(doc *models.Document, set *models.AnnotationSet) {
	if set == nil {
		return
	}
	usable := set.Usable()
	if len(usable) == 0 {
		if set.Skipped {
			m.logger.Debug().Msg("Annotation set skipped, document unchanged")
		}
		return
	}

	merged := 0
	for _, a := range usable {
		if a.Page < 1 {
			m.logger.Warn().Int("page", a.Page).Msg("Annotation has no valid page, dropped")
			continue
		}
		block := models.Block{
			Kind: models.BlockFigure,
			Text: a.Summary,
			Data: a.Data,
		}
		if a.Region != nil {
			block.Region = *a.Region
			block.HasRegion = true
		}
		page := doc.PageByNumber(a.Page)
		page.Blocks = append(page.Blocks, block)
		if a.Page > doc.PageCount {
			doc.PageCount = a.Page
		}
		merged++
	}

	m.logger.Debug().Int("annotations", merged).Msg("Figure annotations merged")
}
