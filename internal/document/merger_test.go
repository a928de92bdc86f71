package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/models"
)

func textDocument() *models.Document {
	return &models.Document{
		PageCount: 1,
		Pages: []models.Page{{
			Number: 1,
			Blocks: []models.Block{
				paragraph(region(1, 0.1, 0.1, 0.15, 0.9), "Opening paragraph"),
				paragraph(region(1, 0.7, 0.1, 0.75, 0.9), "Closing paragraph"),
			},
		}},
	}
}

func TestMerge_PositionedAnnotationLandsBetweenParagraphs(t *testing.T) {
	doc := textDocument()
	r := region(1, 0.4, 0.2, 0.6, 0.8)
	set := &models.AnnotationSet{Items: []models.Annotation{
		{Page: 1, Summary: "Flow diagram", Region: &r},
	}}

	NewMerger(common.GetLogger()).Merge(doc, set)
	out := NewAssembler(common.GetLogger()).Assemble(doc)

	opening := strings.Index(out, "Opening paragraph")
	figure := strings.Index(out, "Flow diagram")
	closing := strings.Index(out, "Closing paragraph")
	require.NotEqual(t, -1, figure)
	assert.Less(t, opening, figure)
	assert.Less(t, figure, closing)
}

func TestMerge_RegionlessAnnotationAppendsToPage(t *testing.T) {
	doc := textDocument()
	set := &models.AnnotationSet{Items: []models.Annotation{
		{Page: 1, Summary: "Whole page scan summary"},
	}}

	NewMerger(common.GetLogger()).Merge(doc, set)
	out := NewAssembler(common.GetLogger()).Assemble(doc)
	assert.Less(t, strings.Index(out, "Closing paragraph"), strings.Index(out, "Whole page scan summary"))
}

// A skipped annotation service and a disabled one must produce identical
// documents, with no empty figure sections.
func TestMerge_SkippedSetIdenticalToDisabled(t *testing.T) {
	assembler := NewAssembler(common.GetLogger())
	merger := NewMerger(common.GetLogger())

	withSkipped := textDocument()
	merger.Merge(withSkipped, &models.AnnotationSet{Skipped: true})

	withNothing := textDocument()
	merger.Merge(withNothing, nil)

	a := assembler.Assemble(withSkipped)
	b := assembler.Assemble(withNothing)
	assert.Equal(t, a, b)
	assert.NotContains(t, a, "Figure")
}

func TestMerge_FailedAndEmptyAnnotationsDropped(t *testing.T) {
	doc := textDocument()
	set := &models.AnnotationSet{Items: []models.Annotation{
		{Page: 1, Failed: true, Detail: "provider exploded"},
		{Page: 1, Skipped: true},
		{Page: 1, Summary: ""},
	}}

	NewMerger(common.GetLogger()).Merge(doc, set)
	assert.Len(t, doc.PageByNumber(1).Blocks, 2, "only the original paragraphs remain")
}

func TestMerge_AnnotationOnNewPageExtendsDocument(t *testing.T) {
	doc := textDocument()
	set := &models.AnnotationSet{Items: []models.Annotation{
		{Page: 3, Summary: "Appendix chart"},
	}}

	NewMerger(common.GetLogger()).Merge(doc, set)
	assert.Equal(t, 3, doc.PageCount)
	assert.Len(t, doc.PageByNumber(3).Blocks, 1)
}
