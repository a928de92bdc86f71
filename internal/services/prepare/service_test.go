package prepare

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/models"
)

// writeFixturePDF builds a small text PDF for tests.
func writeFixturePDF(t *testing.T, path string, pages int) {
	t.Helper()
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 12)
	for i := 0; i < pages; i++ {
		pdf.AddPage()
		pdf.Cell(40, 10, "Quarterly revenue summary")
		pdf.Ln(12)
		pdf.Cell(40, 10, "Figures are unaudited.")
	}
	require.NoError(t, pdf.OutputFileAndClose(path))
}

// fakeRenderer copies a pre-built PDF instead of shelling out.
type fakeRenderer struct {
	pdfPath string
	err     error
	calls   int
}

func (f *fakeRenderer) RenderPDF(_ context.Context, inputPath, outDir string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	data, err := os.ReadFile(f.pdfPath)
	if err != nil {
		return "", err
	}
	base := filepath.Base(inputPath)
	out := filepath.Join(outDir, base[:len(base)-len(filepath.Ext(base))]+".pdf")
	if err := os.WriteFile(out, data, 0644); err != nil {
		return "", err
	}
	return out, nil
}

func TestPrepare_PDFPassthrough(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "report.pdf")
	writeFixturePDF(t, src, 2)

	renderer := &fakeRenderer{}
	svc := NewService(renderer, common.GetLogger())

	result, err := svc.Prepare(context.Background(), src, filepath.Join(dir, "work"))
	require.NoError(t, err)
	assert.Equal(t, src, result.PDFPath)
	assert.Equal(t, 2, result.PageCount)
	assert.False(t, result.Converted)
	assert.Len(t, result.Pages, 2)
	assert.Equal(t, 0, renderer.calls, "PDF sources must not be rendered")
}

func TestPrepare_RendersOfficeDocument(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.pdf")
	writeFixturePDF(t, fixture, 1)

	src := filepath.Join(dir, "report.docx")
	require.NoError(t, os.WriteFile(src, []byte("not really a docx"), 0644))

	renderer := &fakeRenderer{pdfPath: fixture}
	svc := NewService(renderer, common.GetLogger())

	result, err := svc.Prepare(context.Background(), src, filepath.Join(dir, "work"))
	require.NoError(t, err)
	assert.True(t, result.Converted)
	assert.Equal(t, 1, result.PageCount)
	assert.Equal(t, 1, renderer.calls)
	assert.Equal(t, filepath.Join(dir, "work", "report.pdf"), result.PDFPath)
}

func TestPrepare_RendererFailureIsMalformedInput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "report.docx")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))

	renderer := &fakeRenderer{err: errors.New("soffice crashed")}
	svc := NewService(renderer, common.GetLogger())

	_, err := svc.Prepare(context.Background(), src, filepath.Join(dir, "work"))
	var malformed *models.MalformedInputError
	require.ErrorAs(t, err, &malformed)
}

func TestPrepare_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "archive.zip")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))

	svc := NewService(&fakeRenderer{}, common.GetLogger())
	_, err := svc.Prepare(context.Background(), src, dir)
	var malformed *models.MalformedInputError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestPrepare_CorruptPDF(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4 garbage"), 0644))

	svc := NewService(&fakeRenderer{}, common.GetLogger())
	_, err := svc.Prepare(context.Background(), src, dir)
	var malformed *models.MalformedInputError
	require.ErrorAs(t, err, &malformed)
}

func TestCountTextShowOperators(t *testing.T) {
	content := "BT /F1 12 Tf (Hello) Tj ET BT [(World)] TJ ET"
	assert.Equal(t, 2, countTextShowOperators(content))
	assert.Equal(t, 0, countTextShowOperators("q 1 0 0 1 0 0 cm /Im1 Do Q"))
}
