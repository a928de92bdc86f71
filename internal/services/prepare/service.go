// -----------------------------------------------------------------------
// Prepare Service - Converts sources to PDF and inspects page structure
// Uses pdfcpu for Go-native PDF processing
// -----------------------------------------------------------------------

package prepare

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/models"
)

// Renderer converts an office document to PDF. The production
// implementation shells out to an external office suite; tests substitute
// a fake.
type Renderer interface {
	RenderPDF(ctx context.Context, inputPath, outDir string) (string, error)
}

// PageInfo describes one page of the prepared PDF.
type PageInfo struct {
	Number     int  `json:"number"`
	ImageHeavy bool `json:"image_heavy"` // Few or no text operators; candidate for whole-page annotation
}

// Result is what preparation learned about the document.
type Result struct {
	PDFPath   string     `json:"pdf_path"`
	PageCount int        `json:"page_count"`
	Converted bool       `json:"converted"` // False when the source was already a PDF
	Pages     []PageInfo `json:"pages"`
}

// Service turns an arbitrary source document into a validated PDF ready
// for extraction.
type Service struct {
	renderer Renderer
	logger   arbor.ILogger
}

// NewService creates a prepare service around the given renderer.
func NewService(renderer Renderer, logger arbor.ILogger) *Service {
	return &Service{renderer: renderer, logger: logger}
}

// renderableExtensions are the office formats handed to the renderer.
// PDFs pass through untouched.
var renderableExtensions = map[string]bool{
	".doc":  true,
	".docx": true,
	".xls":  true,
	".xlsx": true,
	".ppt":  true,
	".pptx": true,
	".odt":  true,
	".ods":  true,
	".odp":  true,
	".rtf":  true,
	".txt":  true,
}

// Prepare converts inputPath to PDF if needed, validates the result and
// classifies its pages. workDir receives the rendered PDF; when the input
// is already a PDF it is used in place.
func (s *Service) Prepare(ctx context.Context, inputPath, workDir string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(inputPath))

	var pdfPath string
	var converted bool
	switch {
	case ext == ".pdf":
		pdfPath = inputPath
	case renderableExtensions[ext]:
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return nil, fmt.Errorf("create render directory: %w", err)
		}
		rendered, err := s.renderer.RenderPDF(ctx, inputPath, workDir)
		if err != nil {
			return nil, &models.MalformedInputError{Path: inputPath, Reason: fmt.Sprintf("render to PDF failed: %v", err)}
		}
		pdfPath = rendered
		converted = true
		s.logger.Debug().Str("input", inputPath).Str("pdf", rendered).Msg("Rendered source to PDF")
	default:
		return nil, &models.MalformedInputError{Path: inputPath, Reason: fmt.Sprintf("unsupported source type %q", ext)}
	}

	pdfCtx, err := api.ReadContextFile(pdfPath)
	if err != nil {
		return nil, &models.MalformedInputError{Path: pdfPath, Reason: fmt.Sprintf("unreadable PDF: %v", err)}
	}
	if pdfCtx.PageCount == 0 {
		return nil, &models.MalformedInputError{Path: pdfPath, Reason: "PDF has no pages"}
	}

	pages := s.classifyPages(pdfPath, pdfCtx.PageCount)

	return &Result{
		PDFPath:   pdfPath,
		PageCount: pdfCtx.PageCount,
		Converted: converted,
		Pages:     pages,
	}, nil
}

// classifyPages marks pages with little or no text content as image-heavy.
// Classification failures degrade to treating every page as text; the
// extraction service sees the same PDF either way.
func (s *Service) classifyPages(pdfPath string, pageCount int) []PageInfo {
	pages := make([]PageInfo, pageCount)
	for i := range pages {
		pages[i] = PageInfo{Number: i + 1}
	}

	outDir, err := os.MkdirTemp("", "verso-classify-")
	if err != nil {
		s.logger.Warn().Err(err).Msg("Page classification skipped")
		return pages
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(pdfPath, outDir, nil, conf); err != nil {
		s.logger.Warn().Err(err).Msg("Content extraction failed, treating all pages as text")
		return pages
	}

	files, _ := os.ReadDir(outDir)
	textOps := make(map[int]int)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err != nil {
			if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err != nil {
				continue
			}
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		textOps[pageNum] = countTextShowOperators(string(content))
	}

	for i := range pages {
		if textOps[pages[i].Number] < minTextOperators {
			pages[i].ImageHeavy = true
		}
	}
	return pages
}

// minTextOperators is the threshold below which a page is considered
// image-heavy. Scanned pages typically show zero; real text pages show
// dozens.
const minTextOperators = 3

// countTextShowOperators counts Tj and TJ operators in a page content
// stream.
func countTextShowOperators(content string) int {
	count := 0
	fields := strings.Fields(content)
	for _, f := range fields {
		if f == "Tj" || f == "TJ" || f == "'" || f == "\"" {
			count++
		}
	}
	return count
}
