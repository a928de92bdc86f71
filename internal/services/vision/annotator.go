// -----------------------------------------------------------------------
// Annotator - Runs figure summarization as a bounded pool of concurrent
// provider calls, one annotation per figure or whole page
// -----------------------------------------------------------------------

package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder for JPEG page scans
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/models"
	"golang.org/x/time/rate"
)

// Annotator turns image-heavy pages into figure annotations. When the
// extraction service has reported figure regions, each region is cropped
// from its page image and summarized individually; otherwise the whole
// page image is summarized and the annotation carries no region.
type Annotator struct {
	provider      Provider
	cfg           common.VisionConfig
	minFigureArea float64
	limiter       *rate.Limiter
	logger        arbor.ILogger
}

// NewAnnotator creates an annotator over the given provider.
// minFigureArea filters out logo and icon sized figure regions.
func NewAnnotator(provider Provider, cfg common.VisionConfig, minFigureArea float64, logger arbor.ILogger) *Annotator {
	return &Annotator{
		provider:      provider,
		cfg:           cfg,
		minFigureArea: minFigureArea,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:        logger,
	}
}

// task is one pending provider call.
type task struct {
	page   int
	image  []byte
	media  string
	region *models.Region
}

// Annotate summarizes the image-heavy pages of the PDF. figures may be
// nil when the extraction result was not available in time; annotations
// then cover whole pages and carry no region. All provider calls complete
// (or are marked failed) before Annotate returns; this is the join
// barrier's local half.
func (a *Annotator) Annotate(ctx context.Context, pdfPath string, imageHeavyPages []int, figures []models.RawFigure) (*models.AnnotationSet, error) {
	if !a.provider.Enabled() {
		a.logger.Debug().Msg("Vision provider disabled, skipping annotation")
		return &models.AnnotationSet{Skipped: true}, nil
	}
	if len(imageHeavyPages) == 0 {
		return &models.AnnotationSet{}, nil
	}

	pageImages, err := extractPageImages(pdfPath, imageHeavyPages)
	if err != nil {
		return nil, fmt.Errorf("extract page images: %w", err)
	}

	tasks := a.buildTasks(imageHeavyPages, pageImages, figures)
	if len(tasks) == 0 {
		a.logger.Debug().Str("pdf", pdfPath).Msg("No page images to annotate")
		return &models.AnnotationSet{}, nil
	}

	results := a.runTasks(ctx, tasks)

	set := &models.AnnotationSet{Items: results}
	if allSkipped(results) {
		set = &models.AnnotationSet{Skipped: true}
	}
	a.logger.Info().
		Int("tasks", len(tasks)).
		Int("pages", len(imageHeavyPages)).
		Msg("Annotation pass complete")
	return set, nil
}

// buildTasks pairs page images with figure regions where known. Figures
// below the minimum area threshold (logos, icons) are ignored.
func (a *Annotator) buildTasks(pages []int, pageImages map[int][]byte, figures []models.RawFigure) []task {
	figuresByPage := make(map[int][]models.Region)
	for _, f := range figures {
		if f.Geometry == nil {
			continue
		}
		region := f.Geometry.Region()
		if region.Area() < a.minFigureArea {
			continue
		}
		figuresByPage[region.Page] = append(figuresByPage[region.Page], region)
	}

	sorted := append([]int(nil), pages...)
	sort.Ints(sorted)

	var tasks []task
	for _, p := range sorted {
		img, ok := pageImages[p]
		if !ok {
			a.logger.Warn().Int("page", p).Msg("Image-heavy page has no extractable image")
			continue
		}
		regions := figuresByPage[p]
		if len(regions) == 0 {
			tasks = append(tasks, task{page: p, image: img, media: "image/png"})
			continue
		}
		sort.SliceStable(regions, func(i, j int) bool {
			if regions[i].Top != regions[j].Top {
				return regions[i].Top < regions[j].Top
			}
			return regions[i].Left < regions[j].Left
		})
		for _, r := range regions {
			region := r
			cropped, err := cropImage(img, region)
			if err != nil {
				a.logger.Warn().Int("page", p).Err(err).Msg("Figure crop failed, using whole page")
				tasks = append(tasks, task{page: p, image: img, media: "image/png"})
				break
			}
			tasks = append(tasks, task{page: p, image: cropped, media: "image/png", region: &region})
		}
	}
	return tasks
}

// runTasks executes provider calls as a bounded pool. Results keep task
// order so annotation output is deterministic regardless of completion
// order.
func (a *Annotator) runTasks(ctx context.Context, tasks []task) []models.Annotation {
	results := make([]models.Annotation, len(tasks))
	sem := make(chan struct{}, a.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = a.annotateOne(ctx, t)
		}(i, t)
	}
	wg.Wait()
	return results
}

// annotateOne runs one provider call with rate limiting and retries.
// Transient failures retry; anything else, or retry exhaustion, yields a
// failed annotation that still satisfies the join barrier.
func (a *Annotator) annotateOne(ctx context.Context, t task) models.Annotation {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		result, err := a.provider.Summarize(ctx, Request{Image: t.image, MediaType: t.media})
		if err == nil {
			if result.Skipped {
				return models.Annotation{Page: t.page, Region: t.region, Skipped: true}
			}
			return models.Annotation{
				Page:    t.page,
				Summary: result.Summary,
				Data:    result.Data,
				Region:  t.region,
			}
		}

		lastErr = err
		var transient *models.TransientServiceError
		if !errors.As(err, &transient) {
			break
		}
		a.logger.Warn().
			Int("page", t.page).
			Int("attempt", attempt+1).
			Err(err).
			Msg("Annotation call failed, retrying")
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = a.cfg.MaxRetries
		case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
		}
	}

	return models.Annotation{Page: t.page, Region: t.region, Failed: true, Detail: lastErr.Error()}
}

func allSkipped(items []models.Annotation) bool {
	for _, a := range items {
		if !a.Skipped {
			return false
		}
	}
	return len(items) > 0
}

// -----------------------------------------------------------------------
// Page image handling
// -----------------------------------------------------------------------

var imageFilePage = regexp.MustCompile(`_(\d+)_[^_]*\.(png|jpe?g|tiff?)$`)

// extractPageImages pulls the embedded image of each requested page out of
// the PDF. Image-heavy pages are typically full-page scans, so the first
// embedded image per page stands in for the page render.
func extractPageImages(pdfPath string, pages []int) (map[int][]byte, error) {
	outDir, err := os.MkdirTemp("", "verso-figures-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(outDir)

	selection := make([]string, len(pages))
	for i, p := range pages {
		selection[i] = strconv.Itoa(p)
	}

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractImagesFile(pdfPath, outDir, selection, conf); err != nil {
		return nil, err
	}

	images := make(map[int][]byte)
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		m := imageFilePage.FindStringSubmatch(strings.ToLower(name))
		if m == nil {
			continue
		}
		page, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, seen := images[page]; seen {
			continue
		}
		data, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			continue
		}
		if normalized, err := toPNG(data); err == nil {
			images[page] = normalized
		}
	}
	return images, nil
}

// toPNG re-encodes any decodable image as PNG so providers see one format.
func toPNG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// cropImage cuts the region's fractional bounding box out of a page image.
func cropImage(data []byte, region models.Region) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	crop := image.Rect(
		bounds.Min.X+int(region.Left*w),
		bounds.Min.Y+int(region.Top*h),
		bounds.Min.X+int(region.Right*w),
		bounds.Min.Y+int(region.Bottom*h),
	)
	if crop.Dx() <= 0 || crop.Dy() <= 0 {
		return nil, fmt.Errorf("degenerate crop region")
	}

	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	si, ok := img.(subImager)
	if !ok {
		return nil, fmt.Errorf("image type %T does not support cropping", img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, si.SubImage(crop)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
