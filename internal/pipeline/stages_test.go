package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/document"
	"github.com/ternarybob/verso/internal/models"
	"github.com/ternarybob/verso/internal/services/extract"
	"github.com/ternarybob/verso/internal/services/prepare"
)

// -----------------------------------------------------------------------
// Fake collaborators
// -----------------------------------------------------------------------

type fakeBlobs struct {
	downloads int32
	uploads   int32
	uploaded  string
}

func (f *fakeBlobs) Download(_ context.Context, source, destPath string) error {
	atomic.AddInt32(&f.downloads, 1)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("%PDF-1.4 fixture"), 0644)
}

func (f *fakeBlobs) Upload(_ context.Context, localPath, dest string) error {
	atomic.AddInt32(&f.uploads, 1)
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.uploaded = string(data)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0644)
}

type fakePreparer struct {
	calls int32
}

func (f *fakePreparer) Prepare(_ context.Context, inputPath, _ string) (*prepare.Result, error) {
	atomic.AddInt32(&f.calls, 1)
	return &prepare.Result{
		PDFPath:   inputPath,
		PageCount: 2,
		Pages: []prepare.PageInfo{
			{Number: 1},
			{Number: 2, ImageHeavy: true},
		},
	}, nil
}

type fakeExtractor struct {
	submits  int32
	waits    int32
	waitErr  error
	waitErrs int // fail the first N waits
}

func (f *fakeExtractor) Submit(_ context.Context, _ string) (string, error) {
	atomic.AddInt32(&f.submits, 1)
	return "ext-1", nil
}

func (f *fakeExtractor) WaitForResult(_ context.Context, handle string) (*models.RawResult, error) {
	n := atomic.AddInt32(&f.waits, 1)
	if int(n) <= f.waitErrs {
		return nil, f.waitErr
	}
	return &models.RawResult{
		PageCount: 2,
		Lines: []models.RawLine{
			{Text: "Intro text", Geometry: &models.RawGeometry{Page: 1, Top: 0.1, Left: 0.1, Width: 0.5, Height: 0.02}},
		},
		Cells: []models.RawCell{
			{TableID: "t1", Text: "A", Geometry: &models.RawGeometry{Page: 1, Top: 0.30, Left: 0.10, Width: 0.10, Height: 0.05}},
			{TableID: "t1", Text: "B", Geometry: &models.RawGeometry{Page: 1, Top: 0.30, Left: 0.30, Width: 0.10, Height: 0.05}},
			{TableID: "t1", Text: "C", Geometry: &models.RawGeometry{Page: 1, Top: 0.40, Left: 0.10, Width: 0.10, Height: 0.05}},
			{TableID: "t1", Text: "D", Geometry: &models.RawGeometry{Page: 1, Top: 0.40, Left: 0.30, Width: 0.10, Height: 0.05}},
		},
	}, nil
}

type fakeAnnotator struct {
	calls int32
	set   *models.AnnotationSet
}

func (f *fakeAnnotator) Annotate(_ context.Context, _ string, _ []int, _ []models.RawFigure) (*models.AnnotationSet, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.set != nil {
		return f.set, nil
	}
	return &models.AnnotationSet{Items: []models.Annotation{
		{Page: 2, Summary: "Bar chart of Q1 sales"},
	}}, nil
}

type harness struct {
	blobs     *fakeBlobs
	preparer  *fakePreparer
	extractor *fakeExtractor
	annotator *fakeAnnotator
	runner    *Runner
	store     *memStore
	outDir    string
	wsRoot    string
}

func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()
	logger := common.GetLogger()
	h := &harness{
		blobs:     &fakeBlobs{},
		preparer:  &fakePreparer{},
		extractor: &fakeExtractor{},
		annotator: &fakeAnnotator{},
		store:     newMemStore(),
		outDir:    t.TempDir(),
		wsRoot:    t.TempDir(),
	}
	cfg := common.NewDefaultConfig()
	deps := Deps{
		Blobs:         h.blobs,
		Preparer:      h.preparer,
		Extractor:     h.extractor,
		Annotator:     h.annotator,
		Normalizer:    extract.NewNormalizer(cfg.Normalize, logger),
		Merger:        document.NewMerger(logger),
		Assembler:     document.NewAssembler(logger),
		OutputDir:     h.outDir,
		RawResultWait: 0, // tests never wait on the raw result file
		Logger:        logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	reg, err := NewRegistryWithStages(deps)
	require.NoError(t, err)
	h.runner = NewRunner(reg, h.store, h.wsRoot, logger)
	return h
}

// -----------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------

func TestPipeline_EndToEnd(t *testing.T) {
	h := newHarness(t)

	outcome := h.runner.Run(context.Background(), "job-e2e", "/docs/report.pdf")
	require.Equal(t, models.OutcomeSuccess, outcome.Status, "outcome: %v", outcome)

	state := h.store.saved(t, "job-e2e")
	assert.Equal(t, []string{
		StageDownload, StagePrepare, StageSubmit,
		StageAnnotate, StageExtract, StageAssemble, StageUpload,
	}, state.CompletedStages)

	result, err := os.ReadFile(filepath.Join(h.outDir, "job-e2e.md"))
	require.NoError(t, err)
	out := string(result)
	assert.Contains(t, out, "# report.pdf")
	assert.Contains(t, out, "--- Page 1 ---")
	assert.Contains(t, out, "Intro text")
	assert.Contains(t, out, "| C | D |")
	assert.Contains(t, out, "**Figure:** Bar chart of Q1 sales")

	assert.Equal(t, int32(1), atomic.LoadInt32(&h.blobs.downloads))
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.extractor.submits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.annotator.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.blobs.uploads))
}

func TestPipeline_RerunAfterSuccessIsNoop(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, models.OutcomeSuccess, h.runner.Run(context.Background(), "job-1", "/docs/a.pdf").Status)

	outcome := h.runner.Run(context.Background(), "job-1", "/docs/a.pdf")
	assert.Equal(t, models.OutcomeAlreadyComplete, outcome.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.blobs.downloads))
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.extractor.submits))
}

func TestPipeline_ResumeAfterExtractionOutage(t *testing.T) {
	h := newHarness(t)
	h.extractor.waitErr = &models.TransientServiceError{Service: "extraction", Err: errors.New("gateway timeout")}
	h.extractor.waitErrs = 1

	outcome := h.runner.Run(context.Background(), "job-1", "/docs/a.pdf")
	require.Equal(t, models.OutcomeFailed, outcome.Status)
	assert.Equal(t, StageExtract, outcome.FailedStage)

	// The forked annotate half finished and checkpointed before the
	// extract failure surfaced; the prefix includes it.
	state := h.store.saved(t, "job-1")
	assert.Equal(t, []string{StageDownload, StagePrepare, StageSubmit, StageAnnotate}, state.CompletedStages)

	// Resume by job id alone: the stored source still names the document.
	outcome = h.runner.Run(context.Background(), "job-1", "")
	require.Equal(t, models.OutcomeSuccess, outcome.Status, "outcome: %v", outcome)

	// Submission and annotation happened exactly once: the rerun found
	// the recorded handle and checkpoint instead of repeating the calls.
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.extractor.submits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.annotator.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.blobs.downloads))
	assert.Equal(t, int32(2), atomic.LoadInt32(&h.extractor.waits))

	result, err := os.ReadFile(filepath.Join(h.outDir, "job-1.md"))
	require.NoError(t, err)
	assert.Contains(t, string(result), "# a.pdf", "document title comes from the stored source")
}

func TestPipeline_SkippedAnnotationsOmitFigures(t *testing.T) {
	h := newHarness(t)
	h.annotator.set = &models.AnnotationSet{Skipped: true}

	outcome := h.runner.Run(context.Background(), "job-1", "/docs/a.pdf")
	require.Equal(t, models.OutcomeSuccess, outcome.Status)

	result, err := os.ReadFile(filepath.Join(h.outDir, "job-1.md"))
	require.NoError(t, err)
	assert.NotContains(t, string(result), "Figure")
	assert.Contains(t, string(result), "Intro text")
}

func TestPipeline_WorkspaceCleanupAfterUpload(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, models.OutcomeSuccess, h.runner.Run(context.Background(), "job-1", "/docs/a.pdf").Status)

	ws := filepath.Join(h.wsRoot, "job-1")
	_, err := os.Stat(filepath.Join(ws, rawResultFile))
	assert.True(t, os.IsNotExist(err), "raw result should be cleaned up")
	_, err = os.Stat(filepath.Join(ws, handleFile))
	assert.True(t, os.IsNotExist(err), "extraction handle should be cleaned up")
	_, err = os.Stat(filepath.Join(ws, resultFile))
	assert.NoError(t, err, "assembled document stays for upload reruns")
}

func TestPipeline_KeepFilesRetainsWorkspace(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.KeepFiles = true })
	require.Equal(t, models.OutcomeSuccess, h.runner.Run(context.Background(), "job-1", "/docs/a.pdf").Status)

	ws := filepath.Join(h.wsRoot, "job-1")
	_, err := os.Stat(filepath.Join(ws, rawResultFile))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(ws, handleFile))
	assert.NoError(t, err)
}

func TestPipeline_EmptySourceFails(t *testing.T) {
	h := newHarness(t)
	outcome := h.runner.Run(context.Background(), "job-1", "")
	require.Equal(t, models.OutcomeFailed, outcome.Status)
	assert.Equal(t, StageDownload, outcome.FailedStage)

	var malformed *models.MalformedInputError
	assert.ErrorAs(t, outcome.Err, &malformed)
}

func TestSourceExtension(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"/docs/report.pdf", ".pdf"},
		{"https://host/files/deck.PPTX?sig=abc", ".pptx"},
		{"https://host/files/nosuffix", ".pdf"},
		{"file:///tmp/sheet.xlsx", ".xlsx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sourceExtension(tt.source), tt.source)
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "report.pdf", displayName("https://host/docs/report.pdf?sig=1"))
	assert.Equal(t, "sheet.xlsx", displayName("/data/sheet.xlsx"))
}
