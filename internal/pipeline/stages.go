// -----------------------------------------------------------------------
// Pipeline Stages - The seven stages of a document conversion job
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/document"
	"github.com/ternarybob/verso/internal/models"
	"github.com/ternarybob/verso/internal/services/extract"
	"github.com/ternarybob/verso/internal/services/prepare"
)

// Stage names in registry order. The annotate stage is flagged concurrent
// with extract: figure summarization overlaps the extraction poll loop and
// both join before assemble.
const (
	StageDownload = "download"
	StagePrepare  = "prepare"
	StageSubmit   = "submit"
	StageAnnotate = "annotate"
	StageExtract  = "extract"
	StageAssemble = "assemble"
	StageUpload   = "upload"
)

// Workspace artifact names. Stage idempotence preconditions check for
// these files before repeating externally visible work.
const (
	handleFile      = "extraction.handle"
	rawResultFile   = "raw.json"
	annotationsFile = "annotations.json"
	resultFile      = "result.md"
)

// Blobstore moves bytes in and out of a job workspace.
type Blobstore interface {
	Download(ctx context.Context, source, destPath string) error
	Upload(ctx context.Context, localPath, dest string) error
}

// Preparer turns an arbitrary source into a validated, classified PDF.
type Preparer interface {
	Prepare(ctx context.Context, inputPath, workDir string) (*prepare.Result, error)
}

// Extractor is the table/text extraction collaborator.
type Extractor interface {
	Submit(ctx context.Context, pdfPath string) (string, error)
	WaitForResult(ctx context.Context, handle string) (*models.RawResult, error)
}

// Annotator is the figure summarization collaborator.
type Annotator interface {
	Annotate(ctx context.Context, pdfPath string, imageHeavyPages []int, figures []models.RawFigure) (*models.AnnotationSet, error)
}

// Deps carries every collaborator the stages need.
type Deps struct {
	Blobs         Blobstore
	Preparer      Preparer
	Extractor     Extractor
	Annotator     Annotator
	Normalizer    *extract.Normalizer
	Merger        *document.Merger
	Assembler     *document.Assembler
	OutputDir     string
	RawResultWait time.Duration
	KeepFiles     bool
	Logger        arbor.ILogger
}

// NewRegistryWithStages builds the full conversion pipeline.
func NewRegistryWithStages(deps Deps) (*Registry, error) {
	reg := NewRegistry()
	err := reg.Register(
		Stage{Name: StageDownload, Run: downloadStage(deps)},
		Stage{Name: StagePrepare, Run: prepareStage(deps)},
		Stage{Name: StageSubmit, Run: submitStage(deps)},
		Stage{Name: StageAnnotate, Run: annotateStage(deps), ConcurrentWithNext: true},
		Stage{Name: StageExtract, Run: extractStage(deps)},
		Stage{Name: StageAssemble, Run: assembleStage(deps)},
		Stage{Name: StageUpload, Run: uploadStage(deps)},
	)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// -----------------------------------------------------------------------
// Stage metadata shapes
// -----------------------------------------------------------------------

type downloadMeta struct {
	InputPath string `json:"input_path"`
}

type submitMeta struct {
	Handle string `json:"handle"`
}

type extractMeta struct {
	RawPath   string `json:"raw_path"`
	PageCount int    `json:"page_count"`
	Partial   bool   `json:"partial,omitempty"`
}

type annotateMeta struct {
	AnnotationsPath string `json:"annotations_path"`
	Count           int    `json:"count"`
	Skipped         bool   `json:"skipped,omitempty"`
}

type assembleMeta struct {
	MarkdownPath string `json:"markdown_path"`
	Paragraphs   int    `json:"paragraphs"`
	Tables       int    `json:"tables"`
	Figures      int    `json:"figures"`
}

type uploadMeta struct {
	Destination string `json:"destination"`
}

// -----------------------------------------------------------------------
// Stages
// -----------------------------------------------------------------------

func downloadStage(deps Deps) StageFunc {
	return func(ctx context.Context, job *JobContext) (*models.StageDelta, error) {
		if job.Source == "" {
			return nil, &models.MalformedInputError{Path: "", Reason: "no source locator"}
		}
		ext := sourceExtension(job.Source)
		dest := job.Path("input" + ext)

		// Rerun precondition: a previously downloaded input is reused.
		if _, err := os.Stat(dest); err == nil {
			deps.Logger.Debug().Str("path", dest).Msg("Input already downloaded")
			return &models.StageDelta{Metadata: downloadMeta{InputPath: dest}}, nil
		}

		if err := deps.Blobs.Download(ctx, job.Source, dest); err != nil {
			return nil, err
		}
		return &models.StageDelta{Metadata: downloadMeta{InputPath: dest}}, nil
	}
}

func prepareStage(deps Deps) StageFunc {
	return func(ctx context.Context, job *JobContext) (*models.StageDelta, error) {
		var dl downloadMeta
		if ok, err := job.Metadata(StageDownload, &dl); err != nil || !ok {
			return nil, fmt.Errorf("download stage left no input path: %w", err)
		}

		result, err := deps.Preparer.Prepare(ctx, dl.InputPath, job.Path("render"))
		if err != nil {
			return nil, err
		}
		return &models.StageDelta{Metadata: result}, nil
	}
}

func submitStage(deps Deps) StageFunc {
	return func(ctx context.Context, job *JobContext) (*models.StageDelta, error) {
		// Rerun precondition: a recorded handle means the extraction
		// service already accepted this document; never submit twice.
		handlePath := job.Path(handleFile)
		if data, err := os.ReadFile(handlePath); err == nil && len(data) > 0 {
			handle := strings.TrimSpace(string(data))
			deps.Logger.Debug().Str("handle", handle).Msg("Extraction already submitted")
			return &models.StageDelta{Metadata: submitMeta{Handle: handle}}, nil
		}

		var prep prepare.Result
		if ok, err := job.Metadata(StagePrepare, &prep); err != nil || !ok {
			return nil, fmt.Errorf("prepare stage left no PDF path: %w", err)
		}

		handle, err := deps.Extractor.Submit(ctx, prep.PDFPath)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(handlePath, []byte(handle), 0644); err != nil {
			return nil, fmt.Errorf("record extraction handle: %w", err)
		}
		return &models.StageDelta{Metadata: submitMeta{Handle: handle}}, nil
	}
}

func extractStage(deps Deps) StageFunc {
	return func(ctx context.Context, job *JobContext) (*models.StageDelta, error) {
		rawPath := job.Path(rawResultFile)

		// Rerun precondition: an existing raw result skips the poll loop.
		if raw, err := readRawResult(rawPath); err == nil {
			deps.Logger.Debug().Str("path", rawPath).Msg("Extraction result already on disk")
			return &models.StageDelta{Metadata: extractMeta{RawPath: rawPath, PageCount: raw.PageCount}}, nil
		}

		var sub submitMeta
		if ok, err := job.Metadata(StageSubmit, &sub); err != nil || !ok {
			return nil, fmt.Errorf("submit stage left no handle: %w", err)
		}

		raw, err := deps.Extractor.WaitForResult(ctx, sub.Handle)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode raw result: %w", err)
		}
		// Temp-then-rename so the concurrently waiting annotate stage
		// never reads a half-written file.
		tmp := rawPath + ".tmp"
		if err := os.WriteFile(tmp, data, 0644); err != nil {
			return nil, fmt.Errorf("write raw result: %w", err)
		}
		if err := os.Rename(tmp, rawPath); err != nil {
			return nil, fmt.Errorf("finalize raw result: %w", err)
		}

		return &models.StageDelta{Metadata: extractMeta{RawPath: rawPath, PageCount: raw.PageCount}}, nil
	}
}

func annotateStage(deps Deps) StageFunc {
	return func(ctx context.Context, job *JobContext) (*models.StageDelta, error) {
		annPath := job.Path(annotationsFile)

		// Rerun precondition: annotations already produced.
		if set, err := readAnnotations(annPath); err == nil {
			deps.Logger.Debug().Str("path", annPath).Msg("Annotations already on disk")
			return &models.StageDelta{Metadata: annotateMeta{AnnotationsPath: annPath, Count: len(set.Items), Skipped: set.Skipped}}, nil
		}

		var prep prepare.Result
		if ok, err := job.Metadata(StagePrepare, &prep); err != nil || !ok {
			return nil, fmt.Errorf("prepare stage left no page classification: %w", err)
		}

		var imageHeavy []int
		for _, p := range prep.Pages {
			if p.ImageHeavy {
				imageHeavy = append(imageHeavy, p.Number)
			}
		}

		// The extraction result may carry figure regions. Wait for it a
		// bounded time; running regionless on whole pages is the fallback,
		// not a failure.
		figures := waitForFigures(ctx, job.Path(rawResultFile), deps.RawResultWait, deps.Logger)

		set, err := deps.Annotator.Annotate(ctx, prep.PDFPath, imageHeavy, figures)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(set)
		if err != nil {
			return nil, fmt.Errorf("encode annotations: %w", err)
		}
		if err := os.WriteFile(annPath, data, 0644); err != nil {
			return nil, fmt.Errorf("write annotations: %w", err)
		}
		return &models.StageDelta{Metadata: annotateMeta{AnnotationsPath: annPath, Count: len(set.Items), Skipped: set.Skipped}}, nil
	}
}

func assembleStage(deps Deps) StageFunc {
	return func(ctx context.Context, job *JobContext) (*models.StageDelta, error) {
		var ext extractMeta
		if ok, err := job.Metadata(StageExtract, &ext); err != nil || !ok {
			return nil, fmt.Errorf("extract stage left no raw result: %w", err)
		}
		raw, err := readRawResult(ext.RawPath)
		if err != nil {
			return nil, fmt.Errorf("read raw result: %w", err)
		}

		doc, err := deps.Normalizer.Normalize(raw)
		if err != nil {
			// Structurally incomplete results degrade, not fail.
			deps.Logger.Warn().Str("job_id", job.JobID).Err(err).Msg("Extraction result incomplete, continuing")
		}
		doc.SourceName = displayName(job.Source)

		var ann annotateMeta
		if ok, err := job.Metadata(StageAnnotate, &ann); err == nil && ok {
			if set, err := readAnnotations(ann.AnnotationsPath); err == nil {
				deps.Merger.Merge(doc, set)
			}
		}

		markdown := deps.Assembler.Assemble(doc)
		resultPath := job.Path(resultFile)
		if err := os.WriteFile(resultPath, []byte(markdown), 0644); err != nil {
			return nil, fmt.Errorf("write assembled document: %w", err)
		}

		meta := assembleMeta{MarkdownPath: resultPath}
		if report, err := document.Inspect(markdown); err == nil {
			meta.Paragraphs = report.Paragraphs
			meta.Tables = report.Tables
			meta.Figures = report.Figures
			if report.Paragraphs == 0 && report.Tables == 0 && report.Figures == 0 {
				deps.Logger.Warn().Str("job_id", job.JobID).Msg("Assembled document has no content blocks")
			}
		}
		return &models.StageDelta{Metadata: meta}, nil
	}
}

func uploadStage(deps Deps) StageFunc {
	return func(ctx context.Context, job *JobContext) (*models.StageDelta, error) {
		var asm assembleMeta
		if ok, err := job.Metadata(StageAssemble, &asm); err != nil || !ok {
			return nil, fmt.Errorf("assemble stage left no document: %w", err)
		}

		dest := filepath.Join(deps.OutputDir, job.JobID+".md")
		if err := deps.Blobs.Upload(ctx, asm.MarkdownPath, dest); err != nil {
			return nil, err
		}

		if !deps.KeepFiles {
			// The assembled document stays so a rerun of this stage can
			// still upload; everything feeding it is no longer needed.
			cleanupIntermediates(job, deps.Logger)
		}
		return &models.StageDelta{Metadata: uploadMeta{Destination: dest}}, nil
	}
}

// cleanupIntermediates removes workspace artifacts the finished job no
// longer needs. Failures are logged, not fatal; the janitor removes
// whatever lingers.
func cleanupIntermediates(job *JobContext, logger arbor.ILogger) {
	entries, err := os.ReadDir(job.Workspace)
	if err != nil {
		logger.Warn().Str("job_id", job.JobID).Err(err).Msg("Workspace cleanup skipped")
		return
	}
	for _, entry := range entries {
		if entry.Name() == resultFile {
			continue
		}
		if err := os.RemoveAll(job.Path(entry.Name())); err != nil {
			logger.Warn().Str("job_id", job.JobID).Str("name", entry.Name()).Err(err).Msg("Failed to remove workspace artifact")
		}
	}
}

// -----------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------

// waitForFigures polls for the extraction raw result so annotations can
// carry figure regions. Returns nil when the wait elapses first.
func waitForFigures(ctx context.Context, rawPath string, wait time.Duration, logger arbor.ILogger) []models.RawFigure {
	deadline := time.Now().Add(wait)
	for {
		if raw, err := readRawResult(rawPath); err == nil {
			return raw.Figures
		}
		if time.Now().After(deadline) {
			logger.Debug().Str("path", rawPath).Msg("Extraction result not ready, annotating whole pages")
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func readRawResult(path string) (*models.RawResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw models.RawResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

func readAnnotations(path string) (*models.AnnotationSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var set models.AnnotationSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// sourceExtension pulls the file extension out of a path or URL source.
func sourceExtension(source string) string {
	trimmed := source
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	ext := strings.ToLower(filepath.Ext(trimmed))
	if ext == "" || len(ext) > 6 {
		return ".pdf"
	}
	return ext
}

// displayName is the human-readable source name used as document title.
func displayName(source string) string {
	trimmed := source
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return filepath.Base(strings.TrimSuffix(trimmed, "/"))
}
