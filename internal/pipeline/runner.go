// -----------------------------------------------------------------------
// Runner - Executes the stage registry against durable job state
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/models"
)

// StateStore is the durable checkpoint store the runner writes through.
type StateStore interface {
	Load(ctx context.Context, jobID string) (*models.JobState, error)
	Save(ctx context.Context, jobID string, state *models.JobState) error
}

// Runner drives a job through the registry, resuming from the first
// incomplete stage. One durable checkpoint per stage: metadata write
// precedes the completion-flag write, so a crash between the two still
// shows the stage incomplete and safe to retry. The runner has no retry
// policy of its own; that belongs to the queue consumer.
type Runner struct {
	registry      *Registry
	store         StateStore
	workspaceRoot string
	logger        arbor.ILogger
}

// NewRunner creates a Runner over the given registry and state store.
func NewRunner(registry *Registry, store StateStore, workspaceRoot string, logger arbor.ILogger) *Runner {
	return &Runner{
		registry:      registry,
		store:         store,
		workspaceRoot: workspaceRoot,
		logger:        logger,
	}
}

// Run executes the pipeline for one job id. Rerunning with the same id is
// the resume operation: completed stages are skipped without re-invoking
// their side effects.
func (r *Runner) Run(ctx context.Context, jobID, source string) models.Outcome {
	if jobID == "" {
		return models.Outcome{Status: models.OutcomeFailed, Err: fmt.Errorf("job id is required")}
	}

	state, err := r.store.Load(ctx, jobID)
	if err != nil {
		if err != models.ErrStateNotFound {
			return models.Outcome{Status: models.OutcomeFailed, Err: fmt.Errorf("load job state: %w", err)}
		}
		state = models.NewJobState(jobID, source)
		// Persist the record before any stage runs so a failure at any
		// point leaves enough durable state to resume by job id alone.
		if err := r.store.Save(ctx, jobID, state); err != nil {
			return models.Outcome{Status: models.OutcomeFailed, Err: fmt.Errorf("create job record: %w", err)}
		}
	}
	// A resume may supply the job id alone; the source came with the
	// first run and lives in the state record.
	if source == "" {
		source = state.Source
	}

	workspace := filepath.Join(r.workspaceRoot, jobID)
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return models.Outcome{Status: models.OutcomeFailed, Err: fmt.Errorf("create workspace: %w", err)}
	}

	stages := r.registry.Stages()
	start := 0
	for start < len(stages) && state.StageComplete(stages[start].Name) {
		start++
	}
	if start == len(stages) {
		r.logger.Info().Str("job_id", jobID).Msg("Job already complete")
		return models.Outcome{Status: models.OutcomeAlreadyComplete}
	}
	if start > 0 {
		r.logger.Info().
			Str("job_id", jobID).
			Str("resume_stage", stages[start].Name).
			Int("completed", start).
			Msg("Resuming job from checkpoint")
	}

	for i := start; i < len(stages); i++ {
		st := stages[i]
		if state.StageComplete(st.Name) {
			continue
		}

		if st.ConcurrentWithNext && i+1 < len(stages) && !state.StageComplete(stages[i+1].Name) {
			next := stages[i+1]
			if outcome, ok := r.runPair(ctx, jobID, source, workspace, state, st, next); !ok {
				return outcome
			}
			i++
			continue
		}

		delta, err := r.runStage(ctx, jobID, source, workspace, state, st)
		if err != nil {
			return r.failed(jobID, st.Name, err)
		}
		if err := r.checkpoint(ctx, jobID, state, st.Name, delta); err != nil {
			return r.failed(jobID, st.Name, err)
		}
	}

	r.logger.Info().Str("job_id", jobID).Msg("Job complete")
	return models.Outcome{Status: models.OutcomeSuccess}
}

// runPair executes a concurrent-with-next stage alongside its successor.
// The forked stage's completion is the join barrier: both results are in
// hand before either checkpoint is written, and checkpoints land in
// registry order so completed_stages remains a prefix of the stage order.
func (r *Runner) runPair(ctx context.Context, jobID, source, workspace string, state *models.JobState, st, next Stage) (models.Outcome, bool) {
	type result struct {
		delta *models.StageDelta
		err   error
	}
	forked := make(chan result, 1)

	go func() {
		delta, err := r.runStage(ctx, jobID, source, workspace, state, st)
		forked <- result{delta, err}
	}()

	nextDelta, nextErr := r.runStage(ctx, jobID, source, workspace, state, next)
	res := <-forked // join barrier

	if res.err != nil {
		return r.failed(jobID, st.Name, res.err), false
	}
	if err := r.checkpoint(ctx, jobID, state, st.Name, res.delta); err != nil {
		return r.failed(jobID, st.Name, err), false
	}
	if nextErr != nil {
		return r.failed(jobID, next.Name, nextErr), false
	}
	if err := r.checkpoint(ctx, jobID, state, next.Name, nextDelta); err != nil {
		return r.failed(jobID, next.Name, err), false
	}
	return models.Outcome{}, true
}

func (r *Runner) runStage(ctx context.Context, jobID, source, workspace string, state *models.JobState, st Stage) (*models.StageDelta, error) {
	started := time.Now()
	r.logger.Info().Str("job_id", jobID).Str("stage", st.Name).Msg("Stage starting")

	job := &JobContext{
		JobID:     jobID,
		Source:    source,
		Workspace: workspace,
		State:     state.Clone(),
	}
	delta, err := st.Run(ctx, job)
	if err != nil {
		r.logger.Warn().
			Str("job_id", jobID).
			Str("stage", st.Name).
			Dur("duration", time.Since(started)).
			Err(err).
			Msg("Stage failed")
		return nil, err
	}

	r.logger.Info().
		Str("job_id", jobID).
		Str("stage", st.Name).
		Dur("duration", time.Since(started)).
		Msg("Stage complete")
	return delta, nil
}

// checkpoint merges a stage's delta into state and durably persists it,
// then writes the completion flag as a second durable write. Either save
// failing surfaces as a CheckpointIOError and leaves the stage incomplete.
func (r *Runner) checkpoint(ctx context.Context, jobID string, state *models.JobState, stageName string, delta *models.StageDelta) error {
	if delta != nil && delta.Metadata != nil {
		if err := state.SetMetadata(stageName, delta.Metadata); err != nil {
			return &models.CheckpointIOError{JobID: jobID, Stage: stageName, Err: err}
		}
		if err := r.store.Save(ctx, jobID, state); err != nil {
			return &models.CheckpointIOError{JobID: jobID, Stage: stageName, Err: err}
		}
	}

	state.MarkComplete(stageName)
	if err := r.store.Save(ctx, jobID, state); err != nil {
		// Roll back the in-memory flag; durably the stage never completed.
		state.CompletedStages = state.CompletedStages[:len(state.CompletedStages)-1]
		return &models.CheckpointIOError{JobID: jobID, Stage: stageName, Err: err}
	}
	return nil
}

func (r *Runner) failed(jobID, stage string, err error) models.Outcome {
	r.logger.Error().Str("job_id", jobID).Str("stage", stage).Err(err).Msg("Pipeline failed")
	return models.Outcome{Status: models.OutcomeFailed, FailedStage: stage, Err: err}
}
