// -----------------------------------------------------------------------
// Janitor - Scheduled pruning of abandoned job state and workspaces
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/models"
)

// StalePruner lists and removes old job state; the badger state storage
// satisfies it.
type StalePruner interface {
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]*models.JobState, error)
	Delete(ctx context.Context, jobID string) error
}

// Janitor removes job state and workspace directories untouched for
// longer than the retention period. Abandoned jobs stay resumable until
// then; pruning is opt-in because forensic state is the default.
type Janitor struct {
	store         StalePruner
	workspaceRoot string
	retention     time.Duration
	cron          *cron.Cron
	logger        arbor.ILogger
}

// NewJanitor creates a janitor with the given cron schedule.
func NewJanitor(store StalePruner, workspaceRoot string, retention time.Duration, schedule string, logger arbor.ILogger) (*Janitor, error) {
	j := &Janitor{
		store:         store,
		workspaceRoot: workspaceRoot,
		retention:     retention,
		cron:          cron.New(),
		logger:        logger,
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep(context.Background()) }); err != nil {
		return nil, err
	}
	return j, nil
}

// Start begins scheduled sweeps.
func (j *Janitor) Start() {
	j.logger.Info().Dur("retention", j.retention).Msg("Starting janitor")
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// Sweep prunes everything past retention once. Also callable directly
// for tests and manual cleanup.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.retention)
	stale, err := j.store.ListOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Warn().Err(err).Msg("Janitor sweep failed to list stale jobs")
		return
	}

	pruned := 0
	for _, state := range stale {
		if err := j.store.Delete(ctx, state.JobID); err != nil {
			j.logger.Warn().Str("job_id", state.JobID).Err(err).Msg("Failed to delete stale job state")
			continue
		}
		workspace := filepath.Join(j.workspaceRoot, state.JobID)
		if err := os.RemoveAll(workspace); err != nil {
			j.logger.Warn().Str("job_id", state.JobID).Err(err).Msg("Failed to remove stale workspace")
		}
		pruned++
	}

	if pruned > 0 {
		j.logger.Info().Int("pruned", pruned).Str("cutoff", cutoff.Format(time.RFC3339)).Msg("Janitor sweep complete")
	}
}
