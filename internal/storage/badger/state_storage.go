// -----------------------------------------------------------------------
// State Storage - Durable per-job checkpoint records
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// StateStorage persists JobState records. A badgerhold Upsert runs inside
// one Badger transaction, so a reader never observes a partially written
// state: the write is all-or-nothing.
type StateStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewStateStorage creates a new StateStorage instance
func NewStateStorage(db *BadgerDB, logger arbor.ILogger) *StateStorage {
	return &StateStorage{
		db:     db,
		logger: logger,
	}
}

// Load returns the state for a job id, or models.ErrStateNotFound.
func (s *StateStorage) Load(ctx context.Context, jobID string) (*models.JobState, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}
	var state models.JobState
	if err := s.db.Store().Get(jobID, &state); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to load job state: %w", err)
	}
	return &state, nil
}

// Save durably persists the state record. A failed save means the stage
// being checkpointed is not complete; callers must surface the error
// rather than continue.
func (s *StateStorage) Save(ctx context.Context, jobID string, state *models.JobState) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if state == nil {
		return fmt.Errorf("state is required")
	}
	state.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Upsert(jobID, state); err != nil {
		return fmt.Errorf("failed to save job state: %w", err)
	}
	return nil
}

// Delete removes a job's state record. Used by the janitor; jobs are never
// deleted automatically by the runner.
func (s *StateStorage) Delete(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.JobState{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete job state: %w", err)
	}
	return nil
}

// ListOlderThan returns states whose last update precedes the cutoff.
func (s *StateStorage) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*models.JobState, error) {
	var states []models.JobState
	if err := s.db.Store().Find(&states, badgerhold.Where("UpdatedAt").Lt(cutoff)); err != nil {
		return nil, fmt.Errorf("failed to list job states: %w", err)
	}
	result := make([]*models.JobState, len(states))
	for i := range states {
		result[i] = &states[i]
	}
	return result, nil
}
