// -----------------------------------------------------------------------
// Stage Registry - Ordered pipeline stages with a single fork point
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ternarybob/verso/internal/models"
)

// StageFunc does the work of one pipeline stage. It receives an immutable
// snapshot of job state and reports changes only through the returned
// delta; the runner owns merging and persistence. Stage functions must be
// idempotent: when their completion precondition already holds (artifact
// present, metadata recorded) they return without repeating externally
// visible work.
type StageFunc func(ctx context.Context, job *JobContext) (*models.StageDelta, error)

// Stage is one named unit of the pipeline.
//
// ConcurrentWithNext marks the one deliberate fork point: the runner
// starts this stage's work without blocking the main sequence on it and
// joins before the stage after next. Checkpoints are still written in
// registry order, so completed_stages stays a prefix of the stage order.
type Stage struct {
	Name               string
	Run                StageFunc
	ConcurrentWithNext bool
}

// Registry holds the fixed, ordered stage list for a pipeline.
type Registry struct {
	stages []Stage
	byName map[string]int
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register appends stages in execution order. Duplicate names are rejected
// because completed_stages is keyed by name.
func (r *Registry) Register(stages ...Stage) error {
	for _, st := range stages {
		if st.Name == "" {
			return fmt.Errorf("stage name is required")
		}
		if st.Run == nil {
			return fmt.Errorf("stage %s has no run function", st.Name)
		}
		if _, exists := r.byName[st.Name]; exists {
			return fmt.Errorf("duplicate stage name: %s", st.Name)
		}
		r.byName[st.Name] = len(r.stages)
		r.stages = append(r.stages, st)
	}
	return nil
}

// Stages returns the registered stages in order.
func (r *Registry) Stages() []Stage {
	return r.stages
}

// Names returns the stage names in registry order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.stages))
	for i, st := range r.stages {
		names[i] = st.Name
	}
	return names
}

// JobContext is the snapshot a stage function receives. State is a deep
// copy; mutating it has no effect on persisted state.
type JobContext struct {
	JobID     string
	Source    string
	Workspace string
	State     *models.JobState
}

// Path joins elements onto the job's workspace directory.
func (j *JobContext) Path(elem ...string) string {
	return filepath.Join(append([]string{j.Workspace}, elem...)...)
}

// Metadata decodes a prior stage's metadata into out. Returns false when
// that stage recorded none.
func (j *JobContext) Metadata(stage string, out interface{}) (bool, error) {
	return j.State.Metadata(stage, out)
}
