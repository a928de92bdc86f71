// -----------------------------------------------------------------------
// Job State - Durable per-job record of pipeline progress
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobState is the durable record of which pipeline stages have completed
// for one job id, plus whatever metadata each stage produced. It is the
// only shared mutable resource across stages; the runner alone writes it.
//
// Invariant: CompletedStages is always a prefix of the registry's stage
// order, with no duplicates.
type JobState struct {
	JobID           string                     `json:"job_id" badgerhold:"key"`
	Source          string                     `json:"source"`
	CompletedStages []string                   `json:"completed_stages"`
	StageMetadata   map[string]json.RawMessage `json:"stage_metadata"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

// NewJobState creates an empty state record for a first-time job id.
func NewJobState(jobID, source string) *JobState {
	now := time.Now().UTC()
	return &JobState{
		JobID:         jobID,
		Source:        source,
		StageMetadata: make(map[string]json.RawMessage),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// StageComplete reports whether the named stage has a completion checkpoint.
func (s *JobState) StageComplete(name string) bool {
	for _, n := range s.CompletedStages {
		if n == name {
			return true
		}
	}
	return false
}

// MarkComplete appends a completion checkpoint for the named stage.
// Duplicates are ignored so reruns cannot corrupt the ordered set.
func (s *JobState) MarkComplete(name string) {
	if s.StageComplete(name) {
		return
	}
	s.CompletedStages = append(s.CompletedStages, name)
	s.UpdatedAt = time.Now().UTC()
}

// SetMetadata stores a stage's metadata blob. The value is marshaled once
// here and opaque to everything except the stage that wrote it.
func (s *JobState) SetMetadata(stage string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal metadata for stage %s: %w", stage, err)
	}
	if s.StageMetadata == nil {
		s.StageMetadata = make(map[string]json.RawMessage)
	}
	s.StageMetadata[stage] = data
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Metadata decodes the named stage's metadata blob into out. Returns false
// when the stage has not recorded any metadata.
func (s *JobState) Metadata(stage string, out interface{}) (bool, error) {
	raw, ok := s.StageMetadata[stage]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode metadata for stage %s: %w", stage, err)
	}
	return true, nil
}

// Clone returns a deep copy handed to stage functions, so a stage can never
// mutate persisted state behind the runner's back.
func (s *JobState) Clone() *JobState {
	cp := *s
	cp.CompletedStages = append([]string(nil), s.CompletedStages...)
	cp.StageMetadata = make(map[string]json.RawMessage, len(s.StageMetadata))
	for k, v := range s.StageMetadata {
		cp.StageMetadata[k] = append(json.RawMessage(nil), v...)
	}
	return &cp
}

// StageDelta is the state change a stage hands back to the runner.
// The runner merges it into JobState and persists before the completion
// checkpoint is written.
type StageDelta struct {
	// Metadata is marshaled under the stage's name. Nil means the stage
	// produced no metadata.
	Metadata interface{}
}

// OutcomeStatus classifies the result of one runner invocation.
type OutcomeStatus string

const (
	OutcomeSuccess         OutcomeStatus = "success"
	OutcomeFailed          OutcomeStatus = "failed"
	OutcomeAlreadyComplete OutcomeStatus = "already_complete"
)

// Outcome is returned by the runner. On failure it names the stage that
// failed; state is left at the last successful checkpoint so a rerun with
// the same job id resumes there.
type Outcome struct {
	Status      OutcomeStatus
	FailedStage string
	Err         error
}

func (o Outcome) String() string {
	if o.Status == OutcomeFailed {
		return fmt.Sprintf("%s at stage %s: %v", o.Status, o.FailedStage, o.Err)
	}
	return string(o.Status)
}

// ConvertRequest is the queue message that triggers a pipeline run in
// serve mode. Rerunning with the same JobID is the resume operation.
type ConvertRequest struct {
	JobID      string    `json:"job_id"`
	Source     string    `json:"source"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
