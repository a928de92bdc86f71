package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/models"
)

type fakeRunner struct {
	runs    int32
	outcome models.Outcome
}

func (f *fakeRunner) Run(_ context.Context, jobID, source string) models.Outcome {
	atomic.AddInt32(&f.runs, 1)
	return f.outcome
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestWorkerPool_AcksSuccessfulJob(t *testing.T) {
	m := testQueue(t, time.Minute, 3)
	runner := &fakeRunner{outcome: models.Outcome{Status: models.OutcomeSuccess}}
	pool := NewWorkerPool(m, runner, 2, 10*time.Millisecond, common.GetLogger())

	require.NoError(t, m.Enqueue(context.Background(), models.ConvertRequest{JobID: "job-1", Source: "s"}))

	pool.Start()
	defer pool.Stop()

	waitFor(t, func() bool {
		depth, _ := m.Depth(context.Background())
		return depth == 0
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.runs))
}

func TestWorkerPool_FatalFailureDropsRequest(t *testing.T) {
	m := testQueue(t, time.Minute, 3)
	runner := &fakeRunner{outcome: models.Outcome{
		Status:      models.OutcomeFailed,
		FailedStage: "prepare",
		Err:         &models.MalformedInputError{Path: "x", Reason: "not a document"},
	}}
	pool := NewWorkerPool(m, runner, 1, 10*time.Millisecond, common.GetLogger())

	require.NoError(t, m.Enqueue(context.Background(), models.ConvertRequest{JobID: "job-1", Source: "s"}))

	pool.Start()
	defer pool.Stop()

	waitFor(t, func() bool {
		depth, _ := m.Depth(context.Background())
		return depth == 0
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.runs), "malformed input is not retried")
}

func TestWorkerPool_TransientFailureLeftForRedelivery(t *testing.T) {
	m := testQueue(t, time.Minute, 3)
	runner := &fakeRunner{outcome: models.Outcome{
		Status:      models.OutcomeFailed,
		FailedStage: "extract",
		Err:         &models.TransientServiceError{Service: "extraction", Err: errors.New("timeout")},
	}}
	pool := NewWorkerPool(m, runner, 1, 10*time.Millisecond, common.GetLogger())

	require.NoError(t, m.Enqueue(context.Background(), models.ConvertRequest{JobID: "job-1", Source: "s"}))

	pool.Start()
	waitFor(t, func() bool { return atomic.LoadInt32(&runner.runs) >= 1 })
	pool.Stop()

	// Still queued: the visibility timeout will redeliver it later.
	depth, err := m.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

// -----------------------------------------------------------------------
// Janitor
// -----------------------------------------------------------------------

type fakePruner struct {
	stale   []*models.JobState
	deleted []string
}

func (f *fakePruner) ListOlderThan(_ context.Context, _ time.Time) ([]*models.JobState, error) {
	return f.stale, nil
}

func (f *fakePruner) Delete(_ context.Context, jobID string) error {
	f.deleted = append(f.deleted, jobID)
	return nil
}

func TestJanitor_SweepPrunesStaleJobs(t *testing.T) {
	pruner := &fakePruner{stale: []*models.JobState{
		{JobID: "old-1"},
		{JobID: "old-2"},
	}}

	j, err := NewJanitor(pruner, t.TempDir(), time.Hour, "0 0 * * *", common.GetLogger())
	require.NoError(t, err)

	j.Sweep(context.Background())
	assert.Equal(t, []string{"old-1", "old-2"}, pruner.deleted)
}

func TestJanitor_RejectsBadSchedule(t *testing.T) {
	_, err := NewJanitor(&fakePruner{}, t.TempDir(), time.Hour, "not a schedule", common.GetLogger())
	require.Error(t, err)
}
