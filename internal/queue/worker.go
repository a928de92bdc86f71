// -----------------------------------------------------------------------
// Worker Pool - Drives conversion jobs off the queue
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/models"
)

// JobRunner executes one conversion job; the pipeline runner satisfies it.
type JobRunner interface {
	Run(ctx context.Context, jobID, source string) models.Outcome
}

// WorkerPool polls the queue and runs conversions. Retry policy lives
// here, not in the pipeline runner: a transiently failed job is left
// unacked so the visibility timeout redelivers it and the rerun resumes
// from the job's last checkpoint. Fatal failures are acked so they do
// not loop.
type WorkerPool struct {
	queue        *Manager
	runner       JobRunner
	concurrency  int
	pollInterval time.Duration
	logger       arbor.ILogger
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewWorkerPool creates a pool of conversion workers.
func NewWorkerPool(queue *Manager, runner JobRunner, concurrency int, pollInterval time.Duration, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	if concurrency < 1 {
		concurrency = 1
	}
	return &WorkerPool{
		queue:        queue,
		runner:       runner,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}, concurrency),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	wp.logger.Info().Int("concurrency", wp.concurrency).Msg("Starting worker pool")
	for i := 0; i < wp.concurrency; i++ {
		go wp.worker(i)
	}
}

// Stop signals the workers and waits for them to finish their current
// message.
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	for i := 0; i < wp.concurrency; i++ {
		<-wp.done
	}
}

func (wp *WorkerPool) worker(id int) {
	defer func() { wp.done <- struct{}{} }()

	// Stagger startup so workers do not contend on the same poll tick.
	stagger := (wp.pollInterval / time.Duration(wp.concurrency)) * time.Duration(id)
	select {
	case <-wp.ctx.Done():
		return
	case <-time.After(stagger):
	}

	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().Int("worker_id", id).Msg("Worker stopped")
			return
		case <-ticker.C:
			wp.processOne(id)
		}
	}
}

func (wp *WorkerPool) processOne(workerID int) {
	req, ack, err := wp.queue.Receive(wp.ctx)
	if err != nil {
		if !errors.Is(err, ErrNoMessage) {
			wp.logger.Warn().Int("worker_id", workerID).Err(err).Msg("Queue receive failed")
		}
		return
	}

	wp.logger.Info().
		Int("worker_id", workerID).
		Str("job_id", req.JobID).
		Str("source", req.Source).
		Msg("Processing conversion request")

	outcome := wp.runner.Run(wp.ctx, req.JobID, req.Source)
	switch outcome.Status {
	case models.OutcomeSuccess, models.OutcomeAlreadyComplete:
		if err := ack(); err != nil {
			wp.logger.Warn().Str("job_id", req.JobID).Err(err).Msg("Failed to ack completed job")
		}
	case models.OutcomeFailed:
		if isFatal(outcome.Err) {
			wp.logger.Error().
				Str("job_id", req.JobID).
				Str("stage", outcome.FailedStage).
				Err(outcome.Err).
				Msg("Job failed fatally, dropping request")
			if err := ack(); err != nil {
				wp.logger.Warn().Str("job_id", req.JobID).Err(err).Msg("Failed to ack fatal job")
			}
			return
		}
		// Leave unacked: the visibility timeout redelivers and the rerun
		// resumes from the last checkpoint.
		wp.logger.Warn().
			Str("job_id", req.JobID).
			Str("stage", outcome.FailedStage).
			Err(outcome.Err).
			Msg("Job failed, leaving for redelivery")
	}
}

// isFatal reports whether rerunning the job cannot help.
func isFatal(err error) bool {
	var malformed *models.MalformedInputError
	return errors.As(err, &malformed)
}
