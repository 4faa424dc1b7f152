package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/core/ports"
)

func (uc *JobService) transition(ctx context.Context, job *domain.Job, to domain.JobStatus, upd domain.JobUpdate) (*domain.Job, error) {
	return transition(ctx, uc.jobs, job, to, upd)
}

// transition writes the update only if the job still has the observed status and generation.
func transition(ctx context.Context, jobs ports.JobStore, job *domain.Job, to domain.JobStatus, upd domain.JobUpdate) (*domain.Job, error) {
	if err := domain.CheckTransition(job.Status, to); err != nil {
		return nil, err
	}
	upd.Status = &to
	cond := domain.JobCondition{Statuses: []domain.JobStatus{job.Status}, Generation: ptr(job.Generation)}
	updated, err := jobs.Update(ctx, job.ID, cond, upd)
	if err != nil {
		return nil, fmt.Errorf("update job %s -> %s: %w", job.Status, to, err)
	}
	slog.Info("job_transition",
		"job_id", job.ID,
		"from", job.Status,
		"to", to,
		"generation", updated.Generation,
	)
	return updated, nil
}

// enqueue moves the job into a queued status under a new generation, then dispatches the
// task. The record is durable before dispatch; a failed dispatch degrades to QUEUED_NO_WORKER.
func (uc *JobService) enqueue(
	ctx context.Context,
	job *domain.Job,
	to domain.JobStatus,
	task domain.TaskName,
	upd domain.JobUpdate,
) (*domain.IntentOutcome, error) {
	upd.Generation = ptr(job.Generation + 1)
	upd.PendingTask = ptr(task)
	queued, err := uc.transition(ctx, job, to, upd)
	if err != nil {
		return nil, err
	}

	outcome := &domain.IntentOutcome{
		JobID:      queued.ID,
		Status:     queued.Status,
		Generation: queued.Generation,
		Task:       task,
	}

	result := uc.queue.Dispatch(ctx, domain.TaskEnvelope{
		Task:         task,
		JobID:        queued.ID,
		Generation:   queued.Generation,
		DispatchedAt: uc.now(),
	})
	if result.OK() {
		outcome.WorkerQueued = true
		return outcome, nil
	}

	outcome.DispatchReason = result.Reason
	slog.Warn("task_dispatch_failed",
		"job_id", queued.ID,
		"task", task,
		"generation", queued.Generation,
		"reason", result.Reason,
	)

	degraded, err := uc.transition(ctx, queued, domain.StatusQueuedNoWorker, domain.JobUpdate{})
	if err != nil {
		slog.Warn("mark_no_worker_failed", "job_id", queued.ID, "error", err)
		return outcome, nil
	}
	outcome.Status = degraded.Status
	return outcome, nil
}
