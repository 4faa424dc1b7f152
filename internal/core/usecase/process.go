package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/core/pipeline"
	"github.com/kirillkom/docscan/internal/core/ports"
)

// Pipeline is the orchestrator contract the task handler drives.
type Pipeline interface {
	DecodePages(ctx context.Context, job *domain.Job, source []byte) ([]image.Image, error)
	DetectOnly(ctx context.Context, job *domain.Job, pages []image.Image) (*domain.DetectResult, error)
	RecognizeFromBoxes(ctx context.Context, job *domain.Job, pages []image.Image, detect *domain.DetectResult, progress pipeline.ProgressFunc) (*domain.OCRResult, error)
}

// AttemptPolicy bounds stage attempts per task.
type AttemptPolicy struct {
	FullPipeline int
	Isolated     int
}

func DefaultAttemptPolicy() AttemptPolicy {
	return AttemptPolicy{FullPipeline: 3, Isolated: 2}
}

func (p AttemptPolicy) For(task domain.TaskName) int {
	if task == domain.TaskRunJob {
		return max(p.FullPipeline, 1)
	}
	return max(p.Isolated, 1)
}

// ProcessTaskUseCase executes one stage for one job on behalf of a worker slot.
type ProcessTaskUseCase struct {
	jobs     ports.JobStore
	storage  ports.ObjectStorage
	pipeline Pipeline
	stages   ports.StageExecutor
	locker   ports.JobLocker
	attempts AttemptPolicy

	failureBackoff time.Duration
}

const failureWriteAttempts = 3

// NewProcessTaskUseCase wires the task handler. locker may be nil.
func NewProcessTaskUseCase(
	jobs ports.JobStore,
	storage ports.ObjectStorage,
	pipe Pipeline,
	stages ports.StageExecutor,
	locker ports.JobLocker,
	attempts AttemptPolicy,
) *ProcessTaskUseCase {
	return &ProcessTaskUseCase{
		jobs:     jobs,
		storage:  storage,
		pipeline: pipe,
		stages:   stages,
		locker:   locker,
		attempts: attempts,

		failureBackoff: 200 * time.Millisecond,
	}
}

func (uc *ProcessTaskUseCase) HandleTask(ctx context.Context, env domain.TaskEnvelope) (domain.TaskOutcome, error) {
	if !env.Task.Valid() || env.JobID == "" {
		slog.Warn("task_rejected", "task", env.Task, "job_id", env.JobID)
		return domain.TaskSkipped, nil
	}

	if uc.locker != nil {
		release, err := uc.locker.Acquire(ctx, env.JobID)
		if err != nil {
			return "", fmt.Errorf("acquire job lease: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("job_lease_release_failed", "job_id", env.JobID, "error", err)
			}
		}()
	}

	job, err := uc.jobs.GetByID(ctx, env.JobID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			slog.Warn("task_job_not_found", "job_id", env.JobID, "task", env.Task)
			return domain.TaskSkipped, nil
		}
		return "", fmt.Errorf("fetch job: %w", err)
	}

	if reason := skipReason(job, env); reason != "" {
		slog.Info("task_skipped",
			"job_id", job.ID,
			"task", env.Task,
			"status", job.Status,
			"generation", env.Generation,
			"current_generation", job.Generation,
			"reason", reason,
		)
		return domain.TaskSkipped, nil
	}

	if err := validateTask(job, env.Task); err != nil {
		slog.Warn("task_validation_failed", "job_id", job.ID, "task", env.Task, "error", err)
		return uc.recordFailure(ctx, job, err)
	}

	running := job
	if job.Status == domain.StatusRunning {
		// A redelivery of the generation that claimed the job: the previous attempt returned
		// without recording an outcome, so the stage runs again from the stored input.
		slog.Warn("task_resumed", "job_id", job.ID, "task", env.Task, "generation", env.Generation)
	} else {
		running, err = uc.claim(ctx, job)
		if err != nil {
			if domain.IsKind(err, domain.ErrConflict) {
				slog.Info("task_claim_lost", "job_id", job.ID, "task", env.Task, "generation", env.Generation)
				return domain.TaskDiscarded, nil
			}
			return "", err
		}
	}

	started := time.Now()
	operation := string(env.Task)
	attempts := uc.attempts.For(env.Task)
	if env.Task.IsDetect() {
		err = uc.runDetect(ctx, running, operation, attempts)
	} else {
		err = uc.runRecognize(ctx, running, operation, attempts)
	}
	if err == nil {
		slog.Info("task_completed", "job_id", job.ID, "task", env.Task, "generation", running.Generation, "duration_ms", time.Since(started).Milliseconds())
		return domain.TaskCompleted, nil
	}

	if domain.IsKind(err, domain.ErrConflict) {
		slog.Info("stale_task_output_discarded", "job_id", job.ID, "task", env.Task, "generation", running.Generation, "error", err)
		return domain.TaskDiscarded, nil
	}
	slog.Error("task_failed", "job_id", job.ID, "task", env.Task, "generation", running.Generation, "error", err)
	return uc.recordFailure(ctx, running, err)
}

// skipReason implements the duplicate-delivery guards. Detect-stage tasks never touch a job
// that already finished detection or recognition, so user edits are not overwritten. A job
// left RUNNING by its own generation is not skipped; HandleTask resumes it.
func skipReason(job *domain.Job, env domain.TaskEnvelope) string {
	switch {
	case env.Task.IsDetect() && job.Status == domain.StatusDone && job.ResultKey != "":
		return "already_done"
	case env.Task.IsDetect() && job.Status == domain.StatusDetectDone:
		return "detect_already_done"
	case env.Generation != job.Generation:
		return "superseded_generation"
	case !job.Status.IsQueued() && job.Status != domain.StatusRunning:
		return "not_queued"
	default:
		return ""
	}
}

func validateTask(job *domain.Job, task domain.TaskName) error {
	if job.InputKey == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate task", errors.New("missing input_object_key"))
	}
	if task != domain.TaskRunOCRJob {
		return nil
	}
	if !job.HasDetectResult() {
		return domain.WrapError(domain.ErrInvalidInput, "validate task", errors.New("detect_result is empty; run detection first"))
	}
	return domain.ValidateDetectResult(job.DetectResult)
}

func (uc *ProcessTaskUseCase) claim(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	return uc.update(ctx, job, domain.StatusRunning, domain.JobUpdate{
		ProcessedPages: ptr(0),
		Progress:       ptr(0),
		Error:          ptr(""),
	})
}

func (uc *ProcessTaskUseCase) runDetect(ctx context.Context, job *domain.Job, operation string, attempts int) error {
	var (
		detect    *domain.DetectResult
		pageCount int
	)
	err := uc.stages.Execute(ctx, operation, attempts, func(ctx context.Context) error {
		pages, err := uc.loadPages(ctx, job)
		if err != nil {
			return err
		}
		pageCount = len(pages)
		if err := uc.guard(ctx, job, domain.JobUpdate{PageCount: ptr(pageCount)}); err != nil {
			return err
		}

		detect, err = uc.pipeline.DetectOnly(ctx, job, pages)
		if err != nil {
			return err
		}
		return putJSON(ctx, uc.storage, domain.DetectObjectKey(job.TenantID, job.ID), detect)
	})
	if err != nil {
		return err
	}

	_, err = uc.update(ctx, job, domain.StatusDetectDone, domain.JobUpdate{
		DetectResult: detect,
		PageCount:    ptr(pageCount),
	})
	return err
}

func (uc *ProcessTaskUseCase) runRecognize(ctx context.Context, job *domain.Job, operation string, attempts int) error {
	var (
		result    *domain.OCRResult
		pageCount int
	)
	resultKey := domain.ResultObjectKey(job.TenantID, job.ID)
	err := uc.stages.Execute(ctx, operation, attempts, func(ctx context.Context) error {
		pages, err := uc.loadPages(ctx, job)
		if err != nil {
			return err
		}
		pageCount = len(pages)

		result, err = uc.pipeline.RecognizeFromBoxes(ctx, job, pages, job.DetectResult, func(ctx context.Context, processed, total int) error {
			return uc.guard(ctx, job, domain.JobUpdate{
				PageCount:      ptr(total),
				ProcessedPages: ptr(processed),
				Progress:       ptr(processed * 100 / total),
			})
		})
		if err != nil {
			return err
		}
		return putJSON(ctx, uc.storage, resultKey, result)
	})
	if err != nil {
		return err
	}

	_, err = uc.update(ctx, job, domain.StatusDone, domain.JobUpdate{
		Result:         result,
		ResultKey:      ptr(resultKey),
		Error:          ptr(""),
		PageCount:      ptr(pageCount),
		ProcessedPages: ptr(pageCount),
		Progress:       ptr(100),
	})
	return err
}

func (uc *ProcessTaskUseCase) loadPages(ctx context.Context, job *domain.Job) ([]image.Image, error) {
	source, err := uc.storage.Get(ctx, job.InputKey)
	if err != nil {
		return nil, fmt.Errorf("fetch input: %w", err)
	}
	return uc.pipeline.DecodePages(ctx, job, source)
}

// recordFailure moves the job to FAILED with the error text. A lost conditional write means a
// newer generation owns the job, so the failure is discarded. If the write keeps failing the
// error is returned and the redelivered task resumes the RUNNING job.
func (uc *ProcessTaskUseCase) recordFailure(ctx context.Context, job *domain.Job, cause error) (domain.TaskOutcome, error) {
	writeCtx := context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= failureWriteAttempts; attempt++ {
		_, err = uc.update(writeCtx, job, domain.StatusFailed, domain.JobUpdate{Error: ptr(cause.Error())})
		if err == nil {
			return domain.TaskFailed, nil
		}
		if domain.IsKind(err, domain.ErrConflict) {
			slog.Info("stale_task_failure_discarded", "job_id", job.ID, "generation", job.Generation, "error", cause)
			return domain.TaskDiscarded, nil
		}
		if attempt == failureWriteAttempts {
			break
		}
		slog.Warn("mark_failed_retry", "job_id", job.ID, "attempt", attempt, "error", err)
		if waitErr := sleepContext(ctx, time.Duration(attempt)*uc.failureBackoff); waitErr != nil {
			break
		}
	}
	return "", fmt.Errorf("%w; mark failed status: %v", cause, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (uc *ProcessTaskUseCase) update(ctx context.Context, job *domain.Job, to domain.JobStatus, upd domain.JobUpdate) (*domain.Job, error) {
	return transition(ctx, uc.jobs, job, to, upd)
}

// guard writes progress fields while the job is still RUNNING under this generation.
func (uc *ProcessTaskUseCase) guard(ctx context.Context, job *domain.Job, upd domain.JobUpdate) error {
	cond := domain.JobCondition{Statuses: []domain.JobStatus{domain.StatusRunning}, Generation: ptr(job.Generation)}
	if _, err := uc.jobs.Update(ctx, job.ID, cond, upd); err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	return nil
}
