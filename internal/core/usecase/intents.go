package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/core/ports"
)

// Requeue re-dispatches the task last intended for the job.
func (uc *JobService) Requeue(ctx context.Context, tenantID, jobID string) (*domain.IntentOutcome, error) {
	job, err := uc.load(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsQueued() && job.Status != domain.StatusFailed {
		return nil, requireStatus(job, "requeue", append(domain.QueuedStatuses(), domain.StatusFailed)...)
	}
	if job.InputKey == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "requeue", errors.New("job has no uploaded file"))
	}

	task := job.PendingTask
	if !task.Valid() {
		task = domain.TaskRunJob
	}
	if task == domain.TaskRunOCRJob && !job.HasDetectResult() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "requeue", errors.New("job has no detect result to recognize"))
	}
	return uc.enqueue(ctx, job, domain.QueuedStatusFor(task), task, domain.JobUpdate{Error: ptr("")})
}

// Rerun resets the job output and queues it again. A full rerun also drops the detect result;
// a recognize rerun keeps it and only repeats recognition.
func (uc *JobService) Rerun(ctx context.Context, tenantID, jobID string, mode domain.RerunMode) (*domain.IntentOutcome, error) {
	job, err := uc.load(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(job, "rerun", domain.StatusDone, domain.StatusFailed, domain.StatusQueuedNoWorker); err != nil {
		return nil, err
	}
	if job.InputKey == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "rerun", errors.New("job has no uploaded file"))
	}

	upd := domain.JobUpdate{
		Error:          ptr(""),
		ResultKey:      ptr(""),
		ClearResult:    true,
		ProcessedPages: ptr(0),
		Progress:       ptr(0),
	}
	task := domain.TaskRunJob
	switch mode {
	case domain.RerunRecognize:
		if !job.HasDetectResult() {
			return nil, domain.WrapError(domain.ErrInvalidInput, "rerun", errors.New("recognize rerun requires a detect result"))
		}
		task = domain.TaskRunOCRJob
	case domain.RerunFull, "":
		upd.ClearDetect = true
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "rerun", fmt.Errorf("unknown mode %q", mode))
	}
	return uc.enqueue(ctx, job, domain.StatusQueued, task, upd)
}

// RunDetect repeats detection on a job waiting for box review, replacing its detect result.
func (uc *JobService) RunDetect(ctx context.Context, tenantID, jobID string) (*domain.IntentOutcome, error) {
	job, err := uc.load(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(job, "run detect", domain.StatusDetectDone); err != nil {
		return nil, err
	}
	if job.InputKey == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run detect", errors.New("job has no uploaded file"))
	}
	return uc.enqueue(ctx, job, domain.StatusQueuedDetect, domain.TaskRunDetectJob, domain.JobUpdate{Error: ptr("")})
}

// RunOCR queues recognition over the reviewed detect result.
func (uc *JobService) RunOCR(ctx context.Context, tenantID, jobID string) (*domain.IntentOutcome, error) {
	job, err := uc.load(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(job, "run ocr", domain.StatusDetectDone); err != nil {
		return nil, err
	}
	if !job.HasDetectResult() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run ocr", errors.New("detect result is empty"))
	}
	if err := domain.ValidateDetectResult(job.DetectResult); err != nil {
		return nil, err
	}
	return uc.enqueue(ctx, job, domain.StatusQueuedOCR, domain.TaskRunOCRJob, domain.JobUpdate{Error: ptr("")})
}

// EditDetectResult replaces the reviewed boxes. The status stays DETECT_DONE. The record is
// written first; the stored copy follows only once the conditional update wins.
func (uc *JobService) EditDetectResult(ctx context.Context, tenantID, jobID string, doc *domain.DetectResult) (*domain.Job, error) {
	job, err := uc.load(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(job, "edit detect result", domain.StatusDetectDone); err != nil {
		return nil, err
	}
	if err := domain.ValidateDetectResult(doc); err != nil {
		return nil, err
	}
	doc.JobID = job.ID

	updated, err := uc.transition(ctx, job, domain.StatusDetectDone, domain.JobUpdate{DetectResult: doc})
	if err != nil {
		return nil, err
	}
	if err := putJSON(ctx, uc.storage, domain.DetectObjectKey(job.TenantID, job.ID), doc); err != nil {
		return nil, err
	}
	return updated, nil
}

// EditResult stores a manually corrected result. The status stays DONE.
func (uc *JobService) EditResult(ctx context.Context, tenantID, jobID string, doc *domain.OCRResult) (*domain.Job, error) {
	job, err := uc.load(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(job, "edit result", domain.StatusDone); err != nil {
		return nil, err
	}
	if err := domain.ValidateOCRResult(doc); err != nil {
		return nil, err
	}
	doc.JobID = job.ID
	if doc.PipelineVersion == "" {
		doc.PipelineVersion = domain.PipelineVersion
	}

	key := domain.ResultObjectKey(job.TenantID, job.ID)
	updated, err := uc.transition(ctx, job, domain.StatusDone, domain.JobUpdate{Result: doc, ResultKey: ptr(key)})
	if err != nil {
		return nil, err
	}
	if err := putJSON(ctx, uc.storage, key, doc); err != nil {
		return nil, err
	}
	return updated, nil
}

func putJSON(ctx context.Context, storage ports.ObjectStorage, key string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := storage.Put(ctx, key, payload, "application/json"); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
