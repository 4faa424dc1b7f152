package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/core/ports"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// JobService applies API intents to job records through the lifecycle transition graph.
type JobService struct {
	jobs     ports.JobStore
	storage  ports.ObjectStorage
	queue    ports.TaskQueue
	counter  ports.PageCounter
	exporter ports.ResultExporter
	now      func() time.Time
}

func NewJobService(
	jobs ports.JobStore,
	storage ports.ObjectStorage,
	queue ports.TaskQueue,
	counter ports.PageCounter,
	exporter ports.ResultExporter,
) *JobService {
	return &JobService{
		jobs:     jobs,
		storage:  storage,
		queue:    queue,
		counter:  counter,
		exporter: exporter,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (uc *JobService) CreateJob(ctx context.Context, tenantID string) (*domain.Job, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create job", errors.New("tenant id is required"))
	}
	now := uc.now()
	job := &domain.Job{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Status:    domain.StatusPendingUpload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}
	return job, nil
}

func (uc *JobService) Get(ctx context.Context, tenantID, jobID string) (*domain.Job, error) {
	return uc.load(ctx, tenantID, jobID)
}

func (uc *JobService) List(ctx context.Context, tenantID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	jobs, err := uc.jobs.List(ctx, strings.TrimSpace(tenantID), limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// DetectResult prefers the record and falls back to the stored detect.json. The object store
// is only consulted in statuses that own a detect result, so a full rerun never serves the
// boxes it superseded.
func (uc *JobService) DetectResult(ctx context.Context, tenantID, jobID string) (*domain.DetectResult, error) {
	job, err := uc.load(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job.DetectResult != nil {
		return job.DetectResult, nil
	}
	if !job.Status.HasDetectOutput() {
		return nil, domain.WrapError(domain.ErrNotFound, "get detect result", fmt.Errorf("detect result is not ready (status %s)", job.Status))
	}

	raw, err := uc.storage.Get(ctx, domain.DetectObjectKey(job.TenantID, job.ID))
	if err != nil {
		return nil, domain.WrapError(domain.ErrNotFound, "get detect result", fmt.Errorf("detect result is not ready: %w", err))
	}
	var doc domain.DetectResult
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode stored detect result", err)
	}
	if err := domain.ValidateDetectResult(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (uc *JobService) ExportResult(ctx context.Context, tenantID, jobID string, w io.Writer) error {
	job, err := uc.load(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusDone || job.Result == nil {
		return domain.WrapError(domain.ErrNotFound, "export result", fmt.Errorf("job %s has no result (status %s)", job.ID, job.Status))
	}
	if err := uc.exporter.Export(w, job.Result); err != nil {
		return fmt.Errorf("export result: %w", err)
	}
	return nil
}

// load fetches a job and rejects callers from another tenant before anything is returned.
func (uc *JobService) load(ctx context.Context, tenantID, jobID string) (*domain.Job, error) {
	job, err := uc.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("fetch job: %w", err)
	}
	if job.TenantID != tenantID {
		return nil, domain.WrapError(domain.ErrForbidden, "authorize job", errors.New("tenant mismatch"))
	}
	return job, nil
}

func requireStatus(job *domain.Job, operation string, allowed ...domain.JobStatus) error {
	for _, status := range allowed {
		if job.Status == status {
			return nil
		}
	}
	return domain.WrapError(domain.ErrInvalidTransition, operation, fmt.Errorf("job %s is %s", job.ID, job.Status))
}

func ptr[T any](v T) *T {
	return &v
}
