package ports

import (
	"context"
	"io"

	"github.com/kirillkom/docscan/internal/core/domain"
)

// JobIntents is the inbound contract for API-triggered lifecycle transitions.
type JobIntents interface {
	CreateJob(ctx context.Context, tenantID string) (*domain.Job, error)
	Upload(ctx context.Context, tenantID, jobID string, in domain.UploadInput) (*domain.IntentOutcome, error)
	Requeue(ctx context.Context, tenantID, jobID string) (*domain.IntentOutcome, error)
	Rerun(ctx context.Context, tenantID, jobID string, mode domain.RerunMode) (*domain.IntentOutcome, error)
	RunDetect(ctx context.Context, tenantID, jobID string) (*domain.IntentOutcome, error)
	RunOCR(ctx context.Context, tenantID, jobID string) (*domain.IntentOutcome, error)
	EditDetectResult(ctx context.Context, tenantID, jobID string, doc *domain.DetectResult) (*domain.Job, error)
	EditResult(ctx context.Context, tenantID, jobID string, doc *domain.OCRResult) (*domain.Job, error)
}

// JobReader is the inbound read model for job state and documents.
type JobReader interface {
	Get(ctx context.Context, tenantID, jobID string) (*domain.Job, error)
	List(ctx context.Context, tenantID string, limit int) ([]domain.Job, error)
	DetectResult(ctx context.Context, tenantID, jobID string) (*domain.DetectResult, error)
	ExportResult(ctx context.Context, tenantID, jobID string, w io.Writer) error
}

// TaskProcessor is the inbound contract for worker-side task execution. An error means the
// task could not be processed now and may be redelivered; recorded failures are outcomes.
type TaskProcessor interface {
	HandleTask(ctx context.Context, env domain.TaskEnvelope) (domain.TaskOutcome, error)
}
