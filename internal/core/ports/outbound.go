package ports

import (
	"context"
	"image"
	"io"

	"github.com/kirillkom/docscan/internal/core/domain"
)

// JobStore persists job records. Update applies only allow-listed fields and, when the
// condition is set, fails with domain.ErrConflict if the stored row no longer matches it.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, tenantID string, limit int) ([]domain.Job, error)
	Update(ctx context.Context, id string, cond domain.JobCondition, upd domain.JobUpdate) (*domain.Job, error)
}

// ObjectStorage stores source documents and stage outputs.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// TaskQueue dispatches task envelopes. Delivery failure is reported, never raised.
type TaskQueue interface {
	Dispatch(ctx context.Context, env domain.TaskEnvelope) domain.DispatchResult
}

// TaskConsumer drains task envelopes until ctx is done.
type TaskConsumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.TaskEnvelope) error) error
}

// JobLocker serializes task execution per job.
type JobLocker interface {
	Acquire(ctx context.Context, jobID string) (release func(context.Context) error, err error)
}

// StageExecutor retries a stage invocation up to attempts times.
type StageExecutor interface {
	Execute(ctx context.Context, operation string, attempts int, fn func(context.Context) error) error
}

// PageDecoder turns stored source bytes into page images.
type PageDecoder interface {
	Decode(ctx context.Context, data []byte, contentType, filename string) ([]image.Image, error)
}

// PageCounter reports the page count of a source document when it can be determined cheaply.
type PageCounter interface {
	CountPages(data []byte, contentType, filename string) (int, bool)
}

// TextDetector returns text-region boxes in the given image's pixel space.
type TextDetector interface {
	Detect(ctx context.Context, img image.Image) ([]domain.Box, error)
}

// LineRecognizer recognizes single-line crops, one prediction per crop.
type LineRecognizer interface {
	RecognizeLines(ctx context.Context, crops []image.Image) ([]domain.LinePrediction, error)
}

// ImageResizer downscales an image so that max(width, height) <= maxSide.
type ImageResizer interface {
	FitMaxSide(img image.Image, maxSide int) image.Image
}

// ResultExporter renders a recognized result as a downloadable document.
type ResultExporter interface {
	Export(w io.Writer, result *domain.OCRResult) error
}
