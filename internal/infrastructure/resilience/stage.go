package resilience

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/docscan/internal/core/domain"
)

// StageRunner retries pipeline stages with exponential backoff and jitter. Stages have no
// circuit breaker: a job that exhausts its attempts is recorded as failed instead.
type StageRunner struct {
	exec *Executor
}

func NewStageRunner(cfg Config) *StageRunner {
	cfg.BreakerEnabled = false
	return &StageRunner{exec: NewExecutor(cfg)}
}

// OnRetry registers an observer for stage retry attempts.
func (r *StageRunner) OnRetry(observer RetryObserver) {
	r.exec.OnRetry(observer)
}

func (r *StageRunner) Execute(ctx context.Context, operation string, attempts int, fn func(context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("resilience: stage callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "stage"
	}
	return r.exec.retry(ctx, op, attempts, fn, ClassifyStageError)
}

var stageErrors = ErrorRules{
	Rejected: func(err error) bool {
		return domain.IsKind(err, domain.ErrInvalidInput) ||
			domain.IsKind(err, domain.ErrConflict) ||
			domain.IsKind(err, domain.ErrNotFound) ||
			domain.IsKind(err, domain.ErrForbidden)
	},
	Transient: func(error) bool { return true },
}

// ClassifyStageError retries engine and decode failures but never validation errors,
// lost conditional writes or cancellation.
func ClassifyStageError(err error) ErrorClassification {
	return stageErrors.Classify(err)
}
