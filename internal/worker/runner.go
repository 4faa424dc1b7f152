package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/core/ports"
	"github.com/kirillkom/docscan/internal/observability/metrics"
)

type Options struct {
	Concurrency int
	TaskTimeout time.Duration
	Metrics     *metrics.WorkerMetrics
}

// Runner drains the task queue with a fixed number of consumers.
type Runner struct {
	consumer  ports.TaskConsumer
	processor ports.TaskProcessor
	opts      Options
	now       func() time.Time
}

func NewRunner(consumer ports.TaskConsumer, processor ports.TaskProcessor, opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Runner{
		consumer:  consumer,
		processor: processor,
		opts:      opts,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled or a consumer fails.
func (r *Runner) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	for slot := range r.opts.Concurrency {
		g.Go(func() error {
			slog.Info("worker_consumer_started", "slot", slot)
			if err := r.consumer.Consume(gCtx, r.Handle); err != nil {
				return fmt.Errorf("consumer %d: %w", slot, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Handle runs one envelope under the task timeout. A returned error asks the queue to redeliver.
func (r *Runner) Handle(ctx context.Context, env domain.TaskEnvelope) error {
	task := string(env.Task)
	if r.opts.Metrics != nil {
		if !env.DispatchedAt.IsZero() {
			r.opts.Metrics.ObserveQueueLag(task, r.now().Sub(env.DispatchedAt))
		}
		r.opts.Metrics.StartTask()
	}

	taskCtx := ctx
	if r.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, r.opts.TaskTimeout)
		defer cancel()
	}

	start := r.now()
	outcome, err := r.processor.HandleTask(taskCtx, env)
	elapsed := r.now().Sub(start)

	if r.opts.Metrics != nil {
		r.opts.Metrics.FinishTask(task, string(outcome), elapsed, err)
	}

	attrs := []any{
		"job_id", env.JobID,
		"task", task,
		"generation", env.Generation,
		"outcome", outcome,
		"duration_ms", elapsed.Milliseconds(),
	}
	if err != nil {
		slog.Warn("task_handle_failed", append(attrs, "error", err)...)
		return err
	}
	slog.Info("task_handled", attrs...)
	return nil
}
