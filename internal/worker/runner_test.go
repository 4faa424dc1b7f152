package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/observability/metrics"
)

type fakeConsumer struct {
	mu      sync.Mutex
	calls   int
	envs    []domain.TaskEnvelope
	failErr error
}

func (f *fakeConsumer) Consume(ctx context.Context, handler func(context.Context, domain.TaskEnvelope) error) error {
	f.mu.Lock()
	f.calls++
	envs := f.envs
	f.envs = nil
	f.mu.Unlock()

	if f.failErr != nil {
		return f.failErr
	}
	for _, env := range envs {
		_ = handler(ctx, env)
	}
	<-ctx.Done()
	return nil
}

type fakeProcessor struct {
	handled  atomic.Int32
	outcome  domain.TaskOutcome
	err      error
	deadline bool
}

func (f *fakeProcessor) HandleTask(ctx context.Context, _ domain.TaskEnvelope) (domain.TaskOutcome, error) {
	f.handled.Add(1)
	_, f.deadline = ctx.Deadline()
	return f.outcome, f.err
}

func TestRunStartsConfiguredConsumers(t *testing.T) {
	consumer := &fakeConsumer{envs: []domain.TaskEnvelope{{Task: domain.TaskRunJob, JobID: "j1", Generation: 1}}}
	processor := &fakeProcessor{outcome: domain.TaskCompleted}
	runner := NewRunner(consumer, processor, Options{Concurrency: 3})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool {
		consumer.mu.Lock()
		defer consumer.mu.Unlock()
		return consumer.calls == 3
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancel")
	}
	assert.Equal(t, int32(1), processor.handled.Load())
}

func TestRunStopsOnConsumerFailure(t *testing.T) {
	consumer := &fakeConsumer{failErr: errors.New("subscribe failed")}
	runner := NewRunner(consumer, &fakeProcessor{}, Options{Concurrency: 2})

	err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscribe failed")
}

func TestHandleAppliesTimeoutAndReturnsRedeliveryError(t *testing.T) {
	processor := &fakeProcessor{err: domain.WrapError(domain.ErrTemporary, "lease", errors.New("busy"))}
	runner := NewRunner(&fakeConsumer{}, processor, Options{TaskTimeout: time.Minute})

	err := runner.Handle(context.Background(), domain.TaskEnvelope{Task: domain.TaskRunOCRJob, JobID: "j1"})
	assert.True(t, domain.IsKind(err, domain.ErrTemporary))
	assert.True(t, processor.deadline)
}

func TestHandleRecordsMetrics(t *testing.T) {
	workerMetrics := metrics.NewWorkerMetrics("worker")
	processor := &fakeProcessor{outcome: domain.TaskDiscarded}
	runner := NewRunner(&fakeConsumer{}, processor, Options{Metrics: workerMetrics})
	runner.now = func() time.Time { return time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC) }

	err := runner.Handle(context.Background(), domain.TaskEnvelope{
		Task:         domain.TaskRunDetectJob,
		JobID:        "j1",
		Generation:   4,
		DispatchedAt: time.Date(2026, 10, 15, 11, 59, 58, 0, time.UTC),
	})
	require.NoError(t, err)

	res := httptest.NewRecorder()
	workerMetrics.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := res.Body.String()
	assert.Contains(t, body, `docscan_worker_task_total{outcome="discarded",service="worker",task="run_detect_job"} 1`)
	assert.Contains(t, body, `docscan_worker_queue_lag_seconds_sum{service="worker",task="run_detect_job"} 2`)
}
