package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/infrastructure/queue"
	"github.com/kirillkom/docscan/internal/infrastructure/resilience"
)

const deliveryHeader = "Docscan-Delivery"

type Queue struct {
	conn          *nats.Conn
	subject       string
	group         string
	maxDeliveries int
	executor      *resilience.Executor
}

type Options struct {
	QueueGroup           string
	MaxDeliveries        int
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	group := options.QueueGroup
	if group == "" {
		group = "ocr-workers"
	}
	maxDeliveries := options.MaxDeliveries
	if maxDeliveries <= 0 {
		maxDeliveries = 5
	}

	conn, err := nats.Connect(
		url,
		nats.Name("docscan"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:          conn,
		subject:       subject,
		group:         group,
		maxDeliveries: maxDeliveries,
		executor:      options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Dispatch publishes the envelope. Failures are reported in the result, never returned.
func (q *Queue) Dispatch(ctx context.Context, env domain.TaskEnvelope) domain.DispatchResult {
	payload, err := queue.EncodeEnvelope(env)
	if err != nil {
		return domain.DispatchFailed(err)
	}
	if err := q.publish(ctx, payload, 1); err != nil {
		return domain.DispatchFailed(err)
	}
	return domain.Dispatched()
}

func (q *Queue) publish(ctx context.Context, payload []byte, delivery int) error {
	call := func(_ context.Context) error {
		msg := nats.NewMsg(q.subject)
		msg.Data = payload
		msg.Header.Set(deliveryHeader, strconv.Itoa(delivery))
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, publishErrors.Classify)
	} else {
		err = call(ctx)
	}
	return publishErrors.Temporary("nats publish", err)
}

// Consume joins the worker queue group and blocks until ctx is done. A handler error
// republishes the message until MaxDeliveries is reached.
func (q *Queue) Consume(ctx context.Context, handler func(context.Context, domain.TaskEnvelope) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		q.handle(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) handle(ctx context.Context, msg *nats.Msg, handler func(context.Context, domain.TaskEnvelope) error) {
	env, err := queue.DecodeEnvelope(msg.Data)
	if err != nil {
		slog.Error("task_message_rejected", "subject", msg.Subject, "error", err)
		return
	}

	if err := handler(ctx, env); err != nil {
		delivery := deliveryCount(msg)
		if delivery >= q.maxDeliveries {
			slog.Error("task_redelivery_exhausted",
				"job_id", env.JobID, "task", env.Task, "generation", env.Generation, "delivery", delivery, "error", err)
			return
		}
		slog.Warn("task_redelivered",
			"job_id", env.JobID, "task", env.Task, "generation", env.Generation, "delivery", delivery, "error", err)
		if pubErr := q.publish(context.WithoutCancel(ctx), msg.Data, delivery+1); pubErr != nil {
			slog.Error("task_redelivery_failed", "job_id", env.JobID, "error", pubErr)
		}
	}
}

func deliveryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 1
	}
	n, err := strconv.Atoi(msg.Header.Get(deliveryHeader))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
