package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/infrastructure/queue"
)

// Queue publishes task envelopes to a durable RabbitMQ queue through the default exchange.
type Queue struct {
	conn     *amqp.Connection
	name     string
	prefetch int

	mu      sync.Mutex
	publish *amqp.Channel
}

func New(url, name string, prefetch int) (*Queue, error) {
	if prefetch <= 0 {
		prefetch = 1
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := declare(ch, name); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Queue{conn: conn, name: name, prefetch: prefetch, publish: ch}, nil
}

func declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare amqp queue: %w", err)
	}
	return nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		_ = q.conn.Close()
	}
}

func (q *Queue) Dispatch(ctx context.Context, env domain.TaskEnvelope) domain.DispatchResult {
	payload, err := queue.EncodeEnvelope(env)
	if err != nil {
		return domain.DispatchFailed(err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	err = q.publish.PublishWithContext(ctx,
		"",
		q.name,
		false,
		false,
		amqp.Publishing{
			ContentType:  queue.ContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprintf("%s:%d", env.JobID, env.Generation),
			Type:         string(env.Task),
			Body:         payload,
		},
	)
	if err != nil {
		return domain.DispatchFailed(domain.WrapError(domain.ErrTemporary, "amqp publish", err))
	}
	return domain.Dispatched()
}

// Consume opens a dedicated channel and processes deliveries one at a time until ctx is done.
// A handler error requeues the delivery once; a second failure drops it.
func (q *Queue) Consume(ctx context.Context, handler func(context.Context, domain.TaskEnvelope) error) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	if err := declare(ch, q.name); err != nil {
		return err
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("set amqp qos: %w", err)
	}

	msgs, err := ch.Consume(
		q.name,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("amqp delivery channel closed")
			}
			q.handle(ctx, msg, handler)
		}
	}
}

func (q *Queue) handle(ctx context.Context, msg amqp.Delivery, handler func(context.Context, domain.TaskEnvelope) error) {
	env, err := queue.DecodeEnvelope(msg.Body)
	if err != nil {
		slog.Error("task_message_rejected", "queue", q.name, "error", err)
		_ = msg.Nack(false, false)
		return
	}

	if err := handler(ctx, env); err != nil {
		requeue := !msg.Redelivered
		slog.Warn("task_nacked",
			"job_id", env.JobID, "task", env.Task, "generation", env.Generation, "requeue", requeue, "error", err)
		_ = msg.Nack(false, requeue)
		return
	}
	_ = msg.Ack(false)
}
