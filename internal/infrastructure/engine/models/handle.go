package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrHandleClosed = errors.New("model handle closed")

// Handle owns one process-wide model instance. The first Get loads it; a failed load is
// reported to the caller and retried on the next Get. Shutdown releases the instance.
type Handle[T any] struct {
	name    string
	load    func(context.Context) (T, error)
	release func(context.Context, T) error

	mu     sync.Mutex
	value  T
	loaded bool
	closed bool
}

func NewHandle[T any](name string, load func(context.Context) (T, error), release func(context.Context, T) error) *Handle[T] {
	return &Handle[T]{name: name, load: load, release: release}
}

func (h *Handle[T]) Get(ctx context.Context) (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var zero T
	if h.closed {
		return zero, fmt.Errorf("%s: %w", h.name, ErrHandleClosed)
	}
	if h.loaded {
		return h.value, nil
	}

	started := time.Now()
	value, err := h.load(ctx)
	if err != nil {
		slog.Error("model_load_failed", "model", h.name, "error", err)
		return zero, fmt.Errorf("load model %s: %w", h.name, err)
	}
	slog.Info("model_loaded", "model", h.name, "duration_ms", time.Since(started).Milliseconds())
	h.value = value
	h.loaded = true
	return value, nil
}

// Loaded reports whether the model has been loaded and not shut down.
func (h *Handle[T]) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded && !h.closed
}

// Shutdown releases a loaded model. Later Get calls fail with ErrHandleClosed.
func (h *Handle[T]) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if !h.loaded || h.release == nil {
		return nil
	}
	value := h.value
	var zero T
	h.value = zero
	h.loaded = false
	if err := h.release(ctx, value); err != nil {
		return fmt.Errorf("release model %s: %w", h.name, err)
	}
	return nil
}
