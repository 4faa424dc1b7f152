package models

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/core/ports"
)

func TestHandleLoadsOnceAndShares(t *testing.T) {
	loads := 0
	h := NewHandle("detector", func(context.Context) (int, error) {
		loads++
		return 42, nil
	}, nil)

	for i := 0; i < 3; i++ {
		v, err := h.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, 1, loads)
	assert.True(t, h.Loaded())
}

func TestHandleRetriesAfterFailedLoad(t *testing.T) {
	loads := 0
	h := NewHandle("recognizer", func(context.Context) (string, error) {
		loads++
		if loads == 1 {
			return "", errors.New("weights missing")
		}
		return "ready", nil
	}, nil)

	_, err := h.Get(context.Background())
	require.ErrorContains(t, err, "weights missing")
	assert.False(t, h.Loaded())

	v, err := h.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", v)
}

func TestHandleShutdownReleasesAndCloses(t *testing.T) {
	var released []int
	h := NewHandle("detector", func(context.Context) (int, error) { return 7, nil },
		func(_ context.Context, v int) error {
			released = append(released, v)
			return nil
		})

	_, err := h.Get(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Shutdown(context.Background()))
	require.NoError(t, h.Shutdown(context.Background()))

	assert.Equal(t, []int{7}, released)
	_, err = h.Get(context.Background())
	assert.ErrorIs(t, err, ErrHandleClosed)
}

func TestShutdownWithoutLoadSkipsRelease(t *testing.T) {
	h := NewHandle("detector", func(context.Context) (int, error) { return 1, nil },
		func(context.Context, int) error {
			t.Fatalf("release must not run for an unloaded handle")
			return nil
		})
	require.NoError(t, h.Shutdown(context.Background()))
}

type boxDetector struct{}

func (boxDetector) Detect(context.Context, image.Image) ([]domain.Box, error) {
	return []domain.Box{{X1: 1, Y1: 1, X2: 3, Y2: 3}}, nil
}

func TestDetectorFailsTemporarilyWhenHandleUnavailable(t *testing.T) {
	h := NewHandle("detector", func(context.Context) (ports.TextDetector, error) {
		return nil, errors.New("sidecar not ready")
	}, nil)

	_, err := NewDetector(h).Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	assert.True(t, domain.IsKind(err, domain.ErrTemporary), "got %v", err)

	ok := NewHandle("detector", func(context.Context) (ports.TextDetector, error) { return boxDetector{}, nil }, nil)
	boxes, err := NewDetector(ok).Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	assert.Len(t, boxes, 1)
}
