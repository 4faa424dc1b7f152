package detection

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	boxes []domain.Box
	err   error
	seen  image.Rectangle
}

func (f *fakeDetector) Detect(_ context.Context, img image.Image) ([]domain.Box, error) {
	f.seen = img.Bounds()
	return f.boxes, f.err
}

type halfResizer struct{}

func (halfResizer) FitMaxSide(img image.Image, _ int) image.Image {
	b := img.Bounds()
	return image.NewRGBA(image.Rect(0, 0, b.Dx()/2, b.Dy()/2))
}

func TestDetectRescalesBoxesToPageSpace(t *testing.T) {
	det := &fakeDetector{boxes: []domain.Box{{X1: 10, Y1: 20, X2: 40, Y2: 60}}}
	stage := NewStage(det, halfResizer{}, 1000)

	boxes, err := stage.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 1600, 2000)))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 800, 1000), det.seen)
	assert.Equal(t, []domain.Box{{X1: 20, Y1: 40, X2: 80, Y2: 120}}, boxes)
}

func TestDetectSkipsResizeForSmallPages(t *testing.T) {
	det := &fakeDetector{boxes: []domain.Box{{X1: 1, Y1: 1, X2: 5, Y2: 5}}}
	stage := NewStage(det, halfResizer{}, 1000)

	boxes, err := stage.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 800, 600)))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 800, 600), det.seen)
	assert.Equal(t, det.boxes, boxes)
}

func TestDetectDropsDegenerateAndClampsBoxes(t *testing.T) {
	det := &fakeDetector{boxes: []domain.Box{
		{X1: 5, Y1: 5, X2: 5, Y2: 9},
		{X1: -3, Y1: 2, X2: 120, Y2: 8},
		{X1: 150, Y1: 2, X2: 160, Y2: 8},
	}}
	stage := NewStage(det, nil, 0)

	boxes, err := stage.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 100, 100)))
	require.NoError(t, err)
	assert.Equal(t, []domain.Box{{X1: 0, Y1: 2, X2: 100, Y2: 8}}, boxes)
}

func TestDetectEmptyIsNotAnError(t *testing.T) {
	stage := NewStage(&fakeDetector{}, nil, 0)
	boxes, err := stage.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)))
	require.NoError(t, err)
	assert.NotNil(t, boxes)
	assert.Empty(t, boxes)
}

func TestDetectSurfacesEngineError(t *testing.T) {
	engineErr := errors.New("engine down")
	stage := NewStage(&fakeDetector{err: engineErr}, nil, 0)
	_, err := stage.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)))
	assert.ErrorIs(t, err, engineErr)
}
