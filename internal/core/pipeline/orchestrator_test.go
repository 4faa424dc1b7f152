package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/core/recognition"
)

type decoderFake struct {
	pages []image.Image
	err   error
}

func (f decoderFake) Decode(context.Context, []byte, string, string) ([]image.Image, error) {
	return f.pages, f.err
}

type detectorFake struct {
	byWidth map[int][]domain.Box
}

func (f detectorFake) Detect(_ context.Context, page image.Image) ([]domain.Box, error) {
	return f.byWidth[page.Bounds().Dx()], nil
}

type lineRecognizerFake struct {
	crops []image.Rectangle
}

func (f *lineRecognizerFake) RecognizeLines(_ context.Context, crops []image.Image) ([]domain.LinePrediction, error) {
	out := make([]domain.LinePrediction, len(crops))
	for i, c := range crops {
		f.crops = append(f.crops, c.Bounds())
		out[i] = domain.LinePrediction{Text: fmt.Sprintf("  line %d ", i), Confidence: 0.8}
	}
	return out, nil
}

type regionRecognizerFake struct {
	preds []domain.LinePrediction
	err   error
}

func (f regionRecognizerFake) Recognize(context.Context, image.Image, []domain.Box, []int) ([]domain.LinePrediction, error) {
	return f.preds, f.err
}

type halfResizer struct{}

func (halfResizer) FitMaxSide(img image.Image, _ int) image.Image {
	b := img.Bounds()
	return image.NewRGBA(image.Rect(0, 0, b.Dx()/2, b.Dy()/2))
}

func fixedIDs(pageIndex, boxIndex int) string {
	return fmt.Sprintf("%d-%d-fixed", pageIndex, boxIndex)
}

func TestRecognizeKeepsOriginalBoxOnRescaledPage(t *testing.T) {
	lines := &lineRecognizerFake{}
	o := NewOrchestrator(nil, nil, recognition.NewStage(lines, recognition.DefaultSplitConfig()), halfResizer{}, 600)
	o.blockID = fixedIDs

	page := image.NewRGBA(image.Rect(0, 0, 900, 1200))
	original := domain.Box{X1: 100, Y1: 100, X2: 200, Y2: 400}
	detect := &domain.DetectResult{Pages: []domain.DetectPage{{PageIndex: 0, Width: 900, Height: 1200, Boxes: []domain.Box{original}}}}

	result, err := o.RecognizeFromBoxes(context.Background(), &domain.Job{ID: "job-1"}, []image.Image{page}, detect, nil)
	require.NoError(t, err)
	require.Len(t, result.Pages, 1)
	require.Len(t, result.Pages[0].Blocks, 1)

	assert.Len(t, lines.crops, 9)
	for _, c := range lines.crops {
		assert.Equal(t, 50, c.Dx(), "crop taken from the half-scale page")
	}
	block := result.Pages[0].Blocks[0]
	assert.Equal(t, original, block.Box)
	assert.Equal(t, "0-0-fixed", block.BlockID)
	assert.Equal(t, 1.0, block.Score)
	assert.Equal(t, domain.PipelineVersion, result.PipelineVersion)
}

func TestDetectThenRecognizeRoundTrip(t *testing.T) {
	pages := []image.Image{
		image.NewRGBA(image.Rect(0, 0, 300, 400)),
		image.NewRGBA(image.Rect(0, 0, 310, 400)),
		image.NewRGBA(image.Rect(0, 0, 320, 400)),
	}
	det := detectorFake{byWidth: map[int][]domain.Box{
		300: {{X1: 10, Y1: 10, X2: 100, Y2: 40}, {X1: 10, Y1: 50, X2: 100, Y2: 80}},
		320: {{X1: 5, Y1: 5, X2: 50, Y2: 20}},
	}}
	lines := &lineRecognizerFake{}
	o := NewOrchestrator(decoderFake{pages: pages}, det, recognition.NewStage(lines, recognition.DefaultSplitConfig()), halfResizer{}, 1200)
	job := &domain.Job{ID: "job-rt"}

	decoded, err := o.DecodePages(context.Background(), job, []byte("src"))
	require.NoError(t, err)
	detect, err := o.DetectOnly(context.Background(), job, decoded)
	require.NoError(t, err)
	require.NoError(t, domain.ValidateDetectResult(detect))

	var progressed []int
	result, err := o.RecognizeFromBoxes(context.Background(), job, decoded, detect, func(_ context.Context, processed, total int) error {
		assert.Equal(t, 3, total)
		progressed = append(progressed, processed)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, domain.ValidateOCRResult(result))

	require.Len(t, result.Pages, len(pages))
	for i, page := range result.Pages {
		assert.Equal(t, i, page.PageIndex)
		assert.Len(t, page.Blocks, len(detect.Pages[i].Boxes))
		assert.NotNil(t, page.Blocks)
		for j, block := range page.Blocks {
			assert.Equal(t, detect.Pages[i].Boxes[j], block.Box)
			assert.Equal(t, fmt.Sprintf("line %d", j), block.Text)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, progressed)
}

func TestRecognizeMissingDetectPageYieldsEmptyBlocks(t *testing.T) {
	o := NewOrchestrator(nil, nil, regionRecognizerFake{}, nil, 0)
	pages := []image.Image{image.NewRGBA(image.Rect(0, 0, 40, 60))}

	result, err := o.RecognizeFromBoxes(context.Background(), &domain.Job{ID: "j"}, pages, &domain.DetectResult{}, nil)
	require.NoError(t, err)
	require.Len(t, result.Pages, 1)
	assert.Equal(t, 40, result.Pages[0].Width)
	assert.Equal(t, 60, result.Pages[0].Height)
	assert.NotNil(t, result.Pages[0].Blocks)
	assert.Empty(t, result.Pages[0].Blocks)
}

func TestRecognizeTruncatesOnCountMismatch(t *testing.T) {
	rec := regionRecognizerFake{preds: []domain.LinePrediction{{Text: "only", Confidence: 1.7}}}
	o := NewOrchestrator(nil, nil, rec, nil, 0)
	detect := &domain.DetectResult{Pages: []domain.DetectPage{{
		PageIndex: 0, Width: 100, Height: 100,
		Boxes: []domain.Box{{X1: 0, Y1: 0, X2: 10, Y2: 10}, {X1: 0, Y1: 20, X2: 10, Y2: 30}},
	}}}

	result, err := o.RecognizeFromBoxes(context.Background(), &domain.Job{ID: "j"}, []image.Image{image.NewRGBA(image.Rect(0, 0, 100, 100))}, detect, nil)
	require.NoError(t, err)
	require.Len(t, result.Pages[0].Blocks, 1)
	assert.Equal(t, "only", result.Pages[0].Blocks[0].Text)
	assert.Equal(t, 1.0, result.Pages[0].Blocks[0].Confidence)
}

func TestRecognizeAbortsWhenProgressFails(t *testing.T) {
	stop := errors.New("superseded")
	o := NewOrchestrator(nil, nil, regionRecognizerFake{}, nil, 0)
	pages := []image.Image{image.NewRGBA(image.Rect(0, 0, 5, 5)), image.NewRGBA(image.Rect(0, 0, 5, 5))}

	_, err := o.RecognizeFromBoxes(context.Background(), &domain.Job{ID: "j"}, pages, &domain.DetectResult{}, func(context.Context, int, int) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func TestDecodePagesRejectsEmptyDocument(t *testing.T) {
	o := NewOrchestrator(decoderFake{}, nil, nil, nil, 0)
	_, err := o.DecodePages(context.Background(), &domain.Job{ID: "j"}, []byte("x"))
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestRandomBlockIDShape(t *testing.T) {
	id := randomBlockID(3, 7)
	assert.Regexp(t, `^3-7-[0-9a-f]{8}$`, id)
	assert.NotEqual(t, id, randomBlockID(3, 7))
}
