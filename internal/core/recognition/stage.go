package recognition

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"strings"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/core/ports"
)

// Stage recognizes text regions on one page through a line-oriented recognizer.
type Stage struct {
	recognizer ports.LineRecognizer
	split      SplitConfig
}

func NewStage(recognizer ports.LineRecognizer, split SplitConfig) *Stage {
	return &Stage{recognizer: recognizer, split: split.normalize()}
}

type region struct {
	start int
	count int
}

// Recognize returns one prediction per box, in box order. originalHeights carries the
// page-space height of each box when img has been rescaled; missing entries fall back
// to the crop height. When the recognizer returns fewer lines than requested, only the
// regions it fully covered are returned.
func (s *Stage) Recognize(ctx context.Context, img image.Image, boxes []domain.Box, originalHeights []int) ([]domain.LinePrediction, error) {
	if len(boxes) == 0 {
		return []domain.LinePrediction{}, nil
	}

	lines := make([]image.Image, 0, len(boxes))
	regions := make([]region, 0, len(boxes))
	for i, box := range boxes {
		crop := cropImage(img, image.Rect(box.X1, box.Y1, box.X2, box.Y2))
		originalHeight := 0
		if i < len(originalHeights) {
			originalHeight = originalHeights[i]
		}

		strips := s.split.PlanStrips(originalHeight, crop.Bounds().Dy())
		if strips == nil {
			regions = append(regions, region{start: len(lines), count: 1})
			lines = append(lines, crop)
			continue
		}
		regions = append(regions, region{start: len(lines), count: len(strips)})
		cb := crop.Bounds()
		for _, strip := range strips {
			lines = append(lines, cropImage(crop, image.Rect(cb.Min.X, cb.Min.Y+strip.Top, cb.Max.X, cb.Min.Y+strip.Bottom)))
		}
	}

	preds, err := s.recognizer.RecognizeLines(ctx, lines)
	if err != nil {
		return nil, fmt.Errorf("recognize %d lines: %w", len(lines), err)
	}

	out := make([]domain.LinePrediction, 0, len(regions))
	for _, r := range regions {
		if r.start+r.count > len(preds) {
			break
		}
		out = append(out, mergeStrips(preds[r.start:r.start+r.count]))
	}
	return out, nil
}

// mergeStrips joins strip texts top to bottom and keeps the weakest confidence.
func mergeStrips(strips []domain.LinePrediction) domain.LinePrediction {
	if len(strips) == 1 {
		return strips[0]
	}
	texts := make([]string, 0, len(strips))
	confidence := strips[0].Confidence
	for _, strip := range strips {
		texts = append(texts, strip.Text)
		confidence = min(confidence, strip.Confidence)
	}
	return domain.LinePrediction{Text: strings.Join(texts, "\n"), Confidence: confidence}
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// cropImage clamps rect to img bounds, keeping at least one pixel in each dimension.
func cropImage(img image.Image, rect image.Rectangle) image.Image {
	b := img.Bounds()
	x1 := clamp(rect.Min.X, b.Min.X, b.Max.X-1)
	y1 := clamp(rect.Min.Y, b.Min.Y, b.Max.Y-1)
	x2 := clamp(max(rect.Max.X, x1+1), x1+1, b.Max.X)
	y2 := clamp(max(rect.Max.Y, y1+1), y1+1, b.Max.Y)
	r := image.Rect(x1, y1, x2, y2)

	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return min(max(v, lo), hi)
}
