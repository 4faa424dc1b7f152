package detection

import (
	"context"
	"fmt"
	"image"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/core/ports"
)

// Stage runs the text detector on one page and reports boxes in that page's pixel space.
type Stage struct {
	detector ports.TextDetector
	resizer  ports.ImageResizer
	maxSide  int
}

// NewStage builds a detection stage. maxSide <= 0 disables the inference downscale.
func NewStage(detector ports.TextDetector, resizer ports.ImageResizer, maxSide int) *Stage {
	return &Stage{detector: detector, resizer: resizer, maxSide: maxSide}
}

// Detect returns the text regions of page. An empty slice is a valid result.
func (s *Stage) Detect(ctx context.Context, page image.Image) ([]domain.Box, error) {
	bounds := page.Bounds()
	if bounds.Empty() {
		return []domain.Box{}, nil
	}

	input := page
	if s.maxSide > 0 && s.resizer != nil && max(bounds.Dx(), bounds.Dy()) > s.maxSide {
		input = s.resizer.FitMaxSide(page, s.maxSide)
	}

	raw, err := s.detector.Detect(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("detect text regions: %w", err)
	}

	ib := input.Bounds()
	scaleX := float64(bounds.Dx()) / float64(ib.Dx())
	scaleY := float64(bounds.Dy()) / float64(ib.Dy())

	boxes := make([]domain.Box, 0, len(raw))
	for _, b := range raw {
		box := domain.Box{
			X1: int(float64(b.X1-ib.Min.X) * scaleX),
			Y1: int(float64(b.Y1-ib.Min.Y) * scaleY),
			X2: int(float64(b.X2-ib.Min.X) * scaleX),
			Y2: int(float64(b.Y2-ib.Min.Y) * scaleY),
		}
		box = clampBox(box, bounds.Dx(), bounds.Dy())
		if box.X2 <= box.X1 || box.Y2 <= box.Y1 {
			continue
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}

func clampBox(b domain.Box, width, height int) domain.Box {
	b.X1 = min(max(b.X1, 0), width)
	b.X2 = min(max(b.X2, 0), width)
	b.Y1 = min(max(b.Y1, 0), height)
	b.Y2 = min(max(b.Y2, 0), height)
	return b
}
