package inference

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/kirillkom/docscan/internal/core/domain"
)

type Detector struct {
	client  *Client
	refiner bool
}

func NewDetector(client *Client, refiner bool) *Detector {
	return &Detector{client: client, refiner: refiner}
}

type detectResponse struct {
	// Boxes holds one quadrilateral per region as four [x, y] points.
	Boxes [][][2]float64 `json:"boxes"`
}

// Detect returns axis-aligned boxes in img's pixel space. No regions is an empty slice.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]domain.Box, error) {
	encoded, err := encodePNG(img)
	if err != nil {
		return nil, err
	}

	var response detectResponse
	request := map[string]any{
		"image":   encoded,
		"refiner": d.refiner,
	}
	if err := d.client.postJSON(ctx, "/v1/detect", request, &response, "detect"); err != nil {
		return nil, err
	}
	return polygonsToBoxes(response.Boxes)
}

func polygonsToBoxes(polygons [][][2]float64) ([]domain.Box, error) {
	boxes := make([]domain.Box, 0, len(polygons))
	for i, poly := range polygons {
		if len(poly) == 0 {
			return nil, domain.WrapError(domain.ErrInvalidInput, "detect", fmt.Errorf("region %d has no points", i))
		}
		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for _, pt := range poly {
			minX, maxX = math.Min(minX, pt[0]), math.Max(maxX, pt[0])
			minY, maxY = math.Min(minY, pt[1]), math.Max(maxY, pt[1])
		}
		if maxX <= minX || maxY <= minY {
			continue
		}
		boxes = append(boxes, domain.Box{X1: int(minX), Y1: int(minY), X2: int(maxX), Y2: int(maxY)})
	}
	return boxes, nil
}
