package inference

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
)

const DefaultDPI = 150

type Rasterizer struct {
	client *Client
	dpi    int
}

func NewRasterizer(client *Client, dpi int) *Rasterizer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Rasterizer{client: client, dpi: dpi}
}

// Rasterize renders every PDF page to an RGB image.
func (r *Rasterizer) Rasterize(ctx context.Context, pdf []byte) ([]image.Image, error) {
	var response struct {
		Pages []string `json:"pages"`
	}
	request := map[string]any{
		"document": base64.StdEncoding.EncodeToString(pdf),
		"dpi":      r.dpi,
	}
	if err := r.client.postJSON(ctx, "/v1/rasterize", request, &response, "rasterize"); err != nil {
		return nil, err
	}

	pages := make([]image.Image, 0, len(response.Pages))
	for i, raw := range response.Pages {
		img, err := decodePNG(raw)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}
