package pages

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kirillkom/docscan/internal/core/domain"
)

// Rasterizer renders PDF documents into page images.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) ([]image.Image, error)
}

type Extractor struct {
	rasterizer Rasterizer
}

func NewExtractor(rasterizer Rasterizer) *Extractor {
	return &Extractor{rasterizer: rasterizer}
}

// Decode returns one RGBA image per page. PDFs go through the rasterizer; anything else is
// decoded as a single raster image.
func (e *Extractor) Decode(ctx context.Context, data []byte, contentType, filename string) ([]image.Image, error) {
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode document", fmt.Errorf("empty source %s", filename))
	}

	if IsPDF(data, contentType, filename) {
		if e.rasterizer == nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "decode document", fmt.Errorf("pdf rasterizer is not configured"))
		}
		pages, err := e.rasterizer.Rasterize(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("rasterize pdf: %w", err)
		}
		out := make([]image.Image, 0, len(pages))
		for _, page := range pages {
			out = append(out, toRGBA(page))
		}
		return out, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode document", fmt.Errorf("unsupported image %s: %w", filename, err))
	}
	return []image.Image{toRGBA(img)}, nil
}

func IsPDF(data []byte, contentType, filename string) bool {
	if strings.EqualFold(strings.TrimSpace(strings.Split(contentType, ";")[0]), "application/pdf") {
		return true
	}
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return true
	}
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
