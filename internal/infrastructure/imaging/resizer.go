package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

type Resizer struct {
	scaler draw.Scaler
}

func NewResizer() *Resizer {
	return &Resizer{scaler: draw.CatmullRom}
}

// FitMaxSide downscales img so that max(width, height) <= maxSide, keeping the aspect ratio.
// Images already within bounds are returned unchanged.
func (r *Resizer) FitMaxSide(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || max(w, h) <= maxSide {
		return img
	}

	scale := float64(max(w, h)) / float64(maxSide)
	nw := max(int(float64(w)/scale), 1)
	nh := max(int(float64(h)/scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	r.scaler.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
