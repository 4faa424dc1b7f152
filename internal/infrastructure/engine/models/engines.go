package models

import (
	"context"
	"image"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/core/ports"
)

// Detector resolves the shared detector handle on every call.
type Detector struct {
	handle *Handle[ports.TextDetector]
}

func NewDetector(handle *Handle[ports.TextDetector]) *Detector {
	return &Detector{handle: handle}
}

func (d *Detector) Detect(ctx context.Context, img image.Image) ([]domain.Box, error) {
	detector, err := d.handle.Get(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "detector handle", err)
	}
	return detector.Detect(ctx, img)
}

type Recognizer struct {
	handle *Handle[ports.LineRecognizer]
}

func NewRecognizer(handle *Handle[ports.LineRecognizer]) *Recognizer {
	return &Recognizer{handle: handle}
}

func (r *Recognizer) RecognizeLines(ctx context.Context, crops []image.Image) ([]domain.LinePrediction, error) {
	recognizer, err := r.handle.Get(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "recognizer handle", err)
	}
	return recognizer.RecognizeLines(ctx, crops)
}
