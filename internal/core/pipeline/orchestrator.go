package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/core/ports"
)

// PageDetector is the detection stage contract consumed by the orchestrator.
type PageDetector interface {
	Detect(ctx context.Context, page image.Image) ([]domain.Box, error)
}

// RegionRecognizer is the recognition stage contract consumed by the orchestrator.
type RegionRecognizer interface {
	Recognize(ctx context.Context, img image.Image, boxes []domain.Box, originalHeights []int) ([]domain.LinePrediction, error)
}

// ProgressFunc is called after each recognized page. A non-nil error aborts the run.
type ProgressFunc func(ctx context.Context, processed, total int) error

type Orchestrator struct {
	decoder    ports.PageDecoder
	detector   PageDetector
	recognizer RegionRecognizer
	resizer    ports.ImageResizer
	ocrMaxSide int
	blockID    func(pageIndex, boxIndex int) string
}

func NewOrchestrator(
	decoder ports.PageDecoder,
	detector PageDetector,
	recognizer RegionRecognizer,
	resizer ports.ImageResizer,
	ocrMaxSide int,
) *Orchestrator {
	return &Orchestrator{
		decoder:    decoder,
		detector:   detector,
		recognizer: recognizer,
		resizer:    resizer,
		ocrMaxSide: ocrMaxSide,
		blockID:    randomBlockID,
	}
}

// DecodePages turns the stored source into page images. Zero pages is a validation error.
func (o *Orchestrator) DecodePages(ctx context.Context, job *domain.Job, source []byte) ([]image.Image, error) {
	pages, err := o.decoder.Decode(ctx, source, job.ContentType, job.OriginalFilename)
	if err != nil {
		return nil, fmt.Errorf("decode pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode pages", errors.New("no pages could be read from the file"))
	}
	return pages, nil
}

// DetectOnly runs detection over every page and assembles the detect document.
func (o *Orchestrator) DetectOnly(ctx context.Context, job *domain.Job, pages []image.Image) (*domain.DetectResult, error) {
	result := &domain.DetectResult{JobID: job.ID, Pages: make([]domain.DetectPage, 0, len(pages))}
	for i, page := range pages {
		boxes, err := o.detector.Detect(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("detect page %d: %w", i, err)
		}
		b := page.Bounds()
		result.Pages = append(result.Pages, domain.DetectPage{
			PageIndex: i,
			Width:     b.Dx(),
			Height:    b.Dy(),
			Boxes:     boxes,
		})
		slog.Debug("page_detected", "job_id", job.ID, "page_index", i, "boxes", len(boxes))
	}
	return result, nil
}

// RecognizeFromBoxes recognizes the stored boxes of every decoded page. Output boxes are
// always the stored ones, whatever scale the recognizer was fed.
func (o *Orchestrator) RecognizeFromBoxes(
	ctx context.Context,
	job *domain.Job,
	pages []image.Image,
	detect *domain.DetectResult,
	progress ProgressFunc,
) (*domain.OCRResult, error) {
	result := &domain.OCRResult{
		JobID:           job.ID,
		PipelineVersion: domain.PipelineVersion,
		Pages:           make([]domain.ResultPage, 0, len(pages)),
	}
	for i, page := range pages {
		stored, _ := detect.PageByIndex(i)
		resultPage, err := o.recognizePage(ctx, job.ID, i, page, stored)
		if err != nil {
			return nil, fmt.Errorf("recognize page %d: %w", i, err)
		}
		result.Pages = append(result.Pages, resultPage)

		if progress != nil {
			if err := progress(ctx, i+1, len(pages)); err != nil {
				return nil, fmt.Errorf("report progress: %w", err)
			}
		}
	}
	return result, nil
}

func (o *Orchestrator) recognizePage(ctx context.Context, jobID string, pageIndex int, page image.Image, stored domain.DetectPage) (domain.ResultPage, error) {
	b := page.Bounds()
	width, height := stored.Width, stored.Height
	if width <= 0 {
		width = b.Dx()
	}
	if height <= 0 {
		height = b.Dy()
	}
	out := domain.ResultPage{PageIndex: pageIndex, Width: width, Height: height, Blocks: []domain.Block{}}
	if len(stored.Boxes) == 0 {
		return out, nil
	}

	prepared := o.preprocess(page)
	pb := prepared.Bounds()
	scaleX := float64(pb.Dx()) / float64(width)
	scaleY := float64(pb.Dy()) / float64(height)

	cropBoxes := make([]domain.Box, len(stored.Boxes))
	heights := make([]int, len(stored.Boxes))
	for i, box := range stored.Boxes {
		cropBoxes[i] = domain.Box{
			X1: pb.Min.X + int(float64(box.X1)*scaleX),
			Y1: pb.Min.Y + int(float64(box.Y1)*scaleY),
			X2: pb.Min.X + int(float64(box.X2)*scaleX),
			Y2: pb.Min.Y + int(float64(box.Y2)*scaleY),
		}
		heights[i] = box.Height()
	}

	preds, err := o.recognizer.Recognize(ctx, prepared, cropBoxes, heights)
	if err != nil {
		return domain.ResultPage{}, err
	}
	texts := postprocessTexts(preds)

	n := min(len(stored.Boxes), len(preds), len(texts))
	if n != len(stored.Boxes) || n != len(preds) {
		slog.Warn("recognition_count_mismatch",
			"job_id", jobID,
			"page_index", pageIndex,
			"boxes", len(stored.Boxes),
			"predictions", len(preds),
			"kept", n,
		)
	}

	out.Blocks = make([]domain.Block, 0, n)
	for i := 0; i < n; i++ {
		out.Blocks = append(out.Blocks, domain.Block{
			BlockID:    o.blockID(pageIndex, i),
			Box:        stored.Boxes[i],
			Text:       texts[i],
			Confidence: clampConfidence(preds[i].Confidence),
			Score:      1.0,
		})
	}
	return out, nil
}

func (o *Orchestrator) preprocess(page image.Image) image.Image {
	b := page.Bounds()
	if o.resizer == nil || o.ocrMaxSide <= 0 || max(b.Dx(), b.Dy()) <= o.ocrMaxSide {
		return page
	}
	return o.resizer.FitMaxSide(page, o.ocrMaxSide)
}

func postprocessTexts(preds []domain.LinePrediction) []string {
	out := make([]string, len(preds))
	for i, p := range preds {
		out[i] = strings.TrimSpace(p.Text)
	}
	return out
}

func clampConfidence(v float64) float64 {
	return min(max(v, 0), 1)
}

func randomBlockID(pageIndex, boxIndex int) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%d-%s", pageIndex, boxIndex, suffix)
}
