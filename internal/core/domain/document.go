package domain

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

const PipelineVersion = "v2-commercial"

// Box is an axis-aligned region in original page pixel space.
type Box struct {
	X1 int `json:"x1" validate:"gte=0"`
	Y1 int `json:"y1" validate:"gte=0"`
	X2 int `json:"x2" validate:"gtfield=X1"`
	Y2 int `json:"y2" validate:"gtfield=Y1"`
}

func (b Box) Width() int  { return b.X2 - b.X1 }
func (b Box) Height() int { return b.Y2 - b.Y1 }

type DetectPage struct {
	PageIndex int   `json:"page_index" validate:"gte=0"`
	Width     int   `json:"width" validate:"gt=0"`
	Height    int   `json:"height" validate:"gt=0"`
	Boxes     []Box `json:"boxes" validate:"dive"`
}

type DetectResult struct {
	JobID string       `json:"job_id"`
	Pages []DetectPage `json:"pages" validate:"dive"`
}

// PageByIndex returns the stored page with the given index.
func (d *DetectResult) PageByIndex(index int) (DetectPage, bool) {
	if d == nil {
		return DetectPage{}, false
	}
	for _, page := range d.Pages {
		if page.PageIndex == index {
			return page, true
		}
	}
	return DetectPage{}, false
}

type Block struct {
	BlockID    string  `json:"block_id" validate:"required"`
	Box        Box     `json:"box"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	Score      float64 `json:"score"`
}

type ResultPage struct {
	PageIndex int     `json:"page_index" validate:"gte=0"`
	Width     int     `json:"width" validate:"gt=0"`
	Height    int     `json:"height" validate:"gt=0"`
	Blocks    []Block `json:"blocks" validate:"dive"`
}

type OCRResult struct {
	JobID           string       `json:"job_id"`
	PipelineVersion string       `json:"pipeline_version,omitempty"`
	Pages           []ResultPage `json:"pages" validate:"dive"`
}

// LinePrediction is one recognizer output for one region.
type LinePrediction struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func documentValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateDetectResult rejects malformed detect documents before they reach the pipeline.
func ValidateDetectResult(doc *DetectResult) error {
	if doc == nil {
		return WrapError(ErrInvalidInput, "validate detect result", fmt.Errorf("document is empty"))
	}
	if err := documentValidator().Struct(doc); err != nil {
		return WrapError(ErrInvalidInput, "validate detect result", err)
	}
	seen := make(map[int]struct{}, len(doc.Pages))
	for _, page := range doc.Pages {
		if _, dup := seen[page.PageIndex]; dup {
			return WrapError(ErrInvalidInput, "validate detect result", fmt.Errorf("duplicate page_index %d", page.PageIndex))
		}
		seen[page.PageIndex] = struct{}{}
	}
	return nil
}

func ValidateOCRResult(doc *OCRResult) error {
	if doc == nil {
		return WrapError(ErrInvalidInput, "validate ocr result", fmt.Errorf("document is empty"))
	}
	if err := documentValidator().Struct(doc); err != nil {
		return WrapError(ErrInvalidInput, "validate ocr result", err)
	}
	seenPages := make(map[int]struct{}, len(doc.Pages))
	seenBlocks := make(map[string]struct{})
	for _, page := range doc.Pages {
		if _, dup := seenPages[page.PageIndex]; dup {
			return WrapError(ErrInvalidInput, "validate ocr result", fmt.Errorf("duplicate page_index %d", page.PageIndex))
		}
		seenPages[page.PageIndex] = struct{}{}
		for _, block := range page.Blocks {
			if _, dup := seenBlocks[block.BlockID]; dup {
				return WrapError(ErrInvalidInput, "validate ocr result", fmt.Errorf("duplicate block_id %q", block.BlockID))
			}
			seenBlocks[block.BlockID] = struct{}{}
		}
	}
	return nil
}
