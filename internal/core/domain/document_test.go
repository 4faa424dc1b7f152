package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDetectResult(t *testing.T) {
	good := &DetectResult{
		JobID: "job-1",
		Pages: []DetectPage{
			{PageIndex: 0, Width: 900, Height: 1200, Boxes: []Box{{X1: 10, Y1: 10, X2: 50, Y2: 40}}},
			{PageIndex: 1, Width: 900, Height: 1200},
		},
	}
	require.NoError(t, ValidateDetectResult(good))

	degenerate := &DetectResult{Pages: []DetectPage{{PageIndex: 0, Width: 10, Height: 10, Boxes: []Box{{X1: 5, Y1: 1, X2: 5, Y2: 3}}}}}
	assert.True(t, IsKind(ValidateDetectResult(degenerate), ErrInvalidInput))

	dup := &DetectResult{Pages: []DetectPage{{PageIndex: 0, Width: 1, Height: 1}, {PageIndex: 0, Width: 1, Height: 1}}}
	assert.True(t, IsKind(ValidateDetectResult(dup), ErrInvalidInput))

	assert.True(t, IsKind(ValidateDetectResult(nil), ErrInvalidInput))
}

func TestValidateOCRResultRejectsDuplicateBlocks(t *testing.T) {
	doc := &OCRResult{Pages: []ResultPage{{
		PageIndex: 0, Width: 10, Height: 10,
		Blocks: []Block{
			{BlockID: "0-0-a", Box: Box{X1: 0, Y1: 0, X2: 2, Y2: 2}, Confidence: 0.5},
			{BlockID: "0-0-a", Box: Box{X1: 0, Y1: 0, X2: 2, Y2: 2}, Confidence: 0.5},
		},
	}}}
	assert.True(t, IsKind(ValidateOCRResult(doc), ErrInvalidInput))

	doc.Pages[0].Blocks[1].BlockID = "0-1-b"
	assert.NoError(t, ValidateOCRResult(doc))

	doc.Pages[0].Blocks[1].Confidence = 1.5
	assert.True(t, IsKind(ValidateOCRResult(doc), ErrInvalidInput))
}

func TestPageByIndexToleratesMissingPages(t *testing.T) {
	doc := &DetectResult{Pages: []DetectPage{{PageIndex: 2, Width: 1, Height: 1}}}
	_, ok := doc.PageByIndex(0)
	assert.False(t, ok)
	page, ok := doc.PageByIndex(2)
	assert.True(t, ok)
	assert.Equal(t, 2, page.PageIndex)

	var empty *DetectResult
	_, ok = empty.PageByIndex(0)
	assert.False(t, ok)
}

func TestObjectKeys(t *testing.T) {
	assert.Equal(t, "inputs/acme/j1/scan.pdf", InputObjectKey("acme", "j1", "scan.pdf"))
	assert.Equal(t, "results/acme/j1/detect.json", DetectObjectKey("acme", "j1"))
	assert.Equal(t, "results/acme/j1/result.json", ResultObjectKey("acme", "j1"))
}
