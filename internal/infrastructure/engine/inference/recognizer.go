package inference

import (
	"context"
	"image"

	"github.com/kirillkom/docscan/internal/core/domain"
)

type Recognizer struct {
	client *Client
}

func NewRecognizer(client *Client) *Recognizer {
	return &Recognizer{client: client}
}

type recognizeResponse struct {
	Predictions []struct {
		Text string  `json:"text"`
		Prob float64 `json:"prob"`
	} `json:"predictions"`
}

// RecognizeLines sends all crops in one batch call.
func (r *Recognizer) RecognizeLines(ctx context.Context, crops []image.Image) ([]domain.LinePrediction, error) {
	if len(crops) == 0 {
		return []domain.LinePrediction{}, nil
	}

	images := make([]string, 0, len(crops))
	for _, crop := range crops {
		encoded, err := encodePNG(crop)
		if err != nil {
			return nil, err
		}
		images = append(images, encoded)
	}

	var response recognizeResponse
	if err := r.client.postJSON(ctx, "/v1/recognize", map[string]any{"images": images}, &response, "recognize"); err != nil {
		return nil, err
	}

	out := make([]domain.LinePrediction, 0, len(response.Predictions))
	for _, p := range response.Predictions {
		out = append(out, domain.LinePrediction{Text: p.Text, Confidence: p.Prob})
	}
	return out, nil
}
