package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/docscan/internal/core/domain"
)

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func TestDetectorReducesPolygonsToBoxes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/detect" {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload["image"] == "" || payload["refiner"] != true {
			t.Errorf("unexpected payload: %v", payload)
		}
		_, _ = w.Write([]byte(`{"boxes":[
			[[10.7,5],[40,4.2],[41.9,20],[9,21.5]],
			[[3,3],[3,3],[3,3],[3,3]]
		]}`))
	}))
	defer server.Close()

	detector := NewDetector(New(server.URL, Options{}), true)
	boxes, err := detector.Detect(context.Background(), solidImage(64, 32))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	want := []domain.Box{{X1: 9, Y1: 4, X2: 41, Y2: 21}}
	if len(boxes) != 1 || boxes[0] != want[0] {
		t.Fatalf("expected %v, got %v", want, boxes)
	}
}

func TestDetectorEmptyResponseIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"boxes":[]}`))
	}))
	defer server.Close()

	boxes, err := NewDetector(New(server.URL, Options{}), false).Detect(context.Background(), solidImage(8, 8))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if boxes == nil || len(boxes) != 0 {
		t.Fatalf("expected empty non-nil boxes, got %#v", boxes)
	}
}

func TestRecognizerSendsOneBatch(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var payload struct {
			Images []string `json:"images"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(payload.Images) != 3 {
			t.Errorf("expected 3 images, got %d", len(payload.Images))
		}
		_, _ = w.Write([]byte(`{"predictions":[{"text":"a","prob":0.9},{"text":"b","prob":0.8},{"text":"c","prob":0.7}]}`))
	}))
	defer server.Close()

	recognizer := NewRecognizer(New(server.URL, Options{}))
	preds, err := recognizer.RecognizeLines(context.Background(), []image.Image{solidImage(4, 4), solidImage(4, 4), solidImage(4, 4)})
	if err != nil {
		t.Fatalf("RecognizeLines() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single batch call, got %d", calls)
	}
	if len(preds) != 3 || preds[1].Text != "b" || preds[2].Confidence != 0.7 {
		t.Fatalf("unexpected predictions %+v", preds)
	}
}

func TestRecognizerSkipsEmptyBatch(t *testing.T) {
	recognizer := NewRecognizer(New("http://127.0.0.1:1", Options{}))
	preds, err := recognizer.RecognizeLines(context.Background(), nil)
	if err != nil || len(preds) != 0 {
		t.Fatalf("expected empty predictions, got %v %v", preds, err)
	}
}

func TestUnavailableSidecarIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewDetector(New(server.URL, Options{}), false).Detect(context.Background(), solidImage(4, 4))
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if !strings.Contains(err.Error(), "model loading") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestRejectedPayloadIsInvalidInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not a pdf", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	_, err := NewRasterizer(New(server.URL, Options{}), 0).Rasterize(context.Background(), []byte("garbage"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestRasterizerDecodesPages(t *testing.T) {
	var page bytes.Buffer
	if err := png.Encode(&page, solidImage(20, 30)); err != nil {
		t.Fatalf("encode page: %v", err)
	}
	encoded := base64.StdEncoding.EncodeToString(page.Bytes())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["dpi"] != float64(DefaultDPI) {
			t.Errorf("expected default dpi, got %v", payload["dpi"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"pages": []string{encoded, encoded}})
	}))
	defer server.Close()

	pages, err := NewRasterizer(New(server.URL, Options{}), 0).Rasterize(context.Background(), []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Rasterize() error = %v", err)
	}
	if len(pages) != 2 || pages[0].Bounds().Dx() != 20 || pages[0].Bounds().Dy() != 30 {
		t.Fatalf("unexpected pages %d", len(pages))
	}
}

func TestReadyChecksModelEndpoint(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := New(server.URL, Options{}).Ready(context.Background(), "detector"); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	if path != "/v1/models/detector/ready" {
		t.Fatalf("unexpected path %q", path)
	}
}
