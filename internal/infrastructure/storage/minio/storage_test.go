package minio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/docscan/internal/core/domain"
)

func newTestStorage(t *testing.T, handler http.HandlerFunc) *Storage {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	storage, err := New(Config{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "docscan",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return storage
}

func TestStorageGetMapsNoSuchKeyToNotFound(t *testing.T) {
	storage := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message><Key>jobs/x</Key><BucketName>docscan</BucketName></Error>`))
	})

	_, err := storage.Get(context.Background(), "jobs/x")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestStoragePutSendsContentType(t *testing.T) {
	var gotType, gotPath string
	storage := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			gotType = r.Header.Get("Content-Type")
			gotPath = r.URL.Path
		}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	})

	if err := storage.Put(context.Background(), "outputs/acme/j1/result.json", []byte(`{}`), "application/json"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if gotType != "application/json" {
		t.Fatalf("expected application/json content type, got %q", gotType)
	}
	if gotPath != "/docscan/outputs/acme/j1/result.json" {
		t.Fatalf("unexpected object path %q", gotPath)
	}
}
