package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/docscan/internal/adapters/http/openapi"
	"github.com/kirillkom/docscan/internal/config"
	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/core/ports"
	"github.com/kirillkom/docscan/internal/observability/metrics"
)

const (
	serviceName     = "api"
	tenantHeader    = "X-Tenant-Id"
	defaultTenantID = "default"
	maxFormMemory   = 32 << 20
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type Router struct {
	cfg       config.Config
	intents   ports.JobIntents
	reader    ports.JobReader
	validator *openapi.Validator
	metrics   *metrics.HTTPServerMetrics
}

// NewRouter builds the OCR jobs API. validator and httpMetrics are optional.
func NewRouter(
	cfg config.Config,
	intents ports.JobIntents,
	reader ports.JobReader,
	validator *openapi.Validator,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:       cfg,
		intents:   intents,
		reader:    reader,
		validator: validator,
		metrics:   httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/ocr/jobs", rt.createJob)
	api.HandleFunc("GET /v1/ocr/jobs", rt.listJobs)
	api.HandleFunc("GET /v1/ocr/jobs/{job_id}", rt.getJob)
	api.HandleFunc("POST /v1/ocr/jobs/{job_id}/upload", rt.upload)
	api.HandleFunc("GET /v1/ocr/jobs/{job_id}/detect-result", rt.getDetectResult)
	api.HandleFunc("PATCH /v1/ocr/jobs/{job_id}/detect-result", rt.editDetectResult)
	api.HandleFunc("GET /v1/ocr/jobs/{job_id}/result", rt.getResult)
	api.HandleFunc("PATCH /v1/ocr/jobs/{job_id}/result", rt.editResult)
	api.HandleFunc("GET /v1/ocr/jobs/{job_id}/result/export.xlsx", rt.exportResult)
	api.HandleFunc("POST /v1/ocr/jobs/{job_id}/run-detect", rt.intent("run_detect", rt.intents.RunDetect))
	api.HandleFunc("POST /v1/ocr/jobs/{job_id}/run-ocr", rt.intent("run_ocr", rt.intents.RunOCR))
	api.HandleFunc("POST /v1/ocr/jobs/{job_id}/requeue", rt.intent("requeue", rt.intents.Requeue))
	api.HandleFunc("POST /v1/ocr/jobs/{job_id}/rerun", rt.rerun)

	var limited http.Handler = api
	limited = rateLimitMiddleware(limited, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	limited = backpressureMiddleware(limited, rt.cfg.MaxInFlight, rt.cfg.BackpressureWait)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.yaml", rt.openapiDocument)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.Handle("/", limited)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openapiDocument(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Spec())
}

func (rt *Router) createJob(w http.ResponseWriter, r *http.Request) {
	job, err := rt.intents.CreateJob(r.Context(), tenantFromRequest(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordIntent("create", job.Status, "", nil)
	writeJSON(w, http.StatusCreated, job)
}

func (rt *Router) listJobs(w http.ResponseWriter, r *http.Request) {
	var limit int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "parse limit", err))
		return
	}
	if limit < 0 {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "parse limit", fmt.Errorf("limit must be positive, got %d", limit)))
		return
	}

	jobs, err := rt.reader.List(r.Context(), tenantFromRequest(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := rt.reader.Get(r.Context(), tenantFromRequest(r), r.PathValue("job_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) upload(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": fmt.Sprintf("file exceeds %d bytes", tooLarge.Limit)})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form is required"})
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "read upload", err))
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	outcome, err := rt.intents.Upload(r.Context(), tenantFromRequest(r), r.PathValue("job_id"), domain.UploadInput{
		Filename:    fileHeader.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.writeOutcome(w, "upload", outcome)
}

func (rt *Router) getDetectResult(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.reader.DetectResult(r.Context(), tenantFromRequest(r), r.PathValue("job_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) editDetectResult(w http.ResponseWriter, r *http.Request) {
	var doc domain.DetectResult
	if err := rt.decodeBody(r, "DetectResult", &doc); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := rt.intents.EditDetectResult(r.Context(), tenantFromRequest(r), r.PathValue("job_id"), &doc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordIntent("edit_detect_result", job.Status, "", nil)
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) getResult(w http.ResponseWriter, r *http.Request) {
	job, err := rt.reader.Get(r.Context(), tenantFromRequest(r), r.PathValue("job_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if job.Status != domain.StatusDone || job.Result == nil {
		writeError(w, r, domain.WrapError(domain.ErrNotFound, "get result", fmt.Errorf("job %s has no result (status %s)", job.ID, job.Status)))
		return
	}
	writeJSON(w, http.StatusOK, job.Result)
}

func (rt *Router) editResult(w http.ResponseWriter, r *http.Request) {
	var doc domain.OCRResult
	if err := rt.decodeBody(r, "OCRResult", &doc); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := rt.intents.EditResult(r.Context(), tenantFromRequest(r), r.PathValue("job_id"), &doc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordIntent("edit_result", job.Status, "", nil)
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) exportResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	var buf bytes.Buffer
	if err := rt.reader.ExportResult(r.Context(), tenantFromRequest(r), jobID, &buf); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, jobID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (rt *Router) rerun(w http.ResponseWriter, r *http.Request) {
	var rawMode string
	if err := runtime.BindQueryParameter("form", true, false, "mode", r.URL.Query(), &rawMode); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "parse mode", err))
		return
	}
	mode, err := domain.ParseRerunMode(rawMode)
	if err != nil {
		writeError(w, r, err)
		return
	}

	outcome, err := rt.intents.Rerun(r.Context(), tenantFromRequest(r), r.PathValue("job_id"), mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.writeOutcome(w, "rerun_"+string(mode), outcome)
}

type intentFunc func(ctx context.Context, tenantID, jobID string) (*domain.IntentOutcome, error)

func (rt *Router) intent(name string, fn intentFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outcome, err := fn(r.Context(), tenantFromRequest(r), r.PathValue("job_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		rt.writeOutcome(w, name, outcome)
	}
}

func (rt *Router) writeOutcome(w http.ResponseWriter, intent string, outcome *domain.IntentOutcome) {
	var dispatched *bool
	if outcome.Task != "" {
		dispatched = &outcome.WorkerQueued
	}
	rt.recordIntent(intent, outcome.Status, outcome.Task, dispatched)
	writeJSON(w, http.StatusAccepted, outcome)
}

func (rt *Router) recordIntent(intent string, status domain.JobStatus, task domain.TaskName, dispatched *bool) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.RecordIntent(serviceName, intent, string(status), string(task), dispatched)
}

// decodeBody validates the raw body against the named schema before decoding it into dst.
func (rt *Router) decodeBody(r *http.Request, schema string, dst any) error {
	body := io.Reader(r.Body)
	if rt.cfg.MaxUploadBytes > 0 {
		body = io.LimitReader(r.Body, rt.cfg.MaxUploadBytes)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "read request body", err)
	}
	if rt.validator != nil {
		if err := rt.validator.ValidateBody(schema, raw); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request body", err)
	}
	return nil
}

func tenantFromRequest(r *http.Request) string {
	tenantID := strings.TrimSpace(r.Header.Get(tenantHeader))
	if tenantID == "" {
		return defaultTenantID
	}
	return tenantID
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		loggerFromContext(r.Context()).Error("http_request_failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("http_write_json_failed", "error", err)
	}
}
