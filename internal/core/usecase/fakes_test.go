package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/core/pipeline"
)

type transitionCall struct {
	from, to domain.JobStatus
}

// memJobStore applies conditional updates the way the postgres repository does and fails
// the test on any out-of-graph status write.
type memJobStore struct {
	t           *testing.T
	mu          sync.Mutex
	jobs        map[string]*domain.Job
	transitions []transitionCall
	updates     int
	updateErr   error
	onUpdate    func(id string, upd domain.JobUpdate)
	// failWrites fails the next n status writes to the keyed status.
	failWrites map[domain.JobStatus]int
}

func newMemJobStore(t *testing.T, jobs ...*domain.Job) *memJobStore {
	s := &memJobStore{t: t, jobs: map[string]*domain.Job{}}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	return s
}

func (s *memJobStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("duplicate job %s", job.ID)
	}
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *memJobStore) GetByID(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get job", errors.New(id))
	}
	clone := *job
	return &clone, nil
}

func (s *memJobStore) List(_ context.Context, tenantID string, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Job{}
	for _, job := range s.jobs {
		if tenantID != "" && job.TenantID != tenantID {
			continue
		}
		out = append(out, *job)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memJobStore) Update(_ context.Context, id string, cond domain.JobCondition, upd domain.JobUpdate) (*domain.Job, error) {
	if s.onUpdate != nil {
		s.onUpdate(id, upd)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	if upd.Status != nil && s.failWrites[*upd.Status] > 0 {
		s.failWrites[*upd.Status]--
		return nil, errors.New("db connection reset")
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "update job", errors.New(id))
	}
	if len(cond.Statuses) > 0 && !containsStatus(cond.Statuses, job.Status) {
		return nil, domain.WrapError(domain.ErrConflict, "update job", fmt.Errorf("status is %s", job.Status))
	}
	if cond.Generation != nil && *cond.Generation != job.Generation {
		return nil, domain.WrapError(domain.ErrConflict, "update job", fmt.Errorf("generation is %d", job.Generation))
	}
	if upd.Status != nil {
		if !domain.IsValidTransition(job.Status, *upd.Status) {
			s.t.Errorf("out-of-graph transition %s -> %s", job.Status, *upd.Status)
		}
		s.transitions = append(s.transitions, transitionCall{from: job.Status, to: *upd.Status})
	}
	s.updates++
	applyUpdate(job, upd)
	clone := *job
	return &clone, nil
}

// bump simulates another actor moving the job to a new generation.
func (s *memJobStore) bump(id string, status domain.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = status
	s.jobs[id].Generation++
}

func (s *memJobStore) snapshot(id string) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func applyUpdate(job *domain.Job, upd domain.JobUpdate) {
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.Generation != nil {
		job.Generation = *upd.Generation
	}
	if upd.PendingTask != nil {
		job.PendingTask = *upd.PendingTask
	}
	if upd.InputKey != nil {
		job.InputKey = *upd.InputKey
	}
	if upd.OriginalFilename != nil {
		job.OriginalFilename = *upd.OriginalFilename
	}
	if upd.ContentType != nil {
		job.ContentType = *upd.ContentType
	}
	if upd.SizeBytes != nil {
		job.SizeBytes = *upd.SizeBytes
	}
	if upd.Checksum != nil {
		job.Checksum = *upd.Checksum
	}
	if upd.PageCount != nil {
		job.PageCount = upd.PageCount
	}
	if upd.ProcessedPages != nil {
		job.ProcessedPages = *upd.ProcessedPages
	}
	if upd.Progress != nil {
		job.Progress = *upd.Progress
	}
	if upd.Error != nil {
		job.Error = *upd.Error
	}
	if upd.ClearDetect {
		job.DetectResult = nil
	}
	if upd.DetectResult != nil {
		job.DetectResult = upd.DetectResult
	}
	if upd.ResultKey != nil {
		job.ResultKey = *upd.ResultKey
	}
	if upd.ClearResult {
		job.Result = nil
	}
	if upd.Result != nil {
		job.Result = upd.Result
	}
	job.UpdatedAt = time.Now().UTC()
}

func containsStatus(list []domain.JobStatus, status domain.JobStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
	puts    int
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memStorage) Put(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	s.objects[key] = append([]byte(nil), data...)
	s.types[key] = contentType
	return nil
}

func (s *memStorage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get object", errors.New(key))
	}
	return data, nil
}

type queueFake struct {
	sent []domain.TaskEnvelope
	err  error
}

func (q *queueFake) Dispatch(_ context.Context, env domain.TaskEnvelope) domain.DispatchResult {
	if q.err != nil {
		return domain.DispatchFailed(q.err)
	}
	q.sent = append(q.sent, env)
	return domain.Dispatched()
}

type counterFake struct {
	pages int
}

func (c counterFake) CountPages([]byte, string, string) (int, bool) {
	return c.pages, c.pages > 0
}

type exporterFake struct {
	exported *domain.OCRResult
}

func (e *exporterFake) Export(w io.Writer, result *domain.OCRResult) error {
	e.exported = result
	_, err := io.WriteString(w, "xlsx")
	return err
}

// loopStages retries without sleeping.
type loopStages struct {
	calls    int
	attempts []int
}

func (l *loopStages) Execute(ctx context.Context, _ string, attempts int, fn func(context.Context) error) error {
	l.attempts = append(l.attempts, attempts)
	var err error
	for i := 0; i < attempts; i++ {
		l.calls++
		if err = fn(ctx); err == nil {
			return nil
		}
		if domain.IsKind(err, domain.ErrInvalidInput) || domain.IsKind(err, domain.ErrConflict) {
			return err
		}
	}
	return err
}

type pipelineFake struct {
	pages       int
	decodeErr   error
	detectErr   error
	recognize   func(detect *domain.DetectResult) *domain.OCRResult
	recErr      error
	beforeStore func()
	detectCalls int
	recCalls    int
}

func (p *pipelineFake) DecodePages(context.Context, *domain.Job, []byte) ([]image.Image, error) {
	if p.decodeErr != nil {
		return nil, p.decodeErr
	}
	pages := make([]image.Image, p.pages)
	for i := range pages {
		pages[i] = image.NewRGBA(image.Rect(0, 0, 100, 200))
	}
	return pages, nil
}

func (p *pipelineFake) DetectOnly(_ context.Context, job *domain.Job, pages []image.Image) (*domain.DetectResult, error) {
	p.detectCalls++
	if p.detectErr != nil {
		return nil, p.detectErr
	}
	if p.beforeStore != nil {
		p.beforeStore()
	}
	out := &domain.DetectResult{JobID: job.ID}
	for i := range pages {
		out.Pages = append(out.Pages, domain.DetectPage{
			PageIndex: i, Width: 100, Height: 200,
			Boxes: []domain.Box{{X1: 1, Y1: 1, X2: 50, Y2: 20}},
		})
	}
	return out, nil
}

func (p *pipelineFake) RecognizeFromBoxes(ctx context.Context, job *domain.Job, pages []image.Image, detect *domain.DetectResult, progress pipeline.ProgressFunc) (*domain.OCRResult, error) {
	p.recCalls++
	if p.recErr != nil {
		return nil, p.recErr
	}
	if p.beforeStore != nil {
		p.beforeStore()
	}
	for i := range pages {
		if err := progress(ctx, i+1, len(pages)); err != nil {
			return nil, err
		}
	}
	if p.recognize != nil {
		return p.recognize(detect), nil
	}
	out := &domain.OCRResult{JobID: job.ID, PipelineVersion: domain.PipelineVersion}
	for _, page := range detect.Pages {
		rp := domain.ResultPage{PageIndex: page.PageIndex, Width: page.Width, Height: page.Height, Blocks: []domain.Block{}}
		for j, box := range page.Boxes {
			rp.Blocks = append(rp.Blocks, domain.Block{BlockID: fmt.Sprintf("%d-%d-%d", page.PageIndex, j, p.recCalls), Box: box, Text: "text", Confidence: 0.9, Score: 1})
		}
		out.Pages = append(out.Pages, rp)
	}
	return out, nil
}

type lockerFake struct {
	err      error
	acquired []string
	released int
}

func (l *lockerFake) Acquire(_ context.Context, jobID string) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired = append(l.acquired, jobID)
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}
