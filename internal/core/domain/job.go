package domain

import (
	"fmt"
	"time"
)

type JobStatus string

const (
	StatusPendingUpload  JobStatus = "PENDING_UPLOAD"
	StatusUploaded       JobStatus = "UPLOADED"
	StatusQueued         JobStatus = "QUEUED"
	StatusQueuedNoWorker JobStatus = "QUEUED_NO_WORKER"
	StatusQueuedDetect   JobStatus = "QUEUED_DETECT"
	StatusQueuedOCR      JobStatus = "QUEUED_OCR"
	StatusRunning        JobStatus = "RUNNING"
	StatusDetectDone     JobStatus = "DETECT_DONE"
	StatusDone           JobStatus = "DONE"
	StatusFailed         JobStatus = "FAILED"
)

// AllStatuses lists the closed status set in lifecycle order.
func AllStatuses() []JobStatus {
	return []JobStatus{
		StatusPendingUpload,
		StatusUploaded,
		StatusQueued,
		StatusQueuedNoWorker,
		StatusQueuedDetect,
		StatusQueuedOCR,
		StatusRunning,
		StatusDetectDone,
		StatusDone,
		StatusFailed,
	}
}

func (s JobStatus) Valid() bool {
	for _, known := range AllStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// QueuedStatuses are the states a worker may claim a job from.
func QueuedStatuses() []JobStatus {
	return []JobStatus{StatusQueued, StatusQueuedNoWorker, StatusQueuedDetect, StatusQueuedOCR}
}

// HasDetectOutput reports whether a job in this status may carry a detect result from the
// current generation. Other statuses are either before detection or after a full rerun reset it.
func (s JobStatus) HasDetectOutput() bool {
	switch s {
	case StatusDetectDone, StatusQueuedOCR, StatusDone:
		return true
	default:
		return false
	}
}

func (s JobStatus) IsQueued() bool {
	switch s {
	case StatusQueued, StatusQueuedNoWorker, StatusQueuedDetect, StatusQueuedOCR:
		return true
	default:
		return false
	}
}

type TaskName string

const (
	TaskRunJob       TaskName = "run_job"
	TaskRunDetectJob TaskName = "run_detect_job"
	TaskRunOCRJob    TaskName = "run_ocr_job"
)

func (t TaskName) Valid() bool {
	switch t {
	case TaskRunJob, TaskRunDetectJob, TaskRunOCRJob:
		return true
	default:
		return false
	}
}

// IsDetect reports whether the task runs the detection stage.
func (t TaskName) IsDetect() bool {
	return t == TaskRunJob || t == TaskRunDetectJob
}

type RerunMode string

const (
	RerunFull      RerunMode = "full"
	RerunRecognize RerunMode = "recognize"
)

func ParseRerunMode(raw string) (RerunMode, error) {
	switch RerunMode(raw) {
	case "", RerunFull:
		return RerunFull, nil
	case RerunRecognize:
		return RerunRecognize, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse rerun mode", fmt.Errorf("unknown mode %q", raw))
	}
}

type Job struct {
	ID               string        `json:"job_id"`
	TenantID         string        `json:"tenant_id"`
	Status           JobStatus     `json:"status"`
	Generation       int64         `json:"generation"`
	PendingTask      TaskName      `json:"pending_task,omitempty"`
	InputKey         string        `json:"input_object_key,omitempty"`
	OriginalFilename string        `json:"original_filename,omitempty"`
	ContentType      string        `json:"content_type,omitempty"`
	SizeBytes        int64         `json:"size_bytes,omitempty"`
	Checksum         string        `json:"checksum,omitempty"`
	PageCount        *int          `json:"page_count"`
	ProcessedPages   int           `json:"processed_pages"`
	Progress         int           `json:"progress"`
	Error            string        `json:"error,omitempty"`
	DetectResult     *DetectResult `json:"detect_result,omitempty"`
	ResultKey        string        `json:"result_object_key,omitempty"`
	Result           *OCRResult    `json:"result,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// HasDetectResult reports whether the job carries a non-empty detect result.
func (j *Job) HasDetectResult() bool {
	return j.DetectResult != nil && len(j.DetectResult.Pages) > 0
}

// JobUpdate is the allow-list of mutable job fields. Nil pointers are left untouched;
// pointers to zero strings write NULL. Clear* flags reset the nullable documents.
type JobUpdate struct {
	Status           *JobStatus
	Generation       *int64
	PendingTask      *TaskName
	InputKey         *string
	OriginalFilename *string
	ContentType      *string
	SizeBytes        *int64
	Checksum         *string
	PageCount        *int
	ProcessedPages   *int
	Progress         *int
	Error            *string
	DetectResult     *DetectResult
	ClearDetect      bool
	ResultKey        *string
	Result           *OCRResult
	ClearResult      bool
}

// IsEmpty reports whether the update touches no field.
func (u JobUpdate) IsEmpty() bool {
	return u == JobUpdate{}
}

// JobCondition guards a conditional update. Zero value means unconditional.
type JobCondition struct {
	Statuses   []JobStatus
	Generation *int64
}

func (c JobCondition) IsZero() bool {
	return len(c.Statuses) == 0 && c.Generation == nil
}

// TaskEnvelope is the queue message that asks a worker to run one stage for one job.
type TaskEnvelope struct {
	Task         TaskName  `json:"task"`
	JobID        string    `json:"job_id"`
	Generation   int64     `json:"generation"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

type DispatchOutcome int

const (
	DispatchOK DispatchOutcome = iota
	DispatchNotDelivered
)

// DispatchResult reports whether a best-effort dispatch reached the queue.
type DispatchResult struct {
	Outcome DispatchOutcome
	Reason  string
}

func Dispatched() DispatchResult {
	return DispatchResult{Outcome: DispatchOK}
}

func DispatchFailed(err error) DispatchResult {
	reason := "unknown dispatch failure"
	if err != nil {
		reason = err.Error()
	}
	return DispatchResult{Outcome: DispatchNotDelivered, Reason: reason}
}

func (r DispatchResult) OK() bool {
	return r.Outcome == DispatchOK
}

// IntentOutcome is returned to API callers after a dispatching intent.
type IntentOutcome struct {
	JobID          string    `json:"job_id"`
	Status         JobStatus `json:"status"`
	Generation     int64     `json:"generation"`
	Task           TaskName  `json:"task"`
	WorkerQueued   bool      `json:"worker_queued"`
	DispatchReason string    `json:"dispatch_error,omitempty"`
}

type UploadInput struct {
	Filename    string
	ContentType string
	Data        []byte
}

func InputObjectKey(tenantID, jobID, filename string) string {
	return fmt.Sprintf("inputs/%s/%s/%s", tenantID, jobID, filename)
}

func DetectObjectKey(tenantID, jobID string) string {
	return fmt.Sprintf("results/%s/%s/detect.json", tenantID, jobID)
}

func ResultObjectKey(tenantID, jobID string) string {
	return fmt.Sprintf("results/%s/%s/result.json", tenantID, jobID)
}

// TaskOutcome reports what a worker did with one task envelope.
type TaskOutcome string

const (
	TaskCompleted TaskOutcome = "completed"
	TaskFailed    TaskOutcome = "failed"
	TaskSkipped   TaskOutcome = "skipped"
	TaskDiscarded TaskOutcome = "discarded"
)
