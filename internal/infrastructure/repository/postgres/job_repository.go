package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/docscan/internal/core/domain"
)

const jobColumns = `job_id, tenant_id, status, generation, pending_task, input_object_key, original_filename,
content_type, size_bytes, checksum, page_count, processed_pages, progress, error, detect_result,
result_object_key, result, created_at, updated_at`

type JobRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	return EnsureSchema(ctx, r.db)
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	detect, err := marshalNullable(job.DetectResult)
	if err != nil {
		return fmt.Errorf("marshal detect result: %w", err)
	}
	result, err := marshalNullable(job.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO ocr_jobs (`+jobColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
`,
		job.ID, job.TenantID, string(job.Status), job.Generation, nullString(string(job.PendingTask)),
		nullString(job.InputKey), nullString(job.OriginalFilename), nullString(job.ContentType),
		job.SizeBytes, nullString(job.Checksum), nullInt(job.PageCount), job.ProcessedPages, job.Progress,
		nullString(job.Error), detect, nullString(job.ResultKey), result, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM ocr_jobs WHERE job_id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get job by id", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// List returns the newest jobs first. An empty tenant lists every tenant.
func (r *JobRepository) List(ctx context.Context, tenantID string, limit int) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+jobColumns+`
FROM ocr_jobs
WHERE ($1 = '' OR tenant_id = $1)
ORDER BY created_at DESC
LIMIT $2
`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// Update writes the allow-listed fields of upd. With a condition, the row must still hold one of
// cond.Statuses and cond.Generation, otherwise domain.ErrConflict is returned and nothing changes.
func (r *JobRepository) Update(ctx context.Context, id string, cond domain.JobCondition, upd domain.JobUpdate) (*domain.Job, error) {
	set, args, err := buildSet(upd)
	if err != nil {
		return nil, err
	}
	args = append([]any{id}, args...)
	set = append(set, fmt.Sprintf("updated_at = $%d", len(args)+1))
	args = append(args, r.now())

	where := []string{"job_id = $1"}
	if len(cond.Statuses) > 0 {
		placeholders := make([]string, 0, len(cond.Statuses))
		for _, status := range cond.Statuses {
			args = append(args, string(status))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if cond.Generation != nil {
		args = append(args, *cond.Generation)
		where = append(where, fmt.Sprintf("generation = $%d", len(args)))
	}

	query := "UPDATE ocr_jobs SET " + strings.Join(set, ", ") +
		" WHERE " + strings.Join(where, " AND ") +
		" RETURNING " + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if cond.IsZero() {
		return nil, domain.WrapError(domain.ErrNotFound, "update job", fmt.Errorf("id=%s", id))
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM ocr_jobs WHERE job_id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check job existence: %w", err)
	}
	if !exists {
		return nil, domain.WrapError(domain.ErrNotFound, "update job", fmt.Errorf("id=%s", id))
	}
	return nil, domain.WrapError(domain.ErrConflict, "update job", fmt.Errorf("id=%s no longer matches status/generation", id))
}

// buildSet turns the allow-listed update into SET fragments. Placeholders start at $2;
// $1 is the job id.
func buildSet(upd domain.JobUpdate) ([]string, []any, error) {
	var (
		set  []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)+1))
	}

	if upd.Status != nil {
		if !upd.Status.Valid() {
			return nil, nil, domain.WrapError(domain.ErrInvalidInput, "update job", fmt.Errorf("unknown status %q", *upd.Status))
		}
		add("status", string(*upd.Status))
	}
	if upd.Generation != nil {
		add("generation", *upd.Generation)
	}
	if upd.PendingTask != nil {
		add("pending_task", nullString(string(*upd.PendingTask)))
	}
	if upd.InputKey != nil {
		add("input_object_key", nullString(*upd.InputKey))
	}
	if upd.OriginalFilename != nil {
		add("original_filename", nullString(*upd.OriginalFilename))
	}
	if upd.ContentType != nil {
		add("content_type", nullString(*upd.ContentType))
	}
	if upd.SizeBytes != nil {
		add("size_bytes", *upd.SizeBytes)
	}
	if upd.Checksum != nil {
		add("checksum", nullString(*upd.Checksum))
	}
	if upd.PageCount != nil {
		add("page_count", *upd.PageCount)
	}
	if upd.ProcessedPages != nil {
		add("processed_pages", *upd.ProcessedPages)
	}
	if upd.Progress != nil {
		add("progress", min(max(*upd.Progress, 0), 100))
	}
	if upd.Error != nil {
		add("error", nullString(*upd.Error))
	}
	switch {
	case upd.DetectResult != nil:
		raw, err := json.Marshal(upd.DetectResult)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal detect result: %w", err)
		}
		add("detect_result", raw)
	case upd.ClearDetect:
		add("detect_result", nil)
	}
	if upd.ResultKey != nil {
		add("result_object_key", nullString(*upd.ResultKey))
	}
	switch {
	case upd.Result != nil:
		raw, err := json.Marshal(upd.Result)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal result: %w", err)
		}
		add("result", raw)
	case upd.ClearResult:
		add("result", nil)
	}
	return set, args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                   domain.Job
		status                string
		pendingTask, inputKey sql.NullString
		filename, ctype       sql.NullString
		checksum, errMessage  sql.NullString
		resultKey             sql.NullString
		sizeBytes, pageCount  sql.NullInt64
		detectRaw, resultRaw  []byte
	)
	err := row.Scan(
		&job.ID, &job.TenantID, &status, &job.Generation, &pendingTask, &inputKey, &filename,
		&ctype, &sizeBytes, &checksum, &pageCount, &job.ProcessedPages, &job.Progress, &errMessage, &detectRaw,
		&resultKey, &resultRaw, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	job.PendingTask = domain.TaskName(pendingTask.String)
	job.InputKey = inputKey.String
	job.OriginalFilename = filename.String
	job.ContentType = ctype.String
	job.SizeBytes = sizeBytes.Int64
	job.Checksum = checksum.String
	job.Error = errMessage.String
	job.ResultKey = resultKey.String
	if pageCount.Valid {
		n := int(pageCount.Int64)
		job.PageCount = &n
	}
	if len(detectRaw) > 0 {
		var doc domain.DetectResult
		if err := json.Unmarshal(detectRaw, &doc); err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "decode stored detect_result", err)
		}
		job.DetectResult = &doc
	}
	if len(resultRaw) > 0 {
		var doc domain.OCRResult
		if err := json.Unmarshal(resultRaw, &doc); err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "decode stored result", err)
		}
		job.Result = &doc
	}
	return &job, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func marshalNullable[T any](doc *T) (any, error) {
	if doc == nil {
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
