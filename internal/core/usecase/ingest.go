package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kirillkom/docscan/internal/core/domain"
)

const defaultContentType = "application/octet-stream"

// Upload stores the source document, marks the job UPLOADED and queues the full pipeline.
func (uc *JobService) Upload(ctx context.Context, tenantID, jobID string, in domain.UploadInput) (*domain.IntentOutcome, error) {
	job, err := uc.load(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(job, "upload", domain.StatusPendingUpload); err != nil {
		return nil, err
	}
	if len(in.Data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("empty file"))
	}

	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" {
		contentType = defaultContentType
	}
	key := domain.InputObjectKey(job.TenantID, job.ID, sanitizeFilename(in.Filename))
	if err := uc.storage.Put(ctx, key, in.Data, contentType); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	sum := sha256.Sum256(in.Data)
	upd := domain.JobUpdate{
		InputKey:         ptr(key),
		OriginalFilename: ptr(in.Filename),
		ContentType:      ptr(contentType),
		SizeBytes:        ptr(int64(len(in.Data))),
		Checksum:         ptr(hex.EncodeToString(sum[:])),
	}
	if uc.counter != nil {
		if pages, ok := uc.counter.CountPages(in.Data, contentType, in.Filename); ok {
			upd.PageCount = ptr(pages)
		}
	}

	uploaded, err := uc.transition(ctx, job, domain.StatusUploaded, upd)
	if err != nil {
		return nil, err
	}
	return uc.enqueue(ctx, uploaded, domain.StatusQueued, domain.TaskRunJob, domain.JobUpdate{})
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || strings.Trim(base, ".") == "" {
		return "document.bin"
	}
	return base
}
