package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docscan/internal/core/domain"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := domain.TaskEnvelope{
		Task:         domain.TaskRunOCRJob,
		JobID:        "job-1",
		Generation:   4,
		DispatchedAt: time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC),
	}

	raw, err := EncodeEnvelope(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"task":"run_ocr_job","job_id":"job-1","generation":4,"dispatched_at":"2026-10-15T09:30:00Z"}`, string(raw))

	got, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestDecodeEnvelopeRejectsMalformedMessages(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"task":"run_job"}`,
		`{"task":"run_everything","job_id":"job-1"}`,
	} {
		_, err := DecodeEnvelope([]byte(raw))
		assert.True(t, domain.IsKind(err, domain.ErrInvalidInput), "payload %s: %v", raw, err)
	}
}
