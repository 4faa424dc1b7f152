package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidTransition(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{StatusPendingUpload, StatusUploaded, true},
		{StatusPendingUpload, StatusDone, false},
		{StatusUploaded, StatusQueued, true},
		{StatusQueued, StatusRunning, true},
		{StatusQueuedNoWorker, StatusRunning, true},
		{StatusQueuedDetect, StatusRunning, true},
		{StatusQueuedOCR, StatusRunning, true},
		{StatusQueued, StatusQueuedNoWorker, true},
		{StatusQueued, StatusDone, false},
		{StatusRunning, StatusDetectDone, true},
		{StatusRunning, StatusDone, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusQueued, false},
		{StatusDetectDone, StatusDetectDone, true},
		{StatusDetectDone, StatusQueuedOCR, true},
		{StatusDetectDone, StatusQueuedDetect, true},
		{StatusDetectDone, StatusDone, false},
		{StatusDone, StatusQueued, true},
		{StatusDone, StatusRunning, false},
		{StatusFailed, StatusQueued, true},
		{StatusQueuedNoWorker, StatusQueued, true},
		{JobStatus("BOGUS"), StatusQueued, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, IsValidTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionTargetsStayInsideStatusSet(t *testing.T) {
	for from, targets := range validTransitions {
		assert.Truef(t, from.Valid(), "unknown source %s", from)
		for to := range targets {
			assert.Truef(t, to.Valid(), "unknown target %s from %s", to, from)
		}
	}
}

func TestCheckTransitionWrapsKind(t *testing.T) {
	err := CheckTransition(StatusPendingUpload, StatusDone)
	assert.True(t, IsKind(err, ErrInvalidTransition))
	assert.NoError(t, CheckTransition(StatusDone, StatusQueued))
}

func TestSourcesForRunning(t *testing.T) {
	assert.ElementsMatch(t, QueuedStatuses(), SourcesFor(StatusRunning))
}

func TestQueuedStatusFor(t *testing.T) {
	assert.Equal(t, StatusQueued, QueuedStatusFor(TaskRunJob))
	assert.Equal(t, StatusQueuedDetect, QueuedStatusFor(TaskRunDetectJob))
	assert.Equal(t, StatusQueuedOCR, QueuedStatusFor(TaskRunOCRJob))
}
