package domain

import "fmt"

var validTransitions = map[JobStatus]map[JobStatus]bool{
	StatusPendingUpload: {
		StatusUploaded: true,
	},
	StatusUploaded: {
		StatusQueued: true,
	},
	StatusQueued: {
		StatusQueued:         true,
		StatusQueuedNoWorker: true,
		StatusRunning:        true,
		StatusFailed:         true,
	},
	StatusQueuedNoWorker: {
		StatusQueued:         true,
		StatusQueuedNoWorker: true,
		StatusQueuedDetect:   true,
		StatusQueuedOCR:      true,
		StatusRunning:        true,
		StatusFailed:         true,
	},
	StatusQueuedDetect: {
		StatusQueuedDetect:   true,
		StatusQueuedNoWorker: true,
		StatusRunning:        true,
		StatusFailed:         true,
	},
	StatusQueuedOCR: {
		StatusQueuedOCR:      true,
		StatusQueuedNoWorker: true,
		StatusRunning:        true,
		StatusFailed:         true,
	},
	StatusRunning: {
		StatusDetectDone: true,
		StatusDone:       true,
		StatusFailed:     true,
	},
	StatusDetectDone: {
		StatusDetectDone:   true,
		StatusQueuedOCR:    true,
		StatusQueuedDetect: true,
	},
	StatusDone: {
		StatusDone:   true,
		StatusQueued: true,
	},
	StatusFailed: {
		StatusQueued:       true,
		StatusQueuedDetect: true,
		StatusQueuedOCR:    true,
	},
}

// IsValidTransition reports whether a job may move from one status to another.
// Self-loops are listed explicitly where a payload edit or requeue keeps the status.
func IsValidTransition(from, to JobStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// CheckTransition returns ErrInvalidTransition for out-of-graph moves.
func CheckTransition(from, to JobStatus) error {
	if IsValidTransition(from, to) {
		return nil
	}
	return WrapError(ErrInvalidTransition, "check transition", fmt.Errorf("%s -> %s", from, to))
}

// SourcesFor lists every status that may move to the given target.
func SourcesFor(to JobStatus) []JobStatus {
	out := make([]JobStatus, 0, len(validTransitions))
	for _, from := range AllStatuses() {
		if validTransitions[from][to] {
			out = append(out, from)
		}
	}
	return out
}

// QueuedStatusFor maps a task to the status a job holds while the task waits in the queue.
func QueuedStatusFor(task TaskName) JobStatus {
	switch task {
	case TaskRunDetectJob:
		return StatusQueuedDetect
	case TaskRunOCRJob:
		return StatusQueuedOCR
	default:
		return StatusQueued
	}
}
