// Package sink moves submissions produced by hunts toward the analysis
// system. Hunts put submissions on a buffered queue; a forwarder drains
// the queue and publishes each submission.
package sink

import (
	"log"

	"github.com/good-yellow-bee/firehunt/internal/metrics"
	"github.com/good-yellow-bee/firehunt/internal/models"
)

const defaultQueueSize = 1024

// Queue buffers submissions between hunt execution and forwarding.
type Queue struct {
	ch chan *models.Submission
}

// NewQueue creates a queue with the given capacity. Zero or negative
// selects the default.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Queue{ch: make(chan *models.Submission, size)}
}

// Put enqueues a submission without blocking. When the queue is full
// the submission is dropped and logged; hunt execution must never
// stall on a slow forwarder.
func (q *Queue) Put(sub *models.Submission) {
	select {
	case q.ch <- sub:
		metrics.SubmissionQueueDepth.Set(float64(len(q.ch)))
	default:
		log.Printf("submission queue full, dropping submission %s (%s)", sub.ID, sub.Name)
		metrics.SubmissionsForwarded.WithLabelValues("dropped").Inc()
	}
}

// Submissions returns the receive side of the queue.
func (q *Queue) Submissions() <-chan *models.Submission {
	return q.ch
}

// Close closes the queue. Callers must not Put after Close.
func (q *Queue) Close() {
	close(q.ch)
}

// Len reports the number of buffered submissions.
func (q *Queue) Len() int {
	return len(q.ch)
}
