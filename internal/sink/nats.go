package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/good-yellow-bee/firehunt/internal/metrics"
	"github.com/good-yellow-bee/firehunt/internal/models"
)

const (
	// DefaultSubject is the subject submissions are published to when
	// none is configured.
	DefaultSubject = "hunts.submissions"

	connectTimeout    = 10 * time.Second
	reconnectInterval = 5 * time.Second
)

// Forwarder delivers a single submission to its destination.
type Forwarder interface {
	Forward(ctx context.Context, sub *models.Submission) error
	Close()
}

// NATSForwarder publishes submissions as JSON to a NATS subject.
type NATSForwarder struct {
	conn    *nats.Conn
	subject string
}

// NewNATSForwarder connects to NATS and returns a forwarder publishing
// to the given subject.
func NewNATSForwarder(url, subject string) (*NATSForwarder, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(url,
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	log.Printf("submission forwarder connected to NATS at %s, subject %s", url, subject)
	return &NATSForwarder{conn: conn, subject: subject}, nil
}

// Forward publishes one submission.
func (f *NATSForwarder) Forward(ctx context.Context, sub *models.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encoding submission %s: %w", sub.ID, err)
	}
	if err := f.conn.Publish(f.subject, data); err != nil {
		return fmt.Errorf("publishing submission %s: %w", sub.ID, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (f *NATSForwarder) Close() {
	if err := f.conn.Drain(); err != nil {
		f.conn.Close()
	}
}

// Drain consumes the queue until ctx is cancelled or the queue is
// closed, forwarding each submission. Failed submissions are logged
// and dropped; the analysis system deduplicates on replay.
func Drain(ctx context.Context, q *Queue, f Forwarder) {
	for {
		select {
		case <-ctx.Done():
			return
		case sub, ok := <-q.Submissions():
			if !ok {
				return
			}
			metrics.SubmissionQueueDepth.Set(float64(q.Len()))
			if err := f.Forward(ctx, sub); err != nil {
				log.Printf("forwarding submission %s failed: %v", sub.ID, err)
				metrics.SubmissionsForwarded.WithLabelValues("error").Inc()
				continue
			}
			metrics.SubmissionsForwarded.WithLabelValues("ok").Inc()
		}
	}
}
