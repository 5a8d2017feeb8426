package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/good-yellow-bee/firehunt/internal/models"
)

func TestQueuePutAndReceive(t *testing.T) {
	q := NewQueue(4)
	sub := models.NewSubmission()
	sub.Name = "test hunt"
	q.Put(sub)

	select {
	case got := <-q.Submissions():
		if got.ID != sub.ID {
			t.Errorf("got submission %s, want %s", got.ID, sub.ID)
		}
	default:
		t.Fatal("queue should hold one submission")
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(1)
	q.Put(models.NewSubmission())
	// Must not block even though the buffer is full.
	done := make(chan struct{})
	go func() {
		q.Put(models.NewSubmission())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Put blocked on a full queue")
	}
	if q.Len() != 1 {
		t.Errorf("queue length = %d, want 1", q.Len())
	}
}

type recordingForwarder struct {
	got  []*models.Submission
	fail bool
}

func (r *recordingForwarder) Forward(_ context.Context, sub *models.Submission) error {
	if r.fail {
		return errors.New("broker unavailable")
	}
	r.got = append(r.got, sub)
	return nil
}

func (r *recordingForwarder) Close() {}

func TestDrainForwardsAll(t *testing.T) {
	q := NewQueue(8)
	a, b := models.NewSubmission(), models.NewSubmission()
	q.Put(a)
	q.Put(b)
	q.Close()

	f := &recordingForwarder{}
	Drain(context.Background(), q, f)

	if len(f.got) != 2 {
		t.Fatalf("forwarded %d submissions, want 2", len(f.got))
	}
	if f.got[0].ID != a.ID || f.got[1].ID != b.ID {
		t.Error("submissions forwarded out of order")
	}
}

func TestDrainContinuesAfterFailure(t *testing.T) {
	q := NewQueue(8)
	q.Put(models.NewSubmission())
	q.Close()

	f := &recordingForwarder{fail: true}
	done := make(chan struct{})
	go func() {
		Drain(context.Background(), q, f)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not finish after forward failure")
	}
}

func TestDrainStopsOnCancel(t *testing.T) {
	q := NewQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Drain(ctx, q, &recordingForwarder{})
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not stop on context cancellation")
	}
}
