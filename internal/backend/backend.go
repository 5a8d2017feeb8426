// Package backend abstracts the search systems hunts query. An
// Executor runs a query over a time window and returns the result rows
// as key/value records.
package backend

import (
	"context"
	"time"

	"github.com/good-yellow-bee/firehunt/internal/models"
)

// Options tune a single query execution.
type Options struct {
	// UseIndexTime windows the query by index time instead of event
	// time.
	UseIndexTime bool
	// Timeout bounds query execution; zero means the backend default.
	Timeout time.Duration
	// Limit caps the number of rows returned; zero means unlimited.
	Limit int
}

// Executor runs hunt queries against one concrete search backend.
type Executor interface {
	// Run executes query over [start, end) and returns the result
	// rows. An error means the window was not covered and must be
	// retried.
	Run(ctx context.Context, query string, start, end time.Time, opts Options) ([]models.Event, error)
	// Instance identifies the backend (host or cluster address) for
	// submission attribution.
	Instance() string
}
