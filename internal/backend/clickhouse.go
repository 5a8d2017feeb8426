package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/good-yellow-bee/firehunt/internal/models"
)

// timeColumnToken is replaced in hunt queries with the window column
// selected by the use_index_time flag.
const timeColumnToken = "{time_field}"

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string `yaml:"addresses"`
	// Database is the ClickHouse database name.
	Database string `yaml:"database"`
	// Username for authentication.
	Username string `yaml:"username"`
	// Password for authentication.
	Password string `yaml:"password"`
	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int `yaml:"max_open_conns"`
	// DialTimeout is the connection timeout.
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// Compression enables LZ4 compression.
	Compression bool `yaml:"compression"`
	// EventTimeColumn is the column substituted for {time_field} by
	// default (default "event_time").
	EventTimeColumn string `yaml:"event_time_column"`
	// IndexTimeColumn is substituted when the hunt sets
	// use_index_time (default "index_time").
	IndexTimeColumn string `yaml:"index_time_column"`
}

// ClickHouseExecutor runs hunt queries against ClickHouse. Queries are
// full SQL with @start and @end named parameters; the optional
// {time_field} token selects the windowing column.
type ClickHouseExecutor struct {
	config *ClickHouseConfig
	db     *sql.DB
}

// NewClickHouseExecutor creates an executor with defaults applied.
func NewClickHouseExecutor(config *ClickHouseConfig) *ClickHouseExecutor {
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 5
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.EventTimeColumn == "" {
		config.EventTimeColumn = "event_time"
	}
	if config.IndexTimeColumn == "" {
		config.IndexTimeColumn = "index_time"
	}
	return &ClickHouseExecutor{config: config}
}

// Open initializes the ClickHouse connection.
func (e *ClickHouseExecutor) Open() error {
	opts := &clickhouse.Options{
		Addr: e.config.Addresses,
		Auth: clickhouse.Auth{
			Database: e.config.Database,
			Username: e.config.Username,
			Password: e.config.Password,
		},
		DialTimeout:  e.config.DialTimeout,
		MaxOpenConns: e.config.MaxOpenConns,
	}
	if e.config.Compression {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	db := clickhouse.OpenDB(opts)

	ctx, cancel := context.WithTimeout(context.Background(), e.config.DialTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	e.db = db
	return nil
}

// Close closes the database connection.
func (e *ClickHouseExecutor) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

// Instance identifies the backend for submission attribution.
func (e *ClickHouseExecutor) Instance() string {
	return strings.Join(e.config.Addresses, ",")
}

// Run executes the query over [start, end) and converts each row to an
// event record.
func (e *ClickHouseExecutor) Run(ctx context.Context, query string, start, end time.Time, opts Options) ([]models.Event, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	column := e.config.EventTimeColumn
	if opts.UseIndexTime {
		column = e.config.IndexTimeColumn
	}
	query = strings.ReplaceAll(query, timeColumnToken, column)

	rows, err := e.db.QueryContext(ctx, query,
		sql.Named("start", start.UTC()),
		sql.Named("end", end.UTC()),
	)
	if err != nil {
		return nil, fmt.Errorf("query clickhouse: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var events []models.Event
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		event := make(models.Event, len(columns))
		for i, name := range columns {
			event[name] = values[i]
		}
		events = append(events, event)

		if opts.Limit > 0 && len(events) >= opts.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return events, nil
}
