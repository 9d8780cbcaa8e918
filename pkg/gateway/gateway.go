// Package gateway executes validated, tenant-isolated SQL against the
// expense database and shapes results for the API surface.
package gateway

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	pkgerrors "github.com/spendlens/spendlens/pkg/errors"
	"github.com/spendlens/spendlens/pkg/infrastructure/metrics"
	"github.com/spendlens/spendlens/pkg/infrastructure/pool"
	"github.com/spendlens/spendlens/pkg/models"
)

// Config carries execution limits.
type Config struct {
	// DefaultTimeout bounds statements whose caller passes no timeout.
	DefaultTimeout time.Duration
	// MaxRows caps the number of rows returned to the caller. Zero
	// means unlimited.
	MaxRows int64
}

func (c *Config) setDefaults() {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.MaxRows < 0 {
		c.MaxRows = 0
	}
}

// Gateway runs read-only statements against the pooled database. It
// trusts its callers to have validated and isolated the SQL already;
// its own job is bounded execution and faithful error mapping.
type Gateway struct {
	pool    pool.ConnectionPool
	logger  zerolog.Logger
	metrics metrics.Collector
	config  Config
}

// New creates a query execution gateway.
func New(p pool.ConnectionPool, logger zerolog.Logger, collector metrics.Collector, config Config) *Gateway {
	config.setDefaults()
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	return &Gateway{
		pool:    p,
		logger:  logger.With().Str("component", "gateway").Logger(),
		metrics: collector,
		config:  config,
	}
}

// Execute runs one statement with the given positional parameters under
// a per-request timeout and returns every row as loosely-typed values.
// A zero timeout falls back to the configured default. The deadline
// covers the full lifecycle: statement start, row streaming, and
// result assembly.
func (g *Gateway) Execute(ctx context.Context, query string, params []any, timeout time.Duration) (*models.ExecutionResult, error) {
	if timeout <= 0 {
		timeout = g.config.DefaultTimeout
	}

	db, err := g.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	rows, err := db.QueryContext(execCtx, query, params...)
	if err != nil {
		return nil, g.fail(execCtx, err, query, timeout)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, g.fail(execCtx, err, query, timeout)
	}

	result := &models.ExecutionResult{Columns: columns, Rows: [][]interface{}{}}
	for rows.Next() {
		if g.config.MaxRows > 0 && result.RowCount >= g.config.MaxRows {
			break
		}
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, g.fail(execCtx, err, query, timeout)
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		result.Rows = append(result.Rows, values)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, g.fail(execCtx, err, query, timeout)
	}

	elapsed := time.Since(start)
	result.ExecutionTimeMS = float64(elapsed.Microseconds()) / 1000.0

	g.metrics.IncrementCounter("gateway_queries_total", "status", "ok")
	g.metrics.RecordHistogram("gateway_query_duration_seconds", elapsed.Seconds())
	g.logger.Debug().
		Int64("rows", result.RowCount).
		Dur("duration", elapsed).
		Msg("Query executed")
	return result, nil
}

// fail maps a driver error onto the assistant error taxonomy. Deadline
// expiry wins over whatever secondary error the driver reports once its
// context is gone.
func (g *Gateway) fail(execCtx context.Context, err error, query string, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		g.metrics.IncrementCounter("gateway_queries_total", "status", "timeout")
		g.logger.Warn().Dur("timeout", timeout).Msg("Query timed out")
		return pkgerrors.Wrap(err, pkgerrors.CodeExecutionTimeout, "query execution timeout").
			WithDetail("timeout", timeout.String())
	}
	if errors.Is(err, sql.ErrConnDone) {
		g.metrics.IncrementCounter("gateway_queries_total", "status", "error")
		return pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "database connection lost")
	}
	g.metrics.IncrementCounter("gateway_queries_total", "status", "error")
	g.logger.Warn().Err(err).Msg("Query failed")
	return pkgerrors.Wrap(err, pkgerrors.CodeExecutionFailed, "query execution failed")
}

// normalizeValue converts driver-specific scan results into values that
// serialize cleanly: byte slices become strings, everything else passes
// through.
func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
