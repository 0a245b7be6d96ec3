package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/apperrors"
	"github.com/queryglass-ai/queryglass-engine/pkg/logging"
	"github.com/queryglass-ai/queryglass-engine/pkg/models"
	"github.com/queryglass-ai/queryglass-engine/pkg/retry"
	sqlcheck "github.com/queryglass-ai/queryglass-engine/pkg/sql"
)

// healthCheckInterval is how often the background loop pings the backend.
const healthCheckInterval = time.Minute

// Config holds connection pool configuration.
type Config struct {
	// ConnString is a PostgreSQL connection string (URL or key=value form).
	ConnString     string
	MinConnections int32
	MaxConnections int32
	// AcquireTimeout bounds how long a caller waits for a pooled connection.
	AcquireTimeout time.Duration
	// QueryTimeout bounds each statement's execution.
	QueryTimeout time.Duration
	// CatalogTTL gates the raw catalog cache.
	CatalogTTL time.Duration
	// MaxConnLifetime / MaxConnIdleTime default to 1h / 30m when zero.
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Pool owns the pooled connections to the target database. It executes
// statements with bounded timeouts, reports query-level failures as
// status-tagged results rather than errors, and caches the raw catalog
// with a TTL.
type Pool struct {
	pool   *pgxpool.Pool
	cfg    *Config
	logger *zap.Logger

	closeOnce  sync.Once
	stopHealth chan struct{}

	catalogMu sync.RWMutex
	catalog   []TableMeta
	catalogAt time.Time
}

// New creates a connection pool and verifies connectivity. Malformed
// connection configuration is a fatal construction error.
func New(ctx context.Context, cfg *Config, logger *zap.Logger) (*Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("%w: parse connection string: %v", apperrors.ErrConfiguration, err)
	}

	poolConfig.MinConns = cfg.MinConnections
	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 5
	}

	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}

	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = time.Minute * 30
	}

	pgPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Transient startup failures (database still coming up) get a few retries.
	if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return pgPool.Ping(ctx)
	}); err != nil {
		pgPool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Pool{
		pool:       pgPool,
		cfg:        cfg,
		logger:     logger.Named("database"),
		stopHealth: make(chan struct{}),
	}

	go p.healthLoop()

	p.logger.Info("Connected to database",
		zap.String("conn", logging.SanitizeConnectionString(cfg.ConnString)),
		zap.Int32("min_conns", poolConfig.MinConns),
		zap.Int32("max_conns", poolConfig.MaxConns))

	return p, nil
}

// healthLoop periodically pings the backend so pool degradation shows up in
// logs before a user query trips over it. Failures are never fatal.
func (p *Pool) healthLoop() {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			healthCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
				return p.pool.Ping(healthCtx)
			})
			cancel()
			if err != nil {
				p.logger.Warn("Database health check failed",
					zap.String("error", logging.SanitizeError(err)))
			}
		case <-p.stopHealth:
			return
		}
	}
}

// Acquire checks out one connection, waiting at most the configured acquire
// timeout. Exhaustion surfaces as ErrPoolExhausted. The caller must Release
// the connection.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	start := time.Now()
	conn, err := p.pool.Acquire(acquireCtx)
	waited := time.Since(start)

	if err != nil {
		if acquireCtx.Err() != nil {
			p.logger.Warn("Connection acquisition timed out",
				zap.Duration("waited", waited),
				zap.Duration("timeout", p.cfg.AcquireTimeout))
			return nil, fmt.Errorf("%w: no connection available within %s",
				apperrors.ErrPoolExhausted, p.cfg.AcquireTimeout)
		}
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if waited > 100*time.Millisecond {
		p.logger.Debug("Connection acquisition waited", zap.Duration("waited", waited))
	}
	return conn, nil
}

// Execute runs one statement and always returns a status-tagged result;
// query-level failures never surface as errors. Parameters are passed as
// named arguments (@name placeholders) and are screened for injection
// before dispatch.
func (p *Pool) Execute(ctx context.Context, query string, params map[string]any) models.SQLResult {
	start := time.Now()

	if hits := sqlcheck.CheckAllParameters(params); len(hits) > 0 {
		for _, hit := range hits {
			p.logger.Warn("Refused query: parameter failed injection screening",
				zap.String("param", hit.ParamName),
				zap.String("fingerprint", hit.Fingerprint))
		}
		return p.errorResult(query, start,
			fmt.Sprintf("parameter %q rejected by injection screening", hits[0].ParamName))
	}

	conn, err := p.Acquire(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrPoolExhausted) {
			return p.errorResult(query, start, err.Error())
		}
		return p.errorResult(query, start, fmt.Sprintf("connection error: %v", err))
	}
	defer conn.Release()

	queryCtx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	var args []any
	if len(params) > 0 {
		args = append(args, pgx.NamedArgs(params))
	}

	rows, err := conn.Query(queryCtx, query, args...)
	if err != nil {
		return p.queryError(query, start, err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columnNames := make([]string, len(fieldDescs))
	columnTypes := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columnNames[i] = string(fd.Name)
		columnTypes[i] = pgTypeNameFromOID(fd.DataTypeOID)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return p.queryError(query, start, fmt.Errorf("read row values: %w", err))
		}

		rowMap := make(map[string]any, len(columnNames))
		for i, col := range columnNames {
			rowMap[col] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return p.queryError(query, start, err)
	}

	elapsed := elapsedMS(start)
	p.logger.Debug("Query executed",
		zap.String("query", logging.SanitizeQuery(query)),
		zap.Int("rows", len(resultRows)),
		zap.Float64("elapsed_ms", elapsed))

	return models.SQLResult{
		Query:           query,
		Rows:            resultRows,
		ColumnNames:     columnNames,
		ColumnTypes:     columnTypes,
		RowCount:        len(resultRows),
		ExecutionTimeMS: elapsed,
		Status:          models.StatusSuccess,
	}
}

// queryError folds a driver failure into an error-status result, mapping
// deadline expiry to a distinguishable timeout message.
func (p *Pool) queryError(query string, start time.Time, err error) models.SQLResult {
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("query timeout after %s", p.cfg.QueryTimeout)
	}

	p.logger.Warn("Query failed",
		zap.String("query", logging.SanitizeQuery(query)),
		zap.String("error", logging.SanitizeError(err)))

	return p.errorResult(query, start, msg)
}

func (p *Pool) errorResult(query string, start time.Time, msg string) models.SQLResult {
	result := models.ErrorResult(query, msg)
	result.ExecutionTimeMS = elapsedMS(start)
	return result
}

// Ping verifies backend connectivity.
func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases all connections and stops the health loop. Idempotent.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.stopHealth)
		p.pool.Close()
		p.logger.Info("Connection pool closed")
	})
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
