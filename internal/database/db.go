package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool. The pool is replaceable at
// runtime: the scan orchestrator issues one disconnect+reconnect attempt
// when the health probe fails.
type DB struct {
	mu   sync.RWMutex
	pool *pgxpool.Pool
	cfg  Config
}

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection pool.
func NewDB(cfg Config) (*DB, error) {
	pool, err := newPool(cfg, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return &DB{pool: pool, cfg: cfg}, nil
}

func newPool(cfg Config, timeout time.Duration) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

// Pool returns the current connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.pool
}

// HealthCheck runs a short probe query with a 5 second timeout.
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var one int
	if err := db.Pool().QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Reconnect closes the pool and establishes a fresh one with a 10 second
// timeout. Used once per scan after a failed health probe.
func (db *DB) Reconnect(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.pool != nil {
		db.pool.Close()
		db.pool = nil
	}

	pool, err := newPool(db.cfg, 10*time.Second)
	if err != nil {
		return fmt.Errorf("database reconnect failed: %w", err)
	}
	db.pool = pool
	return nil
}

// Close closes the database connection.
func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.pool != nil {
		db.pool.Close()
		db.pool = nil
	}
}

// RunMigrations creates the tables this system owns. The market-data tables
// (candles, technical_indicators, funding_rates) are seeded by the data
// pipeline and only read here; they are created if missing so a fresh
// environment boots cleanly.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS predictions (
			id UUID PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			score DECIMAL(6, 2) NOT NULL,
			confidence DECIMAL(5, 4) NOT NULL,
			direction SMALLINT NOT NULL DEFAULT 0,
			reasons TEXT[] NOT NULL DEFAULT '{}',
			entry_price DECIMAL(20, 8) NOT NULL,
			features JSONB,
			model_version VARCHAR(50) NOT NULL,
			copy_action VARCHAR(10),
			copy_side VARCHAR(5),
			copy_size DECIMAL(20, 8),
			actual_label SMALLINT,
			exit_price DECIMAL(20, 8),
			paper_pnl DECIMAL(20, 8),
			paper_pnl_pct DECIMAL(10, 4),
			correct BOOLEAN,
			validated_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_symbol_ts ON predictions(symbol, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_unvalidated ON predictions(timestamp) WHERE validated_at IS NULL`,

		`CREATE TABLE IF NOT EXISTS independent_positions (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL DEFAULT 'long',
			entry_price DECIMAL(20, 8) NOT NULL,
			size DECIMAL(20, 8) NOT NULL,
			notional_usd DECIMAL(20, 8) NOT NULL,
			leverage INT NOT NULL,
			tp_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			sl_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			timeout_at TIMESTAMPTZ NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'open',
			confirmed_by_target BOOLEAN NOT NULL DEFAULT FALSE,
			prediction_score DECIMAL(6, 2) NOT NULL DEFAULT 0,
			prediction_reasons TEXT[] NOT NULL DEFAULT '{}',
			exit_price DECIMAL(20, 8),
			exit_reason VARCHAR(20),
			realized_pnl DECIMAL(20, 8),
			realized_pnl_pct DECIMAL(10, 4),
			created_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_independent_symbol_status ON independent_positions(symbol, status)`,

		`CREATE TABLE IF NOT EXISTS copy_actions (
			id UUID PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			action VARCHAR(10) NOT NULL,
			side VARCHAR(5) NOT NULL,
			size DECIMAL(20, 8) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			notional DECIMAL(20, 8) NOT NULL,
			leverage INT NOT NULL,
			scale_factor DECIMAL(12, 6) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_copy_actions_symbol_ts ON copy_actions(symbol, timestamp)`,

		`CREATE TABLE IF NOT EXISTS candles (
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(5) NOT NULL,
			open_time TIMESTAMPTZ NOT NULL,
			open DECIMAL(20, 8) NOT NULL,
			high DECIMAL(20, 8) NOT NULL,
			low DECIMAL(20, 8) NOT NULL,
			close DECIMAL(20, 8) NOT NULL,
			volume DECIMAL(24, 8) NOT NULL,
			PRIMARY KEY (symbol, timeframe, open_time)
		)`,

		`CREATE TABLE IF NOT EXISTS technical_indicators (
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(5) NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			rsi DECIMAL(10, 4),
			macd DECIMAL(20, 8),
			macd_signal DECIMAL(20, 8),
			macd_histogram DECIMAL(20, 8),
			bb_upper DECIMAL(20, 8),
			bb_middle DECIMAL(20, 8),
			bb_lower DECIMAL(20, 8),
			atr DECIMAL(20, 8),
			PRIMARY KEY (symbol, timeframe, timestamp)
		)`,

		`CREATE TABLE IF NOT EXISTS funding_rates (
			symbol VARCHAR(20) NOT NULL,
			funding_rate DECIMAL(12, 8) NOT NULL,
			funding_time TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (symbol, funding_time)
		)`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool().Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
