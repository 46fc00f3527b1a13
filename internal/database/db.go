// Package database wraps the PostgreSQL pool and the repositories over the
// signal pipeline's tables: channels, messages, patterns, rules, signals,
// consensus events and backtest runs.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection pool and verifies it
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "database").Logger()
	log.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool, log: log}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info().Msg("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info().Msg("running database migrations")

	migrations := []string{
		// Monitored channels
		`CREATE TABLE IF NOT EXISTS channels (
			id SERIAL PRIMARY KEY,
			name VARCHAR(200) NOT NULL,
			source VARCHAR(50) NOT NULL DEFAULT 'telegram',
			external_id VARCHAR(200) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (source, external_id)
		)`,

		// Raw channel messages
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			channel_id INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			author VARCHAR(200),
			text TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			parse_state VARCHAR(20) NOT NULL DEFAULT 'unparsed',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_parse_state ON messages(parse_state)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at)`,

		// Extraction patterns
		`CREATE TABLE IF NOT EXISTS patterns (
			id SERIAL PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			category VARCHAR(20) NOT NULL,
			expression TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_category ON patterns(category)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_active ON patterns(is_active)`,

		// Consensus rules
		`CREATE TABLE IF NOT EXISTS rules (
			id SERIAL PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			min_traders INTEGER NOT NULL,
			window_minutes INTEGER NOT NULL,
			strict_consensus BOOLEAN NOT NULL DEFAULT TRUE,
			ticker_filter TEXT[] NOT NULL DEFAULT '{}',
			direction_filter VARCHAR(10) NOT NULL DEFAULT '',
			min_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			min_strength DOUBLE PRECISION NOT NULL DEFAULT 0,
			indicator_conditions JSONB NOT NULL DEFAULT '{}',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			priority INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Extracted signals
		`CREATE TABLE IF NOT EXISTS signals (
			id BIGSERIAL PRIMARY KEY,
			message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			ticker VARCHAR(20) NOT NULL,
			direction VARCHAR(10) NOT NULL,
			author VARCHAR(200),
			target_price DOUBLE PRECISION,
			stop_price DOUBLE PRECISION,
			take_price DOUBLE PRECISION,
			confidence DOUBLE PRECISION NOT NULL,
			signal_time TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_ticker ON signals(ticker)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_time ON signals(signal_time)`,

		// Consensus events plus the contributing-signal join table
		`CREATE TABLE IF NOT EXISTS consensus_events (
			id UUID PRIMARY KEY,
			rule_id INTEGER NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
			ticker VARCHAR(20) NOT NULL,
			direction VARCHAR(10) NOT NULL,
			trader_count INTEGER NOT NULL,
			signal_count INTEGER NOT NULL,
			strength DOUBLE PRECISION NOT NULL,
			window_minutes INTEGER NOT NULL,
			avg_entry_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			detected_at TIMESTAMPTZ NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'active'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ticker ON consensus_events(ticker)`,
		`CREATE INDEX IF NOT EXISTS idx_events_detected ON consensus_events(detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_status ON consensus_events(status)`,
		`CREATE TABLE IF NOT EXISTS consensus_event_signals (
			event_id UUID NOT NULL REFERENCES consensus_events(id) ON DELETE CASCADE,
			signal_id BIGINT NOT NULL REFERENCES signals(id) ON DELETE CASCADE,
			PRIMARY KEY (event_id, signal_id)
		)`,

		// Backtest runs and their simulated trades
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id SERIAL PRIMARY KEY,
			params JSONB NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			error TEXT NOT NULL DEFAULT '',
			total_trades INTEGER NOT NULL DEFAULT 0,
			win_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_return DOUBLE PRECISION NOT NULL DEFAULT 0,
			skipped JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id SERIAL PRIMARY KEY,
			run_id INTEGER NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
			event_id UUID NOT NULL,
			ticker VARCHAR(20) NOT NULL,
			direction VARCHAR(10) NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			exit_price DOUBLE PRECISION NOT NULL,
			exit_reason VARCHAR(20) NOT NULL,
			pnl_pct DOUBLE PRECISION NOT NULL,
			profit_abs DOUBLE PRECISION NOT NULL,
			trader_count INTEGER NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			exit_time TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_trades_run ON backtest_trades(run_id)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.log.Info().Int("count", len(migrations)).Msg("migrations complete")
	return nil
}
