// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// Error definitions for zero-tolerance error handling
var (
	ErrDatabaseNotInitialized = errors.New("database not initialized")
	ErrNoActiveParameters     = errors.New("no active fee parameters")
	ErrInvalidRecord          = errors.New("stored record is invalid")
)

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// DSN renders cfg as a lib/pq connection string.
func (cfg DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
}

// Open creates the connection pool and checks it with a ping.
func Open(cfg DBConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := Ping(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("host", cfg.Host).Str("dbname", cfg.DBName).Msg("Successfully connected to the PostgreSQL database!")
	return db, nil
}

// Close closes the connection pool.
func Close(db *sql.DB) {
	if db != nil {
		log.Info().Msg("Closing database connection...")
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// Ping tests if the database connection is healthy
func Ping(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return ErrDatabaseNotInitialized
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS fee_parameters (
		params_id SERIAL PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 1,
		config_name VARCHAR(255) NOT NULL DEFAULT 'default',
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		swap_fee_rate DECIMAL(20, 18) NOT NULL,
		referral_fee_rate DECIMAL(20, 18) NOT NULL,
		min_withdraw_usd DECIMAL(20, 8) NOT NULL,
		rebalance_threshold DECIMAL(10, 8) NOT NULL,
		max_concurrent_reads INTEGER NOT NULL,
		CONSTRAINT uq_fee_parameters_config_version UNIQUE (config_name, version)
	);
	CREATE INDEX IF NOT EXISTS idx_fee_parameters_config_active ON fee_parameters(config_name, is_active, activated_at DESC);

	-- One sequence per vault so plans can be replayed in the order they were produced
	CREATE TABLE IF NOT EXISTS plan_sequences (
		vault_name VARCHAR(255) PRIMARY KEY,
		current_sequence BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS vault_plans (
		plan_id UUID PRIMARY KEY,
		vault_name VARCHAR(255) NOT NULL,
		sequence BIGINT NOT NULL,
		owner VARCHAR(42) NOT NULL,
		action VARCHAR(32) NOT NULL,
		planned_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		transaction_count INTEGER NOT NULL,
		trading_loss_usd DECIMAL(20, 8) NOT NULL,
		swap_fee NUMERIC(78, 0) NOT NULL,
		swap_fee_usd DECIMAL(20, 8) NOT NULL,
		withdrawn_usd DECIMAL(20, 8) NOT NULL,
		protocol_ids TEXT[], -- PostgreSQL array of protocol unique ids, in plan order
		legs JSONB,
		transactions JSONB,
		CONSTRAINT uq_vault_plans_sequence UNIQUE (vault_name, sequence)
	);
	CREATE INDEX IF NOT EXISTS idx_vault_plans_planned_at ON vault_plans(vault_name, planned_at DESC);
	CREATE INDEX IF NOT EXISTS idx_vault_plans_action ON vault_plans(action);
`

const dropSQL = `
	DROP TABLE IF EXISTS vault_plans CASCADE;
	DROP TABLE IF EXISTS plan_sequences CASCADE;
	DROP TABLE IF EXISTS fee_parameters CASCADE;
`

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return ErrDatabaseNotInitialized
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// DropSchema removes every table owned by the engine.
func DropSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return ErrDatabaseNotInitialized
	}
	if _, err := db.ExecContext(ctx, dropSQL); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	log.Warn().Msg("Dropped all engine tables")
	return nil
}
