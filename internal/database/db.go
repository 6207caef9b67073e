// Package database wraps the PostgreSQL pool and the repository for users,
// watchlists, and trade history.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/logging"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
	log  *logging.Logger
}

// Config holds database connection settings.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// NewDB connects to PostgreSQL and verifies the connection.
func NewDB(cfg Config, log *logging.Logger) (*DB, error) {
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

	dbLog := log.WithComponent("database")
	dbLog.Info("connected to postgres", "database", cfg.Database, "host", cfg.Host)
	return &DB{Pool: pool, log: dbLog}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info("database connection closed")
	}
}

// RunMigrations creates the schema if it does not exist.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			trading_mode VARCHAR(10) NOT NULL DEFAULT 'ALERT',
			notifier_channel VARCHAR(255),
			dry_run BOOLEAN NOT NULL DEFAULT FALSE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_tick_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_active ON users(active)`,

		`CREATE TABLE IF NOT EXISTS watchlist (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			stock_code VARCHAR(12) NOT NULL,
			stock_name VARCHAR(100) NOT NULL DEFAULT '',
			target_price DECIMAL(14, 2),
			stop_loss_price DECIMAL(14, 2),
			quantity INTEGER,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, stock_code)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_watchlist_user ON watchlist(user_id) WHERE active`,

		`CREATE TABLE IF NOT EXISTS trade_history (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			stock_code VARCHAR(12) NOT NULL,
			side VARCHAR(4) NOT NULL,
			quantity INTEGER NOT NULL,
			price DECIMAL(14, 2) NOT NULL,
			order_id VARCHAR(40) NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			executed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_history_user_time ON trade_history(user_id, executed_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	db.log.Info("migrations applied", "count", len(migrations))
	return nil
}
