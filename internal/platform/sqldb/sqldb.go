// Package sqldb opens pooled database/sql handles for SQL datasources.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/animus-labs/gx-hosting/internal/platform/env"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	DriverPostgres = "pgx"
	DriverMySQL    = "mysql"
)

type Config struct {
	PingTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func DefaultConfig() Config {
	return Config{
		PingTimeout:     2 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

func ConfigFromEnv() (Config, error) {
	def := DefaultConfig()

	pingTimeout, err := env.Duration("DATASOURCE_PING_TIMEOUT", def.PingTimeout)
	if err != nil {
		return Config{}, err
	}
	maxOpenConns, err := env.Int("DATASOURCE_MAX_OPEN_CONNS", def.MaxOpenConns)
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := env.Int("DATASOURCE_MAX_IDLE_CONNS", def.MaxIdleConns)
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := env.Duration("DATASOURCE_CONN_MAX_LIFETIME", def.ConnMaxLifetime)
	if err != nil {
		return Config{}, err
	}
	connMaxIdleTime, err := env.Duration("DATASOURCE_CONN_MAX_IDLE_TIME", def.ConnMaxIdleTime)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		PingTimeout:     pingTimeout,
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
		ConnMaxIdleTime: connMaxIdleTime,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.PingTimeout <= 0 {
		return errors.New("DATASOURCE_PING_TIMEOUT must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("DATASOURCE_MAX_OPEN_CONNS must be >= 1")
	}
	if c.MaxIdleConns < 0 {
		return errors.New("DATASOURCE_MAX_IDLE_CONNS must be >= 0")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("DATASOURCE_MAX_IDLE_CONNS must be <= DATASOURCE_MAX_OPEN_CONNS")
	}
	if c.ConnMaxLifetime < 0 {
		return errors.New("DATASOURCE_CONN_MAX_LIFETIME must be >= 0")
	}
	if c.ConnMaxIdleTime < 0 {
		return errors.New("DATASOURCE_CONN_MAX_IDLE_TIME must be >= 0")
	}
	return nil
}

// Open connects with driver (DriverPostgres or DriverMySQL) and pings once.
func Open(ctx context.Context, cfg Config, driver string, dsn string) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch driver {
	case DriverPostgres, DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if dsn == "" {
		return nil, errors.New("dsn is required")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return db, nil
}
