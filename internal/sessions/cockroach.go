package sessions

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// CockroachConfig holds connection parameters for CockroachDB.
type CockroachConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultCockroachConfig returns defaults suitable for local development.
func DefaultCockroachConfig() *CockroachConfig {
	return &CockroachConfig{
		Host:            "localhost",
		Port:            26257,
		User:            "root",
		Database:        "relay",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// openCockroachDB opens and pings a *sql.DB for cfg, applying pool
// settings. Used by the Session Store's constructors. The job store opens
// its own *sql.DB from the same DSN (jobs.NewCockroachStoreFromDSN); the
// Key Resolver is handed a *sql.DB that its caller opened with sql.Open
// on that DSN.
func openCockroachDB(dsn string, cfg *CockroachConfig) (*sql.DB, error) {
	if cfg == nil {
		cfg = DefaultCockroachConfig()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctxTimeout := cfg.ConnectTimeout
	if ctxTimeout <= 0 {
		ctxTimeout = 10 * time.Second
	}
	done := make(chan error, 1)
	go func() { done <- db.Ping() }()
	select {
	case err := <-done:
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
	case <-time.After(ctxTimeout):
		db.Close()
		return nil, fmt.Errorf("ping database: timed out after %s", ctxTimeout)
	}
	return db, nil
}

// DSN builds a postgres connection string from cfg.
func DSN(cfg *CockroachConfig) string {
	if cfg == nil {
		cfg = DefaultCockroachConfig()
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, int(cfg.ConnectTimeout.Seconds()),
	)
}
