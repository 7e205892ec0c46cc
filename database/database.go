package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DB is a connection plus the dialect it speaks
type DB struct {
	*sql.DB
	Driver string
}

// Open connects to postgres or sqlite and verifies the connection
func Open(driver, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("a DATABASE_URL is required for driver %q", driver)
	}

	switch driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if driver == "sqlite" {
		// one writer avoids SQLITE_BUSY under concurrent appends
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("✅ Successfully connected to %s database", driver)
	return &DB{DB: conn, Driver: driver}, nil
}

// Rebind rewrites ? placeholders into the driver's native form
func (db *DB) Rebind(query string) string {
	if db.Driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateTables creates the analytics tables if they don't exist. Timestamps are
// unix milliseconds so both dialects compare them the same way.
func (db *DB) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS search_events (
			id VARCHAR(36) PRIMARY KEY,
			user_id TEXT,
			query TEXT NOT NULL,
			region VARCHAR(32) NOT NULL DEFAULT '',
			country VARCHAR(64) NOT NULL DEFAULT '',
			category VARCHAR(64) NOT NULL DEFAULT '',
			result_count INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scrape_runs (
			id VARCHAR(36) PRIMARY KEY,
			site_id VARCHAR(64) NOT NULL,
			site_name TEXT NOT NULL,
			query TEXT NOT NULL,
			region VARCHAR(32) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL CHECK (status IN ('success', 'failed', 'timed_out')),
			listing_count INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			error_message TEXT,
			started_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_search_events_created ON search_events (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_search_events_user ON search_events (user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_scrape_runs_finished ON scrape_runs (finished_at)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}
