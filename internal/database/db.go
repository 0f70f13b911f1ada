// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package database opens the SQLite store of the local identity backend.
package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vinovest/sqlx"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// DefaultDSN is used when no database DSN is configured.
const DefaultDSN = "./data/taxijobs.db"

const (
	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = time.Hour
	pingTimeout     = 2 * time.Second
)

// dsnDefaults are appended to the DSN unless it already sets them. Recovery
// code redemption relies on immediate transactions to stay single-use.
var dsnDefaults = [][2]string{
	{"_txlock", "immediate"},
	{"_busy_timeout", "5000"},
	{"_foreign_keys", "on"},
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA mmap_size = 134217728",
	"PRAGMA journal_size_limit = 27103364",
	"PRAGMA cache_size = 2000",
}

// Open connects to the identity store and applies pending migrations.
func Open(dsn string) (*sqlx.DB, error) {
	conn, err := OpenWithoutMigrations(dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(conn.DB); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate identity store: %w", err)
	}

	return conn, nil
}

// OpenWithoutMigrations connects to the identity store and leaves the schema
// as it is. The migrate commands use it to inspect or roll back the schema.
func OpenWithoutMigrations(dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}

	if !inMemory(dsn) {
		path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sqlx.Open("sqlite", addDefaultParams(dsn))
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(maxOpenConns)
	conn.SetMaxIdleConns(maxIdleConns)
	conn.SetConnMaxLifetime(connMaxLifetime)

	if err := configureSQLite(context.Background(), conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

func inMemory(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func addDefaultParams(dsn string) string {
	for _, kv := range dsnDefaults {
		if strings.Contains(dsn, kv[0]) {
			continue
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + kv[0] + "=" + kv[1]
	}
	return dsn
}

func configureSQLite(ctx context.Context, db *sqlx.DB) error {
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Ping reports whether the database answers within two seconds.
func Ping(ctx context.Context, db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	var one int
	return db.GetContext(ctx, &one, "SELECT 1")
}
