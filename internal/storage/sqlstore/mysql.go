package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// openMySQL connects to a MySQL-compatible server, Dolt sql-server included.
// The database is created when missing.
func openMySQL(ctx context.Context, dsn, database string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mysql backend requires a DSN")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	// Affected rows must count matched rows, or an UPDATE that rewrites
	// identical values would be reported as a concurrent modification.
	cfg.ClientFoundRows = true
	cfg.ParseTime = false
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if database != "" && cfg.DBName == "" {
		if err := createDatabase(ctx, cfg.Clone(), database); err != nil {
			return nil, err
		}
		cfg.DBName = database
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := withRetry(ctx, func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Addr, err)
	}
	return db, nil
}

func createDatabase(ctx context.Context, cfg *mysql.Config, database string) error {
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return fmt.Errorf("failed to create connector: %w", err)
	}
	initDB := sql.OpenDB(connector)
	defer func() { _ = initDB.Close() }()

	err = withRetry(ctx, func() error {
		_, execErr := initDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", database)) //nolint:gosec // G201: database validated by Open
		return execErr
	})
	if err != nil {
		// Dolt may return error 1007 even with IF NOT EXISTS
		errLower := strings.ToLower(err.Error())
		if !strings.Contains(errLower, "database exists") && !strings.Contains(errLower, "1007") {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}
	return nil
}
