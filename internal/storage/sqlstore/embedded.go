//go:build cgo

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
	embedded "github.com/dolthub/driver"
)

func newEmbeddedOpenBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return bo
}

// openEmbeddedDolt opens a Dolt database stored in cfg.Path. The returned
// closer releases the engine's filesystem locks and must run after the pool
// is closed.
func openEmbeddedDolt(ctx context.Context, cfg Config) (*sql.DB, func() error, error) {
	if cfg.Path == "" {
		return nil, nil, fmt.Errorf("dolt backend requires a directory or a DSN")
	}
	if info, err := os.Stat(cfg.Path); err == nil && !info.IsDir() {
		return nil, nil, fmt.Errorf("database path %q is a file, not a directory", cfg.Path)
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	// The driver changes into the directory; a relative path would be applied
	// twice.
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	database := cfg.Database
	if database == "" {
		database = "issueflow"
	}

	initDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s", absPath, cfg.CommitterName, cfg.CommitterEmail)
	dbDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s&database=%s", absPath, cfg.CommitterName, cfg.CommitterEmail, database)

	if err := withEmbeddedDolt(ctx, initDSN, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", database)) //nolint:gosec // G201: database validated by Open
		return err
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to create dolt database: %w", err)
	}

	openCfg, err := embedded.ParseDSN(dbDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Dolt DSN: %w", err)
	}
	openCfg.BackOff = newEmbeddedOpenBackoff()
	connector, err := embedded.NewConnector(openCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Dolt connector: %w", err)
	}
	db := sql.OpenDB(connector)
	// Embedded Dolt is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// The driver keeps the context of the first Connect for the session, so
	// a caller context that is canceled later must not open it.
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		_ = connector.Close()
		return nil, nil, fmt.Errorf("failed to ping Dolt database: %w", err)
	}
	return db, connector.Close, nil
}

// withEmbeddedDolt runs fn on a short-lived connector and releases it.
func withEmbeddedDolt(ctx context.Context, dsn string, fn func(ctx context.Context, db *sql.DB) error) (err error) {
	cfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return err
	}
	cfg.BackOff = newEmbeddedOpenBackoff()

	connector, err := embedded.NewConnector(cfg)
	if err != nil {
		return err
	}
	db := sql.OpenDB(connector)
	defer func() {
		cerr := errors.Join(
			ignoreContextCanceled(db.Close()),
			ignoreContextCanceled(connector.Close()),
		)
		err = errors.Join(err, cerr)
	}()

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	return fn(ctx, db)
}
