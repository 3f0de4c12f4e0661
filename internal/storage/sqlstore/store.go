// Package sqlstore implements storage.DB on SQLite, MySQL and Dolt.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/qualityhub/issueflow/internal/storage"
)

// DefaultLockTimeout bounds how long SQLite waits for a write lock.
const DefaultLockTimeout = 30 * time.Second

// Backend selects the database engine.
type Backend string

// Supported backends
const (
	BackendSQLite Backend = "sqlite"
	BackendMySQL  Backend = "mysql"
	BackendDolt   Backend = "dolt"
)

// dialect is the SQL flavour a backend speaks.
type dialect int

const (
	dialectSQLite dialect = iota
	dialectMySQL
)

// Config holds database configuration.
type Config struct {
	Backend Backend
	// Path is the SQLite file, or the directory of an embedded Dolt database.
	Path string
	// DSN is the MySQL or Dolt sql-server data source. When Backend is dolt
	// and DSN is set, the server is used instead of the embedded engine.
	DSN string
	// Database is created on the server or in the Dolt directory if missing.
	Database string
	// BatchSize bounds IN clauses. Defaults to DefaultBatchSize.
	BatchSize int
	// LockTimeout is how long SQLite waits on a locked database. Defaults
	// to DefaultLockTimeout.
	LockTimeout time.Duration

	CommitterName  string
	CommitterEmail string
}

// Store is an open database.
type Store struct {
	queries

	db        *sql.DB
	backend   Backend
	dialect   dialect
	batchSize int
	// doltCommit creates a Dolt commit after each committed session.
	doltCommit bool
	committer  string
	closers    []func() error
	closed     atomic.Bool
}

var _ storage.DB = (*Store)(nil)

var validDatabaseName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

// Open connects to the configured backend and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.Database != "" && !validDatabaseName.MatchString(cfg.Database) {
		return nil, fmt.Errorf("invalid database name %q", cfg.Database)
	}

	s := &Store{backend: cfg.Backend, batchSize: cfg.BatchSize}
	var err error
	switch cfg.Backend {
	case BackendSQLite, "":
		s.backend = BackendSQLite
		s.dialect = dialectSQLite
		s.db, err = openSQLite(cfg.Path, cfg.LockTimeout)
	case BackendMySQL:
		s.dialect = dialectMySQL
		s.db, err = openMySQL(ctx, cfg.DSN, cfg.Database)
	case BackendDolt:
		s.dialect = dialectMySQL
		s.doltCommit = true
		s.committer = fmt.Sprintf("%s <%s>", cfg.CommitterName, cfg.CommitterEmail)
		if cfg.DSN != "" {
			s.db, err = openMySQL(ctx, cfg.DSN, cfg.Database)
		} else {
			var closeConnector func() error
			s.db, closeConnector, err = openEmbeddedDolt(ctx, cfg)
			if closeConnector != nil {
				s.closers = append(s.closers, closeConnector)
			}
		}
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	s.queries = queries{
		batchSize: s.batchSize,
		conn: func(context.Context) (querier, error) {
			return retryingDB{s.db}, nil
		},
	}

	if err := migrate(ctx, s.db, s.dialect); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return s, nil
}

// Backend returns the engine the store runs on.
func (s *Store) Backend() Backend {
	return s.backend
}

// UnderlyingDB exposes the connection pool for tests and diagnostics.
func (s *Store) UnderlyingDB() *sql.DB {
	return s.db
}

// OpenSession starts a unit of work. The transaction is begun lazily on the
// first statement.
func (s *Store) OpenSession(ctx context.Context) (storage.Session, error) {
	if s.closed.Load() {
		return nil, errors.New("store is closed")
	}
	sess := &session{store: s}
	sess.queries = queries{batchSize: s.batchSize, conn: sess.tx}
	return sess, nil
}

// Close releases the connection pool and any engine locks.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if s.db != nil {
		err = errors.Join(err, ignoreContextCanceled(s.db.Close()))
	}
	for _, c := range s.closers {
		err = errors.Join(err, ignoreContextCanceled(c()))
	}
	return err
}

// commitDolt records a Dolt commit for the working set. Sessions that wrote
// nothing are not an error.
func (s *Store) commitDolt(ctx context.Context, message string) error {
	if !s.doltCommit {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "CALL DOLT_COMMIT('-Am', ?, '--author', ?)", message, s.committer)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "nothing to commit") {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func ignoreContextCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// retryingDB runs pool statements with transient error retries.
type retryingDB struct {
	db *sql.DB
}

func (r retryingDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := withRetry(ctx, func() error {
		var execErr error
		res, execErr = r.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

func (r retryingDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := withRetry(ctx, func() error {
		var queryErr error
		rows, queryErr = r.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}
