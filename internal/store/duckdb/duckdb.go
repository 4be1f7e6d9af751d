// Package duckdb implements store.Store on an embedded DuckDB database.
//
// It is the single-node driver: one process owns the database file. Vector
// search uses list_cosine_similarity over FLOAT[] columns; segments are
// emulated with a catalog table.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcboeker/go-duckdb"

	defaults "github.com/xtxerr/contentstore/config"
	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/logging"
	"github.com/xtxerr/contentstore/internal/store"
)

var log = logging.Component("store.duckdb")

// =============================================================================
// Store Configuration
// =============================================================================

// Config holds store configuration options.
type Config struct {
	// DSN is the database file path. Empty opens an in-memory database.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration

	// QueryTimeout bounds calls made without a deadline.
	QueryTimeout time.Duration

	// MaxRetries is how often a transaction that lost a write-write
	// conflict is run again.
	MaxRetries int

	// RetryBackoff is the first delay between retries; it doubles per
	// attempt up to MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DSN:             "",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		QueryTimeout:    10 * time.Second,
		MaxRetries:      defaults.DefaultMaxRetries,
		RetryBackoff:    defaults.DefaultRetryBackoff,
		MaxRetryBackoff: defaults.DefaultMaxRetryBackoff,
	}
}

// =============================================================================
// Store
// =============================================================================

// Store is a DuckDB-backed store.Store.
//
// Store is safe for concurrent use.
type Store struct {
	db     *sql.DB
	config Config
	mu     sync.RWMutex
	closed bool

	retries atomic.Int64
}

var _ store.Store = (*Store)(nil)

// New opens the database and applies the schema. Zero retry settings take
// the defaults.
func New(cfg Config) (*Store, error) {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = def.MaxRetryBackoff
	}

	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("store opened", "dsn", cfg.DSN)

	return &Store{db: db, config: cfg}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// Retries returns how many transactions were retried after a conflict.
func (s *Store) Retries() int64 {
	return s.retries.Load()
}

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTimeout applies QueryTimeout when ctx carries no deadline.
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.QueryTimeout)
}

// =============================================================================
// Transaction Support
// =============================================================================

// Transaction implements store.Store. A unique-index conflict that DuckDB
// only detects at commit is reported as a constraint violation as well.
func (s *Store) Transaction(ctx context.Context, fn func(store.Tx) error) error {
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		return fn(&txn{tx: tx})
	})
	if err != nil && !cserrors.IsConstraintViolation(err) && isConstraint(err) {
		return classifyFingerprint(err)
	}
	return err
}

// transaction runs fn inside a database transaction, running it again when
// DuckDB aborts it on a write-write conflict. fn must be safe to repeat.
//
// A retried insert that raced an identical committed insert then fails on
// the unique index, so the loser sees a constraint error, not a conflict.
func (s *Store) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	backoff := s.config.RetryBackoff

	var err error
	for attempt := 0; ; attempt++ {
		err = s.transactionOnce(ctx, fn)
		if err == nil || !isConflict(err) || attempt >= s.config.MaxRetries {
			break
		}
		s.retries.Add(1)

		sleep := backoff
		if backoff > 1 {
			sleep += time.Duration(rand.Int63n(int64(backoff) / 2))
		}
		log.Debug("retrying conflicted transaction", "attempt", attempt+1, "backoff", sleep, "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		case <-time.After(sleep):
		}

		backoff *= 2
		if backoff > s.config.MaxRetryBackoff {
			backoff = s.config.MaxRetryBackoff
		}
	}
	if err != nil && isConflict(err) {
		return fmt.Errorf("%w after %d retries: %w", cserrors.ErrConflict, s.config.MaxRetries, err)
	}
	return err
}

// transactionOnce runs fn inside one database transaction. The context is
// checked again before commit so a timed-out caller never commits.
func (s *Store) transactionOnce(ctx context.Context, fn func(*sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	if err := ctx.Err(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("context cancelled before commit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// =============================================================================
// Error classification
// =============================================================================

// isConstraint reports whether err is a DuckDB constraint error.
func isConstraint(err error) bool {
	var de *duckdb.Error
	return errors.As(err, &de) && de.Type == duckdb.ErrorTypeConstraint
}

// isConflict reports whether err is a DuckDB transaction conflict, which
// is safe to retry.
func isConflict(err error) bool {
	var de *duckdb.Error
	if !errors.As(err, &de) || de.Type == duckdb.ErrorTypeConstraint {
		return false
	}
	return de.Type == duckdb.ErrorTypeTransaction ||
		strings.Contains(strings.ToLower(de.Msg), "conflict")
}

func classifyFingerprint(err error) error {
	if isConstraint(err) {
		return cserrors.New(cserrors.KindConstraintViolation, "insert fingerprint",
			fmt.Errorf("%w: %v", cserrors.ErrDuplicate, err))
	}
	return fmt.Errorf("insert fingerprint: %w", err)
}
