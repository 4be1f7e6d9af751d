// Package postgres implements store.Store on PostgreSQL with pgvector.
//
// content_records is natively range-partitioned by month; fingerprints and
// performance counters live in plain tables keyed by content ID.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/logging"
	"github.com/xtxerr/contentstore/internal/store"
)

var log = logging.Component("store.postgres")

// SQLSTATE codes the driver classifies.
const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
	codeDuplicateTable  = "42P07"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	// DSN is a postgres:// connection URL or key/value string.
	DSN string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration

	// QueryTimeout bounds calls made without a deadline.
	QueryTimeout time.Duration

	// EmbeddingDimensions fixes the vector column size and enables the HNSW
	// index. 0 leaves the column untyped.
	EmbeddingDimensions int
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        25,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		QueryTimeout:    10 * time.Second,
	}
}

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

var _ store.Store = (*Store)(nil)

// New connects, verifies the connection and applies the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := initializeSchema(ctx, pool, cfg.EmbeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	log.Debug("store opened", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)

	return &Store{pool: pool, config: cfg}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.QueryTimeout)
}

// Transaction implements store.Store.
func (s *Store) Transaction(ctx context.Context, fn func(store.Tx) error) error {
	return s.transaction(ctx, func(tx pgx.Tx) error {
		return fn(&txn{tx: tx})
	})
}

func (s *Store) transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(context.Background()); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	if err := ctx.Err(); err != nil {
		_ = tx.Rollback(context.Background())
		return fmt.Errorf("context cancelled before commit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if pgCode(err) == codeUniqueViolation {
			return duplicate(err)
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// pgCode returns the SQLSTATE of err, or "".
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func duplicate(err error) error {
	return cserrors.New(cserrors.KindConstraintViolation, "insert fingerprint",
		fmt.Errorf("%w: %v", cserrors.ErrDuplicate, err))
}
