// Package postgres records search attempts in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
)

// DefaultTable holds one row per keyword attempt.
const DefaultTable = "search_attempts"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool used for attempt rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// AttemptStore writes search attempt rows.
type AttemptStore struct {
	pool  txPool
	table string
}

// NewAttemptStore connects to Postgres using cfg.
func NewAttemptStore(ctx context.Context, cfg Config) (*AttemptStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &AttemptStore{pool: pool, table: table}, nil
}

// NewAttemptStoreWithPool builds a store on an existing pool.
func NewAttemptStoreWithPool(pool txPool, table string) (*AttemptStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &AttemptStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the attempts table when it does not exist.
func (s *AttemptStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	request_id   TEXT        NOT NULL,
	base_url     TEXT        NOT NULL,
	position     INTEGER     NOT NULL,
	keyword      TEXT        NOT NULL,
	method       TEXT        NOT NULL,
	description  TEXT        NOT NULL DEFAULT '',
	result_count INTEGER     NOT NULL DEFAULT 0,
	recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (request_id, position)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Close releases the pool.
func (s *AttemptStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreAttempts inserts every attempt of one search request in a single
// transaction, keeping their order in the position column.
func (s *AttemptStore) StoreAttempts(ctx context.Context, requestID, baseURL string, attempts []crawler.SearchAttempt) (err error) {
	if s == nil || s.pool == nil {
		return fmt.Errorf("attempt store is not configured")
	}
	if requestID == "" {
		return fmt.Errorf("request id is required")
	}
	if len(attempts) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin attempts tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (
	request_id,
	base_url,
	position,
	keyword,
	method,
	description,
	result_count
) VALUES ($1,$2,$3,$4,$5,$6,$7)`, s.table)

	for i, attempt := range attempts {
		if _, err = tx.Exec(ctx, query,
			requestID,
			baseURL,
			i,
			attempt.Keyword,
			string(attempt.Method),
			attempt.Description,
			attempt.ResultCount,
		); err != nil {
			return fmt.Errorf("insert attempt %q: %w", attempt.Keyword, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit attempts: %w", err)
	}
	return nil
}
