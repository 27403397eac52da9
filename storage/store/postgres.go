package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"

	"logpipe/config"
	"logpipe/internal/models"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	stmts  statements
	logger *log.Entry
}

// NewPostgresStore connects to Postgres, retrying the initial ping.
func NewPostgresStore(ctx context.Context, cfg config.StoreConfig, logger *log.Entry) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = int32(cfg.MinConnections)
	}
	if cfg.MaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxIdleTime
	}
	if cfg.MaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxLifetime
	}

	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	attempts := cfg.ConnectRetries
	if attempts <= 0 {
		attempts = 1
	}
	err = retry.Do(
		func() error { return pool.Ping(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.WithError(err).Warnf("postgres ping failed (attempt %d/%d)", n+1, attempts)
		}),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	logger.Infof("Connected to postgres (max_conns=%d)", poolCfg.MaxConns)
	return &PostgresStore{pool: pool, stmts: newStatements("postgres"), logger: logger}, nil
}

func (s *PostgresStore) Write(ctx context.Context, tenantID, logID string, rec *models.ProcessedLog) error {
	if err := checkKey(tenantID, logID, rec); err != nil {
		return err
	}
	sql, args, err := s.stmts.upsert(rec)
	if err != nil {
		return fmt.Errorf("failed to build upsert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", tenantID, logID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, logID string) (*models.ProcessedLog, error) {
	if err := checkKey(tenantID, logID, nil); err != nil {
		return nil, err
	}
	sql, args, err := s.stmts.get(tenantID, logID)
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}
	rec, err := scanRow(s.pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", tenantID, logID, err)
	}
	return rec, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
