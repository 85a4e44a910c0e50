package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/devicewatch/internal/store"
)

var _ store.Backend = (*Store)(nil)

const Schema = `
CREATE TABLE IF NOT EXISTS device_kv (
  device     TEXT NOT NULL,
  namespace  TEXT NOT NULL,
  key        TEXT NOT NULL,
  value      TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (device, namespace, key)
);
`

// Store keeps a device's durable state in a shared Postgres database,
// partitioned by device name.
type Store struct {
	pool   *pgxpool.Pool
	log    *zap.Logger
	device string
}

func New(ctx context.Context, dsn, device string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Info("postgres_store_ready", zap.String("device", device))
	return &Store{pool: pool, log: log, device: device}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Get(ctx context.Context, ns, key string) (string, bool, error) {
	const q = `SELECT value FROM device_kv WHERE device=$1 AND namespace=$2 AND key=$3`
	var v string
	err := s.pool.QueryRow(ctx, q, s.device, ns, key).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) Put(ctx context.Context, ns, key, value string) error {
	const q = `
		INSERT INTO device_kv (device, namespace, key, value, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (device, namespace, key)
		DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, q, s.device, ns, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, ns, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM device_kv WHERE device=$1 AND namespace=$2 AND key=$3`,
		s.device, ns, key)
	return err
}
