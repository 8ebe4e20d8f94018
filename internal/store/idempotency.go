package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
)

type IdempotencyStore struct{ DB *pgxpool.Pool }

// TryInsertInProgress attempts the "does-not-exist" conditional insert at
// the heart of the idempotency service (spec §4.1 step 2). ok=false means
// the row already existed; the caller must then inspect Get's result.
func (s *IdempotencyStore) TryInsertInProgress(ctx context.Context, key, operation string, ttl time.Duration) (ok bool, err error) {
	now := time.Now().UTC()
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO idempotency_keys (key, operation, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO NOTHING`,
		key, operation, string(domain.IdempotencyInProgress), now, now.Add(ttl))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// ReplaceFailedWithInProgress allows retry of a key whose last attempt
// FAILED: it flips status back to IN_PROGRESS only if the row is currently
// FAILED (spec §4.1 step 2, "if FAILED, proceed").
func (s *IdempotencyStore) ReplaceFailedWithInProgress(ctx context.Context, key string) (ok bool, err error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE idempotency_keys SET status = $2, result = NULL, created_at = now()
		WHERE key = $1 AND status = $3`,
		key, string(domain.IdempotencyInProgress), string(domain.IdempotencyFailed))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (domain.IdempotencyKey, error) {
	var k domain.IdempotencyKey
	var result []byte
	row := s.DB.QueryRow(ctx, `
		SELECT key, operation, status, result, created_at, expires_at
		FROM idempotency_keys WHERE key = $1`, key)
	if err := row.Scan(&k.Key, &k.Operation, &k.Status, &result, &k.CreatedAt, &k.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.IdempotencyKey{}, apperrors.New(apperrors.KindNotFound, "idempotency key not found")
		}
		return domain.IdempotencyKey{}, err
	}
	k.Result = json.RawMessage(result)
	return k, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, result json.RawMessage) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE idempotency_keys SET status = $2, result = $3 WHERE key = $1`,
		key, string(domain.IdempotencyCompleted), result)
	return err
}

func (s *IdempotencyStore) Fail(ctx context.Context, key string) error {
	_, err := s.DB.Exec(ctx, `UPDATE idempotency_keys SET status = $2 WHERE key = $1`,
		key, string(domain.IdempotencyFailed))
	return err
}

// PurgeExpired deletes rows past their TTL — Postgres has no native
// per-row TTL the way DynamoDB does, so this sweep (run by the reaper's
// ticker) is the equivalent accommodation.
func (s *IdempotencyStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
