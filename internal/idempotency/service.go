// Package idempotency gates arbitrary side-effectful closures by a stable
// key, caching the result so the Nth call with the same key never re-runs
// fn (spec §4.1). It generalizes the teacher's Redis dedup-key pattern
// (the webhook-dedup key declared in internal/redisx, and the inventory service's
// original Redis "already processed this event" check) into the
// store-backed conditional-insert design the spec requires: Redis is a
// cache here, not the source of truth, so the row in Postgres is what
// actually serializes concurrent attempts.
package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
	"github.com/ariefcatur/order-fulfillment-saga/internal/store"
)

// DefaultTTL is the "typically 7d" default called out by spec §3; it must
// be >= 24h.
const DefaultTTL = 7 * 24 * time.Hour

// Fn is the side-effectful closure gated by ExecuteOnce. It must be
// deterministic enough that a cached result is acceptable to later callers.
type Fn func(ctx context.Context) (json.RawMessage, error)

// Rows is the subset of store.IdempotencyStore ExecuteOnce depends on,
// extracted for substitutability in tests.
type Rows interface {
	TryInsertInProgress(ctx context.Context, key, operation string, ttl time.Duration) (bool, error)
	ReplaceFailedWithInProgress(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (domain.IdempotencyKey, error)
	Complete(ctx context.Context, key string, result json.RawMessage) error
	Fail(ctx context.Context, key string) error
}

type Service struct {
	Store Rows
	TTL   time.Duration
}

func New(s Rows) *Service {
	return &Service{Store: s, TTL: DefaultTTL}
}

var _ Rows = (*store.IdempotencyStore)(nil)

// ExecuteOnce implements the three-step protocol from spec §4.1.
func (s *Service) ExecuteOnce(ctx context.Context, key, operation string, fn Fn) (json.RawMessage, error) {
	ttl := s.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}

	// Step 1/2: does-not-exist conditional insert.
	inserted, err := s.Store.TryInsertInProgress(ctx, key, operation, ttl)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExternalServiceError, err, "idempotency insert failed")
	}

	if !inserted {
		existing, err := s.Store.Get(ctx, key)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindExternalServiceError, err, "idempotency lookup failed")
		}
		switch existing.Status {
		case domain.IdempotencyCompleted:
			return existing.Result, nil
		case domain.IdempotencyInProgress:
			return nil, apperrors.New(apperrors.KindConcurrentInProgress, "another execution of "+key+" is in progress")
		case domain.IdempotencyFailed:
			// Allow retry: flip FAILED -> IN_PROGRESS. If a concurrent
			// retrier wins the flip, ours loses and must report
			// ConcurrentInProgress rather than double-run fn.
			won, err := s.Store.ReplaceFailedWithInProgress(ctx, key)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.KindExternalServiceError, err, "idempotency retry-claim failed")
			}
			if !won {
				return nil, apperrors.New(apperrors.KindConcurrentInProgress, "another execution of "+key+" is in progress")
			}
		}
	}

	result, err := s.invoke(ctx, key, fn)
	if err != nil {
		if failErr := s.Store.Fail(ctx, key); failErr != nil {
			return nil, apperrors.Wrap(apperrors.KindExternalServiceError, failErr, "idempotency fail-mark failed after: %v", err)
		}
		return nil, err
	}

	if err := s.Store.Complete(ctx, key, result); err != nil {
		return nil, apperrors.Wrap(apperrors.KindExternalServiceError, err, "idempotency complete-mark failed")
	}
	return result, nil
}

// invoke runs fn. If fn panics, invoke marks the key FAILED itself and then
// re-panics, so the panic still propagates to the caller of ExecuteOnce.
func (s *Service) invoke(ctx context.Context, key string, fn Fn) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			_ = s.Store.Fail(ctx, key)
			panic(r)
		}
	}()
	return fn(ctx)
}
