package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
)

// fakeRows is an in-memory stand-in for store.IdempotencyStore.
type fakeRows struct {
	mu   sync.Mutex
	rows map[string]domain.IdempotencyKey
}

func newFakeRows() *fakeRows {
	return &fakeRows{rows: map[string]domain.IdempotencyKey{}}
}

func (f *fakeRows) TryInsertInProgress(_ context.Context, key, operation string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.rows[key]; exists {
		return false, nil
	}
	now := time.Now().UTC()
	f.rows[key] = domain.IdempotencyKey{
		Key: key, Operation: operation, Status: domain.IdempotencyInProgress,
		CreatedAt: now, ExpiresAt: now.Add(ttl),
	}
	return true, nil
}

func (f *fakeRows) ReplaceFailedWithInProgress(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.rows[key]
	if !ok || k.Status != domain.IdempotencyFailed {
		return false, nil
	}
	k.Status = domain.IdempotencyInProgress
	k.Result = nil
	f.rows[key] = k
	return true, nil
}

func (f *fakeRows) Get(_ context.Context, key string) (domain.IdempotencyKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.rows[key]
	if !ok {
		return domain.IdempotencyKey{}, apperrors.New(apperrors.KindNotFound, "not found")
	}
	return k, nil
}

func (f *fakeRows) Complete(_ context.Context, key string, result json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.rows[key]
	k.Status = domain.IdempotencyCompleted
	k.Result = result
	f.rows[key] = k
	return nil
}

func (f *fakeRows) Fail(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.rows[key]
	k.Status = domain.IdempotencyFailed
	f.rows[key] = k
	return nil
}

func TestExecuteOnceRunsFnExactlyOnce(t *testing.T) {
	svc := New(newFakeRows())
	var calls int
	fn := func(context.Context) (json.RawMessage, error) {
		calls++
		return json.Marshal(map[string]int{"calls": calls})
	}

	first, err := svc.ExecuteOnce(context.Background(), "key-1", "op", fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.ExecuteOnce(context.Background(), "key-1", "op", fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected fn to run exactly once, ran %d times", calls)
	}
	if string(first) != string(second) {
		t.Fatalf("expected replay to return the cached result, got %s vs %s", first, second)
	}
}

func TestExecuteOnceReportsConcurrentInProgress(t *testing.T) {
	svc := New(newFakeRows())
	block := make(chan struct{})
	fn := func(context.Context) (json.RawMessage, error) {
		<-block
		return json.Marshal("done")
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.ExecuteOnce(context.Background(), "key-1", "op", fn)
		done <- err
	}()

	// give the first call time to win the insert before we attempt a second.
	time.Sleep(20 * time.Millisecond)

	_, err := svc.ExecuteOnce(context.Background(), "key-1", "op", func(context.Context) (json.RawMessage, error) {
		t.Fatal("fn should not run for a key already in progress")
		return nil, nil
	})
	if !apperrors.Is(err, apperrors.KindConcurrentInProgress) {
		t.Fatalf("expected ConcurrentInProgress, got %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error from first call: %v", err)
	}
}

func TestExecuteOnceAllowsRetryAfterFailure(t *testing.T) {
	svc := New(newFakeRows())
	var calls int
	boom := errors.New("boom")
	fn := func(context.Context) (json.RawMessage, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return json.Marshal("recovered")
	}

	_, err := svc.ExecuteOnce(context.Background(), "key-1", "op", fn)
	if !errors.Is(err, boom) {
		t.Fatalf("expected first attempt to fail with boom, got %v", err)
	}

	result, err := svc.ExecuteOnce(context.Background(), "key-1", "op", fn)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if string(result) != `"recovered"` {
		t.Fatalf("unexpected result: %s", result)
	}
	if calls != 2 {
		t.Fatalf("expected fn to run twice (fail, then retry), ran %d times", calls)
	}
}

func TestExecuteOnceMarksFailedOnPanic(t *testing.T) {
	svc := New(newFakeRows())
	fn := func(context.Context) (json.RawMessage, error) {
		panic("kaboom")
	}

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected ExecuteOnce to re-panic")
			}
		}()
		_, _ = svc.ExecuteOnce(context.Background(), "key-1", "op", fn)
	}()

	k, err := svc.Store.Get(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("unexpected error reading key: %v", err)
	}
	if k.Status != domain.IdempotencyFailed {
		t.Fatalf("expected status FAILED after panic, got %s", k.Status)
	}
}
