package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
)

// SessionStore backs the admin authorizer: a bearer-token lookup against a
// TTL-purged table, not a full session-issuance system (spec §1 Non-goals).
type SessionStore struct{ DB *pgxpool.Pool }

func (s *SessionStore) Get(ctx context.Context, token string) (domain.Session, error) {
	var sess domain.Session
	row := s.DB.QueryRow(ctx, `
		SELECT session_token, username, created_at, expires_at
		FROM sessions WHERE session_token = $1`, token)
	if err := row.Scan(&sess.SessionToken, &sess.Username, &sess.CreatedAt, &sess.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, apperrors.New(apperrors.KindNotFound, "session not found")
		}
		return domain.Session{}, err
	}
	if sess.ExpiresAt.Before(time.Now()) {
		return domain.Session{}, apperrors.New(apperrors.KindNotFound, "session expired")
	}
	return sess, nil
}

// PurgeExpired deletes rows past their TTL, same accommodation as
// IdempotencyStore.PurgeExpired.
func (s *SessionStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
