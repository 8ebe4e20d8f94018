package payment

import (
	"context"
	"sync"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
)

// SecretFetcher retrieves a named secret from secure storage (a secrets
// manager, vault, or — in development — process environment). It is the
// collaborator whose contract spec §4.5 describes but does not name.
type SecretFetcher interface {
	Fetch(ctx context.Context, secretID string) (string, error)
}

// SecretStore fetches the webhook-signing secret once and caches it for the
// process lifetime (spec §4.5: "cached for the process lifetime"). A
// missing secret only downgrades to unverified parse in development mode;
// production requires a non-empty secret.
type SecretStore struct {
	fetcher     SecretFetcher
	secretID    string
	environment string

	once  sync.Once
	value string
	err   error
}

func NewSecretStore(fetcher SecretFetcher, secretID, environment string) *SecretStore {
	return &SecretStore{fetcher: fetcher, secretID: secretID, environment: environment}
}

func (s *SecretStore) Get(ctx context.Context) (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.fetcher.Fetch(ctx, s.secretID)
	})
	if s.err != nil {
		if s.environment == "development" {
			return "", nil
		}
		return "", apperrors.Wrap(apperrors.KindExternalServiceError, s.err, "fetch webhook secret")
	}
	return s.value, nil
}

// EnvSecretFetcher reads secrets from process environment variables, the
// development-mode stand-in for a real secrets manager. cmd/api and
// cmd/saga-worker both wire this fetcher; no other SecretFetcher
// implementation ships in this repository.
type EnvSecretFetcher struct {
	Lookup func(key string) (string, bool)
}

func (f EnvSecretFetcher) Fetch(_ context.Context, secretID string) (string, error) {
	lookup := f.Lookup
	if lookup == nil {
		return "", apperrors.New(apperrors.KindExternalServiceError, "no secret lookup configured")
	}
	v, ok := lookup(secretID)
	if !ok {
		return "", apperrors.New(apperrors.KindExternalServiceError, "secret not found: "+secretID)
	}
	return v, nil
}
