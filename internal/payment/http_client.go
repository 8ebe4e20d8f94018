package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
)

// HTTPClient implements Provider against a REST payment-provider API,
// grounded on polkiloo-gophermart's accrual.HTTPClient shape.
type HTTPClient struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
	secrets    *SecretStore
}

// NewHTTPClient validates baseURL is absolute, same guard as the teacher's
// accrual client, and wires the cached webhook-signing secret lookup.
func NewHTTPClient(baseURL, apiKey string, secrets *SecretStore, log zerolog.Logger) (*HTTPClient, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse payment provider url: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("payment provider url must be absolute")
	}
	return &HTTPClient{
		baseURL:    parsed,
		apiKey:     apiKey,
		secrets:    secrets,
		log:        log,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type intentResponse struct {
	ID            string            `json:"id"`
	ClientSecret  string            `json:"client_secret"`
	Status        string            `json:"status"`
	AmountCents   int64             `json:"amount_cents"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"payment_method"`
	Metadata      map[string]string `json:"metadata"`
}

func (r intentResponse) toIntent() Intent {
	return Intent{
		ID:            r.ID,
		ClientSecret:  r.ClientSecret,
		Status:        IntentStatus(r.Status),
		AmountCents:   r.AmountCents,
		Currency:      r.Currency,
		PaymentMethod: r.PaymentMethod,
		Metadata:      r.Metadata,
	}
}

func (c *HTTPClient) CreatePaymentIntent(ctx context.Context, orderID string, amountCents int64, currency string, metadata map[string]string) (Intent, error) {
	body, err := json.Marshal(map[string]any{
		"amount_cents": amountCents,
		"currency":     currency,
		"metadata":     mergeMetadata(metadata, "orderId", orderID),
	})
	if err != nil {
		return Intent{}, err
	}
	var resp intentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", body, &resp); err != nil {
		return Intent{}, err
	}
	return resp.toIntent(), nil
}

func (c *HTTPClient) GetPaymentIntent(ctx context.Context, intentID string) (Intent, error) {
	var resp intentResponse
	if err := c.do(ctx, http.MethodGet, path.Join("/v1/payment_intents", intentID), nil, &resp); err != nil {
		return Intent{}, err
	}
	return resp.toIntent(), nil
}

func (c *HTTPClient) Refund(ctx context.Context, intentID, reason string) (Refund, error) {
	body, err := json.Marshal(map[string]string{"payment_intent": intentID, "reason": reason})
	if err != nil {
		return Refund{}, err
	}
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", body, &resp); err != nil {
		return Refund{}, err
	}
	return Refund{ID: resp.ID, Status: resp.Status}, nil
}

// VerifyWebhookSignature recomputes the HMAC-SHA256 of the raw body against
// the cached signing secret and compares it to the header in constant time
// (spec §4.5). This is the one standard-library-only component in the
// payment package, justified in DESIGN.md: no pack example ships a
// higher-level webhook-signing client, and crypto/hmac+crypto/sha256 is the
// de facto scheme every payment-provider webhook uses.
func (c *HTTPClient) VerifyWebhookSignature(ctx context.Context, payload []byte, signatureHeader string) error {
	secret, err := c.secrets.Get(ctx)
	if err != nil {
		return err
	}
	if secret == "" {
		if c.secrets.environment == "development" {
			return nil // development mode without a secret: the body is parsed unverified
		}
		return apperrors.New(apperrors.KindSignatureFailure, "no webhook secret configured")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signatureHeader)) {
		return apperrors.New(apperrors.KindSignatureFailure, "webhook signature mismatch")
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, p string, body []byte, out any) error {
	endpoint := *c.baseURL
	endpoint.Path = path.Join(endpoint.Path, p)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindExternalServiceError, err, "payment provider request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusTooManyRequests:
		return RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.New(apperrors.KindNotFound, "payment resource not found")
	case resp.StatusCode >= 500:
		b, _ := io.ReadAll(resp.Body)
		c.log.Error().Int("status", resp.StatusCode).Str("body", string(b)).Msg("payment provider request failed")
		return apperrors.New(apperrors.KindExternalServiceError, "payment provider returned "+resp.Status)
	default:
		b, _ := io.ReadAll(resp.Body)
		c.log.Error().Int("status", resp.StatusCode).Str("body", string(b)).Msg("payment provider request rejected")
		return apperrors.New(apperrors.KindValidationFailure, "payment provider returned "+resp.Status)
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 5 * time.Second
}

func mergeMetadata(m map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = value
	return out
}
