package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// PaymobClient implements Gateway against a Paymob-style HTTP API with
// manual-capture intents and HMAC-SHA512 signed webhooks.
type PaymobClient struct {
	baseURL    string
	apiKey     string
	hmacSecret string
	client     *http.Client
	maxRetries int
}

// NewPaymobClient creates a client for the given API base URL.
func NewPaymobClient(baseURL, apiKey, hmacSecret string) *PaymobClient {
	return &PaymobClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		hmacSecret: hmacSecret,
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
	}
}

// do executes an HTTP request with exponential backoff and jitter.
// Only 5xx responses and transport errors are retried; the caller's
// idempotency key makes the retry safe on the processor side.
func (c *PaymobClient) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("gateway returned %d: %s", resp.StatusCode, respBody)
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("gateway rejected request (%d): %s", resp.StatusCode, respBody)
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("gateway unreachable after %d attempts: %w", c.maxRetries+1, lastErr)
}

type paymobIntentResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *PaymobClient) CreateIntent(ctx context.Context, req CreateIntentRequest) (*IntentRef, error) {
	var resp paymobIntentResponse
	err := c.do(ctx, http.MethodPost, "/v1/intention", map[string]any{
		"amount":            req.AmountMinor,
		"currency":          req.Currency,
		"capture_method":    "manual",
		"special_reference": req.OrderID,
		"payment_methods":   []string{req.PaymentMethod},
		"extras": map[string]any{
			"customer_id": req.CustomerID,
			"metadata":    req.Metadata,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &IntentRef{Reference: resp.ID, CreatedAt: resp.CreatedAt}, nil
}

func (c *PaymobClient) Capture(ctx context.Context, reference string, amountMinor int64) error {
	return c.do(ctx, http.MethodPost, "/v1/intention/"+reference+"/capture", map[string]any{
		"amount_cents": amountMinor,
	}, nil)
}

func (c *PaymobClient) Refund(ctx context.Context, reference string, amountMinor int64) error {
	return c.do(ctx, http.MethodPost, "/v1/intention/"+reference+"/refund", map[string]any{
		"amount_cents": amountMinor,
	}, nil)
}

// VerifySignature checks the webhook HMAC-SHA512 signature over the raw
// request body. An empty configured secret fails closed.
func (c *PaymobClient) VerifySignature(body []byte, signature string) bool {
	return VerifyHMAC(c.hmacSecret, body, signature)
}

// VerifyHMAC checks an HMAC-SHA512 hex signature over body.
func VerifyHMAC(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
