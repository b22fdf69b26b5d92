// Package apiclient is the HTTP client the Queue Consumer uses to reach
// the resource/wallet/billing services. It classifies every response
// into success/conflict/not_found/error, retries only on timeout and
// connection errors with linear backoff, and trips a circuit breaker
// around a downstream that is failing outright.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/bhaijames252-sketch/billbillbill/internal/logging"
)

// Outcome classifies a request's result.
type Outcome int

const (
	Success Outcome = iota
	Conflict
	NotFound
	Error
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	default:
		return "error"
	}
}

// Result is the outcome of one API call plus its decoded body, when present.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Body       map[string]any
}

// Config controls connection pooling, retry, and circuit-breaker behavior.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	RetryCount   int
	RetryDelay   time.Duration
	MaxConns     int
	MaxKeepalive int
}

// Client is the production API Client.
type Client struct {
	cfg    Config
	http   *http.Client
	cb     circuitbreaker.CircuitBreaker[*Result]
	logger logging.Logger
}

// New builds a Client with a tuned transport and a circuit breaker
// around every request, grounded on the teacher's connection-pool
// defaults and circuit breaker shape.
func New(cfg Config, logger logging.Logger) *Client {
	transport := &http.Transport{
		MaxConnsPerHost:       cfg.MaxConns,
		MaxIdleConnsPerHost:   cfg.MaxKeepalive,
		MaxIdleConns:          cfg.MaxConns,
		IdleConnTimeout:       90 * time.Second,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	breaker := circuitbreaker.NewBuilder[*Result]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(15 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.WithFields(logging.Fields{
				"from_state": event.OldState.String(),
				"to_state":   event.NewState.String(),
			}).Warn("api client circuit breaker state change")
		}).
		Build()

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Transport: transport, Timeout: cfg.Timeout},
		cb:     breaker,
		logger: logger,
	}
}

// do executes one HTTP call through the circuit breaker with linear
// backoff retry on timeout/connection errors only — matching the
// source client's `retry_delay * (attempt+1)` formula exactly.
// HTTP 4xx other than 404/409 is never retried.
func (c *Client) do(ctx context.Context, method, path string, body any) (*Result, error) {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = encoded
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryCount; attempt++ {
		result, err := failsafe.With(c.cb).Get(func() (*Result, error) {
			return c.attempt(ctx, method, path, payload)
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
		if attempt < c.cfg.RetryCount {
			delay := c.cfg.RetryDelay * time.Duration(attempt+1)
			c.logger.WithFields(logging.Fields{"attempt": attempt + 1, "delay": delay.String()}).Warn("retrying api call")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("api call failed after %d attempts: %w", c.cfg.RetryCount+1, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}

	result := &Result{StatusCode: resp.StatusCode, Body: decoded}
	switch {
	case resp.StatusCode == http.StatusConflict:
		result.Outcome = Conflict
	case resp.StatusCode == http.StatusNotFound:
		result.Outcome = NotFound
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Outcome = Success
	default:
		result.Outcome = Error
		return result, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return result, nil
}

// isRetryable reports whether err is a timeout or connection error —
// the only classes this client retries, per spec.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || !netErr.Temporary()
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// CreateCompute issues POST /api/v1/resources/computes.
func (c *Client) CreateCompute(ctx context.Context, resourceID, userID, flavor string) (*Result, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/resources/computes", map[string]any{
		"resource_id": resourceID, "user_id": userID, "flavor": flavor,
	})
}

// UpdateCompute issues PATCH /api/v1/resources/computes/{id}.
func (c *Client) UpdateCompute(ctx context.Context, resourceID string, state, flavor *string) (*Result, error) {
	body := map[string]any{}
	if state != nil {
		body["state"] = *state
	}
	if flavor != nil {
		body["flavor"] = *flavor
	}
	return c.do(ctx, http.MethodPatch, "/api/v1/resources/computes/"+resourceID, body)
}

// DeleteCompute issues DELETE /api/v1/resources/computes/{id}.
func (c *Client) DeleteCompute(ctx context.Context, resourceID string) (*Result, error) {
	return c.do(ctx, http.MethodDelete, "/api/v1/resources/computes/"+resourceID, nil)
}

// CreateDisk issues POST /api/v1/resources/disks.
func (c *Client) CreateDisk(ctx context.Context, resourceID, userID string, sizeGB int) (*Result, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/resources/disks", map[string]any{
		"resource_id": resourceID, "user_id": userID, "size_gb": sizeGB,
	})
}

// UpdateDisk issues PATCH /api/v1/resources/disks/{id}.
func (c *Client) UpdateDisk(ctx context.Context, resourceID string, sizeGB *int) (*Result, error) {
	body := map[string]any{}
	if sizeGB != nil {
		body["size_gb"] = *sizeGB
	}
	return c.do(ctx, http.MethodPatch, "/api/v1/resources/disks/"+resourceID, body)
}

// DeleteDisk issues DELETE /api/v1/resources/disks/{id}.
func (c *Client) DeleteDisk(ctx context.Context, resourceID string) (*Result, error) {
	return c.do(ctx, http.MethodDelete, "/api/v1/resources/disks/"+resourceID, nil)
}

// CreateFloatingIP issues POST /api/v1/resources/floating-ips.
func (c *Client) CreateFloatingIP(ctx context.Context, resourceID, userID, ipAddress string) (*Result, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/resources/floating-ips", map[string]any{
		"resource_id": resourceID, "user_id": userID, "ip_address": ipAddress,
	})
}

// ReleaseFloatingIP issues DELETE /api/v1/resources/floating-ips/{id}.
func (c *Client) ReleaseFloatingIP(ctx context.Context, resourceID string) (*Result, error) {
	return c.do(ctx, http.MethodDelete, "/api/v1/resources/floating-ips/"+resourceID, nil)
}

// EnsureWallet issues POST /api/v1/wallets, treating Conflict as success.
func (c *Client) EnsureWallet(ctx context.Context, userID string, balance float64, currency string) (*Result, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/wallets", map[string]any{
		"user_id": userID, "balance": balance, "currency": currency, "auto_recharge": false,
	})
}

// GetWallet issues GET /api/v1/wallets/{user_id}.
func (c *Client) GetWallet(ctx context.Context, userID string) (*Result, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/wallets/"+userID, nil)
}

// ComputeBilling issues POST /api/v1/billing/compute.
func (c *Client) ComputeBilling(ctx context.Context, userID string, periodEnd *time.Time) (*Result, error) {
	body := map[string]any{"user_id": userID}
	if periodEnd != nil {
		body["period_end"] = periodEnd.Format(time.RFC3339)
	}
	return c.do(ctx, http.MethodPost, "/api/v1/billing/compute", body)
}

// RetryBilling issues POST /api/v1/billing/{bill_id}/retry.
func (c *Client) RetryBilling(ctx context.Context, billID string) (*Result, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/billing/"+billID+"/retry", nil)
}
