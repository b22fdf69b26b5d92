package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bhaijames252-sketch/billbillbill/internal/logging"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return New(Config{
		BaseURL:      baseURL,
		Timeout:      2 * time.Second,
		RetryCount:   2,
		RetryDelay:   5 * time.Millisecond,
		MaxConns:     10,
		MaxKeepalive: 5,
	}, logging.New("apiclient-test"))
}

func TestCreateComputeReturnsSuccessOn201(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"resource_id":"r1"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	result, err := c.CreateCompute(context.Background(), "r1", "u1", "small")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != Success {
		t.Fatalf("expected Success, got %v", result.Outcome)
	}
}

func TestCreateComputeTreatsConflictAsTerminalOutcome(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	result, err := c.CreateCompute(context.Background(), "r1", "u1", "small")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != Conflict {
		t.Fatalf("expected Conflict, got %v", result.Outcome)
	}
	if calls != 1 {
		t.Fatalf("expected no retry on 409, got %d calls", calls)
	}
}

func TestDeleteComputeReturnsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	result, err := c.DeleteCompute(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != NotFound {
		t.Fatalf("expected NotFound, got %v", result.Outcome)
	}
}

func TestServerErrorIsNotRetriedAndReturnsError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.CreateCompute(context.Background(), "r1", "u1", "small")
	if err == nil {
		t.Fatal("expected error on 500")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, since 5xx is not a retryable class here, got %d", calls)
	}
}

func TestConnectionErrorRetriesWithLinearBackoff(t *testing.T) {
	// Closed server: every dial fails with a connection error, which this
	// client retries up to RetryCount times with delay*attempt spacing.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	unreachable := srv.URL
	srv.Close()

	c := testClient(t, unreachable)
	start := time.Now()
	_, err := c.CreateCompute(context.Background(), "r1", "u1", "small")
	elapsed := time.Since(start)
	if err == nil {
		t.Fatal("expected error dialing a closed server")
	}
	// Two retries at delay*1 and delay*2 => at least 3*delay elapsed.
	if elapsed < 3*c.cfg.RetryDelay {
		t.Fatalf("expected backoff delay to have elapsed, got %v", elapsed)
	}
}

func TestGetWalletSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"user_id":"u1","balance":"9.00"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	result, err := c.GetWallet(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Body["user_id"] != "u1" {
		t.Fatalf("expected decoded body to contain user_id, got %v", result.Body)
	}
}
