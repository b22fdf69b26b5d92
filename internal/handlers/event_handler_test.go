package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bhaijames252-sketch/billbillbill/internal/apiclient"
	"github.com/bhaijames252-sketch/billbillbill/internal/logging"
	"github.com/bhaijames252-sketch/billbillbill/internal/models"
)

type route struct {
	method string
	path   string
	status int
}

func testHandler(t *testing.T, routes map[string]route, skipWallet bool) (*EventHandler, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		for _, rt := range routes {
			if rt.method == r.Method && rt.path == r.URL.Path {
				w.WriteHeader(rt.status)
				w.Write([]byte(`{}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	client := apiclient.New(apiclient.Config{
		BaseURL:      srv.URL,
		Timeout:      2 * time.Second,
		RetryCount:   1,
		RetryDelay:   time.Millisecond,
		MaxConns:     10,
		MaxKeepalive: 5,
	}, logging.New("handlers-test"))

	return New(client, logging.New("handlers-test"), skipWallet), &calls
}

func TestHandleComputeCreateSucceeds(t *testing.T) {
	h, _ := testHandler(t, map[string]route{
		"create": {http.MethodPost, "/api/v1/resources/computes", http.StatusCreated},
	}, true)

	result := h.Handle(context.Background(), models.Event{
		ResourceType: models.ResourceCompute,
		EventType:    models.EventCreate,
		ResourceID:   "r1",
		UserID:       "u1",
		Payload:      map[string]any{"flavor": "medium"},
	})
	if !result.Succeeded() {
		t.Fatalf("expected success, got outcome=%v err=%v", result.Outcome, result.Err)
	}
}

func TestHandleComputeCreateConflictIsTerminalSuccess(t *testing.T) {
	h, _ := testHandler(t, map[string]route{
		"create": {http.MethodPost, "/api/v1/resources/computes", http.StatusConflict},
	}, true)

	result := h.Handle(context.Background(), models.Event{
		ResourceType: models.ResourceCompute,
		EventType:    models.EventCreate,
		ResourceID:   "r1",
		UserID:       "u1",
		Payload:      map[string]any{"flavor": "small"},
	})
	if !result.Succeeded() {
		t.Fatalf("expected conflict to be a terminal success, got %v", result.Outcome)
	}
}

func TestHandleDiskAttachIsNoOp(t *testing.T) {
	h, calls := testHandler(t, map[string]route{}, true)

	result := h.Handle(context.Background(), models.Event{
		ResourceType: models.ResourceDisk,
		EventType:    models.EventAttach,
		ResourceID:   "d1",
		UserID:       "u1",
	})
	if !result.Succeeded() {
		t.Fatalf("expected attach no-op to succeed, got %v", result.Outcome)
	}
	if *calls != 0 {
		t.Fatalf("expected no HTTP call for a no-op disk event, got %d", *calls)
	}
}

func TestHandleFloatingIPDeleteCallsRelease(t *testing.T) {
	h, _ := testHandler(t, map[string]route{
		"release": {http.MethodDelete, "/api/v1/resources/floating-ips/f1", http.StatusOK},
	}, true)

	result := h.Handle(context.Background(), models.Event{
		ResourceType: models.ResourceFloatingIP,
		EventType:    models.EventDelete,
		ResourceID:   "f1",
		UserID:       "u1",
	})
	if !result.Succeeded() {
		t.Fatalf("expected release success, got %v err=%v", result.Outcome, result.Err)
	}
}

func TestHandleNotFoundIsNotSucceeded(t *testing.T) {
	h, _ := testHandler(t, map[string]route{
		"delete": {http.MethodDelete, "/api/v1/resources/computes/missing", http.StatusNotFound},
	}, true)

	result := h.Handle(context.Background(), models.Event{
		ResourceType: models.ResourceCompute,
		EventType:    models.EventDelete,
		ResourceID:   "missing",
		UserID:       "u1",
	})
	if result.Succeeded() {
		t.Fatal("expected not_found to not be a terminal success")
	}
	if result.Outcome != apiclient.NotFound {
		t.Fatalf("expected NotFound outcome, got %v", result.Outcome)
	}
}

func TestWalletBootstrapSkippedWhenConfigured(t *testing.T) {
	h, calls := testHandler(t, map[string]route{
		"create": {http.MethodPost, "/api/v1/resources/computes", http.StatusCreated},
	}, true)

	h.Handle(context.Background(), models.Event{
		ResourceType: models.ResourceCompute,
		EventType:    models.EventCreate,
		ResourceID:   "r1",
		UserID:       "u1",
		Payload:      map[string]any{"flavor": "small"},
	})
	if *calls != 1 {
		t.Fatalf("expected exactly one call (the create) with wallet bootstrap skipped, got %d", *calls)
	}
}
