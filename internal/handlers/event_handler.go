// Package handlers wires a normalized Event to its downstream create,
// update, delete, or no-op API call, and reports success/conflict as
// the ack/nack signal the Queue Consumer acts on.
package handlers

import (
	"context"
	"fmt"

	"github.com/bhaijames252-sketch/billbillbill/internal/apiclient"
	"github.com/bhaijames252-sketch/billbillbill/internal/logging"
	"github.com/bhaijames252-sketch/billbillbill/internal/models"
)

// Result is the outcome of processing one event.
type Result struct {
	Event   models.Event
	Outcome apiclient.Outcome
	Err     error
}

// Succeeded reports whether the delivery should be acked: success and
// conflict are both terminal successes (conflict means the create
// already happened, which is fine under at-least-once delivery).
func (r Result) Succeeded() bool {
	return r.Err == nil && (r.Outcome == apiclient.Success || r.Outcome == apiclient.Conflict)
}

// EventHandler dispatches normalized events to the API Client per the
// resource/event-type map, optionally bootstrapping the user's wallet
// first on a best-effort basis.
type EventHandler struct {
	client     *apiclient.Client
	logger     logging.Logger
	skipWallet bool
}

// New builds an EventHandler.
func New(client *apiclient.Client, logger logging.Logger, skipWallet bool) *EventHandler {
	return &EventHandler{client: client, logger: logger, skipWallet: skipWallet}
}

// Handle processes one normalized event and returns its outcome.
func (h *EventHandler) Handle(ctx context.Context, event models.Event) Result {
	if !h.skipWallet {
		h.ensureWallet(ctx, event.UserID)
	}

	var result *apiclient.Result
	var err error

	switch event.ResourceType {
	case models.ResourceCompute:
		result, err = h.handleCompute(ctx, event)
	case models.ResourceDisk:
		result, err = h.handleDisk(ctx, event)
	case models.ResourceFloatingIP:
		result, err = h.handleFloatingIP(ctx, event)
	default:
		err = fmt.Errorf("unknown resource type: %s", event.ResourceType)
	}

	if err != nil {
		h.logger.WithFields(logging.Fields{
			"resource_type": event.ResourceType,
			"event_type":    event.EventType,
			"resource_id":   event.ResourceID,
		}).WithError(err).Warn("event processing failed")
		return Result{Event: event, Outcome: apiclient.Error, Err: err}
	}
	return Result{Event: event, Outcome: result.Outcome}
}

// ensureWallet is best-effort: a failure here must never block event
// processing, so errors are logged at debug level and swallowed.
func (h *EventHandler) ensureWallet(ctx context.Context, userID string) {
	existing, err := h.client.GetWallet(ctx, userID)
	if err == nil && existing.Outcome == apiclient.Success {
		return
	}
	if _, err := h.client.EnsureWallet(ctx, userID, 0, "USD"); err != nil {
		h.logger.WithError(err).Debug("wallet bootstrap skipped")
	}
}

func (h *EventHandler) handleCompute(ctx context.Context, event models.Event) (*apiclient.Result, error) {
	switch event.EventType {
	case models.EventCreate:
		flavor, _ := event.Payload["flavor"].(string)
		if flavor == "" {
			flavor = "small"
		}
		return h.client.CreateCompute(ctx, event.ResourceID, event.UserID, flavor)
	case models.EventDelete:
		return h.client.DeleteCompute(ctx, event.ResourceID)
	case models.EventStart, models.EventStop, models.EventUpdate:
		state, _ := event.Payload["state"].(string)
		return h.client.UpdateCompute(ctx, event.ResourceID, strPtr(state), nil)
	case models.EventResize:
		flavor, _ := event.Payload["flavor"].(string)
		return h.client.UpdateCompute(ctx, event.ResourceID, nil, strPtr(flavor))
	default:
		return &apiclient.Result{Outcome: apiclient.Success}, nil
	}
}

func (h *EventHandler) handleDisk(ctx context.Context, event models.Event) (*apiclient.Result, error) {
	switch event.EventType {
	case models.EventCreate:
		sizeGB := intFromPayload(event.Payload, "size_gb")
		return h.client.CreateDisk(ctx, event.ResourceID, event.UserID, sizeGB)
	case models.EventDelete:
		return h.client.DeleteDisk(ctx, event.ResourceID)
	case models.EventResize:
		sizeGB := intFromPayload(event.Payload, "size_gb")
		return h.client.UpdateDisk(ctx, event.ResourceID, &sizeGB)
	case models.EventAttach, models.EventDetach:
		return &apiclient.Result{Outcome: apiclient.Success}, nil
	default:
		return &apiclient.Result{Outcome: apiclient.Success}, nil
	}
}

func (h *EventHandler) handleFloatingIP(ctx context.Context, event models.Event) (*apiclient.Result, error) {
	switch event.EventType {
	case models.EventCreate, models.EventAllocate:
		ip, _ := event.Payload["ip_address"].(string)
		return h.client.CreateFloatingIP(ctx, event.ResourceID, event.UserID, ip)
	case models.EventDelete, models.EventRelease:
		return h.client.ReleaseFloatingIP(ctx, event.ResourceID)
	default:
		return &apiclient.Result{Outcome: apiclient.Success}, nil
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func intFromPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
