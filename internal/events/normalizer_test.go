package events

import (
	"testing"

	"github.com/bhaijames252-sketch/billbillbill/internal/models"
)

func TestNormalizeComputeCreate(t *testing.T) {
	msg := RawMessage{
		"event_type": "compute.instance.create.end",
		"user_id":    "user-1",
		"payload": map[string]any{
			"instance_id": "inst-1",
			"flavor":      "small",
			"state":       "active",
		},
		"timestamp": "2026-01-01T00:00:00Z",
	}

	ev := Normalize(msg)
	if ev == nil {
		t.Fatal("expected event, got nil")
	}
	if ev.ResourceType != models.ResourceCompute {
		t.Fatalf("expected compute, got %s", ev.ResourceType)
	}
	if ev.EventType != models.EventCreate {
		t.Fatalf("expected create, got %s", ev.EventType)
	}
	if ev.ResourceID != "inst-1" {
		t.Fatalf("expected inst-1, got %s", ev.ResourceID)
	}
	if ev.Payload["flavor"] != "small" {
		t.Fatalf("expected flavor small, got %v", ev.Payload["flavor"])
	}
	if ev.Payload["state"] != models.ComputeStateRunning {
		t.Fatalf("expected running, got %v", ev.Payload["state"])
	}
}

func TestNormalizeMissingUserIDReturnsNil(t *testing.T) {
	msg := RawMessage{
		"event_type": "compute.instance.create.end",
		"payload": map[string]any{
			"instance_id": "inst-1",
			"flavor":      "small",
		},
	}

	if ev := Normalize(msg); ev != nil {
		t.Fatalf("expected nil event, got %+v", ev)
	}
}

func TestNormalizeUnclassifiableReturnsNil(t *testing.T) {
	msg := RawMessage{
		"event_type": "unknown.thing",
		"user_id":    "user-1",
		"payload":    map[string]any{},
	}

	if ev := Normalize(msg); ev != nil {
		t.Fatalf("expected nil event, got %+v", ev)
	}
}

func TestNormalizeDiskResize(t *testing.T) {
	msg := RawMessage{
		"event_type": "volume.resize.end",
		"user_id":    "user-2",
		"payload": map[string]any{
			"volume_id": "vol-1",
			"size":      20,
			"status":    "in-use",
		},
	}

	ev := Normalize(msg)
	if ev == nil {
		t.Fatal("expected event, got nil")
	}
	if ev.ResourceType != models.ResourceDisk {
		t.Fatalf("expected disk, got %s", ev.ResourceType)
	}
	if ev.EventType != models.EventResize {
		t.Fatalf("expected resize, got %s", ev.EventType)
	}
	if ev.Payload["size_gb"] != 20 {
		t.Fatalf("expected size_gb 20, got %v", ev.Payload["size_gb"])
	}
	if ev.Payload["state"] != models.DiskStateAttached {
		t.Fatalf("expected attached, got %v", ev.Payload["state"])
	}
}

func TestNormalizeFloatingIPAllocate(t *testing.T) {
	msg := RawMessage{
		"event_type": "floatingip.create.end",
		"payload": map[string]any{
			"floatingip": map[string]any{
				"id":        "fip-1",
				"tenant_id": "user-3",
				"floating_ip_address": "10.0.0.5",
			},
		},
	}

	ev := Normalize(msg)
	if ev == nil {
		t.Fatal("expected event, got nil")
	}
	if ev.ResourceType != models.ResourceFloatingIP {
		t.Fatalf("expected floating_ip, got %s", ev.ResourceType)
	}
	if ev.ResourceID != "fip-1" {
		t.Fatalf("expected fip-1, got %s", ev.ResourceID)
	}
	if ev.UserID != "user-3" {
		t.Fatalf("expected user-3, got %s", ev.UserID)
	}
	if ev.Payload["ip_address"] != "10.0.0.5" {
		t.Fatalf("expected ip, got %v", ev.Payload["ip_address"])
	}
}

func TestNormalizeEventTypeVariants(t *testing.T) {
	cases := map[string]models.EventType{
		"compute.instance.delete.start": models.EventDelete,
		"compute.instance.power_on":     models.EventStart,
		"compute.instance.pause":        models.EventStop,
		"compute.instance.resize.end":   models.EventResize,
	}

	for eventType, want := range cases {
		msg := RawMessage{
			"event_type": eventType,
			"user_id":    "user-1",
			"payload": map[string]any{
				"instance_id": "inst-1",
			},
		}
		ev := Normalize(msg)
		if ev == nil {
			t.Fatalf("%s: expected event, got nil", eventType)
		}
		if ev.EventType != want {
			t.Errorf("%s: expected %s, got %s", eventType, want, ev.EventType)
		}
	}
}
