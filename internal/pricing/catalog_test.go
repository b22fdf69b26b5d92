package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bhaijames252-sketch/billbillbill/internal/models"
)

func TestEncodeDecodeScheduleRoundTrips(t *testing.T) {
	schedule := models.PriceSchedule{
		Currency: "USD",
		Compute: map[string]models.ComputeRate{
			"small":  {PerHour: decimal.NewFromFloat(0.5)},
			"medium": {PerHour: decimal.NewFromFloat(1.0)},
		},
		Disk:         models.DiskRate{PerGBHour: decimal.NewFromFloat(0.01)},
		FloatingIP:   models.FloatingIPRate{PerHour: decimal.NewFromFloat(0.05)},
		PriceVersion: "2026-01-01_v1",
	}

	computeJSON, diskJSON, fipJSON, err := encodeSchedule(schedule)
	if err != nil {
		t.Fatalf("encodeSchedule: %v", err)
	}

	decoded, err := decodeSchedule(schedule.Currency, schedule.PriceVersion, computeJSON, diskJSON, fipJSON)
	if err != nil {
		t.Fatalf("decodeSchedule: %v", err)
	}

	if !decoded.Compute["small"].PerHour.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("expected small rate 0.5, got %s", decoded.Compute["small"].PerHour)
	}
	if !decoded.Disk.PerGBHour.Equal(decimal.NewFromFloat(0.01)) {
		t.Fatalf("expected disk rate 0.01, got %s", decoded.Disk.PerGBHour)
	}
	if decoded.PriceVersion != "2026-01-01_v1" {
		t.Fatalf("expected version to round-trip, got %s", decoded.PriceVersion)
	}
}

func TestScheduleEntryRoundTrips(t *testing.T) {
	schedule := models.PriceSchedule{
		Currency: "USD",
		Compute: map[string]models.ComputeRate{
			"small": {PerHour: decimal.NewFromFloat(0.5)},
		},
		Disk:       models.DiskRate{PerGBHour: decimal.NewFromFloat(0.01)},
		FloatingIP: models.FloatingIPRate{PerHour: decimal.NewFromFloat(0.05)},
	}

	entry := scheduleToEntry(schedule, "2026-01-01_v2")
	restored := entryToSchedule("USD", entry)

	if restored.PriceVersion != "2026-01-01_v2" {
		t.Fatalf("expected version 2026-01-01_v2, got %s", restored.PriceVersion)
	}
	if !restored.ComputeRateFor("small").Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("expected small rate 0.5, got %s", restored.ComputeRateFor("small"))
	}
	if !restored.ComputeRateFor("unknown-flavor").IsZero() {
		t.Fatalf("expected zero fallback rate, got %s", restored.ComputeRateFor("unknown-flavor"))
	}
}

func TestComputeRateForFallsBackToOthersThenZero(t *testing.T) {
	schedule := models.PriceSchedule{
		Compute: map[string]models.ComputeRate{
			"others": {PerHour: decimal.NewFromFloat(0.2)},
		},
	}
	if !schedule.ComputeRateFor("exotic").Equal(decimal.NewFromFloat(0.2)) {
		t.Fatalf("expected fallback to others, got %s", schedule.ComputeRateFor("exotic"))
	}

	empty := models.PriceSchedule{}
	if !empty.ComputeRateFor("anything").IsZero() {
		t.Fatalf("expected zero when no rates defined")
	}
}
