package storage

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type moneyDoc struct {
	Amount decimal.Decimal `bson:"amount"`
}

func marshalUnmarshal(t *testing.T, in moneyDoc) moneyDoc {
	t.Helper()
	registry := decimalRegistry()

	data, err := bson.MarshalWithRegistry(registry, in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out moneyDoc
	if err := bson.UnmarshalWithRegistry(registry, data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestDecimalCodecRoundTripsNonZeroAmount(t *testing.T) {
	in := moneyDoc{Amount: decimal.RequireFromString("12.340000")}
	out := marshalUnmarshal(t, in)
	if !out.Amount.Equal(in.Amount) {
		t.Fatalf("expected %s, got %s", in.Amount, out.Amount)
	}
}

func TestDecimalCodecRoundTripsNegativeAmount(t *testing.T) {
	in := moneyDoc{Amount: decimal.RequireFromString("-4.5")}
	out := marshalUnmarshal(t, in)
	if !out.Amount.Equal(in.Amount) {
		t.Fatalf("expected %s, got %s", in.Amount, out.Amount)
	}
}

func TestDecimalCodecWithoutRegistryLosesValue(t *testing.T) {
	in := moneyDoc{Amount: decimal.RequireFromString("99.99")}
	data, err := bson.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out moneyDoc
	if err := bson.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Amount.Equal(in.Amount) {
		t.Fatal("expected default codec to fail to round-trip decimal.Decimal, demonstrating why the custom codec is required")
	}
}

func TestCanonicalDecimalStringTrimsTrailingZeros(t *testing.T) {
	d := decimal.RequireFromString("10.500000")
	if got := CanonicalDecimalString(d); got != "10.5" {
		t.Fatalf("expected 10.5, got %s", got)
	}
}

func TestCanonicalDecimalStringNormalizesNegativeZero(t *testing.T) {
	d := decimal.RequireFromString("-0.000000")
	if got := CanonicalDecimalString(d); got != "0" {
		t.Fatalf("expected 0, got %s", got)
	}
}

func TestCanonicalDecimalStringPreservesIntegerAmounts(t *testing.T) {
	d := decimal.RequireFromString("42")
	if got := CanonicalDecimalString(d); got != "42" {
		t.Fatalf("expected 42, got %s", got)
	}
}
