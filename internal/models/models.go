// Package models holds the canonical data model shared by the ingestion
// pipeline, the resource store, and the billing engine.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResourceType enumerates the billable resource kinds.
type ResourceType string

const (
	ResourceCompute    ResourceType = "compute"
	ResourceDisk       ResourceType = "disk"
	ResourceFloatingIP ResourceType = "floating_ip"
)

// EventType enumerates the canonical lifecycle event vocabulary.
type EventType string

const (
	EventCreate   EventType = "create"
	EventUpdate   EventType = "update"
	EventDelete   EventType = "delete"
	EventStart    EventType = "start"
	EventStop     EventType = "stop"
	EventResize   EventType = "resize"
	EventAttach   EventType = "attach"
	EventDetach   EventType = "detach"
	EventAllocate EventType = "allocate"
	EventRelease  EventType = "release"
)

// Compute and disk state vocabularies, normalized from upstream cloud states.
const (
	ComputeStateRunning = "running"
	ComputeStateStopped = "stopped"
	ComputeStateDeleted = "deleted"

	DiskStateAttached = "attached"
	DiskStateDetached = "detached"
	DiskStateDeleted  = "deleted"
)

// Event is the canonical, immutable record produced by the normalizer.
type Event struct {
	ResourceType ResourceType
	EventType    EventType
	ResourceID   string
	UserID       string
	Timestamp    time.Time
	Payload      map[string]any
}

// EventEntry is an append-only entry in a resource's event log.
type EventEntry struct {
	EventID string         `bson:"event_id"`
	Time    time.Time      `bson:"time"`
	Type    string         `bson:"type"`
	Meta    map[string]any `bson:"meta,omitempty"`
}

// ComputeResource is the durable projection + event log for a compute instance.
type ComputeResource struct {
	ResourceID      string       `bson:"resource_id"`
	UserID          string       `bson:"user_id"`
	State           string       `bson:"state"`
	CurrentFlavor   string       `bson:"current_flavor"`
	CreatedAt       time.Time    `bson:"created_at"`
	DeletedAt       *time.Time   `bson:"deleted_at"`
	LastBilledUntil time.Time    `bson:"last_billed_until"`
	Events          []EventEntry `bson:"events"`
}

// DiskResource is the durable projection + event log for a block volume.
type DiskResource struct {
	ResourceID      string       `bson:"resource_id"`
	UserID          string       `bson:"user_id"`
	SizeGB          int          `bson:"size_gb"`
	State           string       `bson:"state"`
	CreatedAt       time.Time    `bson:"created_at"`
	DeletedAt       *time.Time   `bson:"deleted_at"`
	LastBilledUntil time.Time    `bson:"last_billed_until"`
	Events          []EventEntry `bson:"events"`
}

// FloatingIPResource is the durable projection + event log for a floating IP.
type FloatingIPResource struct {
	ResourceID      string       `bson:"resource_id"`
	UserID          string       `bson:"user_id"`
	IPAddress       string       `bson:"ip_address"`
	CreatedAt       time.Time    `bson:"created_at"`
	ReleasedAt      *time.Time   `bson:"released_at"`
	LastBilledUntil time.Time    `bson:"last_billed_until"`
	Events          []EventEntry `bson:"events"`
}

// Wallet is the relational row tracking a user's spendable balance.
type Wallet struct {
	UserID          string
	Balance         decimal.Decimal
	Currency        string
	AutoRecharge    bool
	AllowNegative   bool
	LastDeductedAt  *time.Time
	ArchivalID      string
}

// TransactionType distinguishes ledger entry direction.
type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

// Transaction is one entry in a wallet's append-only archive document.
type Transaction struct {
	TxID         string          `bson:"tx_id"`
	Time         time.Time       `bson:"time"`
	Amount       decimal.Decimal `bson:"amount"`
	BalanceAfter decimal.Decimal `bson:"balance_after"`
	Type         TransactionType `bson:"type"`
	Reason       string          `bson:"reason"`
	PriceVersion string          `bson:"price_version,omitempty"`
}

// TransactionArchive is the per-wallet document holding its transaction history.
type TransactionArchive struct {
	ArchivalID   string        `bson:"_id"`
	UserID       string        `bson:"user_id"`
	Transactions []Transaction `bson:"transactions"`
}

// BillStatus enumerates the lifecycle of a bill.
type BillStatus string

const (
	BillPending BillStatus = "pending"
	BillSuccess BillStatus = "success"
	BillFailed BillStatus = "failed"
)

// Charge is a single line item within a bill.
type Charge struct {
	Type       ResourceType    `bson:"type"`
	ResourceID string          `bson:"resource_id"`
	Amount     decimal.Decimal `bson:"amount"`
}

// Bill is the persisted outcome of a billing cycle computation.
type Bill struct {
	BillID       string          `bson:"bill_id"`
	UserID       string          `bson:"user_id"`
	PeriodStart  time.Time       `bson:"period_start"`
	PeriodEnd    time.Time       `bson:"period_end"`
	Status       BillStatus      `bson:"status"`
	Charges      []Charge        `bson:"charges"`
	Total        decimal.Decimal `bson:"total"`
	Paid         bool            `bson:"paid"`
	PriceVersion string          `bson:"price_version"`
	GeneratedAt  time.Time       `bson:"generated_at"`
}

// ComputeRate is the per-hour rate for a compute flavor.
type ComputeRate struct {
	PerHour decimal.Decimal
}

// DiskRate is the per-GB-hour rate for block storage.
type DiskRate struct {
	PerGBHour decimal.Decimal
}

// FloatingIPRate is the per-hour rate for an allocated floating IP.
type FloatingIPRate struct {
	PerHour decimal.Decimal
}

// PriceSchedule is the rate card in effect for one currency.
type PriceSchedule struct {
	Currency     string
	Compute      map[string]ComputeRate
	Disk         DiskRate
	FloatingIP   FloatingIPRate
	PriceVersion string
}

// ComputeRateFor resolves a flavor's rate, falling back to "others" then zero.
func (p PriceSchedule) ComputeRateFor(flavor string) decimal.Decimal {
	if rate, ok := p.Compute[flavor]; ok {
		return rate.PerHour
	}
	if rate, ok := p.Compute["others"]; ok {
		return rate.PerHour
	}
	return decimal.Zero
}
