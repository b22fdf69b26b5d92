// Package billing reconstructs billable segments from each resource's
// event log, prices them against the current schedule, and settles
// the resulting charge against the user's wallet in two phases.
package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bhaijames252-sketch/billbillbill/internal/models"
	"github.com/bhaijames252-sketch/billbillbill/internal/pricing"
	"github.com/bhaijames252-sketch/billbillbill/internal/resourcestore"
	"github.com/bhaijames252-sketch/billbillbill/internal/wallet"
)

// ErrAlreadyPaid is returned by Retry when the bill is already
// status=success, paid=true.
var ErrAlreadyPaid = errors.New("bill already paid")

// ErrNoBillableUsage is returned by Compute when a period produces no
// charges; no bill is persisted in this case.
var ErrNoBillableUsage = errors.New("no billable usage")

// Engine is the Billing Computation Engine.
type Engine struct {
	resources resourcestore.Store
	wallets   wallet.Ledger
	pricing   pricing.Catalog
	bills     BillStore
	now       func() time.Time
}

// NewEngine wires the engine's three inputs (Resource Store, Wallet
// Ledger, Pricing Catalog) and its Bill output store.
func NewEngine(resources resourcestore.Store, wallets wallet.Ledger, catalog pricing.Catalog, bills BillStore) *Engine {
	return &Engine{resources: resources, wallets: wallets, pricing: catalog, bills: bills, now: func() time.Time { return time.Now().UTC() }}
}

// chargeLine is an internal accumulator before a charge is known to be positive.
type chargeLine struct {
	resourceType models.ResourceType
	resourceID   string
	amount       decimal.Decimal
	advanceTo    time.Time
	advance      func(ctx context.Context, until time.Time) error
}

// Compute runs a full billing cycle for a user. periodEnd defaults to
// now when nil, and is clamped to now otherwise. Returns
// ErrNoBillableUsage, with no bill persisted, when nothing is owed.
func (e *Engine) Compute(ctx context.Context, userID string, periodEnd *time.Time) (*models.Bill, error) {
	now := e.now()

	end := now
	if periodEnd != nil && periodEnd.Before(now) {
		end = periodEnd.UTC()
	}

	userWallet, err := e.wallets.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch wallet for billing: %w", err)
	}

	schedule, err := e.pricing.GetSchedule(ctx, userWallet.Currency)
	if err != nil {
		return nil, fmt.Errorf("fetch price schedule for billing: %w", err)
	}

	var lines []chargeLine

	computes, err := e.resources.GetUserComputes(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("list computes for billing: %w", err)
	}
	for _, c := range computes {
		line, ok, err := e.billCompute(c, end, schedule)
		if err != nil {
			return nil, err
		}
		if ok {
			lines = append(lines, line)
		}
	}

	disks, err := e.resources.GetUserDisks(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("list disks for billing: %w", err)
	}
	for _, d := range disks {
		line, ok, err := e.billDisk(d, end, schedule)
		if err != nil {
			return nil, err
		}
		if ok {
			lines = append(lines, line)
		}
	}

	fips, err := e.resources.GetUserFloatingIPs(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("list floating ips for billing: %w", err)
	}
	for _, f := range fips {
		line, ok, err := e.billFloatingIP(f, end, schedule)
		if err != nil {
			return nil, err
		}
		if ok {
			lines = append(lines, line)
		}
	}

	// Advance cursors for every processed (non-skipped) resource,
	// regardless of whether its charge was positive, so a second call
	// over the same interval sees nothing new to bill.
	for _, line := range lines {
		if err := line.advance(ctx, line.advanceTo); err != nil {
			return nil, fmt.Errorf("advance last_billed_until for %s: %w", line.resourceID, err)
		}
	}

	total := decimal.Zero
	var charges []models.Charge
	for _, line := range lines {
		if line.amount.GreaterThan(decimal.Zero) {
			charges = append(charges, models.Charge{Type: line.resourceType, ResourceID: line.resourceID, Amount: line.amount})
			total = total.Add(line.amount)
		}
	}

	if total.IsZero() {
		return nil, ErrNoBillableUsage
	}

	periodStart := end
	if userWallet.LastDeductedAt != nil {
		periodStart = *userWallet.LastDeductedAt
	}

	bill := &models.Bill{
		BillID:       newBillID(end, userID),
		UserID:       userID,
		PeriodStart:  periodStart,
		PeriodEnd:    end,
		Status:       models.BillPending,
		Charges:      charges,
		Total:        total,
		Paid:         false,
		PriceVersion: schedule.PriceVersion,
		GeneratedAt:  now,
	}

	if err := e.bills.InsertBill(ctx, bill); err != nil {
		return nil, fmt.Errorf("insert pending bill: %w", err)
	}

	return e.settle(ctx, bill, schedule.PriceVersion)
}

// settle is Step 7: debit the wallet and flip the bill to a terminal state.
func (e *Engine) settle(ctx context.Context, bill *models.Bill, priceVersion string) (*models.Bill, error) {
	_, err := e.wallets.Debit(ctx, bill.UserID, bill.Total, fmt.Sprintf("Billing cycle: %s", bill.BillID), priceVersion)
	if errors.Is(err, wallet.ErrInsufficientBalance) {
		if updateErr := e.bills.UpdateBillStatus(ctx, bill.BillID, models.BillFailed, false); updateErr != nil {
			return nil, fmt.Errorf("mark bill failed: %w", updateErr)
		}
		bill.Status = models.BillFailed
		bill.Paid = false
		return bill, nil
	}
	if err != nil {
		return nil, fmt.Errorf("debit wallet for bill %s: %w", bill.BillID, err)
	}

	if err := e.bills.UpdateBillStatus(ctx, bill.BillID, models.BillSuccess, true); err != nil {
		return nil, fmt.Errorf("mark bill success: %w", err)
	}
	bill.Status = models.BillSuccess
	bill.Paid = true
	return bill, nil
}

// Retry re-executes only Step 7 against an existing bill. Retrying an
// already-paid bill is rejected without side effects.
func (e *Engine) Retry(ctx context.Context, billID string) (*models.Bill, error) {
	bill, err := e.bills.GetBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill.Status == models.BillSuccess && bill.Paid {
		return nil, ErrAlreadyPaid
	}
	return e.settle(ctx, bill, bill.PriceVersion)
}

func newBillID(periodEnd time.Time, userID string) string {
	return fmt.Sprintf("bill_%s_%s_%s", periodEnd.Format("20060102"), userID, uuid.NewString()[:6])
}

// billingEnd applies Step 2: the cutoff for a resource is period_end
// unless a deletion/release falls strictly before it.
func billingEnd(periodEnd time.Time, cutoff *time.Time) time.Time {
	if cutoff != nil && cutoff.Before(periodEnd) {
		return *cutoff
	}
	return periodEnd
}

func (e *Engine) billCompute(c *models.ComputeResource, periodEnd time.Time, schedule *models.PriceSchedule) (chargeLine, bool, error) {
	end := billingEnd(periodEnd, c.DeletedAt)
	if !c.LastBilledUntil.Before(end) {
		return chargeLine{}, false, nil
	}

	flavor, state := reconstructComputeInitial(c, c.LastBilledUntil)
	segments := eventsInWindow(c.Events, c.LastBilledUntil, end)

	amount := decimal.Zero
	current := c.LastBilledUntil
	for _, seg := range segments {
		if state == models.ComputeStateRunning && flavor != "" {
			amount = amount.Add(hourlyCharge(current, seg.Time, schedule.ComputeRateFor(flavor)))
		}
		current = seg.Time
		switch {
		case seg.Type == string(models.EventResize):
			if f, ok := seg.Meta["flavor"].(string); ok {
				flavor = f
			}
		case seg.Type == models.ComputeStateRunning || seg.Type == models.ComputeStateStopped || seg.Type == models.ComputeStateDeleted:
			state = seg.Type
		}
		if state == models.ComputeStateDeleted {
			break
		}
	}
	if state != models.ComputeStateDeleted && state == models.ComputeStateRunning {
		amount = amount.Add(hourlyCharge(current, end, schedule.ComputeRateFor(flavor)))
	}

	return chargeLine{
		resourceType: models.ResourceCompute,
		resourceID:   c.ResourceID,
		amount:       amount,
		advanceTo:    end,
		advance:      func(ctx context.Context, until time.Time) error { return e.resources.UpdateComputeLastBilled(ctx, c.ResourceID, until) },
	}, true, nil
}

func (e *Engine) billDisk(d *models.DiskResource, periodEnd time.Time, schedule *models.PriceSchedule) (chargeLine, bool, error) {
	end := billingEnd(periodEnd, d.DeletedAt)
	if !d.LastBilledUntil.Before(end) {
		return chargeLine{}, false, nil
	}

	size := reconstructDiskInitialSize(d, d.LastBilledUntil)
	segments := eventsInWindow(d.Events, d.LastBilledUntil, end)

	amount := decimal.Zero
	current := d.LastBilledUntil
	for _, seg := range segments {
		amount = amount.Add(hourlyCharge(current, seg.Time, schedule.Disk.PerGBHour.Mul(decimal.NewFromInt(int64(size)))))
		current = seg.Time
		if seg.Type == string(models.EventResize) {
			if sz, ok := toIntMeta(seg.Meta["size_gb"]); ok {
				size = sz
			}
		}
	}
	amount = amount.Add(hourlyCharge(current, end, schedule.Disk.PerGBHour.Mul(decimal.NewFromInt(int64(size)))))

	return chargeLine{
		resourceType: models.ResourceDisk,
		resourceID:   d.ResourceID,
		amount:       amount,
		advanceTo:    end,
		advance:      func(ctx context.Context, until time.Time) error { return e.resources.UpdateDiskLastBilled(ctx, d.ResourceID, until) },
	}, true, nil
}

func (e *Engine) billFloatingIP(f *models.FloatingIPResource, periodEnd time.Time, schedule *models.PriceSchedule) (chargeLine, bool, error) {
	end := billingEnd(periodEnd, f.ReleasedAt)
	if !f.LastBilledUntil.Before(end) {
		return chargeLine{}, false, nil
	}

	amount := hourlyCharge(f.LastBilledUntil, end, schedule.FloatingIP.PerHour)

	return chargeLine{
		resourceType: models.ResourceFloatingIP,
		resourceID:   f.ResourceID,
		amount:       amount,
		advanceTo:    end,
		advance:      func(ctx context.Context, until time.Time) error { return e.resources.UpdateFloatingIPLastBilled(ctx, f.ResourceID, until) },
	}, true, nil
}

// reconstructComputeInitial replays events at or before cutoff to
// establish the (flavor, state) in effect at the start of the billing
// window — Step 3.1.
func reconstructComputeInitial(c *models.ComputeResource, cutoff time.Time) (flavor, state string) {
	for _, ev := range sortedEvents(c.Events) {
		if ev.Time.After(cutoff) {
			break
		}
		switch {
		case ev.Type == string(models.EventCreate):
			if f, ok := ev.Meta["flavor"].(string); ok {
				flavor = f
			}
			state = models.ComputeStateRunning
		case ev.Type == string(models.EventResize):
			if f, ok := ev.Meta["flavor"].(string); ok {
				flavor = f
			}
		case ev.Type == models.ComputeStateRunning || ev.Type == models.ComputeStateStopped || ev.Type == models.ComputeStateDeleted:
			state = ev.Type
		}
	}
	if flavor == "" {
		flavor = c.CurrentFlavor
	}
	if state == "" {
		state = models.ComputeStateRunning
	}
	return flavor, state
}

// reconstructDiskInitialSize mirrors reconstructComputeInitial for disk size_gb.
func reconstructDiskInitialSize(d *models.DiskResource, cutoff time.Time) int {
	size := 0
	for _, ev := range sortedEvents(d.Events) {
		if ev.Time.After(cutoff) {
			break
		}
		switch ev.Type {
		case string(models.EventCreate):
			if sz, ok := toIntMeta(ev.Meta["size_gb"]); ok {
				size = sz
			}
		case string(models.EventResize):
			if sz, ok := toIntMeta(ev.Meta["size_gb"]); ok {
				size = sz
			}
		}
	}
	if size == 0 {
		size = d.SizeGB
	}
	return size
}

func toIntMeta(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// eventsInWindow returns events strictly after `after` and at-or-before
// `upTo`, sorted by time — Step 3.2.
func eventsInWindow(events []models.EventEntry, after, upTo time.Time) []models.EventEntry {
	var out []models.EventEntry
	for _, ev := range events {
		if ev.Time.After(after) && !ev.Time.After(upTo) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func sortedEvents(events []models.EventEntry) []models.EventEntry {
	out := append([]models.EventEntry(nil), events...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// hourlyCharge prices a span of wall-clock time at a per-hour rate,
// using total_seconds/3600 per the spec's numeric semantics.
func hourlyCharge(from, to time.Time, perHour decimal.Decimal) decimal.Decimal {
	if !to.After(from) {
		return decimal.Zero
	}
	hours := decimal.NewFromFloat(to.Sub(from).Seconds()).Div(decimal.NewFromInt(3600))
	return hours.Mul(perHour)
}
