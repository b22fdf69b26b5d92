// Package pricing is the read-mostly rate card the Billing Engine
// consults: the current schedule lives in PostgreSQL for O(1) reads,
// every version is archived in a single MongoDB document, and an
// optional Redis layer caches the current schedule to keep the
// billing hot path off the relational store.
package pricing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bhaijames252-sketch/billbillbill/internal/models"
)

// ErrNotFound is returned when no price schedule exists for a currency.
var ErrNotFound = errors.New("price schedule not found")

const historyCollection = "price_history"

// Catalog is the Pricing Catalog contract consulted by the Billing Engine.
type Catalog interface {
	GetSchedule(ctx context.Context, currency string) (*models.PriceSchedule, error)
	GetVersion(ctx context.Context, currency, version string) (*models.PriceSchedule, error)
	SetSchedule(ctx context.Context, schedule models.PriceSchedule) (*models.PriceSchedule, error)
}

// priceHistoryEntry is one archived version within a currency's
// single price_history document.
type priceHistoryEntry struct {
	Version    string          `bson:"version"`
	StampedAt  time.Time       `bson:"stamped_at"`
	Compute    map[string]rate `bson:"compute"`
	Disk       rate            `bson:"disk"`
	FloatingIP rate            `bson:"floating_ip"`
}

type priceHistoryDoc struct {
	Currency string              `bson:"_id"`
	Latest   string              `bson:"latest"`
	History  []priceHistoryEntry `bson:"price_history"`
}

type rate struct {
	PerHour   decimal.Decimal `bson:"per_hour,omitempty"`
	PerGBHour decimal.Decimal `bson:"per_gb_hour,omitempty"`
}

// PostgresCatalog is the production Catalog. The cache field is
// optional — a nil *redis.Client disables caching entirely, so the
// component degrades to Postgres-only reads without special-casing
// callers.
type PostgresCatalog struct {
	db      *sql.DB
	history *mongo.Collection
	cache   *redis.Client
	cacheTTL time.Duration
}

// NewPostgresCatalog wraps already-connected database handles. cache
// may be nil to disable the read-through cache.
func NewPostgresCatalog(db *sql.DB, mongoDB *mongo.Database, cache *redis.Client) *PostgresCatalog {
	return &PostgresCatalog{
		db:       db,
		history:  mongoDB.Collection(historyCollection),
		cache:    cache,
		cacheTTL: 5 * time.Minute,
	}
}

// GetSchedule returns the currently active price schedule for a
// currency, preferring the Redis cache when present.
func (c *PostgresCatalog) GetSchedule(ctx context.Context, currency string) (*models.PriceSchedule, error) {
	if c.cache != nil {
		if schedule, ok := c.readCache(ctx, currency); ok {
			return schedule, nil
		}
	}

	var computeJSON, diskJSON, fipJSON []byte
	var version string
	err := c.db.QueryRowContext(ctx, `
		SELECT compute, disk, floating_ip, price_version
		FROM latest_prices WHERE currency = $1`, currency).
		Scan(&computeJSON, &diskJSON, &fipJSON, &version)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest price: %w", err)
	}

	schedule, err := decodeSchedule(currency, version, computeJSON, diskJSON, fipJSON)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.writeCache(ctx, currency, schedule)
	}
	return schedule, nil
}

// GetVersion returns a historical schedule version, read from the
// archived price_history document rather than the live row.
func (c *PostgresCatalog) GetVersion(ctx context.Context, currency, version string) (*models.PriceSchedule, error) {
	var doc priceHistoryDoc
	err := c.history.FindOne(ctx, bson.M{"_id": currency}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch price history: %w", err)
	}

	for _, entry := range doc.History {
		if entry.Version == version {
			return entryToSchedule(currency, entry), nil
		}
	}
	return nil, ErrNotFound
}

// SetSchedule stamps a new version (`{date}_vN`, N scoped per currency
// per day) from the given rates, updates the live row, appends to the
// history document, and invalidates the cache.
func (c *PostgresCatalog) SetSchedule(ctx context.Context, schedule models.PriceSchedule) (*models.PriceSchedule, error) {
	version, err := c.nextVersion(ctx, schedule.Currency)
	if err != nil {
		return nil, fmt.Errorf("compute next price version: %w", err)
	}
	schedule.PriceVersion = version

	computeJSON, diskJSON, fipJSON, err := encodeSchedule(schedule)
	if err != nil {
		return nil, err
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO latest_prices (currency, compute, disk, floating_ip, price_version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (currency) DO UPDATE SET
			compute = EXCLUDED.compute,
			disk = EXCLUDED.disk,
			floating_ip = EXCLUDED.floating_ip,
			price_version = EXCLUDED.price_version,
			updated_at = EXCLUDED.updated_at`,
		schedule.Currency, computeJSON, diskJSON, fipJSON, version, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("upsert latest price: %w", err)
	}

	entry := scheduleToEntry(schedule, version)
	_, err = c.history.UpdateOne(ctx,
		bson.M{"_id": schedule.Currency},
		bson.M{
			"$set":  bson.M{"latest": version},
			"$push": bson.M{"price_history": entry},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return nil, fmt.Errorf("append price history: %w", err)
	}

	if c.cache != nil {
		c.cache.Del(ctx, cacheKey(schedule.Currency))
	}

	return &schedule, nil
}

// nextVersion scopes a per-day counter per currency: {YYYY-MM-DD}_v{n}.
func (c *PostgresCatalog) nextVersion(ctx context.Context, currency string) (string, error) {
	var doc priceHistoryDoc
	err := c.history.FindOne(ctx, bson.M{"_id": currency}).Decode(&doc)
	if err != nil && err != mongo.ErrNoDocuments {
		return "", err
	}

	today := time.Now().UTC().Format("2006-01-02")
	n := 1
	for _, entry := range doc.History {
		if len(entry.Version) > len(today) && entry.Version[:len(today)] == today {
			n++
		}
	}
	return fmt.Sprintf("%s_v%d", today, n), nil
}

func cacheKey(currency string) string {
	return "pricing:schedule:" + currency
}

func (c *PostgresCatalog) readCache(ctx context.Context, currency string) (*models.PriceSchedule, bool) {
	raw, err := c.cache.Get(ctx, cacheKey(currency)).Bytes()
	if err != nil {
		return nil, false
	}
	var schedule models.PriceSchedule
	if err := json.Unmarshal(raw, &schedule); err != nil {
		return nil, false
	}
	return &schedule, true
}

func (c *PostgresCatalog) writeCache(ctx context.Context, currency string, schedule *models.PriceSchedule) {
	raw, err := json.Marshal(schedule)
	if err != nil {
		return
	}
	c.cache.Set(ctx, cacheKey(currency), raw, c.cacheTTL)
}

func decodeSchedule(currency, version string, computeJSON, diskJSON, fipJSON []byte) (*models.PriceSchedule, error) {
	compute := map[string]models.ComputeRate{}
	if err := json.Unmarshal(computeJSON, &compute); err != nil {
		return nil, fmt.Errorf("decode compute rates: %w", err)
	}
	var disk models.DiskRate
	if err := json.Unmarshal(diskJSON, &disk); err != nil {
		return nil, fmt.Errorf("decode disk rate: %w", err)
	}
	var fip models.FloatingIPRate
	if err := json.Unmarshal(fipJSON, &fip); err != nil {
		return nil, fmt.Errorf("decode floating ip rate: %w", err)
	}
	return &models.PriceSchedule{
		Currency:     currency,
		Compute:      compute,
		Disk:         disk,
		FloatingIP:   fip,
		PriceVersion: version,
	}, nil
}

func encodeSchedule(schedule models.PriceSchedule) (compute, disk, fip []byte, err error) {
	compute, err = json.Marshal(schedule.Compute)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode compute rates: %w", err)
	}
	disk, err = json.Marshal(schedule.Disk)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode disk rate: %w", err)
	}
	fip, err = json.Marshal(schedule.FloatingIP)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode floating ip rate: %w", err)
	}
	return compute, disk, fip, nil
}

func scheduleToEntry(schedule models.PriceSchedule, version string) priceHistoryEntry {
	compute := make(map[string]rate, len(schedule.Compute))
	for flavor, r := range schedule.Compute {
		compute[flavor] = rate{PerHour: r.PerHour}
	}
	return priceHistoryEntry{
		Version:    version,
		StampedAt:  time.Now().UTC(),
		Compute:    compute,
		Disk:       rate{PerGBHour: schedule.Disk.PerGBHour},
		FloatingIP: rate{PerHour: schedule.FloatingIP.PerHour},
	}
}

func entryToSchedule(currency string, entry priceHistoryEntry) *models.PriceSchedule {
	compute := make(map[string]models.ComputeRate, len(entry.Compute))
	for flavor, r := range entry.Compute {
		compute[flavor] = models.ComputeRate{PerHour: r.PerHour}
	}
	return &models.PriceSchedule{
		Currency:     currency,
		Compute:      compute,
		Disk:         models.DiskRate{PerGBHour: entry.Disk.PerGBHour},
		FloatingIP:   models.FloatingIPRate{PerHour: entry.FloatingIP.PerHour},
		PriceVersion: entry.Version,
	}
}
