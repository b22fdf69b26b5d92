// Command billing-worker periodically runs the Billing Computation
// Engine over a configured set of users, debiting wallets for usage
// accrued since each user's last billed cursor.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bhaijames252-sketch/billbillbill/internal/billing"
	"github.com/bhaijames252-sketch/billbillbill/internal/config"
	"github.com/bhaijames252-sketch/billbillbill/internal/logging"
	"github.com/bhaijames252-sketch/billbillbill/internal/pricing"
	"github.com/bhaijames252-sketch/billbillbill/internal/resourcestore"
	"github.com/bhaijames252-sketch/billbillbill/internal/storage"
	"github.com/bhaijames252-sketch/billbillbill/internal/wallet"
	"github.com/bhaijames252-sketch/billbillbill/pkg/version"
)

func main() {
	logger := logging.New("billing-worker")
	config.Load(logger)

	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GetShortCommit(),
	}).Info("starting billing worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := storage.ConnectPostgres(storage.DefaultPostgresConfig(config.Require("DATABASE_URL")), logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pg.Close()

	mongoDB, err := storage.ConnectMongo(ctx, config.Require("MONGO_URI"), config.GetString("MONGO_DB", "billing"), logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to mongo")
	}

	redisCache := storage.ConnectRedis(config.GetString("REDIS_ADDR", ""), logger)

	resources := resourcestore.NewMongoStore(mongoDB)
	if err := resourcestore.EnsureIndexes(ctx, mongoDB); err != nil {
		logger.WithError(err).Warn("failed to ensure resource store indexes")
	}

	wallets := wallet.NewPostgresLedger(pg, mongoDB)
	catalog := pricing.NewPostgresCatalog(pg, mongoDB, redisCache)
	bills := billing.NewMongoBillStore(mongoDB)
	engine := billing.NewEngine(resources, wallets, catalog, bills)

	interval := config.GetDuration("BILLING_INTERVAL", time.Hour)
	userIDs := billingUserIDs()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runCycle(ctx, engine, userIDs, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("billing worker stopped")
			return
		case <-ticker.C:
			runCycle(ctx, engine, userIDs, logger)
		}
	}
}

func runCycle(ctx context.Context, engine *billing.Engine, userIDs []string, logger logging.Logger) {
	for _, userID := range userIDs {
		bill, err := engine.Compute(ctx, userID, nil)
		switch {
		case errors.Is(err, billing.ErrNoBillableUsage):
			logger.WithFields(logging.Fields{"user_id": userID}).Debug("no billable usage this cycle")
		case err != nil:
			logger.WithFields(logging.Fields{"user_id": userID}).WithError(err).Warn("billing cycle failed")
		default:
			logger.WithFields(logging.Fields{
				"user_id": userID,
				"bill_id": bill.BillID,
				"total":   bill.Total.String(),
				"status":  bill.Status,
			}).Info("billing cycle completed")
		}
	}
}

// billingUserIDs reads the configured target set for this worker.
// Enumerating all users with a wallet is an out-of-scope, external
// tenant-directory concern (see SPEC_FULL.md Non-goals on multi-tenant
// isolation beyond user_id), so the set to bill each cycle is supplied
// directly rather than discovered.
func billingUserIDs() []string {
	raw := config.GetString("BILLING_USER_IDS", "")
	if raw == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
