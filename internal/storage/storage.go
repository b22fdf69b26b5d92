// Package storage owns connection-pool setup for every backing store
// this module touches: Postgres (wallets, prices), MongoDB (event
// logs, archives, bills), and an optional Redis price cache.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bhaijames252-sketch/billbillbill/internal/logging"
)

// PostgresConfig controls the relational connection pool.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPostgresConfig returns sensible pool defaults.
func DefaultPostgresConfig(url string) PostgresConfig {
	return PostgresConfig{
		URL:             url,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// ConnectPostgres opens and pings a pooled connection to the
// relational store (user_wallets, latest_prices).
func ConnectPostgres(cfg PostgresConfig, logger logging.Logger) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	logger.WithFields(logging.Fields{
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	}).Info("connected to postgres")
	return db, nil
}

// ConnectMongo dials the document store holding resource event logs,
// transaction archives, price history, and billing cycles.
func ConnectMongo(ctx context.Context, uri, dbName string, logger logging.Logger) (*mongo.Database, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetRegistry(decimalRegistry()))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	logger.WithFields(logging.Fields{"database": dbName}).Info("connected to mongo")
	return client.Database(dbName), nil
}

// ConnectRedis dials the optional price-schedule read-through cache.
// A blank address disables the cache entirely; callers pass the nil
// result straight through to pricing.NewPostgresCatalog, which
// degrades to Postgres-only reads.
func ConnectRedis(addr string, logger logging.Logger) *redis.Client {
	if addr == "" {
		logger.Info("redis cache disabled, no REDIS_ADDR configured")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.WithError(err).Warn("redis unreachable, continuing without cache")
		return nil
	}
	return client
}
