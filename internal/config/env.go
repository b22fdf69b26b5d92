// Package config loads the environment surface described in the system
// design: broker connection details, API client tuning, and feature flags.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Load reads a local .env file if present; process environment always wins.
func Load(logger *logrus.Logger) {
	for _, file := range []string{".env", ".env.local"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil && logger != nil {
			logger.WithError(err).Warnf("failed to load %s", file)
		}
	}
}

// GetString returns an environment variable or a default.
func GetString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetInt returns an integer environment variable or a default.
func GetInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

// GetBool returns a boolean environment variable or a default.
func GetBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

// GetDuration returns a duration environment variable (e.g. "5s") or a default.
func GetDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

// Require fetches a variable and exits the process if it is unset.
func Require(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		logrus.Fatalf("environment variable %s is required but not set", key)
	}
	return v
}

// BrokerConfig holds the RabbitMQ connection and topology settings.
type BrokerConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	VHost        string
	Exchange     string
	Queue        string
	RoutingKey   string
	PrefetchCount int
	BatchSize    int
	BatchTimeout time.Duration
	ReconnectDelay time.Duration
}

// URL builds the amqp connection string.
func (b BrokerConfig) URL() string {
	vhost := b.VHost
	if vhost == "/" || vhost == "" {
		vhost = ""
	}
	return "amqp://" + b.User + ":" + b.Password + "@" + b.Host + ":" + strconv.Itoa(b.Port) + "/" + vhost
}

// LoadBrokerConfig reads broker settings from the environment.
func LoadBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Host:           GetString("MQ_HOST", "localhost"),
		Port:           GetInt("MQ_PORT", 5672),
		User:           GetString("MQ_USER", "guest"),
		Password:       GetString("MQ_PASSWORD", "guest"),
		VHost:          GetString("MQ_VHOST", "/"),
		Exchange:       GetString("MQ_EXCHANGE", "cloud_events"),
		Queue:          GetString("MQ_QUEUE", "billing_events"),
		RoutingKey:     GetString("MQ_ROUTING_KEY", "#"),
		PrefetchCount:  GetInt("MQ_PREFETCH_COUNT", 50),
		BatchSize:      GetInt("MQ_BATCH_SIZE", 50),
		BatchTimeout:   GetDuration("MQ_BATCH_TIMEOUT", time.Second),
		ReconnectDelay: GetDuration("MQ_RECONNECT_DELAY", 5*time.Second),
	}
}

// APIConfig holds the tuning knobs for the downstream HTTP services client.
type APIConfig struct {
	BaseURL       string
	Prefix        string
	Timeout       time.Duration
	RetryCount    int
	RetryDelay    time.Duration
	MaxConns      int
	MaxKeepalive  int
}

// LoadAPIConfig reads API client settings from the environment.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		BaseURL:      GetString("API_BASE_URL", "http://localhost:8000"),
		Prefix:       GetString("API_PREFIX", "/api/v1"),
		Timeout:      GetDuration("API_TIMEOUT", 10*time.Second),
		RetryCount:   GetInt("API_RETRY_COUNT", 3),
		RetryDelay:   GetDuration("API_RETRY_DELAY", 200*time.Millisecond),
		MaxConns:     GetInt("API_MAX_CONNECTIONS", 100),
		MaxKeepalive: GetInt("API_MAX_KEEPALIVE", 20),
	}
}

// SkipWallet reports whether wallet bootstrap should be skipped before
// processing events (SKIP_WALLET=true).
func SkipWallet() bool {
	return GetBool("SKIP_WALLET", false)
}

// WorkerCount returns the number of concurrent batch handlers.
func WorkerCount() int {
	return GetInt("WORKER_COUNT", 10)
}
