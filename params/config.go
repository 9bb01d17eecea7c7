package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage holds the persistence layer's configuration.
type Storage struct {
	DBPath string
}

// API holds the HTTP/WebSocket server's configuration.
type API struct {
	Addr string
	// EventQueueCapacity is loaded from EVENT_QUEUE_CAPACITY (default 256).
	// The WebSocket per-client outbox depth is pkg/api's outboxCapacity
	// constant, which does not read this value.
	EventQueueCapacity int
}

// DefaultFeeRate is applied to newly-bootstrapped symbols that don't
// specify their own rate.
var DefaultFeeRate = decimal.NewFromFloat(0.003) // 30 bps

type Config struct {
	Storage Storage
	API     API
}

func Default() Config {
	return Config{
		Storage: Storage{
			DBPath: "data/vegaexchange.db",
		},
		API: API{
			Addr:               ":8080",
			EventQueueCapacity: 256,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("EVENT_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.API.EventQueueCapacity = n
		}
	}

	return cfg
}
