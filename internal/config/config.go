package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string

	DefaultServiceTime time.Duration
	AuthSessionTTL     time.Duration
	StoreOpTimeout     time.Duration

	StaleTicketMaxAge   time.Duration
	StaleTicketInterval time.Duration
	StaleTicketBatch    int

	OutboxPollInterval time.Duration

	RateLimitPerMinute       int
	RateLimitBurst           int
	BranchRateLimitPerMinute int
	BranchRateLimitBurst     int
}

func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                     port,
		DatabaseURL:              os.Getenv("DB_DSN"),
		DefaultServiceTime:       readDurationSeconds("DEFAULT_SERVICE_TIME_SECONDS", 300),
		AuthSessionTTL:           readDurationSeconds("AUTH_SESSION_TTL_SECONDS", 8*60*60),
		StoreOpTimeout:           readDurationSeconds("STORE_OP_TIMEOUT_SECONDS", 10),
		StaleTicketMaxAge:        readDurationSeconds("STALE_TICKET_MAX_AGE_SECONDS", 0),
		StaleTicketInterval:      readDurationSeconds("STALE_TICKET_SCAN_INTERVAL_SECONDS", 60),
		StaleTicketBatch:         readInt("STALE_TICKET_BATCH_SIZE", 100),
		OutboxPollInterval:       readDurationSeconds("OUTBOX_POLL_INTERVAL_SECONDS", 1),
		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		BranchRateLimitPerMinute: readInt("BRANCH_RATE_LIMIT_PER_MIN", 600),
		BranchRateLimitBurst:     readInt("BRANCH_RATE_LIMIT_BURST", 120),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
