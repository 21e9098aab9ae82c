// Package config builds runtime configuration from environment variables so
// main stays lean. Every policy knob the domain services consume lives here
// with a documented default.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "hemobank/pkg/platform/strings"
)

// Config is the full runtime configuration for the blood bank service.
type Config struct {
	Server        Server
	Postgres      Postgres
	Redis         Redis
	Kafka         Kafka
	Alerts        Alerts
	RateLimit     RateLimit
	Policy        Policy
	JWTSigningKey string
}

// Alerts configures the operator email distribution list for low-stock
// alerts. Empty disables the email sink.
type Alerts struct {
	EmailRecipients []string
}

// RateLimit bounds per-caller request rates on the authenticated API.
// A zero limit disables throttling.
type RateLimit struct {
	Limit  int
	Window time.Duration
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Postgres holds the connection string for the persistence backend. Empty
// means in-memory stores (dev and unit tests).
type Postgres struct {
	DSN string
}

// Redis holds the optional Redis endpoint used for the cross-process
// reservation lock and the cached stock snapshot. Empty disables it; the
// fulfillment service then relies on store-level serialization alone.
type Redis struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the notification sink. Empty brokers disable delivery;
// events are still emitted to the in-process dispatcher so tests and the
// reporting surface observe them.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Policy bundles the medical-policy knobs the bank tunes per deployment.
type Policy struct {
	// MinUnitVolumeML / MaxUnitVolumeML bound intake volumes.
	MinUnitVolumeML int
	MaxUnitVolumeML int
	// CompleteAfterDonations is how many completed donations a profile needs
	// before staff may mark it complete.
	CompleteAfterDonations int
	// LowStockML / CriticalStockML band the derived stock level per blood
	// type across available components.
	LowStockML      int
	CriticalStockML int
	// AllowWaitingPayment enables parking partially allocated requests in
	// waiting_payment instead of rejecting the allocation.
	AllowWaitingPayment bool
	// OpTimeout bounds every state-changing service operation.
	OpTimeout time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            envStr("HEMOBANK_ADDR", ":8080"),
			ShutdownTimeout: envDuration("HEMOBANK_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Postgres: Postgres{
			DSN: os.Getenv("HEMOBANK_POSTGRES_DSN"),
		},
		Redis: Redis{
			URL:          os.Getenv("HEMOBANK_REDIS_URL"),
			DialTimeout:  envDuration("HEMOBANK_REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  envDuration("HEMOBANK_REDIS_READ_TIMEOUT", time.Second),
			WriteTimeout: envDuration("HEMOBANK_REDIS_WRITE_TIMEOUT", time.Second),
		},
		Kafka: Kafka{
			Brokers: envList("HEMOBANK_KAFKA_BROKERS"),
			Topic:   envStr("HEMOBANK_KAFKA_TOPIC", "hemobank.notifications"),
		},
		Alerts: Alerts{
			EmailRecipients: envList("HEMOBANK_ALERT_EMAILS"),
		},
		RateLimit: RateLimit{
			Limit:  envInt("HEMOBANK_RATE_LIMIT", 120),
			Window: envDuration("HEMOBANK_RATE_LIMIT_WINDOW", time.Minute),
		},
		Policy: Policy{
			MinUnitVolumeML:        envInt("HEMOBANK_MIN_UNIT_VOLUME_ML", 50),
			MaxUnitVolumeML:        envInt("HEMOBANK_MAX_UNIT_VOLUME_ML", 1000),
			CompleteAfterDonations: envInt("HEMOBANK_COMPLETE_AFTER_DONATIONS", 5),
			LowStockML:             envInt("HEMOBANK_LOW_STOCK_ML", 2000),
			CriticalStockML:        envInt("HEMOBANK_CRITICAL_STOCK_ML", 500),
			AllowWaitingPayment:    os.Getenv("HEMOBANK_ALLOW_WAITING_PAYMENT") == "true",
			OpTimeout:              envDuration("HEMOBANK_OP_TIMEOUT", 5*time.Second),
		},
		JWTSigningKey: envStr("HEMOBANK_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return pstrings.DedupeAndTrim(strings.Split(v, ","))
}
