// Package config loads daemon configuration from the environment,
// with optional .env overlay for development.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds everything cmd/evalcored needs to wire the daemon.
type Config struct {
	// DatabaseDriver selects the store backend: "sqlite" or "mysql".
	DatabaseDriver string
	// DatabaseURL is the driver-specific DSN (file path for sqlite).
	DatabaseURL string

	// AMQPURL is the broker connection string.
	AMQPURL string
	// ExchangeName is the fan-out exchange runner results arrive on.
	ExchangeName string
	// TaskQueueName is the durable queue runner requests go out on.
	TaskQueueName string
	// ResultQueueName is this process's durable result queue, bound to
	// the results exchange.
	ResultQueueName string

	// MetricsAddr is the listen address of the /metrics endpoint.
	// Empty disables the endpoint.
	MetricsAddr string
}

// Load reads configuration from a .env file (when present) and the
// process environment, process environment winning. Missing required
// keys are reported by name.
func Load() (Config, error) {
	// Ignore a missing .env; containerized deployments set real env.
	_ = godotenv.Load()

	cfg := Config{
		DatabaseDriver:  envOr("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		AMQPURL:         os.Getenv("AMQP_URL"),
		ExchangeName:    os.Getenv("EXCHANGE_NAME"),
		TaskQueueName:   os.Getenv("TASK_QUEUE_NAME"),
		ResultQueueName: os.Getenv("RESULT_QUEUE_NAME"),
		MetricsAddr:     envOr("METRICS_ADDR", ":9090"),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "mysql" {
		return fmt.Errorf("DATABASE_DRIVER must be sqlite or mysql, got %q", c.DatabaseDriver)
	}
	required := []struct{ key, value string }{
		{"DATABASE_URL", c.DatabaseURL},
		{"AMQP_URL", c.AMQPURL},
		{"EXCHANGE_NAME", c.ExchangeName},
		{"TASK_QUEUE_NAME", c.TaskQueueName},
		{"RESULT_QUEUE_NAME", c.ResultQueueName},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("missing required environment variable %s", r.key)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
