package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Addr        string `env:"PULSEBOARD_ADDR" envDefault:":8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	PostgresURL string `env:"POSTGRES_URL"`
	RedisURL    string `env:"REDIS_URL"`

	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_CHANGE_TOPIC" envDefault:"pulseboard.changes"`
	KafkaGroupID string `env:"KAFKA_GROUP_ID" envDefault:"pulseboard-dashboard"`

	Fetch FetchConfig
}

// FetchConfig tunes the dashboard fetch orchestrator.
type FetchConfig struct {
	MaxRetries      int           `env:"FETCH_MAX_RETRIES" envDefault:"3"`
	RetryDelay      time.Duration `env:"FETCH_RETRY_DELAY" envDefault:"2s"`
	RefreshInterval time.Duration `env:"FETCH_REFRESH_INTERVAL" envDefault:"60s"`
	CacheDuration   time.Duration `env:"FETCH_CACHE_DURATION" envDefault:"5m"`
	QueryTimeout    time.Duration `env:"FETCH_QUERY_TIMEOUT" envDefault:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
