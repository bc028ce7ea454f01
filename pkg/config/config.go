package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds daemon configuration.
type Config struct {
	Account     string // treasury account paying all rules
	Symbol      string
	Precision   int
	DatabaseURL string
	LogLevel    string
	LogFormat   string // "json" | "text"
	PayInterval time.Duration

	RedisAddr        string // empty selects the log publisher and an in-process lock
	SettlementStream string
	RelayRate        float64 // events per second; 0 is unlimited

	OTelEnabled  bool
	OTelEndpoint string

	ProfilePath   string   // empty selects DefaultProfile
	KnownAccounts []string // when set, recipients must also appear here
	JWTSecret   string
	Token       string // operator token presented by CLI subcommands
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	precision, err := intEnv("TREASURY_PRECISION", 4)
	if err != nil {
		return nil, err
	}
	payInterval, err := durationEnv("PAY_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}
	relayRate, err := floatEnv("RELAY_RATE", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Account:          stringEnv("TREASURY_ACCOUNT", "eosio.tedp"),
		Symbol:           stringEnv("TREASURY_SYMBOL", "TLOS"),
		Precision:        precision,
		DatabaseURL:      stringEnv("DATABASE_URL", "sqlite://data/treasury.db"),
		LogLevel:         stringEnv("LOG_LEVEL", "INFO"),
		LogFormat:        stringEnv("LOG_FORMAT", "text"),
		PayInterval:      payInterval,
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		SettlementStream: stringEnv("SETTLEMENT_STREAM", "treasury:settlement"),
		RelayRate:        relayRate,
		OTelEnabled:      os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:     stringEnv("OTEL_ENDPOINT", "localhost:4317"),
		ProfilePath:      os.Getenv("BENEFICIARY_PROFILE"),
		KnownAccounts:    listEnv("TREASURY_KNOWN_ACCOUNTS"),
		JWTSecret:        os.Getenv("TREASURY_JWT_SECRET"),
		Token:            os.Getenv("TREASURY_TOKEN"),
	}

	if cfg.Precision < 0 || cfg.Precision > 18 {
		return nil, fmt.Errorf("TREASURY_PRECISION %d out of range", cfg.Precision)
	}
	if cfg.PayInterval <= 0 {
		return nil, fmt.Errorf("PAY_INTERVAL must be positive")
	}
	return cfg, nil
}

// listEnv splits a comma-separated variable, dropping empty entries.
func listEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
