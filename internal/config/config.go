package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr              string
	DatabaseURL       string
	SpecBucket        string
	SpecPrefix        string
	KafkaBrokers      []string
	KafkaTopic        string
	DeployURL         string
	JWTSecret         string
	AllowTenantHeader bool
	EventBatchSize    int
	EventPollInterval time.Duration
}

const (
	defaultAddr         = ":8070"
	defaultKafkaTopic   = "apitize.version-events"
	defaultEventBatch   = 10
	defaultPollInterval = 3 * time.Second
)

func Load() (Config, error) {
	cfg := Config{
		Addr:              getEnv("APITIZE_ADDR", defaultAddr),
		DatabaseURL:       firstNonEmpty(os.Getenv("APITIZE_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		SpecBucket:        os.Getenv("APITIZE_SPEC_BUCKET"),
		SpecPrefix:        os.Getenv("APITIZE_SPEC_PREFIX"),
		KafkaBrokers:      splitList(os.Getenv("APITIZE_KAFKA_BROKERS")),
		KafkaTopic:        getEnv("APITIZE_KAFKA_TOPIC", defaultKafkaTopic),
		DeployURL:         os.Getenv("APITIZE_DEPLOY_URL"),
		JWTSecret:         os.Getenv("APITIZE_JWT_SECRET"),
		AllowTenantHeader: getBool("APITIZE_ALLOW_TENANT_HEADER", false),
		EventBatchSize:    getInt("APITIZE_EVENT_BATCH_SIZE", defaultEventBatch),
		EventPollInterval: getDuration("APITIZE_EVENT_POLL_INTERVAL", defaultPollInterval),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or APITIZE_DATABASE_URL required")
	}
	if cfg.JWTSecret == "" && !cfg.AllowTenantHeader {
		return Config{}, fmt.Errorf("APITIZE_JWT_SECRET required unless APITIZE_ALLOW_TENANT_HEADER is set")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
