package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds the server settings read from the environment.
type Config struct {
	Port           string
	GRPCPort       string
	StorageBackend string
	DatabaseDSN    string
	AllowedOrigins []string
	AMQPURL        string
	AMQPExchange   string
	OTLPEndpoint   string
	ServiceName    string
	Environment    string
	DedupCapacity  int
	SendBuffer     int
	LogLevel       string
	DebugRoutes    bool
}

// Load reads an optional .env file and then the process environment.
// A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, which follows os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	cfg := &Config{
		Port:           get("PORT", "8083"),
		GRPCPort:       get("GRPC_PORT", "9083"),
		StorageBackend: strings.ToLower(get("STORAGE_BACKEND", BackendPostgres)),
		DatabaseDSN:    get("DB_DSN", ""),
		AllowedOrigins: splitList(get("ALLOWED_ORIGINS", "http://localhost:3000")),
		AMQPURL:        get("AMQP_URL", ""),
		AMQPExchange:   get("AMQP_EXCHANGE", "chat.events"),
		OTLPEndpoint:   get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:    get("SERVICE_NAME", "chat-relay"),
		Environment:    get("APP_ENV", "development"),
		LogLevel:       get("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.DedupCapacity, err = positiveInt(get("DEDUP_CAPACITY", "1000")); err != nil {
		return nil, fmt.Errorf("DEDUP_CAPACITY: %w", err)
	}
	if cfg.SendBuffer, err = positiveInt(get("SEND_BUFFER", "64")); err != nil {
		return nil, fmt.Errorf("SEND_BUFFER: %w", err)
	}
	if cfg.DebugRoutes, err = strconv.ParseBool(get("DEBUG_ROUTES", "false")); err != nil {
		return nil, fmt.Errorf("DEBUG_ROUTES: %w", err)
	}

	switch cfg.StorageBackend {
	case BackendPostgres:
		if cfg.DatabaseDSN == "" {
			return nil, fmt.Errorf("DB_DSN is required for the %s backend", BackendPostgres)
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func positiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}
