package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full runtime configuration for the gateway.
// Everything is sourced from the environment (optionally seeded from a
// .env file) and frozen at process start.
type Config struct {
	Environment string

	Server     ServerConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	Logging    LoggingConfig
	Gate       GateConfig

	// Policies is the rate policy table keyed by policy name. Loaded once,
	// never mutated at runtime.
	Policies map[string]PolicySpec
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	CertFile     string
	KeyFile      string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Database string
	Username string
	Password string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// GateConfig selects the shared-state backend and bounds store latency.
// Exactly one backend is active; the two implementations are never mixed
// for the same route.
type GateConfig struct {
	// Backend is "redis" for multi-instance deployments or "memory" for
	// single-instance ones.
	Backend string
	// StoreTimeout bounds every call against the backing store. A timeout
	// is treated as store-unreachable and the check fails open.
	StoreTimeout time.Duration
	// SweepInterval is the cadence of the opportunistic expiry sweep for
	// the in-process backend. Correctness does not depend on it.
	SweepInterval time.Duration
}

// PolicySpec is one rate policy: Limit attempts per trailing Window, with
// an optional hard Lockout once the limit is exceeded (0 = no lockout).
type PolicySpec struct {
	Limit   int
	Window  time.Duration
	Lockout time.Duration
}

var (
	instance *Config
	mu       sync.RWMutex
)

// LoadConfig reads configuration from the environment and stores the result
// as the package singleton.
func LoadConfig() *Config {
	// Ignore error: .env is a dev convenience, not required.
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_SECURITY_TOPIC", "security-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
			Database: getEnv("CLICKHOUSE_DATABASE", "security"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Gate: GateConfig{
			Backend:       getEnv("GATE_BACKEND", "redis"),
			StoreTimeout:  getEnvDuration("GATE_STORE_TIMEOUT", 2*time.Second),
			SweepInterval: getEnvDuration("GATE_SWEEP_INTERVAL", time.Minute),
		},
		Policies: loadPolicies(),
	}

	mu.Lock()
	instance = cfg
	mu.Unlock()

	return cfg
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	mu.RLock()
	cfg := instance
	mu.RUnlock()
	if cfg != nil {
		return cfg
	}
	return LoadConfig()
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// defaultPolicies is the shipped policy table. Each entry can be overridden
// with POLICY_<NAME>="limit:window:lockout" (lockout "0" disables it).
func defaultPolicies() map[string]PolicySpec {
	return map[string]PolicySpec{
		"login":           {Limit: 5, Window: 60 * time.Second, Lockout: 900 * time.Second},
		"register":        {Limit: 5, Window: time.Hour, Lockout: time.Hour},
		"oauth_login":     {Limit: 10, Window: 60 * time.Second, Lockout: 0},
		"forgot_password": {Limit: 3, Window: 300 * time.Second, Lockout: 900 * time.Second},
	}
}

func loadPolicies() map[string]PolicySpec {
	policies := defaultPolicies()
	for name := range policies {
		envKey := "POLICY_" + strings.ToUpper(name)
		raw := os.Getenv(envKey)
		if raw == "" {
			continue
		}
		spec, err := ParsePolicySpec(raw)
		if err != nil {
			// A malformed override is a configuration error; keeping the
			// shipped default silently would hide it.
			panic(fmt.Sprintf("invalid %s=%q: %v", envKey, raw, err))
		}
		policies[name] = spec
	}
	return policies
}

// ParsePolicySpec parses "limit:window:lockout", e.g. "5:60s:900s".
func ParsePolicySpec(raw string) (PolicySpec, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return PolicySpec{}, fmt.Errorf("expected limit:window:lockout, got %d parts", len(parts))
	}

	limit, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || limit <= 0 {
		return PolicySpec{}, fmt.Errorf("invalid limit %q", parts[0])
	}

	window, err := parseDurationPart(parts[1])
	if err != nil || window <= 0 {
		return PolicySpec{}, fmt.Errorf("invalid window %q", parts[1])
	}

	lockout, err := parseDurationPart(parts[2])
	if err != nil || lockout < 0 {
		return PolicySpec{}, fmt.Errorf("invalid lockout %q", parts[2])
	}

	return PolicySpec{Limit: limit, Window: window, Lockout: lockout}, nil
}

func parseDurationPart(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "0" {
		return 0, nil
	}
	// Bare numbers are read as seconds.
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// ===================== ENV HELPERS =====================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
