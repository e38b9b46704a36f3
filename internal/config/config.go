// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage backends, provider credentials, the webhook secret,
// reconciliation TTLs, sweeper scheduling, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-payout-reconciler/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "payout-reconciler")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DatabaseConfig selects the ledger database.
type DatabaseConfig struct {
	Driver string // sqlite|postgres
	DSN    string // file path for sqlite, URL/keyword DSN for postgres
}

// StoreConfig selects the key-value backend used for locks, cached results,
// processed-event markers and gateway tokens.
type StoreConfig struct {
	Backend       string // memory|sql|redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// IdempotencyConfig holds the defaults for idempotent operations.
type IdempotencyConfig struct {
	LockTTL      time.Duration
	ResultTTL    time.Duration
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// ReconcileConfig holds the processed-event marker settings.
type ReconcileConfig struct {
	ProcessedTTL time.Duration
	LockTTL      time.Duration
	LockWait     time.Duration
}

// GatewayConfig holds payout provider credentials and token cache tuning.
type GatewayConfig struct {
	BaseURL        string
	ClientID       string
	ClientSecret   string
	Username       string
	Password       string
	Timeout        time.Duration
	TokenMargin    time.Duration
	TokenFloor     time.Duration
	RefreshTTL     time.Duration
	RefreshLockTTL time.Duration
}

// SweepConfig schedules the pending-withdrawal sweeper.
type SweepConfig struct {
	Enabled     bool
	Interval    time.Duration
	StaleAfter  time.Duration
	BatchSize   int
	Concurrency int
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // graceful drain window
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Storage
	Database DatabaseConfig
	Store    StoreConfig

	// Payments
	Idempotency   IdempotencyConfig
	Reconcile     ReconcileConfig
	Gateway       GatewayConfig
	WebhookSecret string
	Sweep         SweepConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		Database: DatabaseConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			DSN:    getenv("DB_DSN", "payouts.db"),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(getenv("STORE_BACKEND", "sql")),
			RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getint("REDIS_DB", 0),
			KeyPrefix:     getenv("STORE_KEY_PREFIX", "payouts:"),
		},

		// Payments
		Idempotency: IdempotencyConfig{
			LockTTL:      getdur("IDEMPOTENCY_LOCK_TTL", 30*time.Second),
			ResultTTL:    getdur("IDEMPOTENCY_RESULT_TTL", 24*time.Hour),
			WaitTimeout:  getdur("IDEMPOTENCY_WAIT_TIMEOUT", 5*time.Second),
			PollInterval: getdur("IDEMPOTENCY_POLL_INTERVAL", 100*time.Millisecond),
		},
		Reconcile: ReconcileConfig{
			ProcessedTTL: getdur("PROCESSED_EVENT_TTL", 72*time.Hour),
			LockTTL:      getdur("EVENT_LOCK_TTL", 30*time.Second),
			LockWait:     getdur("EVENT_LOCK_WAIT", 2*time.Second),
		},
		Gateway: GatewayConfig{
			BaseURL:        strings.TrimRight(getenv("GATEWAY_BASE_URL", "http://localhost:9090"), "/"),
			ClientID:       getenv("GATEWAY_CLIENT_ID", ""),
			ClientSecret:   getenv("GATEWAY_CLIENT_SECRET", ""),
			Username:       getenv("GATEWAY_USERNAME", ""),
			Password:       getenv("GATEWAY_PASSWORD", ""),
			Timeout:        getdur("GATEWAY_TIMEOUT", 15*time.Second),
			TokenMargin:    getdur("GATEWAY_TOKEN_MARGIN", 60*time.Second),
			TokenFloor:     getdur("GATEWAY_TOKEN_FLOOR", 30*time.Second),
			RefreshTTL:     getdur("GATEWAY_REFRESH_TTL", 72*time.Hour),
			RefreshLockTTL: getdur("GATEWAY_REFRESH_LOCK_TTL", 10*time.Second),
		},
		WebhookSecret: getenv("WEBHOOK_HMAC_SECRET", ""),
		Sweep: SweepConfig{
			Enabled:     getbool("SWEEP_ENABLED", true),
			Interval:    getdur("SWEEP_INTERVAL", 5*time.Minute),
			StaleAfter:  getdur("SWEEP_STALE_AFTER", 10*time.Minute),
			BatchSize:   getint("SWEEP_BATCH_SIZE", 50),
			Concurrency: getint("SWEEP_CONCURRENCY", 8),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "payout-reconciler"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.Database.Driver == "postgresql" {
		cfg.Database.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return cfg, errors.New("DB_DSN must not be empty")
	}
	switch cfg.Store.Backend {
	case "memory", "sql":
	case "redis":
		if strings.TrimSpace(cfg.Store.RedisAddr) == "" {
			return cfg, errors.New("REDIS_ADDR must not be empty when STORE_BACKEND=redis")
		}
	default:
		return cfg, errors.New("STORE_BACKEND must be one of: memory, sql, redis")
	}
	if cfg.Idempotency.LockTTL <= 0 || cfg.Idempotency.ResultTTL <= 0 ||
		cfg.Idempotency.WaitTimeout <= 0 || cfg.Idempotency.PollInterval <= 0 {
		return cfg, errors.New("IDEMPOTENCY_* durations must be > 0")
	}
	if cfg.Reconcile.ProcessedTTL <= 0 || cfg.Reconcile.LockTTL <= 0 {
		return cfg, errors.New("PROCESSED_EVENT_TTL and EVENT_LOCK_TTL must be > 0")
	}
	if strings.TrimSpace(cfg.Gateway.BaseURL) == "" {
		return cfg, errors.New("GATEWAY_BASE_URL must not be empty")
	}
	if cfg.Gateway.Timeout <= 0 || cfg.Gateway.RefreshTTL <= 0 || cfg.Gateway.RefreshLockTTL <= 0 {
		return cfg, errors.New("GATEWAY_* durations must be > 0")
	}
	if cfg.Gateway.TokenMargin < 0 || cfg.Gateway.TokenFloor < 0 {
		return cfg, errors.New("GATEWAY_TOKEN_MARGIN and GATEWAY_TOKEN_FLOOR must be >= 0")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return cfg, errors.New("WEBHOOK_HMAC_SECRET must not be empty")
	}
	if cfg.Sweep.Interval <= 0 || cfg.Sweep.StaleAfter <= 0 {
		return cfg, errors.New("SWEEP_INTERVAL and SWEEP_STALE_AFTER must be > 0")
	}
	if cfg.Sweep.BatchSize < 1 {
		return cfg, errors.New("SWEEP_BATCH_SIZE must be >= 1")
	}
	if cfg.Sweep.Concurrency < 1 {
		return cfg, errors.New("SWEEP_CONCURRENCY must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		if b, ok := sysutil.ParseBool(v); ok {
			return b
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
