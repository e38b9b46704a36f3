package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("WEBHOOK_HMAC_SECRET", "s")
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// Storage
	t.Setenv("DB_DRIVER", "PostgreSQL")
	t.Setenv("DB_DSN", "postgres://u:p@db/payouts")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("STORE_KEY_PREFIX", "p:")

	// Payments
	t.Setenv("IDEMPOTENCY_LOCK_TTL", "45s")
	t.Setenv("IDEMPOTENCY_POLL_INTERVAL", "50ms")
	t.Setenv("PROCESSED_EVENT_TTL", "96h")
	t.Setenv("GATEWAY_BASE_URL", "https://gw.example/api/")
	t.Setenv("GATEWAY_CLIENT_ID", "cid")
	t.Setenv("GATEWAY_TIMEOUT", "5s")
	t.Setenv("WEBHOOK_HMAC_SECRET", "shh")
	t.Setenv("SWEEP_ENABLED", "off")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("SWEEP_BATCH_SIZE", "25")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 20
	t.Setenv("RATE_BURST", "nope") // -> default 40

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.ShutdownTimeout != 5*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging
	if cfg.LogLevel != "warn" || !cfg.LogPretty || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging unexpected: %+v", cfg)
	}

	// Storage
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://u:p@db/payouts" {
		t.Fatalf("database unexpected: %+v", cfg.Database)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.RedisAddr != "redis:6379" || cfg.Store.RedisDB != 2 || cfg.Store.KeyPrefix != "p:" {
		t.Fatalf("store unexpected: %+v", cfg.Store)
	}

	// Payments
	if cfg.Idempotency.LockTTL != 45*time.Second || cfg.Idempotency.PollInterval != 50*time.Millisecond ||
		cfg.Idempotency.ResultTTL != 24*time.Hour || cfg.Idempotency.WaitTimeout != 5*time.Second {
		t.Fatalf("idempotency unexpected: %+v", cfg.Idempotency)
	}
	if cfg.Reconcile.ProcessedTTL != 96*time.Hour || cfg.Reconcile.LockTTL != 30*time.Second {
		t.Fatalf("reconcile unexpected: %+v", cfg.Reconcile)
	}
	if cfg.Gateway.BaseURL != "https://gw.example/api" || cfg.Gateway.ClientID != "cid" ||
		cfg.Gateway.Timeout != 5*time.Second || cfg.Gateway.TokenMargin != time.Minute {
		t.Fatalf("gateway unexpected: %+v", cfg.Gateway)
	}
	if cfg.WebhookSecret != "shh" {
		t.Fatalf("webhook secret unexpected: %q", cfg.WebhookSecret)
	}
	if cfg.Sweep.Enabled || cfg.Sweep.Interval != time.Minute || cfg.Sweep.BatchSize != 25 || cfg.Sweep.Concurrency != 8 {
		t.Fatalf("sweep unexpected: %+v", cfg.Sweep)
	}

	// Rate limiting (parse fallback to defaults)
	if cfg.RateRPS != 20.0 || cfg.RateBurst != 40 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name, key, val, want string
	}{
		{"invalid LOG_LEVEL", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"empty PORT via spaces", "PORT", "   ", "PORT must not be empty"},
		{"non-positive timeouts", "READ_TIMEOUT", "0s", "timeouts must be positive"},
		{"non-positive shutdown", "SHUTDOWN_TIMEOUT", "-1s", "timeouts must be positive"},
		{"max header bytes <= 0", "MAX_HEADER_BYTES", "0", "MAX_HEADER_BYTES"},
		{"unknown driver", "DB_DRIVER", "oracle", "DB_DRIVER"},
		{"empty DSN", "DB_DSN", "  ", "DB_DSN must not be empty"},
		{"unknown store", "STORE_BACKEND", "etcd", "STORE_BACKEND"},
		{"lock ttl non-positive", "IDEMPOTENCY_LOCK_TTL", "0s", "IDEMPOTENCY_"},
		{"poll interval non-positive", "IDEMPOTENCY_POLL_INTERVAL", "-5ms", "IDEMPOTENCY_"},
		{"processed ttl non-positive", "PROCESSED_EVENT_TTL", "0s", "PROCESSED_EVENT_TTL"},
		{"gateway timeout non-positive", "GATEWAY_TIMEOUT", "0s", "GATEWAY_"},
		{"token margin negative", "GATEWAY_TOKEN_MARGIN", "-1s", "GATEWAY_TOKEN_MARGIN"},
		{"empty webhook secret", "WEBHOOK_HMAC_SECRET", " ", "WEBHOOK_HMAC_SECRET"},
		{"sweep interval non-positive", "SWEEP_INTERVAL", "0s", "SWEEP_INTERVAL"},
		{"sweep batch < 1", "SWEEP_BATCH_SIZE", "0", "SWEEP_BATCH_SIZE"},
		{"sweep concurrency < 1", "SWEEP_CONCURRENCY", "0", "SWEEP_CONCURRENCY"},
		{"rate rps negative", "RATE_RPS", "-1", "RATE_RPS"},
		{"rate burst < 1", "RATE_BURST", "0", "RATE_BURST"},
		{"hsts max age negative", "HSTS_MAX_AGE", "-1s", "HSTS_MAX_AGE"},
		{"otel sample ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("WEBHOOK_HMAC_SECRET", "s")
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}

	t.Run("missing webhook secret", func(t *testing.T) {
		t.Setenv("WEBHOOK_HMAC_SECRET", "")
		if _, err := Load(); err == nil || !containsErr(err, "WEBHOOK_HMAC_SECRET") {
			t.Fatalf("expected webhook secret error, got: %v", err)
		}
	})
	t.Run("redis without address", func(t *testing.T) {
		t.Setenv("WEBHOOK_HMAC_SECRET", "s")
		t.Setenv("STORE_BACKEND", "redis")
		t.Setenv("REDIS_ADDR", "")
		// empty falls back to the default address
		if _, err := Load(); err != nil {
			t.Fatalf("expected default REDIS_ADDR to be used, got: %v", err)
		}
	})
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	trueVals := []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"}
	for i, v := range trueVals {
		k := "B_T_" + keySuffix(i)
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	falseVals := []string{"0", "false", "FALSE", " no ", "N", "off", "Off"}
	for i, v := range falseVals {
		k := "B_F_" + keySuffix(i)
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	// default on unset/empty
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	in := " a, ,b ,  c  ,"
	want := []string{"a", "b", "c"}
	if got := splitCSV(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("splitCSV mismatch: got %#v want %#v", got, want)
	}

	if normalizeBasePath("") != "/" {
		t.Fatalf("normalizeBasePath empty -> '/' failed")
	}
	if normalizeBasePath("v1") != "/v1" {
		t.Fatalf("normalizeBasePath missing leading slash failed")
	}
	if normalizeBasePath("/v1/") != "/v1" {
		t.Fatalf("normalizeBasePath trailing slash trim failed")
	}
	if normalizeBasePath(" / ") != "/" {
		t.Fatalf("normalizeBasePath whitespace failed")
	}
}

func keySuffix(i int) string { return string('a' + rune(i)) }

func TestMain(m *testing.M) {
	os.Unsetenv("PORT")
	os.Unsetenv("WEBHOOK_HMAC_SECRET")
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WEBHOOK_HMAC_SECRET", "s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("API_BASE_PATH default expected '/api/v1', got %q", cfg.APIBasePath)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Store.Backend != "sql" {
		t.Fatalf("storage defaults unexpected: %+v %+v", cfg.Database, cfg.Store)
	}
	if cfg.Reconcile.ProcessedTTL != 72*time.Hour || cfg.Reconcile.LockWait != 2*time.Second || cfg.Gateway.RefreshTTL != 72*time.Hour {
		t.Fatalf("ttl defaults unexpected: %+v %+v", cfg.Reconcile, cfg.Gateway)
	}
	if !cfg.Sweep.Enabled || cfg.Sweep.Interval != 5*time.Minute || cfg.Sweep.StaleAfter != 10*time.Minute {
		t.Fatalf("sweep defaults unexpected: %+v", cfg.Sweep)
	}
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	t.Setenv("WEBHOOK_HMAC_SECRET", "s")
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath == "" {
		t.Fatalf("unexpected empty config from MustLoad")
	}
}
