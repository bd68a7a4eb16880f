package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	LogFormat          string
	LogLevel           string
	DatabaseURL        string
	RedisURL           string
	PublicBaseURL      string
	CORSAllowedOrigins []string
	AdminAPIToken      string

	Razorpay RazorpayConfig
	PayU     PayUConfig

	GatewayTimeout     time.Duration
	GatewayMaxAttempts int
	WebhookReplayTTL   time.Duration
	IdempotencyTTL     time.Duration
	CreateRateLimit    int

	NotifyEmailFrom   string
	WorkerConcurrency int

	TracingExporter string
	TracingEndpoint string
}

// RazorpayConfig carries the aggregator credentials. KeySecret signs checkout replies and
// WebhookSecret signs webhook deliveries; they are distinct secrets.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
}

// Configured reports whether every credential is present.
func (c RazorpayConfig) Configured() bool {
	return c.KeyID != "" && c.KeySecret != "" && c.WebhookSecret != ""
}

// PayUConfig carries the hosted-checkout merchant credentials. MerchantID is only checked at
// startup; the hosted form and merchant API identify the merchant by key.
type PayUConfig struct {
	MerchantID  string
	MerchantKey string
	Salt        string
	AuthHeader  string
	BaseURL     string
}

// Configured reports whether the key and salt needed for hashing are present.
func (c PayUConfig) Configured() bool {
	return c.MerchantKey != "" && c.Salt != ""
}

// ConfigurationError lists the variables that must be set before the service can start.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "missing configuration: " + strings.Join(e.Missing, ", ")
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		LogFormat:          valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:           valueOrDefault(k.String("LOG_LEVEL"), "info"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		PublicBaseURL:      strings.TrimRight(strings.TrimSpace(k.String("PUBLIC_BASE_URL")), "/"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		AdminAPIToken:      strings.TrimSpace(k.String("ADMIN_API_TOKEN")),
		Razorpay: RazorpayConfig{
			KeyID:         strings.TrimSpace(k.String("RAZORPAY_KEY_ID")),
			KeySecret:     strings.TrimSpace(k.String("RAZORPAY_KEY_SECRET")),
			WebhookSecret: strings.TrimSpace(k.String("RAZORPAY_WEBHOOK_SECRET")),
			BaseURL:       valueOrDefault(k.String("RAZORPAY_BASE_URL"), "https://api.razorpay.com/v1"),
		},
		PayU: PayUConfig{
			MerchantID:  strings.TrimSpace(k.String("PAYU_MERCHANT_ID")),
			MerchantKey: strings.TrimSpace(k.String("PAYU_MERCHANT_KEY")),
			Salt:        strings.TrimSpace(k.String("PAYU_MERCHANT_SALT")),
			AuthHeader:  strings.TrimSpace(k.String("PAYU_AUTH_HEADER")),
			BaseURL:     valueOrDefault(k.String("PAYU_BASE_URL"), "https://test.payu.in"),
		},
		GatewayTimeout:     parseDuration(k.String("GATEWAY_TIMEOUT"), "10s"),
		GatewayMaxAttempts: parseInt(k.String("GATEWAY_MAX_ATTEMPTS"), 3),
		WebhookReplayTTL:   parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "72h"),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		CreateRateLimit:    parseInt(k.String("RATE_LIMIT_CREATE_PER_MIN"), 30),
		NotifyEmailFrom:    valueOrDefault(k.String("NOTIFY_EMAIL_FROM"), "orders@localhost"),
		WorkerConcurrency:  parseInt(k.String("WORKER_CONCURRENCY"), 10),
		TracingExporter:    valueOrDefault(k.String("TRACING_EXPORTER"), "none"),
		TracingEndpoint:    strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}
	cfg.Razorpay.BaseURL = strings.TrimRight(cfg.Razorpay.BaseURL, "/")
	cfg.PayU.BaseURL = strings.TrimRight(cfg.PayU.BaseURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if c.IsProduction() {
		required := []struct{ name, value string }{
			{"RAZORPAY_KEY_ID", c.Razorpay.KeyID},
			{"RAZORPAY_KEY_SECRET", c.Razorpay.KeySecret},
			{"RAZORPAY_WEBHOOK_SECRET", c.Razorpay.WebhookSecret},
			{"PAYU_MERCHANT_KEY", c.PayU.MerchantKey},
			{"PAYU_MERCHANT_SALT", c.PayU.Salt},
			{"PAYU_MERCHANT_ID", c.PayU.MerchantID},
			{"PAYU_AUTH_HEADER", c.PayU.AuthHeader},
			{"PUBLIC_BASE_URL", c.PublicBaseURL},
			{"ADMIN_API_TOKEN", c.AdminAPIToken},
		}
		for _, r := range required {
			if r.value == "" {
				missing = append(missing, r.name)
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// IsProduction reports whether the service runs with production guarantees.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
