// Package config provides centralized configuration for the letterlock server.
// Values come from built-in defaults, an optional TOML file, a .env.local file
// and the process environment, in increasing order of precedence.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all server configuration values.
type Config struct {
	// Port is the HTTP server listen port.
	Port string `toml:"port"`

	// DBPath is the path to the SQLite database file.
	DBPath string `toml:"db_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// LogFormat is auto, text or json. auto picks text on a terminal.
	LogFormat string `toml:"log_format"`

	// LLMProvider selects which LLM backend writes letters: "openai", "claude", "gemini", "ollama".
	LLMProvider string `toml:"llm_provider"`

	OpenAIKey      string `toml:"openai_api_key"`
	OpenAIBaseURL  string `toml:"openai_base_url"`
	OpenAIModel    string `toml:"openai_model"`
	AnthropicKey   string `toml:"anthropic_api_key"`
	AnthropicModel string `toml:"anthropic_model"`
	GeminiKey      string `toml:"gemini_api_key"`
	GeminiModel    string `toml:"gemini_model"`
	OllamaURL      string `toml:"ollama_url"`
	OllamaModel    string `toml:"ollama_model"`

	// HTTPTimeout is the timeout for outgoing HTTP requests (posting fetch, LLM).
	HTTPTimeout time.Duration `toml:"-"`

	// StripeSecretKey enables the Stripe gateway. Empty selects the stub gateway.
	StripeSecretKey string `toml:"stripe_secret_key"`

	// StripeWebhookSecret is the shared secret used to verify webhook signatures.
	StripeWebhookSecret string `toml:"stripe_webhook_secret"`

	PriceCents  int64  `toml:"price_cents"`
	Currency    string `toml:"currency"`
	ProductName string `toml:"product_name"`

	// PublicBaseURL is where checkout redirects the buyer back to.
	PublicBaseURL string `toml:"public_base_url"`

	RateLimitWindow time.Duration `toml:"-"`
	RateLimitMax    int           `toml:"rate_limit_max"`

	// RedisAddr backs the rate limiter with Redis when set.
	RedisAddr string `toml:"redis_addr"`

	// TrustProxy keys rate limiting on the first X-Forwarded-For hop.
	TrustProxy bool `toml:"trust_proxy"`

	// CORSOrigin is the allowed CORS origin. Defaults to "*".
	CORSOrigin string `toml:"cors_origin"`

	// ReconcileInterval is how often failed webhook events are re-applied.
	ReconcileInterval time.Duration `toml:"-"`

	// ReconcileMaxAttempts bounds how many times one event is applied.
	ReconcileMaxAttempts int `toml:"reconcile_max_attempts"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:                 "8080",
		DBPath:               "letterlock.db",
		LogLevel:             "info",
		LogFormat:            "auto",
		LLMProvider:          "openai",
		OpenAIBaseURL:        "https://api.openai.com/v1",
		OpenAIModel:          "gpt-4o-mini",
		AnthropicModel:       "claude-sonnet-4-20250514",
		GeminiModel:          "gemini-2.0-flash",
		OllamaURL:            "http://localhost:11434",
		OllamaModel:          "llama3",
		HTTPTimeout:          60 * time.Second,
		PriceCents:           499,
		Currency:             "usd",
		ProductName:          "Cover letter",
		PublicBaseURL:        "http://localhost:8080",
		RateLimitWindow:      10 * time.Minute,
		RateLimitMax:         5,
		CORSOrigin:           "*",
		ReconcileInterval:    30 * time.Second,
		ReconcileMaxAttempts: 5,
	}
}

// Load reads configuration from .env.local and environment variables, applying defaults.
func Load() Config {
	loadEnvFile(".env.local")
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

// LoadFile is Load with an optional TOML file layered between the defaults
// and the environment. An empty path behaves like Load.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Load(), nil
	}
	cfg := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	fc := fileConfig{Config: cfg}
	if err := toml.Unmarshal(raw, &fc); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg, err = fc.resolve()
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	loadEnvFile(".env.local")
	applyEnv(&cfg)
	return cfg, nil
}

// fileConfig is the TOML shape of Config. Durations are written as strings
// such as "10m" and parsed with time.ParseDuration.
type fileConfig struct {
	Config
	HTTPTimeout       string `toml:"http_timeout"`
	RateLimitWindow   string `toml:"rate_limit_window"`
	ReconcileInterval string `toml:"reconcile_interval"`
}

func (f fileConfig) resolve() (Config, error) {
	cfg := f.Config
	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"http_timeout", f.HTTPTimeout, &cfg.HTTPTimeout},
		{"rate_limit_window", f.RateLimitWindow, &cfg.RateLimitWindow},
		{"reconcile_interval", f.ReconcileInterval, &cfg.ReconcileInterval},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Port = envOr("PORT", c.Port)
	c.DBPath = envOr("DB_PATH", c.DBPath)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
	c.LLMProvider = envOr("LLM_PROVIDER", c.LLMProvider)
	c.OpenAIKey = envOr("OPENAI_API_KEY", c.OpenAIKey)
	c.OpenAIBaseURL = envOr("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIModel = envOr("OPENAI_MODEL", c.OpenAIModel)
	c.AnthropicKey = envOr("ANTHROPIC_API_KEY", c.AnthropicKey)
	c.AnthropicModel = envOr("ANTHROPIC_MODEL", c.AnthropicModel)
	c.GeminiKey = envOr("GEMINI_API_KEY", c.GeminiKey)
	c.GeminiModel = envOr("GEMINI_MODEL", c.GeminiModel)
	c.OllamaURL = envOr("OLLAMA_URL", c.OllamaURL)
	c.OllamaModel = envOr("OLLAMA_MODEL", c.OllamaModel)
	c.HTTPTimeout = envDuration("HTTP_TIMEOUT", c.HTTPTimeout)
	c.StripeSecretKey = envOr("STRIPE_SECRET_KEY", c.StripeSecretKey)
	c.StripeWebhookSecret = envOr("STRIPE_WEBHOOK_SECRET", c.StripeWebhookSecret)
	c.PriceCents = int64(envInt("PRICE_CENTS", int(c.PriceCents)))
	c.Currency = envOr("CURRENCY", c.Currency)
	c.ProductName = envOr("PRODUCT_NAME", c.ProductName)
	c.PublicBaseURL = strings.TrimRight(envOr("PUBLIC_BASE_URL", c.PublicBaseURL), "/")
	c.RateLimitWindow = envDuration("RATE_LIMIT_WINDOW", c.RateLimitWindow)
	c.RateLimitMax = envInt("RATE_LIMIT_MAX", c.RateLimitMax)
	c.RedisAddr = envOr("REDIS_ADDR", c.RedisAddr)
	c.TrustProxy = envBool("TRUST_PROXY", c.TrustProxy)
	c.CORSOrigin = envOr("CORS_ORIGIN", c.CORSOrigin)
	c.ReconcileInterval = envDuration("RECONCILE_INTERVAL", c.ReconcileInterval)
	c.ReconcileMaxAttempts = envInt("RECONCILE_MAX_ATTEMPTS", c.ReconcileMaxAttempts)
}

// Validate reports settings the server cannot safely run with.
func (c Config) Validate() error {
	var errs []error
	if c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required"))
	}
	switch c.LLMProvider {
	case "openai", "claude", "gemini", "ollama":
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	if c.RateLimitMax <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must be positive"))
	}
	if c.PriceCents <= 0 {
		errs = append(errs, errors.New("PRICE_CENTS must be positive"))
	}
	if c.ReconcileInterval <= 0 {
		errs = append(errs, errors.New("RECONCILE_INTERVAL must be positive"))
	}
	if c.ReconcileMaxAttempts <= 0 {
		errs = append(errs, errors.New("RECONCILE_MAX_ATTEMPTS must be positive"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("HTTP_TIMEOUT must be positive"))
	}
	switch c.LogFormat {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// UseStubs returns true when no LLM API key is configured for the selected provider.
func (c Config) UseStubs() bool {
	switch c.LLMProvider {
	case "claude":
		return c.AnthropicKey == ""
	case "gemini":
		return c.GeminiKey == ""
	case "ollama":
		return false // Ollama runs locally, no key needed
	default:
		return c.OpenAIKey == ""
	}
}

// UseStubGateway returns true when no Stripe secret key is configured.
func (c Config) UseStubGateway() bool {
	return c.StripeSecretKey == ""
}

// loadEnvFile sets variables from a KEY=VALUE file without overriding values
// already present in the environment. A missing file is not an error.
func loadEnvFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		os.Setenv(key, val)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
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

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
