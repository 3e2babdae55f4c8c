package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
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
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	CORSAllowedOrigins []string

	SocieteHeader     string
	SocieteRootDomain string
	SocieteDefault    string

	AccessTokenTTL        time.Duration
	RefreshTokenTTL       time.Duration
	PasswordResetTTL      time.Duration
	RefreshCookieName     string
	RefreshCookieDomain   string
	RefreshCookieSecure   bool
	RefreshCookieSameSite http.SameSite
	PublicBaseURL         string

	IdempotencyTTL  time.Duration
	ProduitCacheTTL time.Duration
	ThemeCacheTTL   time.Duration
	StatsCacheTTL   time.Duration

	ProduitDefaultPage  int
	ProduitDefaultLimit int
	ProduitMaxLimit     int

	CurrencyCode      string
	DefaultTVAPercent string
	DevisNumeroPrefix string

	WebhookDeliveryEnabled    bool
	WebhookRequestTimeout     time.Duration
	WebhookBackoffBaseSec     int
	WebhookDefaultMaxAttempts int
	WebhookReplayTTL          time.Duration
	WebhookAllowInsecureTLS   bool

	QueueRedisPrefix       string
	QueueVisibilityTimeout time.Duration
	QueueBackoffBase       time.Duration
	QueueBackoffJitter     float64
	QueueConcurrency       int
	QueueMaxAttempts       int

	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	EventWorkerConcurrency int

	LoginRateWindow time.Duration
	LoginRateMax    int
	APIRateLimit    string
	BodyLimitBytes  int64

	NotifyDefaultRecipient string

	MigrateOnStart bool
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
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		SocieteHeader:     valueOrDefault(k.String("SOCIETE_HEADER"), "X-Societe-ID"),
		SocieteRootDomain: strings.TrimSpace(k.String("SOCIETE_ROOT_DOMAIN")),
		SocieteDefault:    strings.TrimSpace(k.String("SOCIETE_DEFAULT")),

		AccessTokenTTL:        parseDuration(k.String("ACCESS_TOKEN_TTL"), "15m"),
		RefreshTokenTTL:       parseDuration(k.String("REFRESH_TOKEN_TTL"), "720h"),
		PasswordResetTTL:      parseDuration(k.String("PASSWORD_RESET_TTL"), "24h"),
		RefreshCookieName:     valueOrDefault(k.String("REFRESH_COOKIE_NAME"), "gestion_refresh"),
		RefreshCookieDomain:   strings.TrimSpace(k.String("REFRESH_COOKIE_DOMAIN")),
		RefreshCookieSecure:   parseBool(k.String("REFRESH_COOKIE_SECURE")),
		RefreshCookieSameSite: parseSameSite(k.String("REFRESH_COOKIE_SAMESITE")),
		PublicBaseURL:         strings.TrimSpace(k.String("PUBLIC_BASE_URL")),

		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		ProduitCacheTTL: parseDuration(k.String("PRODUIT_CACHE_TTL"), "5m"),
		ThemeCacheTTL:   parseDuration(k.String("THEME_CACHE_TTL"), "10m"),
		StatsCacheTTL:   parseDuration(k.String("STATS_CACHE_TTL"), "2m"),

		ProduitDefaultPage:  intOrDefault(k.Int("PRODUIT_DEFAULT_PAGE"), 1),
		ProduitDefaultLimit: intOrDefault(k.Int("PRODUIT_DEFAULT_LIMIT"), 20),
		ProduitMaxLimit:     intOrDefault(k.Int("PRODUIT_MAX_LIMIT"), 100),

		CurrencyCode:      valueOrDefault(k.String("CURRENCY_CODE"), "EUR"),
		DefaultTVAPercent: valueOrDefault(k.String("DEFAULT_TVA_PERCENT"), "20"),
		DevisNumeroPrefix: valueOrDefault(k.String("DEVIS_NUMERO_PREFIX"), "DEV"),

		WebhookDeliveryEnabled:    parseBool(k.String("WEBHOOK_DELIVERY_ENABLED")),
		WebhookRequestTimeout:     parseDuration(k.String("WEBHOOK_REQUEST_TIMEOUT"), "10s"),
		WebhookBackoffBaseSec:     intOrDefault(k.Int("WEBHOOK_BACKOFF_BASE_SEC"), 30),
		WebhookDefaultMaxAttempts: intOrDefault(k.Int("WEBHOOK_MAX_ATTEMPTS"), 8),
		WebhookReplayTTL:          parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "48h"),
		WebhookAllowInsecureTLS:   parseBool(k.String("WEBHOOK_ALLOW_INSECURE_TLS")),

		QueueRedisPrefix:       valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "gestion"),
		QueueVisibilityTimeout: parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "60s"),
		QueueBackoffBase:       parseDuration(k.String("QUEUE_BACKOFF_BASE"), "5s"),
		QueueBackoffJitter:     k.Float64("QUEUE_BACKOFF_JITTER"),
		QueueConcurrency:       intOrDefault(k.Int("QUEUE_CONCURRENCY"), 4),
		QueueMaxAttempts:       intOrDefault(k.Int("QUEUE_MAX_ATTEMPTS"), 10),

		LockTTL:          parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "250ms"),

		EventWorkerConcurrency: intOrDefault(k.Int("EVENT_WORKER_CONCURRENCY"), 1),

		LoginRateWindow: parseDuration(k.String("LOGIN_RATE_WINDOW"), "1m"),
		LoginRateMax:    intOrDefault(k.Int("LOGIN_RATE_MAX"), 10),
		APIRateLimit:    valueOrDefault(k.String("API_RATE_LIMIT"), "300-M"),
		BodyLimitBytes:  int64(intOrDefault(k.Int("BODY_LIMIT_BYTES"), 1<<20)),

		NotifyDefaultRecipient: strings.TrimSpace(k.String("NOTIFY_DEFAULT_RECIPIENT")),

		MigrateOnStart: parseBool(k.String("MIGRATE_ON_START")),
	}

	if cfg.RefreshCookieSameSite == http.SameSiteDefaultMode {
		cfg.RefreshCookieSameSite = http.SameSiteLaxMode
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
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
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
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
