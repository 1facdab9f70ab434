package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerAddr     string   `yaml:"server_addr"`
	AppEnv         string   `yaml:"app_env"`
	LogLevel       string   `yaml:"log_level"`
	LogFormat      string   `yaml:"log_format"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Database
	DBDriver          string        `yaml:"db_driver"`
	DatabaseURL       string        `yaml:"database_url"`
	DBHost            string        `yaml:"db_host"`
	DBPort            string        `yaml:"db_port"`
	DBUser            string        `yaml:"db_user"`
	DBPassword        string        `yaml:"db_password"`
	DBName            string        `yaml:"db_name"`
	DBSSLMode         string        `yaml:"db_sslmode"`
	DBMaxOpenConns    int           `yaml:"db_max_open_conns"`
	DBMaxIdleConns    int           `yaml:"db_max_idle_conns"`
	DBConnMaxLifetime time.Duration `yaml:"db_conn_max_lifetime"`

	// Sessions
	JWTSecret            string        `yaml:"jwt_secret"`
	JWTIssuer            string        `yaml:"jwt_issuer"`
	SessionTTL           time.Duration `yaml:"session_ttl"`
	SessionRememberTTL   time.Duration `yaml:"session_remember_ttl"`
	SessionCookieName    string        `yaml:"session_cookie_name"`
	SessionCookieSecure  bool          `yaml:"session_cookie_secure"`
	SessionPurgeInterval time.Duration `yaml:"session_purge_interval"`
	PasswordHashCost     int           `yaml:"password_hash_cost"`
	AuthRateLimitPerMin  int           `yaml:"auth_rate_limit_per_minute"`

	// Redis is optional; when set it backs the market data cache
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Market data provider
	MarketAPIBaseURL         string        `yaml:"market_api_base_url"`
	MarketRequestTimeout     time.Duration `yaml:"market_request_timeout"`
	MarketCacheTTL           time.Duration `yaml:"market_cache_ttl"`
	MarketCacheMaxEntries    int           `yaml:"market_cache_max_entries"`
	MarketRateLimitPerMinute int           `yaml:"market_rate_limit_per_minute"`
	MarketRateLimitBurst     int           `yaml:"market_rate_limit_burst"`
	MarketMaxQueueWait       time.Duration `yaml:"market_max_queue_wait"`
	MarketMaxConcurrency     int           `yaml:"market_max_concurrency"`
	MarketRetryEnabled       bool          `yaml:"market_retry_enabled"`

	PriceRefreshInterval time.Duration `yaml:"price_refresh_interval"`

	// MinIO/S3 configuration for portfolio exports. Exports are disabled
	// when MinioEndpoint is empty.
	MinioEndpoint   string        `yaml:"minio_endpoint"`
	MinioAccessKey  string        `yaml:"minio_access_key"`
	MinioSecretKey  string        `yaml:"minio_secret_key"`
	MinioBucket     string        `yaml:"minio_bucket"`
	MinioRegion     string        `yaml:"minio_region"`
	MinioUseSSL     bool          `yaml:"minio_use_ssl"`
	ExportURLExpiry time.Duration `yaml:"export_url_expiry"`

	jwtSecretGenerated bool
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		ServerAddr:     ":8080",
		AppEnv:         "production",
		LogLevel:       "info",
		LogFormat:      "json",
		AllowedOrigins: []string{"http://localhost:3000"},

		DBDriver:          "pgx",
		DBHost:            "localhost",
		DBPort:            "5432",
		DBUser:            "coinfolio",
		DBPassword:        "coinfolio_dev_password",
		DBName:            "coinfolio",
		DBSSLMode:         "disable",
		DBMaxOpenConns:    25,
		DBMaxIdleConns:    5,
		DBConnMaxLifetime: 5 * time.Minute,

		JWTIssuer:            "coinfolio",
		SessionTTL:           24 * time.Hour,
		SessionRememberTTL:   7 * 24 * time.Hour,
		SessionCookieName:    "coinfolio_session",
		SessionCookieSecure:  true,
		SessionPurgeInterval: time.Hour,
		PasswordHashCost:     12,
		AuthRateLimitPerMin:  20,

		MarketAPIBaseURL:         "https://api.coinpaprika.com/v1",
		MarketRequestTimeout:     10 * time.Second,
		MarketCacheTTL:           5 * time.Minute,
		MarketCacheMaxEntries:    1000,
		MarketRateLimitPerMinute: 60,
		MarketRateLimitBurst:     10,
		MarketMaxQueueWait:       10 * time.Second,
		MarketMaxConcurrency:     8,

		PriceRefreshInterval: 5 * time.Minute,

		MinioBucket:     "coinfolio-exports",
		MinioRegion:     "us-east-1",
		ExportURLExpiry: 15 * time.Minute,
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE, and environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = generateDefaultSecret()
		cfg.jwtSecretGenerated = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(dst *string, key string) {
		*dst = getEnvOrDefault(key, *dst)
	}
	num := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(dst *time.Duration, key string) {
		if v := os.Getenv(key); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str(&c.ServerAddr, "SERVER_ADDR")
	str(&c.AppEnv, "APP_ENV")
	str(&c.LogLevel, "LOG_LEVEL")
	str(&c.LogFormat, "LOG_FORMAT")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	str(&c.DBDriver, "DB_DRIVER")
	str(&c.DatabaseURL, "DATABASE_URL")
	str(&c.DBHost, "DB_HOST")
	str(&c.DBPort, "DB_PORT")
	str(&c.DBUser, "DB_USER")
	str(&c.DBPassword, "DB_PASSWORD")
	str(&c.DBName, "DB_NAME")
	str(&c.DBSSLMode, "DB_SSLMODE")
	num(&c.DBMaxOpenConns, "DB_MAX_OPEN_CONNS")
	num(&c.DBMaxIdleConns, "DB_MAX_IDLE_CONNS")
	dur(&c.DBConnMaxLifetime, "DB_CONN_MAX_LIFETIME")

	str(&c.JWTSecret, "JWT_SECRET")
	str(&c.JWTIssuer, "JWT_ISSUER")
	dur(&c.SessionTTL, "SESSION_TTL")
	dur(&c.SessionRememberTTL, "SESSION_REMEMBER_TTL")
	str(&c.SessionCookieName, "SESSION_COOKIE_NAME")
	flag(&c.SessionCookieSecure, "SESSION_COOKIE_SECURE")
	dur(&c.SessionPurgeInterval, "SESSION_PURGE_INTERVAL")
	num(&c.PasswordHashCost, "PASSWORD_HASH_COST")
	num(&c.AuthRateLimitPerMin, "AUTH_RATE_LIMIT_PER_MINUTE")

	str(&c.RedisAddr, "REDIS_ADDR")
	str(&c.RedisPassword, "REDIS_PASSWORD")
	num(&c.RedisDB, "REDIS_DB")

	str(&c.MarketAPIBaseURL, "MARKET_API_BASE_URL")
	dur(&c.MarketRequestTimeout, "MARKET_REQUEST_TIMEOUT")
	dur(&c.MarketCacheTTL, "MARKET_CACHE_TTL")
	num(&c.MarketCacheMaxEntries, "MARKET_CACHE_MAX_ENTRIES")
	num(&c.MarketRateLimitPerMinute, "MARKET_RATE_LIMIT_PER_MINUTE")
	num(&c.MarketRateLimitBurst, "MARKET_RATE_LIMIT_BURST")
	dur(&c.MarketMaxQueueWait, "MARKET_MAX_QUEUE_WAIT")
	num(&c.MarketMaxConcurrency, "MARKET_MAX_CONCURRENCY")
	flag(&c.MarketRetryEnabled, "MARKET_RETRY_ENABLED")

	dur(&c.PriceRefreshInterval, "PRICE_REFRESH_INTERVAL")

	str(&c.MinioEndpoint, "MINIO_ENDPOINT")
	str(&c.MinioAccessKey, "MINIO_ACCESS_KEY")
	str(&c.MinioSecretKey, "MINIO_SECRET_KEY")
	str(&c.MinioBucket, "MINIO_BUCKET")
	str(&c.MinioRegion, "MINIO_REGION")
	flag(&c.MinioUseSSL, "MINIO_USE_SSL")
	dur(&c.ExportURLExpiry, "EXPORT_URL_EXPIRY")

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	if c.IsProduction() && c.jwtSecretGenerated {
		errs = append(errs, errors.New("JWT_SECRET must be set in production"))
	}
	if len(c.JWTSecret) < 32 && !c.jwtSecretGenerated {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters"))
	}
	switch c.DBDriver {
	case "pgx", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not supported (use pgx or postgres)", c.DBDriver))
	}
	if c.SessionTTL <= 0 || c.SessionRememberTTL <= 0 {
		errs = append(errs, errors.New("session TTLs must be positive"))
	}
	if c.SessionPurgeInterval <= 0 || c.PriceRefreshInterval <= 0 {
		errs = append(errs, errors.New("background intervals must be positive"))
	}
	if c.PasswordHashCost < bcrypt.MinCost || c.PasswordHashCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("PASSWORD_HASH_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.MarketCacheTTL <= 0 || c.MarketRequestTimeout <= 0 {
		errs = append(errs, errors.New("market cache TTL and request timeout must be positive"))
	}
	if c.MarketCacheMaxEntries <= 0 {
		errs = append(errs, errors.New("MARKET_CACHE_MAX_ENTRIES must be positive"))
	}
	if c.MarketRateLimitPerMinute <= 0 || c.MarketRateLimitBurst <= 0 {
		errs = append(errs, errors.New("market rate limit and burst must be positive"))
	}
	if _, err := url.ParseRequestURI(c.MarketAPIBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("MARKET_API_BASE_URL: %w", err))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether the app runs with production defaults
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// DSN returns the database connection string
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// StorageEnabled reports whether object storage is configured for exports
func (c *Config) StorageEnabled() bool {
	return c.MinioEndpoint != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration accepts Go durations plus a "d" suffix for days
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func generateDefaultSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "dev-secret-change-in-production-0000000000"
	}
	return hex.EncodeToString(bytes)
}
