package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/benvon/chapters-api/internal/ratelimit"
	"github.com/benvon/chapters-api/internal/request"
	"github.com/benvon/chapters-api/internal/store"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	DatabaseURL     string
	ServerPort      string
	FrontendURL     string
	EnableHSTS      bool
	RedisURL        string
	StoreBackend    string
	RabbitMQURL     string
	AdminAPIKey     string
	JWTSecret       string
	ServerDebugMode bool
	LogLevel        string
	LogFormat       string
	OTELEnabled     bool
	OTELEndpoint    string
	OTELInsecure    bool
	AutoMigrate     bool
	// TrustedProxies may set X-Forwarded-For / X-Real-IP; empty trusts nobody
	TrustedProxies request.TrustedProxies

	CacheTTL       time.Duration
	MaxUploadBytes int64
	RequestTimeout time.Duration

	GeneralLimit ratelimit.Config
	UploadLimit  ratelimit.Config
}

// Defaults for the rate limiters and cache
const (
	DefaultRateLimitWindowMS      = 60000
	DefaultRateLimitMaxRequests   = 30
	DefaultUploadLimitWindowMS    = 900000
	DefaultUploadLimitMaxRequests = 5
	DefaultCacheTTLSeconds        = 3600
	DefaultMaxUploadBytes         = 5 << 20
	DefaultRequestTimeoutSeconds  = 30
	DefaultRedisURL               = "redis://localhost:6379/0"
	DefaultServerPort             = "8080"
	DefaultFrontendURL            = "http://localhost:3000"
	DefaultOTELEndpoint           = "localhost:4318"
	configFileKey                 = "config_file"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("server_port", DefaultServerPort)
	v.SetDefault("frontend_url", DefaultFrontendURL)
	v.SetDefault("enable_hsts", false)
	v.SetDefault("redis_url", DefaultRedisURL)
	v.SetDefault("store_backend", store.BackendRedis)
	v.SetDefault("server_debug_mode", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_exporter_otlp_endpoint", DefaultOTELEndpoint)
	v.SetDefault("otel_exporter_otlp_insecure", true)
	v.SetDefault("auto_migrate", true)
	v.SetDefault("cache_ttl_seconds", DefaultCacheTTLSeconds)
	v.SetDefault("max_upload_bytes", DefaultMaxUploadBytes)
	v.SetDefault("request_timeout_seconds", DefaultRequestTimeoutSeconds)
	v.SetDefault("rate_limit_window_ms", DefaultRateLimitWindowMS)
	v.SetDefault("rate_limit_max_requests", DefaultRateLimitMaxRequests)
	v.SetDefault("rate_limit_upload_window_ms", DefaultUploadLimitWindowMS)
	v.SetDefault("rate_limit_upload_max_requests", DefaultUploadLimitMaxRequests)
	v.SetDefault("rate_limit_failure_policy", string(ratelimit.FailOpen))
	return v
}

// Load loads configuration from environment variables, layered over an
// optional YAML/JSON/TOML file named by CONFIG_FILE. Environment wins.
func Load() (*Config, error) {
	v := newViper()

	if file := strings.TrimSpace(v.GetString(configFileKey)); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DatabaseURL:     strings.TrimSpace(v.GetString("database_url")),
		ServerPort:      v.GetString("server_port"),
		FrontendURL:     v.GetString("frontend_url"),
		EnableHSTS:      v.GetBool("enable_hsts"),
		RedisURL:        v.GetString("redis_url"),
		StoreBackend:    strings.ToLower(strings.TrimSpace(v.GetString("store_backend"))),
		RabbitMQURL:     v.GetString("rabbitmq_url"),
		AdminAPIKey:     v.GetString("admin_api_key"),
		JWTSecret:       v.GetString("jwt_secret"),
		ServerDebugMode: v.GetBool("server_debug_mode"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		OTELEnabled:     v.GetBool("otel_enabled"),
		OTELEndpoint:    v.GetString("otel_exporter_otlp_endpoint"),
		OTELInsecure:    v.GetBool("otel_exporter_otlp_insecure"),
		AutoMigrate:     v.GetBool("auto_migrate"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	proxies, err := request.ParseTrustedProxies(v.GetString("trusted_proxies"))
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies

	switch cfg.StoreBackend {
	case store.BackendRedis, store.BackendMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q (must be 'redis' or 'memory')", cfg.StoreBackend)
	}

	ttl, err := positiveInt(v, "cache_ttl_seconds")
	if err != nil {
		return nil, err
	}
	cfg.CacheTTL = time.Duration(ttl) * time.Second

	if cfg.MaxUploadBytes, err = positiveInt(v, "max_upload_bytes"); err != nil {
		return nil, err
	}
	timeout, err := positiveInt(v, "request_timeout_seconds")
	if err != nil {
		return nil, err
	}
	cfg.RequestTimeout = time.Duration(timeout) * time.Second

	policy, err := ratelimit.ParseFailurePolicy(v.GetString("rate_limit_failure_policy"))
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_FAILURE_POLICY: %w", err)
	}

	if cfg.GeneralLimit, err = limitConfig(v, ratelimit.ScopeGeneral, "rate_limit_window_ms", "rate_limit_max_requests", "rate_limit_rate", policy); err != nil {
		return nil, err
	}
	if cfg.UploadLimit, err = limitConfig(v, ratelimit.ScopeUpload, "rate_limit_upload_window_ms", "rate_limit_upload_max_requests", "rate_limit_upload_rate", policy); err != nil {
		return nil, err
	}

	return cfg, nil
}

// limitConfig builds one scope's limiter config. A ulule formatted rate ("30-M")
// under rateKey replaces the window/max pair.
func limitConfig(v *viper.Viper, scope, windowKey, maxKey, rateKey string, policy ratelimit.FailurePolicy) (ratelimit.Config, error) {
	if formatted := strings.TrimSpace(v.GetString(rateKey)); formatted != "" {
		cfg, err := ratelimit.ConfigFromRate(scope, formatted, policy)
		if err != nil {
			return ratelimit.Config{}, fmt.Errorf("%s: %w", envName(rateKey), err)
		}
		return cfg, nil
	}

	windowMS, err := positiveInt(v, windowKey)
	if err != nil {
		return ratelimit.Config{}, err
	}
	maxRequests, err := positiveInt(v, maxKey)
	if err != nil {
		return ratelimit.Config{}, err
	}

	cfg := ratelimit.Config{
		Scope:         scope,
		Window:        time.Duration(windowMS) * time.Millisecond,
		Max:           maxRequests,
		FailurePolicy: policy,
	}
	return cfg, cfg.Validate()
}

func positiveInt(v *viper.Viper, key string) (int64, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q (must be a positive integer)", envName(key), raw)
	}
	return n, nil
}

func envName(key string) string {
	return strings.ToUpper(key)
}
