// Package config loads and validates extractor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig         `mapstructure:"server"`
	Crawler    CrawlerConfig        `mapstructure:"crawler"`
	RateLimits map[string]RateClass `mapstructure:"rate_limits"`
	Retry      RetryConfig          `mapstructure:"retry"`
	Identity   IdentityConfig       `mapstructure:"identity"`
	Targets    TargetsConfig        `mapstructure:"targets"`
	Reviews    ReviewsConfig        `mapstructure:"reviews"`
	Storage    StorageConfig        `mapstructure:"storage"`
	DB         DBConfig             `mapstructure:"db"`
	PubSub     PubSubConfig         `mapstructure:"pubsub"`
	Logging    LoggingConfig        `mapstructure:"logging"`
}

// ServerConfig controls the operational HTTP endpoint.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// CrawlerConfig governs worker pool and pipeline behavior.
type CrawlerConfig struct {
	Workers               int     `mapstructure:"workers"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds"`
	AbortFailureRate      float64 `mapstructure:"abort_failure_rate"`
}

// RateClass is the token bucket budget for one endpoint class.
type RateClass struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// RetryConfig tunes failure classification and backoff.
type RetryConfig struct {
	MaxRetries           int     `mapstructure:"max_retries"`
	BaseDelayMs          int     `mapstructure:"base_delay_ms"`
	MaxDelayMs           int     `mapstructure:"max_delay_ms"`
	BackoffFactor        float64 `mapstructure:"backoff_factor"`
	JitterFraction       float64 `mapstructure:"jitter_fraction"`
	RetryableStatusCodes []int   `mapstructure:"retryable_status_codes"`
}

// IdentityConfig describes the proxy/user-agent pool and rotation policy.
type IdentityConfig struct {
	Proxies               []string `mapstructure:"proxies"`
	UserAgents            []string `mapstructure:"user_agents"`
	Strategy              string   `mapstructure:"strategy"`
	StickyIntervalSeconds int      `mapstructure:"sticky_interval_seconds"`
	FailureThreshold      int      `mapstructure:"failure_threshold"`
	CooldownSeconds       int      `mapstructure:"cooldown_seconds"`
	StallProbeMs          int      `mapstructure:"stall_probe_ms"`
}

// TargetsConfig lists the run's entry points.
type TargetsConfig struct {
	Categories []string `mapstructure:"categories"`
}

// ReviewsConfig bounds review-stage fan-out.
type ReviewsConfig struct {
	MaxPages int `mapstructure:"max_pages"`
}

// StorageConfig sets paths for raw page archiving.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational record store.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// defaultUserAgents is used when no identity.user_agents are configured.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/109.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/109.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/109.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36 Edg/108.0.1462.76",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 16_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.2 Mobile/15E148 Safari/604.1",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXTRACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Identity.UserAgents) == 0 {
		cfg.Identity.UserAgents = defaultUserAgents
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.request_timeout_seconds", 15)
	v.SetDefault("crawler.abort_failure_rate", 0.5)
	v.SetDefault("rate_limits.html.rps", 1)
	v.SetDefault("rate_limits.html.burst", 2)
	v.SetDefault("rate_limits.api.rps", 4)
	v.SetDefault("rate_limits.api.burst", 8)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay_ms", 250)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("retry.backoff_factor", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.2)
	v.SetDefault("retry.retryable_status_codes", []int{429, 500, 502, 503, 504})
	v.SetDefault("identity.strategy", "round_robin")
	v.SetDefault("identity.sticky_interval_seconds", 120)
	v.SetDefault("identity.failure_threshold", 3)
	v.SetDefault("identity.cooldown_seconds", 60)
	v.SetDefault("identity.stall_probe_ms", 500)
	v.SetDefault("reviews.max_pages", 3)
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.request_timeout_seconds must be > 0")
	}
	if c.Crawler.AbortFailureRate < 0 || c.Crawler.AbortFailureRate > 1 {
		return fmt.Errorf("crawler.abort_failure_rate must be within [0, 1]")
	}
	if c.Identity.FailureThreshold <= 0 {
		return fmt.Errorf("identity.failure_threshold must be > 0")
	}
	if c.Identity.CooldownSeconds <= 0 {
		return fmt.Errorf("identity.cooldown_seconds must be > 0")
	}
	if c.Reviews.MaxPages <= 0 {
		return fmt.Errorf("reviews.max_pages must be > 0")
	}
	for class, rc := range c.RateLimits {
		if rc.RPS < 0 {
			return fmt.Errorf("rate_limits.%s.rps must be >= 0", class)
		}
	}
	return nil
}

// RequestTimeout converts the crawler timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawler.RequestTimeoutSeconds) * time.Second
}

// StallProbe converts the identity stall probe into a duration.
func (c Config) StallProbe() time.Duration {
	return time.Duration(c.Identity.StallProbeMs) * time.Millisecond
}
