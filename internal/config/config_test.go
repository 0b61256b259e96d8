package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  enabled: true
  port: 9090
crawler:
  workers: 8
  request_timeout_seconds: 30
  abort_failure_rate: 0.6
rate_limits:
  html:
    rps: 0.5
    burst: 1
  api:
    rps: 10
    burst: 20
retry:
  max_retries: 5
  base_delay_ms: 100
  max_delay_ms: 5000
  backoff_factor: 3
  jitter_fraction: 0.1
identity:
  proxies: ["http://proxy-a:8080", "http://proxy-b:8080"]
  user_agents: ["agent-a", "agent-b"]
  strategy: sticky
  sticky_interval_seconds: 60
  failure_threshold: 2
  cooldown_seconds: 30
  stall_probe_ms: 250
targets:
  categories:
    - https://www.example.com/s?k=widgets
reviews:
  max_pages: 5
storage:
  gcs_bucket: bucket
  prefix: raw
db:
  dsn: postgres://localhost/extractor
pubsub:
  project_id: test-project
  topic_name: extractor-events
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.Workers != 8 || cfg.Crawler.AbortFailureRate != 0.6 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if got := cfg.RateLimits["html"].RPS; got != 0.5 {
		t.Fatalf("expected html rps 0.5, got %v", got)
	}
	if cfg.Identity.Strategy != "sticky" || cfg.Identity.FailureThreshold != 2 {
		t.Fatalf("expected identity overrides to apply: %+v", cfg.Identity)
	}
	if len(cfg.Identity.UserAgents) != 2 {
		t.Fatalf("expected configured user agents to win over defaults")
	}
	if len(cfg.Targets.Categories) != 1 {
		t.Fatalf("expected one category target, got %+v", cfg.Targets)
	}
	if cfg.Storage.GCSBucket != "bucket" || cfg.DB.DSN == "" || cfg.PubSub.TopicName != "extractor-events" {
		t.Fatalf("expected storage/db/pubsub overrides to apply")
	}
	if got := cfg.RequestTimeout(); got != 30*time.Second {
		t.Fatalf("expected request timeout 30s, got %v", got)
	}
	if got := cfg.StallProbe(); got != 250*time.Millisecond {
		t.Fatalf("expected stall probe 250ms, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Workers != 4 {
		t.Fatalf("expected default workers 4, got %d", cfg.Crawler.Workers)
	}
	if len(cfg.Identity.UserAgents) == 0 {
		t.Fatalf("expected default user agents to be populated")
	}
	if cfg.Retry.MaxRetries != 3 || len(cfg.Retry.RetryableStatusCodes) != 5 {
		t.Fatalf("expected default retry config, got %+v", cfg.Retry)
	}
	if cfg.Reviews.MaxPages != 3 {
		t.Fatalf("expected default review pages 3, got %d", cfg.Reviews.MaxPages)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Enabled: true, Port: 8080},
		Crawler:  CrawlerConfig{Workers: 1, RequestTimeoutSeconds: 10, AbortFailureRate: 0.5},
		Identity: IdentityConfig{FailureThreshold: 3, CooldownSeconds: 60},
		Reviews:  ReviewsConfig{MaxPages: 3},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid workers",
			cfg: func() Config {
				c := base
				c.Crawler.Workers = 0
				return c
			}(),
			want: "crawler.workers",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.Crawler.RequestTimeoutSeconds = 0
				return c
			}(),
			want: "crawler.request_timeout_seconds",
		},
		{
			name: "abort rate above one",
			cfg: func() Config {
				c := base
				c.Crawler.AbortFailureRate = 1.5
				return c
			}(),
			want: "crawler.abort_failure_rate",
		},
		{
			name: "missing cooldown",
			cfg: func() Config {
				c := base
				c.Identity.CooldownSeconds = 0
				return c
			}(),
			want: "identity.cooldown_seconds",
		},
		{
			name: "negative rps",
			cfg: func() Config {
				c := base
				c.RateLimits = map[string]RateClass{"html": {RPS: -1}}
				return c
			}(),
			want: "rate_limits.html.rps",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
