package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultLogLevel        = "info"
	DefaultRootNetwork     = "root"
	DefaultUpdateInterval  = 5 * time.Second
	DefaultRateLimitRPS    = 20
	DefaultRateLimitBurst  = 40
	DefaultCatalogDir      = "data/networks"
	DefaultMetricName      = "allocation"
	DefaultHistoryLength   = 50
	DefaultHistoryInterval = 5 * time.Minute
	DefaultWarning         = 75.0
	DefaultCritical        = 90.0
	DefaultRedisPrefix     = "netpulse:updates:"
	DefaultRedisTTL        = 10 * time.Minute
	DefaultAlertCooldown   = 15 * time.Minute

	minUpdateInterval = time.Second
)

// Config is the full netpulse configuration parsed from config.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Generator GeneratorConfig `yaml:"generator"`
	Redis     RedisConfig     `yaml:"redis"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// ServerConfig holds the HTTP listener and scheduling settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// RootNetwork is the network opened at startup and used when a client
	// does not name one.
	RootNetwork string `yaml:"root_network"`

	// UpdateInterval is the tick period for networks whose metadata does not
	// carry an updateInterval. Minimum 1s.
	UpdateInterval time.Duration `yaml:"update_interval"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds API requests per second. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// CatalogConfig says where network definitions come from.
type CatalogConfig struct {
	// Dir holds <id>.json / <id>.yaml network files.
	Dir string `yaml:"dir"`

	// BaseURL, when set, fetches networks over HTTP instead of from Dir.
	BaseURL string `yaml:"base_url"`

	// Watch reloads networks whose files change in Dir.
	Watch bool `yaml:"watch"`
}

// GeneratorConfig parameterises metric synthesis.
type GeneratorConfig struct {
	MetricName      string        `yaml:"metric_name"`
	HistoryLength   int           `yaml:"history_length"`
	HistoryInterval time.Duration `yaml:"history_interval"`

	// Seed fixes the pattern RNG. 0 seeds from the clock.
	Seed int64 `yaml:"seed"`

	// Trend enables the linear drift term of the synthesizer.
	Trend bool `yaml:"trend"`

	Ranges RangesConfig `yaml:"ranges"`
}

// RangesConfig holds the alert thresholds, in metric percent.
type RangesConfig struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

// RedisConfig enables publishing update diffs to Redis when Addr is set.
type RedisConfig struct {
	Addr string `yaml:"addr"`

	// PasswordEnv is the name of the environment variable holding the password.
	PasswordEnv string `yaml:"password_env"`

	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

// Password returns the Redis password resolved from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// AlertsConfig holds webhook delivery targets for threshold alerts.
type AlertsConfig struct {
	// Cooldown suppresses re-fires for the same entity. Default 15m.
	Cooldown time.Duration `yaml:"cooldown"`

	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | pagerduty | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	// Optional for pagerduty, which defaults to PagerDutyEventsURL.
	URLEnv string `yaml:"url_env"`

	// RoutingKeyEnv names the environment variable holding the PagerDuty
	// integration key. Required for pagerduty, ignored otherwise.
	RoutingKeyEnv string `yaml:"routing_key_env"`
}

// PagerDutyEventsURL is the PagerDuty Events API v2 endpoint.
const PagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		if w.Type == "pagerduty" {
			return PagerDutyEventsURL
		}
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// RoutingKey returns the PagerDuty routing key resolved from the environment.
func (w WebhookConfig) RoutingKey() string {
	if w.RoutingKeyEnv == "" {
		return ""
	}
	return os.Getenv(w.RoutingKeyEnv)
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values. It is also
// what the server runs with when no config file exists.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:       DefaultHTTPPort,
			LogLevel:       DefaultLogLevel,
			RootNetwork:    DefaultRootNetwork,
			UpdateInterval: DefaultUpdateInterval,
			RateLimit: RateLimitConfig{
				RPS:   DefaultRateLimitRPS,
				Burst: DefaultRateLimitBurst,
			},
		},
		Catalog: CatalogConfig{
			Dir:   DefaultCatalogDir,
			Watch: true,
		},
		Generator: GeneratorConfig{
			MetricName:      DefaultMetricName,
			HistoryLength:   DefaultHistoryLength,
			HistoryInterval: DefaultHistoryInterval,
			Ranges: RangesConfig{
				Warning:  DefaultWarning,
				Critical: DefaultCritical,
			},
		},
		Redis: RedisConfig{
			Prefix: DefaultRedisPrefix,
			TTL:    DefaultRedisTTL,
		},
		Alerts: AlertsConfig{
			Cooldown: DefaultAlertCooldown,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", s.LogLevel)
	}
	if s.RootNetwork == "" {
		return fmt.Errorf("server.root_network must not be empty")
	}
	if s.UpdateInterval < minUpdateInterval {
		return fmt.Errorf("server.update_interval %v is below the %v minimum", s.UpdateInterval, minUpdateInterval)
	}
	if s.RateLimit.RPS < 0 || s.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}

	g := cfg.Generator
	if g.MetricName == "" {
		return fmt.Errorf("generator.metric_name must not be empty")
	}
	if g.HistoryLength <= 0 {
		return fmt.Errorf("generator.history_length must be positive, got %d", g.HistoryLength)
	}
	if g.HistoryInterval <= 0 {
		return fmt.Errorf("generator.history_interval must be positive, got %v", g.HistoryInterval)
	}
	r := g.Ranges
	if r.Warning < 0 || r.Critical > 100 || r.Warning >= r.Critical {
		return fmt.Errorf("generator.ranges want 0 <= warning < critical <= 100, got warning=%v critical=%v",
			r.Warning, r.Critical)
	}

	if cfg.Redis.TTL < 0 {
		return fmt.Errorf("redis.ttl must not be negative")
	}

	if cfg.Alerts.Cooldown < 0 {
		return fmt.Errorf("alerts.cooldown must not be negative")
	}
	for i, wh := range cfg.Alerts.Webhooks {
		switch wh.Type {
		case "teams", "slack", "http":
		case "pagerduty":
			if wh.RoutingKeyEnv == "" {
				return fmt.Errorf("alerts.webhooks[%d].routing_key_env is required for pagerduty", i)
			}
		default:
			return fmt.Errorf("alerts.webhooks[%d].type %q unknown: want teams|slack|pagerduty|http", i, wh.Type)
		}
	}
	return nil
}
