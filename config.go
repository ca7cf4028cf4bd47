package ardent

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full worker configuration. Values are read from an
// optional YAML file and then overridden by ARDENT_* environment variables.
type Config struct {
	Fleet     FleetConfig     `yaml:"fleet"`
	Backlog   BacklogConfig   `yaml:"backlog"`
	Poll      PollConfig      `yaml:"poll"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Telephony TelephonyConfig `yaml:"telephony"`
	CRM       CRMConfig       `yaml:"crm"`
	Signals   SignalsConfig   `yaml:"signals"`
	Server    ServerConfig    `yaml:"server"`
	LogLevel  string          `yaml:"logLevel"`
}

// FleetConfig controls membership discovery.
type FleetConfig struct {
	// Namespace is the Kubernetes namespace the worker pods run in.
	Namespace string `yaml:"namespace"`

	// Selector is the pod label selector identifying this fleet.
	Selector string `yaml:"selector"`

	// Identity is this pod's own name. Defaults to the hostname, which
	// inside a pod is the pod name.
	Identity string `yaml:"identity"`

	// CacheTTL is how long a membership snapshot is served without a
	// fresh list call.
	CacheTTL time.Duration `yaml:"cacheTtl"`

	// MonitorInterval is how often the size-change monitor re-checks
	// membership.
	MonitorInterval time.Duration `yaml:"monitorInterval"`
}

// BacklogConfig controls the Postgres backlog store.
type BacklogConfig struct {
	// DSN is the Postgres connection URL.
	DSN string `yaml:"dsn"`
}

// PollConfig controls the claim/dispatch cycle and the staleness sweep.
type PollConfig struct {
	// Interval is the fixed cycle tick.
	Interval time.Duration `yaml:"interval"`

	// SweepInterval is how often stale correlation entries are evicted.
	SweepInterval time.Duration `yaml:"sweepInterval"`

	// StaleAfter is the age past which an outstanding call with no
	// completion signal is considered lost and its task re-eligible.
	StaleAfter time.Duration `yaml:"staleAfter"`
}

// DispatchConfig controls the retry policy shared by outward calls.
type DispatchConfig struct {
	MaxAttempts   int           `yaml:"maxAttempts"`
	BaseDelay     time.Duration `yaml:"baseDelay"`
	MaxDelay      time.Duration `yaml:"maxDelay"`
	JitterCeiling time.Duration `yaml:"jitterCeiling"`

	// RateLimit is the sustained outbound call creation rate per second.
	// Zero disables throttling.
	RateLimit float64 `yaml:"rateLimit"`

	// RateBurst is the token-bucket burst size. Defaults to 1 when
	// RateLimit is set.
	RateBurst int `yaml:"rateBurst"`
}

// TelephonyConfig configures the Retell gateway client.
type TelephonyConfig struct {
	BaseURL     string        `yaml:"baseUrl"`
	APIKey      string        `yaml:"apiKey"`
	FromNumber  string        `yaml:"fromNumber"`
	AgentID     string        `yaml:"agentId"`
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
}

// CRMConfig configures the lead-creation client used on the completion path.
type CRMConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"baseUrl"`
	APIKey      string        `yaml:"apiKey"`
	PipelineID  string        `yaml:"pipelineId"`
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
}

// SignalsConfig configures the completion-signal ingress. The webhook is
// always mounted on the HTTP server; the Redis subscriber is optional.
type SignalsConfig struct {
	RedisAddr    string `yaml:"redisAddr"`
	RedisChannel string `yaml:"redisChannel"`
}

// ServerConfig configures the health/metrics/webhook HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Fleet: FleetConfig{
			Namespace:       "default",
			Selector:        "app.kubernetes.io/component=call-retell-worker",
			CacheTTL:        30 * time.Second,
			MonitorInterval: 15 * time.Second,
		},
		Poll: PollConfig{
			Interval:      5 * time.Second,
			SweepInterval: time.Minute,
			StaleAfter:    30 * time.Minute,
		},
		Dispatch: DispatchConfig{
			MaxAttempts:   3,
			BaseDelay:     time.Second,
			MaxDelay:      30 * time.Second,
			JitterCeiling: 500 * time.Millisecond,
			RateLimit:     2,
			RateBurst:     1,
		},
		Telephony: TelephonyConfig{
			BaseURL:     "https://api.retellai.com",
			HTTPTimeout: 15 * time.Second,
		},
		CRM: CRMConfig{
			HTTPTimeout: 10 * time.Second,
		},
		Signals: SignalsConfig{
			RedisChannel: "retell:call-events",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		LogLevel: "info",
	}
}

// LoadConfig reads the YAML file at path (if path is non-empty), applies
// ARDENT_* environment overrides, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("ardent: read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("ardent: parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Fleet.Identity == "" {
		host, err := os.Hostname()
		if err != nil {
			return cfg, fmt.Errorf("ardent: resolve hostname: %w", err)
		}
		cfg.Fleet.Identity = host
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from ARDENT_* environment variables.
func (c *Config) applyEnv() {
	setString(&c.Backlog.DSN, "ARDENT_BACKLOG_DSN")
	setString(&c.Fleet.Namespace, "ARDENT_FLEET_NAMESPACE")
	setString(&c.Fleet.Selector, "ARDENT_FLEET_SELECTOR")
	setString(&c.Fleet.Identity, "ARDENT_FLEET_IDENTITY")
	setString(&c.Telephony.BaseURL, "ARDENT_RETELL_BASE_URL")
	setString(&c.Telephony.APIKey, "ARDENT_RETELL_API_KEY")
	setString(&c.Telephony.FromNumber, "ARDENT_RETELL_FROM_NUMBER")
	setString(&c.Telephony.AgentID, "ARDENT_RETELL_AGENT_ID")
	setString(&c.CRM.BaseURL, "ARDENT_CRM_BASE_URL")
	setString(&c.CRM.APIKey, "ARDENT_CRM_API_KEY")
	setString(&c.CRM.PipelineID, "ARDENT_CRM_PIPELINE_ID")
	setString(&c.Signals.RedisAddr, "ARDENT_SIGNALS_REDIS_ADDR")
	setString(&c.Signals.RedisChannel, "ARDENT_SIGNALS_REDIS_CHANNEL")
	setString(&c.Server.Addr, "ARDENT_SERVER_ADDR")
	setString(&c.LogLevel, "ARDENT_LOG_LEVEL")

	setBool(&c.CRM.Enabled, "ARDENT_CRM_ENABLED")

	setDuration(&c.Poll.Interval, "ARDENT_POLL_INTERVAL")
	setDuration(&c.Poll.SweepInterval, "ARDENT_POLL_SWEEP_INTERVAL")
	setDuration(&c.Poll.StaleAfter, "ARDENT_POLL_STALE_AFTER")
	setDuration(&c.Fleet.CacheTTL, "ARDENT_FLEET_CACHE_TTL")
	setDuration(&c.Fleet.MonitorInterval, "ARDENT_FLEET_MONITOR_INTERVAL")
}

// Validate reports the first static configuration error. Startup-time
// configuration errors are fatal for the process.
func (c *Config) Validate() error {
	if c.Backlog.DSN == "" {
		return fmt.Errorf("%w: backlog.dsn is required", ErrInvalidConfig)
	}
	if c.Fleet.Selector == "" {
		return fmt.Errorf("%w: fleet.selector is required", ErrInvalidConfig)
	}
	if c.Fleet.Identity == "" {
		return fmt.Errorf("%w: fleet.identity is required", ErrInvalidConfig)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("%w: poll.interval must be positive", ErrInvalidConfig)
	}
	if c.Poll.StaleAfter <= 0 {
		return fmt.Errorf("%w: poll.staleAfter must be positive", ErrInvalidConfig)
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("%w: dispatch.maxAttempts must be at least 1", ErrInvalidConfig)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
