// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. Fields map 1:1 onto the
// YAML file and the PANE_* environment variables bound by the root command.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Enroll    EnrollConfig    `mapstructure:"enroll" yaml:"enroll"`
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
	Colors      bool   `mapstructure:"colors" yaml:"colors"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	LaunchTimeout   time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	Humanoid        HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// HumanoidConfig tunes the human-like input simulation. The zero value means
// "use the model defaults"; only fields explicitly set override them.
type HumanoidConfig struct {
	Enabled          bool    `mapstructure:"enabled" yaml:"enabled"`
	TypoRate         float64 `mapstructure:"typo_rate" yaml:"typo_rate"`
	KeyPauseMeanMs   float64 `mapstructure:"key_pause_mean_ms" yaml:"key_pause_mean_ms"`
	KeyPauseStdDevMs float64 `mapstructure:"key_pause_std_dev_ms" yaml:"key_pause_std_dev_ms"`
	KeyPauseMinMs    float64 `mapstructure:"key_pause_min_ms" yaml:"key_pause_min_ms"`
	ClickHoldMinMs   int     `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs   int     `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`
}

// EnrollConfig tunes the enrollment state machine.
type EnrollConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ConsentTimeout    time.Duration `mapstructure:"consent_timeout" yaml:"consent_timeout"`
	RunTimeout        time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	OverridesDir      string        `mapstructure:"overrides_dir" yaml:"overrides_dir"`
	StepScreenshots   bool          `mapstructure:"step_screenshots" yaml:"step_screenshots"`
}

// ProvidersConfig groups the external alias and card services. When a base
// URL is empty the corresponding local offline implementation is used.
type ProvidersConfig struct {
	Alias AliasProviderConfig `mapstructure:"alias" yaml:"alias"`
	Card  CardProviderConfig  `mapstructure:"card" yaml:"card"`
}

// AliasProviderConfig configures the alias (masked email) service.
type AliasProviderConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Token   string `mapstructure:"token" yaml:"-"`
	Domain  string `mapstructure:"domain" yaml:"domain"`
}

// CardProviderConfig configures the virtual card service.
type CardProviderConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	BaseURL         string `mapstructure:"base_url" yaml:"base_url"`
	Token           string `mapstructure:"token" yaml:"-"`
	SpendLimitCents int64  `mapstructure:"spend_limit_cents" yaml:"spend_limit_cents"`
}

// NetworkConfig tunes the outbound API client shared by the providers.
type NetworkConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// StoreConfig holds the envelope database connection details.
type StoreConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ServerConfig holds settings for serve mode.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ArtifactsConfig selects where screenshots land.
type ArtifactsConfig struct {
	Backend string   `mapstructure:"backend" yaml:"backend"`
	Dir     string   `mapstructure:"dir" yaml:"dir"`
	S3      S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config configures the S3-compatible artifact backend.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"-"`
	SecretKey string `mapstructure:"secret_key" yaml:"-"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

// MetricsConfig toggles the Prometheus sink.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pane")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.launch_timeout", "30s")

	// -- Humanoid --
	v.SetDefault("browser.humanoid.enabled", true)
	v.SetDefault("browser.humanoid.typo_rate", 0.04)
	v.SetDefault("browser.humanoid.key_pause_mean_ms", 70.0)
	v.SetDefault("browser.humanoid.key_pause_std_dev_ms", 28.0)
	v.SetDefault("browser.humanoid.key_pause_min_ms", 35.0)
	v.SetDefault("browser.humanoid.click_hold_min_ms", 50)
	v.SetDefault("browser.humanoid.click_hold_max_ms", 120)

	// -- Enroll --
	v.SetDefault("enroll.navigation_timeout", "45s")
	v.SetDefault("enroll.settle_delay", "2500ms")
	v.SetDefault("enroll.consent_timeout", "5s")
	v.SetDefault("enroll.run_timeout", "4m")
	v.SetDefault("enroll.overrides_dir", "")
	v.SetDefault("enroll.step_screenshots", true)

	// -- Providers --
	v.SetDefault("providers.alias.base_url", "")
	v.SetDefault("providers.alias.domain", "relay.veilkit.dev")
	v.SetDefault("providers.card.enabled", false)
	v.SetDefault("providers.card.base_url", "")
	v.SetDefault("providers.card.spend_limit_cents", 100)

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.requests_per_second", 4.0)
	v.SetDefault("network.burst", 2)
	v.SetDefault("network.max_retries", 3)
	v.SetDefault("network.user_agent", "pane/1.0")
	v.SetDefault("network.ignore_tls_errors", false)

	// -- Store --
	v.SetDefault("store.url", "")

	// -- Server --
	v.SetDefault("server.listen", "127.0.0.1:8787")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// -- Artifacts --
	v.SetDefault("artifacts.backend", "local")
	v.SetDefault("artifacts.dir", defaultArtifactsDir())
	v.SetDefault("artifacts.s3.use_ssl", true)

	// -- Metrics --
	v.SetDefault("metrics.enabled", true)
}

// defaultArtifactsDir resolves the screenshot directory under the user's
// home. Falls back to the working directory when home cannot be determined.
func defaultArtifactsDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return filepath.Join(".", "pane-artifacts")
	}
	return filepath.Join(home, ".local", "share", "pane", "artifacts")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("providers.alias.token", "PANE_ALIAS_TOKEN")
	v.BindEnv("providers.card.token", "PANE_CARD_TOKEN")
	v.BindEnv("store.url", "PANE_STORE_URL")
	v.BindEnv("artifacts.s3.access_key", "PANE_S3_ACCESS_KEY")
	v.BindEnv("artifacts.s3.secret_key", "PANE_S3_SECRET_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Logger.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be \"console\" or \"json\", got %q", c.Logger.Format)
	}
	if err := c.Enroll.Validate(); err != nil {
		return fmt.Errorf("enroll configuration invalid: %w", err)
	}
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network configuration invalid: %w", err)
	}
	if err := c.Artifacts.Validate(); err != nil {
		return fmt.Errorf("artifacts configuration invalid: %w", err)
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	return nil
}

// Validate checks the enrollment machine settings.
func (e *EnrollConfig) Validate() error {
	if e.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be a positive duration")
	}
	if e.SettleDelay <= 0 {
		return fmt.Errorf("settle_delay must be a positive duration")
	}
	if e.RunTimeout <= 0 {
		return fmt.Errorf("run_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the outbound client settings.
func (n *NetworkConfig) Validate() error {
	if n.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}
	if n.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

// Validate checks the artifact backend selection.
func (a *ArtifactsConfig) Validate() error {
	switch a.Backend {
	case "local":
		if a.Dir == "" {
			return fmt.Errorf("dir is required for the local backend")
		}
	case "s3":
		if a.S3.Endpoint == "" || a.S3.Bucket == "" {
			return fmt.Errorf("s3.endpoint and s3.bucket are required for the s3 backend")
		}
	default:
		return fmt.Errorf("backend must be \"local\" or \"s3\", got %q", a.Backend)
	}
	return nil
}
