package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/bundlebridge/internal/webpack"
)

// Config represents the application configuration
type Config struct {
	Webpack WebpackConfig `mapstructure:"webpack"`
	Host    HostConfig    `mapstructure:"host"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Debug   bool          `mapstructure:"debug"`
}

// WebpackConfig contains the bundle settings shared by the compiler and its callers
type WebpackConfig struct {
	BundleRoot       string   `mapstructure:"bundle_root"`
	BundleURL        string   `mapstructure:"bundle_url"`
	BundleDir        string   `mapstructure:"bundle_dir"`
	WatchConfigFiles bool     `mapstructure:"watch_config_files"`
	WatchSourceFiles bool     `mapstructure:"watch_source_files"`
	OutputFullStats  bool     `mapstructure:"output_full_stats"`
	ServiceName      string   `mapstructure:"service_name"`
	StaticDirs       []string `mapstructure:"static_dirs"` // searched for relative config names
}

// HostConfig contains settings for the compiler service host and for reaching it
type HostConfig struct {
	URL              string        `mapstructure:"url"`     // used by clients
	Address          string        `mapstructure:"address"` // used by the host
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"` // 0 = wait forever
	BodyLimit        int           `mapstructure:"body_limit"`
	RateLimitMax     int           `mapstructure:"rate_limit_max"` // 0 = disabled
	RateLimitWindow  time.Duration `mapstructure:"rate_limit_window"`
	RateLimitStorage string        `mapstructure:"rate_limit_storage"` // memory or redis
	RedisURL         string        `mapstructure:"redis_url"`
	WatchIdleTimeout time.Duration `mapstructure:"watch_idle_timeout"`
	JanitorSchedule  string        `mapstructure:"janitor_schedule"`
}

// TracingConfig contains OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from an explicit file when path is set,
// otherwise from the default search locations
func LoadFile(path string) (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bundlebridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/bundlebridge")
	}

	setDefaults(v)

	// Enable environment variable support with underscore replacer
	v.AutomaticEnv()
	v.SetEnvPrefix("BUNDLEBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Webpack defaults. bundle_root and bundle_url have none on purpose.
	v.SetDefault("webpack.bundle_root", "")
	v.SetDefault("webpack.bundle_url", "")
	v.SetDefault("webpack.bundle_dir", "webpack")
	v.SetDefault("webpack.watch_config_files", false)
	v.SetDefault("webpack.watch_source_files", false)
	v.SetDefault("webpack.output_full_stats", false)
	v.SetDefault("webpack.service_name", webpack.DefaultServiceName)
	v.SetDefault("webpack.static_dirs", []string{})

	// Host defaults
	v.SetDefault("host.url", "http://127.0.0.1:9009")
	v.SetDefault("host.address", "127.0.0.1:9009")
	v.SetDefault("host.read_timeout", "30s")
	v.SetDefault("host.write_timeout", "5m")
	v.SetDefault("host.idle_timeout", "60s")
	v.SetDefault("host.call_timeout", "0s")
	v.SetDefault("host.body_limit", 1024*1024) // 1MB
	v.SetDefault("host.rate_limit_max", 0)
	v.SetDefault("host.rate_limit_window", "1m")
	v.SetDefault("host.rate_limit_storage", "memory")
	v.SetDefault("host.redis_url", "")
	v.SetDefault("host.watch_idle_timeout", "30m")
	v.SetDefault("host.janitor_schedule", "@every 1m")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "bundlebridge")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.insecure", true)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Webpack.Validate(); err != nil {
		return fmt.Errorf("webpack configuration error: %w", err)
	}
	if err := c.Host.Validate(); err != nil {
		return fmt.Errorf("host configuration error: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing configuration error: %w", err)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with '/'")
	}
	return nil
}

// Validate validates the webpack section. Missing bundle_root/bundle_url are
// reported by the compiler itself at call time, so only shape is checked here.
func (wc *WebpackConfig) Validate() error {
	if wc.BundleRoot != "" && !filepath.IsAbs(wc.BundleRoot) {
		return fmt.Errorf("bundle_root must be an absolute path, got %q", wc.BundleRoot)
	}
	if strings.Contains(wc.BundleDir, "..") {
		return fmt.Errorf("bundle_dir must not contain '..'")
	}
	if wc.BundleURL != "" && !strings.HasSuffix(wc.BundleURL, "/") {
		return fmt.Errorf("bundle_url must end with '/'")
	}
	return nil
}

// Settings converts the section into the compiler's settings
func (wc *WebpackConfig) Settings() webpack.Settings {
	return webpack.Settings{
		BundleRoot:       wc.BundleRoot,
		BundleURL:        wc.BundleURL,
		BundleDir:        wc.BundleDir,
		WatchConfigFiles: wc.WatchConfigFiles,
		WatchSourceFiles: wc.WatchSourceFiles,
		OutputFullStats:  wc.OutputFullStats,
		ServiceName:      wc.ServiceName,
	}
}

// Validate validates the host section
func (hc *HostConfig) Validate() error {
	if hc.Address == "" {
		return fmt.Errorf("host address cannot be empty")
	}
	if hc.URL == "" {
		return fmt.Errorf("host url cannot be empty")
	}
	if hc.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive")
	}
	if hc.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	if hc.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if hc.CallTimeout < 0 {
		return fmt.Errorf("call_timeout cannot be negative")
	}
	if hc.BodyLimit <= 0 {
		return fmt.Errorf("body_limit must be positive")
	}
	if hc.RateLimitMax < 0 {
		return fmt.Errorf("rate_limit_max cannot be negative")
	}
	if hc.RateLimitMax > 0 && hc.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit_window must be positive when rate limiting is enabled")
	}
	switch hc.RateLimitStorage {
	case "", "memory":
	case "redis":
		if hc.RedisURL == "" {
			return fmt.Errorf("redis_url is required when rate_limit_storage is redis")
		}
	default:
		return fmt.Errorf("rate_limit_storage must be memory or redis, got %q", hc.RateLimitStorage)
	}
	if hc.WatchIdleTimeout < 0 {
		return fmt.Errorf("watch_idle_timeout cannot be negative")
	}
	return nil
}

// Validate validates the tracing section
func (tc *TracingConfig) Validate() error {
	if !tc.Enabled {
		return nil
	}
	if tc.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	if tc.SampleRate < 0 || tc.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0.0 and 1.0")
	}
	return nil
}
