package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/viper"
)

// ErrInvalidValue marks a configuration value outside its permitted range.
var ErrInvalidValue = errors.New("invalid configuration value")

// Config holds the complete application configuration
type Config struct {
	Tracking TrackingConfig `mapstructure:"tracking"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Overlay  OverlayConfig  `mapstructure:"overlay"`
	Policy   PolicyConfig   `mapstructure:"policy"`
}

// TrackingConfig defines session thresholds and the tick cadence
type TrackingConfig struct {
	MaxSessionTime  string   `mapstructure:"max_session_time"`  // Session threshold before a break is enforced
	BreakTime       string   `mapstructure:"break_time"`        // Required break duration
	AlertFrequency  int      `mapstructure:"alert_frequency"`   // Number of milestone notices per session
	CheckInterval   string   `mapstructure:"check_interval"`    // Scheduler tick period
	DailyResetHour  int      `mapstructure:"daily_reset_hour"`  // Local hour (0-23) at which all counters reset
	Sites           []string `mapstructure:"sites"`             // URL glob patterns that count as usage
	ShortsCacheSize int      `mapstructure:"shorts_cache_size"` // Recently seen shorts remembered for de-duplication
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt", "redis" or "memory"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig defines the metrics/health listener
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// BrowserConfig defines the monitored browser session
type BrowserConfig struct {
	StartURL       string `mapstructure:"start_url"`
	TerminateURL   string `mapstructure:"terminate_url"` // Inert location the page is sent to when a session is ended
	Headless       bool   `mapstructure:"headless"`
	Install        bool   `mapstructure:"install"` // Download the browser driver on startup
	ViewportWidth  int    `mapstructure:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height"`
}

// OverlayConfig defines overlay button labels
type OverlayConfig struct {
	AcceptLabel  string `mapstructure:"accept_label"`
	DeclineLabel string `mapstructure:"decline_label"`
}

// PolicyConfig defines where the break rules are loaded from
type PolicyConfig struct {
	Dir string `mapstructure:"dir"` // Directory of .rego files; empty uses the built-in rules
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("BREAKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Tracking defaults
	v.SetDefault("tracking.max_session_time", "12m")
	v.SetDefault("tracking.break_time", "15m")
	v.SetDefault("tracking.alert_frequency", 1)
	v.SetDefault("tracking.check_interval", "10s")
	v.SetDefault("tracking.daily_reset_hour", 3)
	v.SetDefault("tracking.sites", []string{
		"https://www.youtube.com/*",
		"https://m.youtube.com/*",
	})
	v.SetDefault("tracking.shorts_cache_size", 512)

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/breakwatch/breakwatch.bolt")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 4)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.bind_address", "127.0.0.1")
	v.SetDefault("metrics.port", 9464)

	// Browser defaults
	v.SetDefault("browser.start_url", "https://www.youtube.com/")
	v.SetDefault("browser.terminate_url", "about:blank")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.install", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)

	// Overlay defaults
	v.SetDefault("overlay.accept_label", "Continue")
	v.SetDefault("overlay.decline_label", "Cancel")

	// Policy defaults
	v.SetDefault("policy.dir", "")
}

// validate validates the configuration
func validate(cfg *Config) error {
	durations := map[string]string{
		"tracking.max_session_time": cfg.Tracking.MaxSessionTime,
		"tracking.break_time":       cfg.Tracking.BreakTime,
		"tracking.check_interval":   cfg.Tracking.CheckInterval,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrInvalidValue, key, value, err)
		}
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidValue, key, value)
		}
	}

	if cfg.Tracking.AlertFrequency < 0 {
		return fmt.Errorf("%w: tracking.alert_frequency must not be negative, got %d", ErrInvalidValue, cfg.Tracking.AlertFrequency)
	}
	if cfg.Tracking.DailyResetHour < 0 || cfg.Tracking.DailyResetHour > 23 {
		return fmt.Errorf("%w: tracking.daily_reset_hour must be 0-23, got %d", ErrInvalidValue, cfg.Tracking.DailyResetHour)
	}
	if cfg.Tracking.ShortsCacheSize <= 0 {
		return fmt.Errorf("%w: tracking.shorts_cache_size must be positive, got %d", ErrInvalidValue, cfg.Tracking.ShortsCacheSize)
	}
	for _, pattern := range cfg.Tracking.Sites {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("%w: tracking.sites pattern %q: %v", ErrInvalidValue, pattern, err)
		}
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("%w: invalid metrics port: %d", ErrInvalidValue, cfg.Metrics.Port)
	}

	if cfg.Policy.Dir != "" {
		info, err := os.Stat(cfg.Policy.Dir)
		if err != nil {
			return fmt.Errorf("%w: policy.dir: %v", ErrInvalidValue, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: policy.dir %q is not a directory", ErrInvalidValue, cfg.Policy.Dir)
		}
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}

	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for bolt storage")
		}
		// Ensure storage directory exists
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required for redis storage")
		}
	case "memory":
	default:
		return fmt.Errorf("%w: unsupported storage type: %s", ErrInvalidValue, cfg.Storage.Type)
	}

	return nil
}

// Duration parses a duration string with a fallback
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
