package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/cloudrive/drive-stream-proxy/pkg/flowcipher"
)

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`      // Enable/disable monitoring
	BindAddress string `mapstructure:"bind_address"` // Address to bind monitoring server (default: 127.0.0.1:9216)
	MetricsPath string `mapstructure:"metrics_path"` // Path for metrics endpoint (default: /metrics)
}

// VendorConfig holds the storage vendor API configuration
type VendorConfig struct {
	APIBase            string   `mapstructure:"api_base"`             // Base URL of the vendor REST API
	DownloadTTLSeconds int      `mapstructure:"download_ttl_seconds"` // Validity window requested for download URLs
	CDNDirectSuffixes  []string `mapstructure:"cdn_direct_suffixes"`  // CDN hosts that require a direct client connection (302 instead of proxying)
}

// SecurityConfig holds the at-rest encryption settings
type SecurityConfig struct {
	EncKind             string `mapstructure:"enc_kind"`               // "aesctr" or "chacha20"
	Password            string `mapstructure:"password"`               // passphrase for xbyEncrypt1 content
	FileNameAutoDecrypt bool   `mapstructure:"filename_auto_decrypt"`  // decode encrypted filenames in content-disposition
}

// CacheConfig holds the resolved-URL cache settings
type CacheConfig struct {
	Path       string `mapstructure:"path"`        // bbolt database path; empty disables persistence
	MaxEntries int    `mapstructure:"max_entries"` // maximum cached identities
}

// Config holds the application configuration
type Config struct {
	ProxyPort       int    `mapstructure:"proxy_port"` // loopback listener port
	LogLevel        string `mapstructure:"log_level"`
	LogFormat       string `mapstructure:"log_format"`       // "text" (default) or "json"
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // Graceful shutdown timeout in seconds
	VideoMode       string `mapstructure:"video_mode"`       // "web" or "online"

	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Vendor     VendorConfig     `mapstructure:"vendor"`
	Security   SecurityConfig   `mapstructure:"security"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

// BindAddress returns the loopback address the proxy listens on. The proxy
// trusts all local callers and must never bind a public interface.
func (c *Config) BindAddress() string {
	return fmt.Sprintf("127.0.0.1:%d", c.ProxyPort)
}

// InitConfig initializes the configuration system
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".drive-stream-proxy")
	}

	// Environment variable configuration
	viper.SetEnvPrefix("DSP")
	viper.AutomaticEnv()

	setDefaults()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// Load loads the configuration from viper
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("proxy_port", 16866)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("shutdown_timeout", 30)
	viper.SetDefault("video_mode", "web")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", false)
	viper.SetDefault("monitoring.bind_address", "127.0.0.1:9216")
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	// Vendor defaults
	viper.SetDefault("vendor.download_ttl_seconds", 14400)
	viper.SetDefault("vendor.cdn_direct_suffixes", []string{".aliyuncs.com"})

	// Security defaults
	viper.SetDefault("security.enc_kind", string(flowcipher.KindAESCTR))
	viper.SetDefault("security.filename_auto_decrypt", true)

	// Cache defaults
	viper.SetDefault("cache.max_entries", 64)
	if home, err := os.UserHomeDir(); err == nil {
		viper.SetDefault("cache.path", filepath.Join(home, ".drive-stream-proxy", "urlcache.db"))
	} else {
		viper.SetDefault("cache.path", "urlcache.db")
	}
}

// validate validates required configuration values
func validate(cfg *Config) error {
	if cfg.ProxyPort <= 0 || cfg.ProxyPort > 65535 {
		return fmt.Errorf("proxy_port must be in (0, 65535], got %d", cfg.ProxyPort)
	}
	if cfg.Vendor.APIBase == "" {
		return fmt.Errorf("vendor.api_base is required")
	}
	if cfg.VideoMode != "web" && cfg.VideoMode != "online" {
		return fmt.Errorf("video_mode must be \"web\" or \"online\", got %q", cfg.VideoMode)
	}
	if _, err := flowcipher.ParseKind(cfg.Security.EncKind); err != nil {
		return fmt.Errorf("security.enc_kind: %w", err)
	}
	if cfg.Vendor.DownloadTTLSeconds <= 0 {
		return fmt.Errorf("vendor.download_ttl_seconds must be positive")
	}
	if cfg.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	return nil
}
