package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"strmdav/pkg/env"
	"strmdav/pkg/logger"
)

// DefaultSettingsFile is the optional YAML overlay read from the working directory.
const DefaultSettingsFile = "strmdav.yml"

// JellyfinConfig holds the notifier target. All three values must be set for
// the notifier to be enabled.
type JellyfinConfig struct {
	URL       string
	APIKey    string
	MountPath string
}

// RateLimitSettings bound the adaptive inter-request interval for debrid calls.
type RateLimitSettings struct {
	BaselineMs int `yaml:"baseline_ms"`
	MaxMs      int `yaml:"max_ms"`
}

// Config is the process-wide configuration record, built once at startup.
type Config struct {
	RDAPIToken   string
	TMDBAPIKey   string
	ScanInterval time.Duration
	StorePath    string
	ListenAddr   string
	MaxConns     int
	RateLimit    RateLimitSettings
	Jellyfin     *JellyfinConfig
}

// settingsFile is the YAML overlay schema. Every field is optional; zero
// values leave the environment-derived defaults in place.
type settingsFile struct {
	ScanIntervalSecs int               `yaml:"scan_interval_secs"`
	ListenAddr       string            `yaml:"listen_addr"`
	MaxConnections   int               `yaml:"max_connections"`
	StorePath        string            `yaml:"store_path"`
	RateLimit        RateLimitSettings `yaml:"rate_limit"`
}

// Load builds the configuration from the environment plus the optional YAML
// settings file. Missing required credentials are a fatal configuration error.
func Load() (*Config, error) {
	cfg := &Config{
		RDAPIToken:   env.GetString("RD_API_TOKEN", ""),
		TMDBAPIKey:   env.GetString("TMDB_API_KEY", ""),
		ScanInterval: time.Duration(env.GetInt("SCAN_INTERVAL_SECS", 60)) * time.Second,
		StorePath:    env.GetString("STORE_PATH", "metadata.db"),
		ListenAddr:   env.GetString("LISTEN_ADDR", ":8080"),
		MaxConns:     256,
		RateLimit: RateLimitSettings{
			BaselineMs: 100,
			MaxMs:      2000,
		},
	}

	if err := applySettingsFile(cfg, env.GetString("STRMDAV_CONFIG", DefaultSettingsFile)); err != nil {
		return nil, err
	}

	if cfg.RDAPIToken == "" {
		return nil, fmt.Errorf("RD_API_TOKEN must be set")
	}
	if cfg.TMDBAPIKey == "" {
		return nil, fmt.Errorf("TMDB_API_KEY must be set")
	}
	if cfg.ScanInterval < time.Second {
		cfg.ScanInterval = time.Second
	}

	jellyfinURL := env.GetString("JELLYFIN_URL", "")
	jellyfinKey := env.GetString("JELLYFIN_API_KEY", "")
	jellyfinMount := env.GetString("JELLYFIN_RCLONE_MOUNT_PATH", "")
	if jellyfinURL != "" && jellyfinKey != "" && jellyfinMount != "" {
		cfg.Jellyfin = &JellyfinConfig{
			URL:       jellyfinURL,
			APIKey:    jellyfinKey,
			MountPath: jellyfinMount,
		}
	}

	return cfg, nil
}

// applySettingsFile overlays the YAML settings file onto cfg when present.
func applySettingsFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read settings file %s: %w", path, err)
	}

	var settings settingsFile
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("parse settings file %s: %w", path, err)
	}

	if settings.ScanIntervalSecs > 0 {
		cfg.ScanInterval = time.Duration(settings.ScanIntervalSecs) * time.Second
	}
	if settings.ListenAddr != "" {
		cfg.ListenAddr = settings.ListenAddr
	}
	if settings.MaxConnections > 0 {
		cfg.MaxConns = settings.MaxConnections
	}
	if settings.StorePath != "" {
		cfg.StorePath = settings.StorePath
	}
	if settings.RateLimit.BaselineMs > 0 {
		cfg.RateLimit.BaselineMs = settings.RateLimit.BaselineMs
	}
	if settings.RateLimit.MaxMs > 0 {
		cfg.RateLimit.MaxMs = settings.RateLimit.MaxMs
	}

	logger.Info("Settings overlay applied from %s", path)
	return nil
}
