// Package config provides application configuration backed by viper.
// Precedence: environment variables > config file > defaults.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"scriptbox/pkg/logger"
)

// Config is the root configuration structure.
type Config struct {
	Version string           `mapstructure:"version" yaml:"version"`
	Log     logger.LogConfig `mapstructure:"log" yaml:"log"`
	Storage StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Sandbox SandboxConfig    `mapstructure:"sandbox" yaml:"sandbox"`
	Manager ManagerConfig    `mapstructure:"manager" yaml:"manager"`
	Monitor MonitorConfig    `mapstructure:"monitor" yaml:"monitor"`
	Library LibraryConfig    `mapstructure:"library" yaml:"library"`
}

// StorageConfig configures the SQLite database backing the query capability.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SandboxConfig holds the default execution policy applied to new instances.
// Per-instance overrides may tighten but never loosen these values.
type SandboxConfig struct {
	MaxExecutionTime int      `mapstructure:"max_execution_time" yaml:"max_execution_time"` // seconds
	MaxMemoryMB      int      `mapstructure:"max_memory_mb" yaml:"max_memory_mb"`
	MaxOutputBytes   int      `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
	MaxSourceLength  int      `mapstructure:"max_source_length" yaml:"max_source_length"`
	AllowedModules   []string `mapstructure:"allowed_modules" yaml:"allowed_modules"`
	BlockedModules   []string `mapstructure:"blocked_modules" yaml:"blocked_modules"`
	BlockedCallables []string `mapstructure:"blocked_callables" yaml:"blocked_callables"`
	EnableDebugging  bool     `mapstructure:"enable_debugging" yaml:"enable_debugging"`
	EnableFileAccess bool     `mapstructure:"enable_file_access" yaml:"enable_file_access"`
	EnableNetAccess  bool     `mapstructure:"enable_network_access" yaml:"enable_network_access"`
}

// ManagerConfig configures the sandbox manager.
type ManagerConfig struct {
	MaxInstances  int    `mapstructure:"max_instances" yaml:"max_instances"`
	MaxLifetime   string `mapstructure:"max_lifetime" yaml:"max_lifetime"`
	IdleTTL       string `mapstructure:"idle_ttl" yaml:"idle_ttl"`
	SweepInterval string `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	HistorySize   int    `mapstructure:"history_size" yaml:"history_size"`
}

// GetMaxLifetime parses MaxLifetime, defaulting to 1 hour.
func (c *ManagerConfig) GetMaxLifetime() time.Duration {
	return parseDuration(c.MaxLifetime, time.Hour)
}

// GetIdleTTL parses IdleTTL, defaulting to 30 minutes.
func (c *ManagerConfig) GetIdleTTL() time.Duration {
	return parseDuration(c.IdleTTL, 30*time.Minute)
}

// GetSweepInterval parses SweepInterval, defaulting to 5 minutes.
func (c *ManagerConfig) GetSweepInterval() time.Duration {
	return parseDuration(c.SweepInterval, 5*time.Minute)
}

// MonitorConfig configures the resource monitor.
type MonitorConfig struct {
	Interval      string  `mapstructure:"interval" yaml:"interval"`
	GracePeriod   string  `mapstructure:"grace_period" yaml:"grace_period"`
	MaxGoroutines int     `mapstructure:"max_goroutines" yaml:"max_goroutines"`
	MaxHandles    int     `mapstructure:"max_handles" yaml:"max_handles"`
	CPUSoftLimit  float64 `mapstructure:"cpu_soft_limit" yaml:"cpu_soft_limit"` // percent
}

// GetInterval parses Interval, defaulting to 1 second.
func (c *MonitorConfig) GetInterval() time.Duration {
	return parseDuration(c.Interval, time.Second)
}

// GetGracePeriod parses GracePeriod, defaulting to 5 seconds.
func (c *MonitorConfig) GetGracePeriod() time.Duration {
	return parseDuration(c.GracePeriod, 5*time.Second)
}

// LibraryConfig configures the source template library.
type LibraryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load loads configuration from the given path.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix("SCRIPTBOX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			// A missing file falls back to defaults; a malformed file is fatal.
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigParseError); ok {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the currently loaded configuration.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// SaveTo writes a configuration to the given path as YAML.
func SaveTo(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Reset clears the loaded configuration. Mainly for tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	viper.Reset()
	globalConfig = nil
	configPath = ""
}
