package config

import (
	"github.com/spf13/viper"
)

// SetDefaults registers default values for all configuration keys.
func SetDefaults() {
	// Log
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	// Storage
	viper.SetDefault("storage.path", "~/.scriptbox/data.db")

	// Sandbox execution policy
	viper.SetDefault("sandbox.max_execution_time", 30)
	viper.SetDefault("sandbox.max_memory_mb", 256)
	viper.SetDefault("sandbox.max_output_bytes", 1024*1024)
	viper.SetDefault("sandbox.max_source_length", 10000)
	viper.SetDefault("sandbox.allowed_modules", []string{})
	viper.SetDefault("sandbox.blocked_modules", []string{
		"fs", "net", "http", "https", "os", "child_process", "cluster",
		"dgram", "dns", "tls", "vm", "worker_threads", "process",
	})
	viper.SetDefault("sandbox.blocked_callables", []string{
		"eval", "Function", "constructor",
	})
	viper.SetDefault("sandbox.enable_debugging", true)
	viper.SetDefault("sandbox.enable_file_access", false)
	viper.SetDefault("sandbox.enable_network_access", false)

	// Manager
	viper.SetDefault("manager.max_instances", 64)
	viper.SetDefault("manager.max_lifetime", "1h")
	viper.SetDefault("manager.idle_ttl", "30m")
	viper.SetDefault("manager.sweep_interval", "5m")
	viper.SetDefault("manager.history_size", 1000)

	// Monitor
	viper.SetDefault("monitor.interval", "1s")
	viper.SetDefault("monitor.grace_period", "5s")
	viper.SetDefault("monitor.max_goroutines", 64)
	viper.SetDefault("monitor.max_handles", 256)
	viper.SetDefault("monitor.cpu_soft_limit", 80.0)

	// Template library
	viper.SetDefault("library.enabled", false)
	viper.SetDefault("library.path", "~/.scriptbox/templates")
}
