package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Docker   DockerConfig   `toml:"docker"`
	Limits   LimitsConfig   `toml:"limits"`
	Health   HealthConfig   `toml:"health"`
	Observer ObserverConfig `toml:"observer"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DockerConfig struct {
	// Host is the daemon endpoint; empty defers to DOCKER_HOST.
	Host       string `toml:"host"`
	PullImages bool   `toml:"pull_images"`
}

type LimitsConfig struct {
	Concurrency    int   `toml:"concurrency"`
	MaxSourceBytes int   `toml:"max_source_bytes"`
	MaxStdinBytes  int   `toml:"max_stdin_bytes"`
	MaxOutputBytes int   `toml:"max_output_bytes"`
	TimeoutSecs    int   `toml:"timeout_secs"`
	MemoryMB       int64 `toml:"memory_mb"`
}

type HealthConfig struct {
	BackoffFloorSecs   int `toml:"backoff_floor_secs"`
	BackoffCeilingSecs int `toml:"backoff_ceiling_secs"`
	FailureThreshold   int `toml:"failure_threshold"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied. Zero value limit
// fields mean "use the library default" and are left zero here.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8081"},
	}
}

// BackoffFloor returns the configured floor as a duration, zero if unset.
func (h HealthConfig) BackoffFloor() time.Duration {
	return time.Duration(h.BackoffFloorSecs) * time.Second
}

// BackoffCeiling returns the configured ceiling as a duration, zero if unset.
func (h HealthConfig) BackoffCeiling() time.Duration {
	return time.Duration(h.BackoffCeilingSecs) * time.Second
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "sandbox.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("SANDBOX_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SANDBOX_DOCKER_HOST"); v != "" {
		cfg.Docker.Host = v
	}
	if v := os.Getenv("SANDBOX_PULL_IMAGES"); v == "true" || v == "1" {
		cfg.Docker.PullImages = true
	}
	if v := os.Getenv("SANDBOX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.Concurrency = n
		}
	}
	if v := os.Getenv("SANDBOX_MAX_OUTPUT_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxOutputBytes = n
		}
	}
	if v := os.Getenv("SANDBOX_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
