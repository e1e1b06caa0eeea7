// Package config loads the YAML configuration that parameterizes every
// tunable: the log root, discovery/tailer/state-machine timings, server
// binding, and pricing-table overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Discovery    DiscoveryConfig    `yaml:"discovery"`
	Tailer       TailerConfig       `yaml:"tailer"`
	StateMachine StateMachineConfig `yaml:"state_machine"`
	GitStatus    GitStatusConfig    `yaml:"git_status"`
	Pricing      []PricingTier      `yaml:"pricing"`
}

// ServerConfig is the outward HTTP/WebSocket transport's binding and
// ambient auth hygiene.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
	MaxConnections int      `yaml:"max_connections"`
}

// DiscoveryConfig is Session Discovery's sole configuration point: the
// directory scanned for per-project session subdirectories.
type DiscoveryConfig struct {
	LogRoot      string        `yaml:"log_root"`
	ScanInterval time.Duration `yaml:"scan_interval"`
	StaleAfter   time.Duration `yaml:"stale_after"`
}

// TailerConfig tunes the File Tailer's poll fallback cadence.
type TailerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// StateMachineConfig exposes the State Machine's wall-clock thresholds
// for operators who need to tune them (e.g. a slower human approval
// workflow).
type StateMachineConfig struct {
	TextOnlyIdleAfter      time.Duration `yaml:"text_only_idle_after"`
	ToolUsePermissionAfter time.Duration `yaml:"tool_use_permission_after"`
	RunningStopAfter       time.Duration `yaml:"running_stop_after"`
	IdleStopAfter          time.Duration `yaml:"idle_stop_after"`
}

// GitStatusConfig tunes the git status probe.
type GitStatusConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
	Cooldown      time.Duration `yaml:"cooldown"`
}

// PricingTier overrides one row of the Cost Aggregator's pricing table.
// An empty Pricing slice in config means "use the built-in table".
type PricingTier struct {
	Prefix        string  `yaml:"prefix"`
	Input         float64 `yaml:"input"`
	Output        float64 `yaml:"output"`
	CacheRead     float64 `yaml:"cache_read"`
	CacheCreation float64 `yaml:"cache_creation"`
}

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if cfg.Discovery.LogRoot == "" {
		cfg.Discovery.LogRoot = defaultLogRoot()
	}

	return cfg, nil
}

// LoadOrDefault loads config from path, or returns the default config if
// path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Default returns the built-in configuration, used when no config file
// exists and as the base over which a config file is unmarshalled.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           3001,
			Host:           "127.0.0.1",
			MaxConnections: 1000,
		},
		Discovery: DiscoveryConfig{
			LogRoot:      defaultLogRoot(),
			ScanInterval: 5 * time.Second,
			StaleAfter:   24 * time.Hour,
		},
		Tailer: TailerConfig{
			PollInterval: 2 * time.Second,
		},
		StateMachine: StateMachineConfig{
			TextOnlyIdleAfter:      10 * time.Second,
			ToolUsePermissionAfter: 30 * time.Second,
			RunningStopAfter:       30 * time.Minute,
			IdleStopAfter:          30 * time.Minute,
		},
		GitStatus: GitStatusConfig{
			ProbeInterval: 3 * time.Second,
			Cooldown:      30 * time.Second,
		},
	}
}

func defaultLogRoot() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".claude", "projects")
}

func defaultStateDir() string {
	if value := os.Getenv("XDG_STATE_HOME"); value != "" {
		return value
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "state")
}

func defaultConfigDir() string {
	if value := os.Getenv("XDG_CONFIG_HOME"); value != "" {
		return value
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "sessiontrace", "config.yaml")
}

// DefaultStatePath returns the default XDG-compliant state directory,
// reserved for future use (e.g. persisted offsets).
func DefaultStatePath() string {
	return filepath.Join(defaultStateDir(), "sessiontrace")
}

// Diff compares two configs and returns human-readable descriptions of
// what changed, for the SIGHUP-safe reload path in cmd/server. Only
// sections that are safe to apply at runtime are compared; server.port
// and discovery.log_root require a restart and are intentionally omitted.
func Diff(old, new *Config) []string {
	var changes []string

	if old.Server.MaxConnections != new.Server.MaxConnections {
		changes = append(changes, fmt.Sprintf("server.max_connections: %d → %d", old.Server.MaxConnections, new.Server.MaxConnections))
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		changes = append(changes, fmt.Sprintf("server.allowed_origins: %v → %v", old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	}
	if old.Server.AuthToken != new.Server.AuthToken {
		changes = append(changes, "server.auth_token: changed")
	}

	if old.Discovery.ScanInterval != new.Discovery.ScanInterval {
		changes = append(changes, fmt.Sprintf("discovery.scan_interval: %s → %s", old.Discovery.ScanInterval, new.Discovery.ScanInterval))
	}
	if old.Discovery.StaleAfter != new.Discovery.StaleAfter {
		changes = append(changes, fmt.Sprintf("discovery.stale_after: %s → %s", old.Discovery.StaleAfter, new.Discovery.StaleAfter))
	}

	if old.Tailer.PollInterval != new.Tailer.PollInterval {
		changes = append(changes, fmt.Sprintf("tailer.poll_interval: %s → %s", old.Tailer.PollInterval, new.Tailer.PollInterval))
	}

	if old.StateMachine != new.StateMachine {
		changes = append(changes, "state_machine: configuration changed")
	}

	if old.GitStatus != new.GitStatus {
		changes = append(changes, "git_status: configuration changed")
	}

	if !slices.Equal(old.Pricing, new.Pricing) {
		changes = append(changes, "pricing: table changed")
	}

	return changes
}
