// Package appconfig loads the agent's YAML configuration file.
package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"sessioncast.io/agent/relay"
	"sessioncast.io/agent/screen"
	"sessioncast.io/agent/tmux"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	Relay         RelayConfig     `mapstructure:"relay" yaml:"relay"`
	Agent         AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Reconnect     ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	Capture       CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Tmux          TmuxConfig      `mapstructure:"tmux" yaml:"tmux"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// TokenEnvVar overrides relay.token when set.
const TokenEnvVar = "SESSIONCAST_TOKEN"

// RelayConfig locates and authenticates against the relay.
type RelayConfig struct {
	URL   string `mapstructure:"url" yaml:"url"`
	Token string `mapstructure:"token" yaml:"token"`
}

// AgentConfig identifies this machine and sets client behavior.
type AgentConfig struct {
	MachineID          string `mapstructure:"machine_id" yaml:"machine_id"`
	Label              string `mapstructure:"label" yaml:"label"`
	AutoConnect        bool   `mapstructure:"auto_connect" yaml:"auto_connect"`
	AutoStreamOnCreate bool   `mapstructure:"auto_stream_on_create" yaml:"auto_stream_on_create"`
}

// ReconnectConfig tunes the backoff schedule and circuit breaker.
type ReconnectConfig struct {
	Enabled                  bool `mapstructure:"enabled" yaml:"enabled"`
	InitialDelayMs           int  `mapstructure:"initial_delay_ms" yaml:"initial_delay_ms"`
	MaxDelayMs               int  `mapstructure:"max_delay_ms" yaml:"max_delay_ms"`
	MaxAttempts              int  `mapstructure:"max_attempts" yaml:"max_attempts"`
	CircuitBreakerDurationMs int  `mapstructure:"circuit_breaker_duration_ms" yaml:"circuit_breaker_duration_ms"`
}

// CaptureConfig tunes the adaptive polling loop and compression.
type CaptureConfig struct {
	ActiveIntervalMs     int `mapstructure:"active_interval_ms" yaml:"active_interval_ms"`
	IdleIntervalMs       int `mapstructure:"idle_interval_ms" yaml:"idle_interval_ms"`
	IdleThresholdMs      int `mapstructure:"idle_threshold_ms" yaml:"idle_threshold_ms"`
	ForceSendIntervalMs  int `mapstructure:"force_send_interval_ms" yaml:"force_send_interval_ms"`
	CompressionThreshold int `mapstructure:"compression_threshold" yaml:"compression_threshold"`
}

// TmuxConfig locates the multiplexer binary.
type TmuxConfig struct {
	Binary                string `mapstructure:"binary" yaml:"binary"`
	CommandTimeoutSeconds int    `mapstructure:"command_timeout_seconds" yaml:"command_timeout_seconds"`
}

// DefaultConfig returns a config with the package defaults filled in. The
// token and machine id are intentionally empty; they have no sane default.
func DefaultConfig() Config {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Relay: RelayConfig{
			URL: relay.DefaultURL,
		},
		Agent: AgentConfig{
			AutoConnect:        true,
			AutoStreamOnCreate: true,
		},
		Reconnect: ReconnectConfig{
			Enabled:                  true,
			InitialDelayMs:           int(relay.DefaultReconnectInitialDelay / time.Millisecond),
			MaxDelayMs:               int(relay.DefaultReconnectMaxDelay / time.Millisecond),
			MaxAttempts:              relay.DefaultMaxReconnectAttempts,
			CircuitBreakerDurationMs: int(relay.DefaultCircuitBreakerDuration / time.Millisecond),
		},
		Capture: CaptureConfig{
			ActiveIntervalMs:     int(screen.DefaultActiveInterval / time.Millisecond),
			IdleIntervalMs:       int(screen.DefaultIdleInterval / time.Millisecond),
			IdleThresholdMs:      int(screen.DefaultIdleThreshold / time.Millisecond),
			ForceSendIntervalMs:  int(screen.DefaultForceSendInterval / time.Millisecond),
			CompressionThreshold: screen.DefaultCompressionThreshold,
		},
		Tmux: TmuxConfig{
			Binary:                tmux.DefaultBinary,
			CommandTimeoutSeconds: int(tmux.DefaultCommandTimeout / time.Second),
		},
	}
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sessioncast", "config.yaml"), nil
}
