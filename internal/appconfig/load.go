package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	agent "sessioncast.io/agent"
	"sessioncast.io/agent/relay"
)

// Load reads configuration from the provided path. If path is empty, uses
// DefaultConfigPath. A missing file yields the defaults; a present file
// must carry the supported config_version.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("relay.url", cfg.Relay.URL)
	v.SetDefault("relay.token", cfg.Relay.Token)
	v.SetDefault("agent.machine_id", cfg.Agent.MachineID)
	v.SetDefault("agent.label", cfg.Agent.Label)
	v.SetDefault("agent.auto_connect", cfg.Agent.AutoConnect)
	v.SetDefault("agent.auto_stream_on_create", cfg.Agent.AutoStreamOnCreate)
	v.SetDefault("reconnect.enabled", cfg.Reconnect.Enabled)
	v.SetDefault("reconnect.initial_delay_ms", cfg.Reconnect.InitialDelayMs)
	v.SetDefault("reconnect.max_delay_ms", cfg.Reconnect.MaxDelayMs)
	v.SetDefault("reconnect.max_attempts", cfg.Reconnect.MaxAttempts)
	v.SetDefault("reconnect.circuit_breaker_duration_ms", cfg.Reconnect.CircuitBreakerDurationMs)
	v.SetDefault("capture.active_interval_ms", cfg.Capture.ActiveIntervalMs)
	v.SetDefault("capture.idle_interval_ms", cfg.Capture.IdleIntervalMs)
	v.SetDefault("capture.idle_threshold_ms", cfg.Capture.IdleThresholdMs)
	v.SetDefault("capture.force_send_interval_ms", cfg.Capture.ForceSendIntervalMs)
	v.SetDefault("capture.compression_threshold", cfg.Capture.CompressionThreshold)
	v.SetDefault("tmux.binary", cfg.Tmux.Binary)
	v.SetDefault("tmux.command_timeout_seconds", cfg.Tmux.CommandTimeoutSeconds)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return Config{}, err
			}
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d",
				v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.Relay.URL = expandEnv(cfg.Relay.URL)
	cfg.Relay.Token = expandEnv(cfg.Relay.Token)
	cfg.Agent.MachineID = expandEnv(cfg.Agent.MachineID)
	cfg.Tmux.Binary = expandEnv(cfg.Tmux.Binary)

	if token := strings.TrimSpace(os.Getenv(TokenEnvVar)); token != "" {
		cfg.Relay.Token = token
	}

	if err := validateRelayURL(cfg.Relay.URL); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateRelayURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("relay.url must include scheme and host (e.g. wss://relay.example.com/ws)")
	}
	switch parsed.Scheme {
	case "ws", "wss":
		return nil
	default:
		return fmt.Errorf("relay.url scheme must be ws or wss, got %q", parsed.Scheme)
	}
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// ClientConfig converts the file configuration into the client's config.
func (c Config) ClientConfig() agent.Config {
	return agent.Config{
		Relay: relay.Config{
			URL:                    c.Relay.URL,
			Token:                  c.Relay.Token,
			MachineID:              c.Agent.MachineID,
			Label:                  c.Agent.Label,
			ReconnectEnabled:       c.Reconnect.Enabled,
			ReconnectInitialDelay:  time.Duration(c.Reconnect.InitialDelayMs) * time.Millisecond,
			ReconnectMaxDelay:      time.Duration(c.Reconnect.MaxDelayMs) * time.Millisecond,
			MaxReconnectAttempts:   c.Reconnect.MaxAttempts,
			CircuitBreakerDuration: time.Duration(c.Reconnect.CircuitBreakerDurationMs) * time.Millisecond,
		},
		Capture: agent.CaptureConfig{
			ActiveInterval:       time.Duration(c.Capture.ActiveIntervalMs) * time.Millisecond,
			IdleInterval:         time.Duration(c.Capture.IdleIntervalMs) * time.Millisecond,
			IdleThreshold:        time.Duration(c.Capture.IdleThresholdMs) * time.Millisecond,
			ForceSendInterval:    time.Duration(c.Capture.ForceSendIntervalMs) * time.Millisecond,
			CompressionThreshold: c.Capture.CompressionThreshold,
		},
		AutoStreamOnCreate: c.Agent.AutoStreamOnCreate,
	}
}
