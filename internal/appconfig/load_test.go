package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Relay.URL != "wss://relay.sessioncast.io/ws" {
		t.Fatalf("unexpected default url %q", cfg.Relay.URL)
	}
	if !cfg.Agent.AutoConnect || !cfg.Agent.AutoStreamOnCreate {
		t.Fatalf("expected auto flags on by default")
	}
	if cfg.Reconnect.MaxAttempts != 5 {
		t.Fatalf("unexpected default max attempts %d", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Capture.CompressionThreshold != 512 {
		t.Fatalf("unexpected default compression threshold %d", cfg.Capture.CompressionThreshold)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `config_version: 1
relay:
  url: wss://relay.example.com/ws
  token: agt_abc
agent:
  machine_id: workstation
  label: Workstation
reconnect:
  max_attempts: 3
capture:
  active_interval_ms: 25
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Relay.URL != "wss://relay.example.com/ws" || cfg.Relay.Token != "agt_abc" {
		t.Fatalf("unexpected relay config: %+v", cfg.Relay)
	}
	if cfg.Agent.MachineID != "workstation" {
		t.Fatalf("unexpected machine id %q", cfg.Agent.MachineID)
	}
	if cfg.Reconnect.MaxAttempts != 3 {
		t.Fatalf("unexpected max attempts %d", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Capture.ActiveIntervalMs != 25 {
		t.Fatalf("unexpected active interval %d", cfg.Capture.ActiveIntervalMs)
	}
	// Untouched keys keep their defaults.
	if cfg.Capture.IdleIntervalMs != 200 {
		t.Fatalf("unexpected idle interval %d", cfg.Capture.IdleIntervalMs)
	}
}

func TestLoadRejectsWrongVersion(t *testing.T) {
	path := writeConfig(t, "config_version: 99\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "config_version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestLoadRejectsBadRelayURL(t *testing.T) {
	path := writeConfig(t, `config_version: 1
relay:
  url: https://not-a-socket.example.com
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "relay.url") {
		t.Fatalf("expected url error, got %v", err)
	}
}

func TestTokenEnvOverride(t *testing.T) {
	path := writeConfig(t, `config_version: 1
relay:
  token: from-file
`)
	t.Setenv(TokenEnvVar, "from-env")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Relay.Token != "from-env" {
		t.Fatalf("expected env token to win, got %q", cfg.Relay.Token)
	}
}

func TestEnvExpansionInValues(t *testing.T) {
	t.Setenv("SC_TEST_HOST", "relay.internal")
	path := writeConfig(t, `config_version: 1
relay:
  url: wss://${SC_TEST_HOST}/ws
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Relay.URL != "wss://relay.internal/ws" {
		t.Fatalf("expected expanded url, got %q", cfg.Relay.URL)
	}
}

func TestWriteDefaultRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := WriteDefault(path, false); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("forced write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load written default: %v", err)
	}
	if cfg.ConfigVersion != CurrentConfigVersion {
		t.Fatalf("unexpected version %d", cfg.ConfigVersion)
	}
}

func TestClientConfigConversion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Relay.Token = "agt_x"
	cfg.Agent.MachineID = "m1"
	cfg.Reconnect.InitialDelayMs = 250

	clientCfg := cfg.ClientConfig()
	if clientCfg.Relay.Token != "agt_x" || clientCfg.Relay.MachineID != "m1" {
		t.Fatalf("unexpected relay config: %+v", clientCfg.Relay)
	}
	if clientCfg.Relay.ReconnectInitialDelay.Milliseconds() != 250 {
		t.Fatalf("unexpected initial delay %v", clientCfg.Relay.ReconnectInitialDelay)
	}
	if !clientCfg.AutoStreamOnCreate {
		t.Fatalf("expected auto stream on by default")
	}
}
