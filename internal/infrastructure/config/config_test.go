package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
backend:
  endpoint: "https://backend.example.com/api"
account:
  group: "home"
  email: "user@example.com"
  password: "secret"
mqtt:
  broker:
    host: "broker.local"
    port: 1883
  qos: 1
queue:
  report_state:
    window: 30
    limit: 6
devices:
  - id: "light-1"
    type: "action.devices.types.LIGHT"
    traits: ["action.devices.traits.OnOff"]
    name: "Kitchen"
    state:
      on: false
    nora_specific:
      localExecution: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.Endpoint != "https://backend.example.com/api" {
		t.Errorf("Backend.Endpoint = %q", cfg.Backend.Endpoint)
	}
	if cfg.Account.Group != "home" {
		t.Errorf("Account.Group = %q, want %q", cfg.Account.Group, "home")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Queue.ReportState.Limit != 6 || cfg.Queue.ReportState.WindowDuration() != 30*time.Second {
		t.Errorf("Queue.ReportState = %+v, want 6 per 30s", cfg.Queue.ReportState)
	}
	if cfg.Queue.Sync.Limit != 4 {
		t.Errorf("Queue.Sync.Limit = %d, want default 4", cfg.Queue.Sync.Limit)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0].State["on"] != false {
		t.Fatalf("Devices = %+v, want one light", cfg.Devices)
	}
	if cfg.Devices[0].NoraSpecific["localExecution"] != true {
		t.Errorf("NoraSpecific = %v, want localExecution", cfg.Devices[0].NoraSpecific)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeConfig(t, "account:\n  group: home\n"))
	if err == nil {
		t.Error("Load() expected validation error for missing endpoint, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Backend.Endpoint = "https://backend.example.com"
		cfg.Account = AccountConfig{Email: "a@b.c", Password: "pw"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid password config", mutate: func(*Config) {}},
		{
			name:   "valid sso config",
			mutate: func(c *Config) { c.Account = AccountConfig{SSOToken: "tok"} },
		},
		{
			name:    "missing endpoint",
			mutate:  func(c *Config) { c.Backend.Endpoint = "" },
			wantErr: "backend.endpoint",
		},
		{
			name:    "both credential kinds",
			mutate:  func(c *Config) { c.Account.SSOToken = "tok" },
			wantErr: "not both",
		},
		{
			name:    "password without email",
			mutate:  func(c *Config) { c.Account.Email = "" },
			wantErr: "must both be set",
		},
		{
			name:    "no credentials",
			mutate:  func(c *Config) { c.Account = AccountConfig{} },
			wantErr: "credentials are required",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "inverted auth retry",
			mutate:  func(c *Config) { c.Connection.AuthRetryMin = 100 },
			wantErr: "auth_retry_min",
		},
		{
			name: "local port out of range",
			mutate: func(c *Config) {
				c.Local.Enabled = true
				c.Local.CommandPort = 70000
			},
			wantErr: "local.command_port",
		},
		{
			name: "disabled local ignores ports",
			mutate: func(c *Config) {
				c.Local.Enabled = false
				c.Local.CommandPort = 0
			},
		},
		{
			name: "duplicate device id",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{ID: "a"}, {ID: "a"}}
			},
			wantErr: "duplicated",
		},
		{
			name:    "missing device id",
			mutate:  func(c *Config) { c.Devices = []DeviceConfig{{Name: "x"}} },
			wantErr: "devices[0].id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.IdleGrace(); got != 30*time.Second {
		t.Errorf("IdleGrace() = %v, want 30s", got)
	}
	if lo, hi := cfg.AuthRetry(); lo != 30*time.Second || hi != 90*time.Second {
		t.Errorf("AuthRetry() = %v..%v, want 30s..90s", lo, hi)
	}
	if got := cfg.RetryDelay(); got != time.Second {
		t.Errorf("RetryDelay() = %v, want 1s", got)
	}
	if got := cfg.AsyncTimeout(); got != time.Second {
		t.Errorf("AsyncTimeout() = %v, want 1s", got)
	}
	if got := cfg.BackendTimeout(); got != 15*time.Second {
		t.Errorf("BackendTimeout() = %v, want 15s", got)
	}
	if got := cfg.LocalIdleGrace(); got != 30*time.Second {
		t.Errorf("LocalIdleGrace() = %v, want 30s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("HOMESYNC_BACKEND_ENDPOINT", "https://override.example.com")
	t.Setenv("HOMESYNC_ACCOUNT_GROUP", "office")
	t.Setenv("HOMESYNC_ACCOUNT_SSO_TOKEN", "sso")
	t.Setenv("HOMESYNC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("HOMESYNC_MQTT_USERNAME", "testuser")
	t.Setenv("HOMESYNC_MQTT_PASSWORD", "testpass")
	t.Setenv("HOMESYNC_LOCAL_ENABLED", "true")
	t.Setenv("HOMESYNC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("HOMESYNC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("HOMESYNC_LOGGING_LEVEL", "debug")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"Backend.Endpoint", cfg.Backend.Endpoint, "https://override.example.com"},
		{"Account.Group", cfg.Account.Group, "office"},
		{"Account.SSOToken", cfg.Account.SSOToken, "sso"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
	if !cfg.Local.Enabled {
		t.Error("Local.Enabled = false, want true")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Local.DiscoveryPort != 3311 || cfg.Local.ReplyPort != 3312 || cfg.Local.CommandPort != 3310 {
		t.Errorf("local ports = %d/%d/%d, want 3311/3312/3310",
			cfg.Local.DiscoveryPort, cfg.Local.ReplyPort, cfg.Local.CommandPort)
	}
	if cfg.Local.MagicPacket == "" {
		t.Error("defaultConfig should have a magic packet")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Queue.Attempts != 3 {
		t.Errorf("defaultConfig Queue.Attempts = %d, want 3", cfg.Queue.Attempts)
	}
}
