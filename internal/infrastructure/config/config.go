package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for homesync.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Backend    BackendConfig    `yaml:"backend"`
	Account    AccountConfig    `yaml:"account"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Connection ConnectionConfig `yaml:"connection"`
	Queue      QueueConfig      `yaml:"queue"`
	Commands   CommandsConfig   `yaml:"commands"`
	Local      LocalConfig      `yaml:"local"`
	Database   DatabaseConfig   `yaml:"database"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Devices    []DeviceConfig   `yaml:"devices"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// BackendConfig contains the voice backend HTTP API settings.
type BackendConfig struct {
	Endpoint  string `yaml:"endpoint"`
	UserAgent string `yaml:"user_agent"`
	Compress  bool   `yaml:"compress"`
	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// AccountConfig holds the account credentials and device group.
// Exactly one of Email/Password or SSOToken must be set.
type AccountConfig struct {
	Group    string `yaml:"group"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	SSOToken string `yaml:"sso_token"`
}

// MQTTConfig contains MQTT broker settings for the real-time store.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	TopicPrefix string              `yaml:"topic_prefix"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// ConnectionConfig contains connection manager settings in seconds.
type ConnectionConfig struct {
	IdleGrace    int `yaml:"idle_grace"`
	AuthRetryMin int `yaml:"auth_retry_min"`
	AuthRetryMax int `yaml:"auth_retry_max"`
}

// LaneConfig configures one outbound job lane.
type LaneConfig struct {
	// Window is the sliding window in seconds.
	Window int `yaml:"window"`
	Limit  int `yaml:"limit"`
}

// QueueConfig contains outbound job queue settings.
type QueueConfig struct {
	ReportState LaneConfig `yaml:"report_state"`
	Sync        LaneConfig `yaml:"sync"`
	Notify      LaneConfig `yaml:"notify"`
	Attempts    int        `yaml:"attempts"`
	// RetryDelay is the base delay between attempts in milliseconds.
	RetryDelay int `yaml:"retry_delay"`
}

// CommandsConfig contains async command settings.
type CommandsConfig struct {
	// AsyncTimeout is the response timeout in milliseconds.
	AsyncTimeout int `yaml:"async_timeout"`
}

// LocalConfig contains Local Execution Service settings.
type LocalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Host          string `yaml:"host"`
	DiscoveryPort int    `yaml:"discovery_port"`
	ReplyPort     int    `yaml:"reply_port"`
	CommandPort   int    `yaml:"command_port"`
	MagicPacket   string `yaml:"magic_packet"`
	// IdleGrace is the delay in seconds before the service stops once empty.
	IdleGrace int `yaml:"idle_grace"`
}

// DatabaseConfig contains SQLite state history settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
	// RetentionDays bounds the state history. Zero keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DeviceConfig declares one device owned by this process.
type DeviceConfig struct {
	ID              string         `yaml:"id"`
	Type            string         `yaml:"type"`
	Traits          []string       `yaml:"traits"`
	Name            string         `yaml:"name"`
	Nicknames       []string       `yaml:"nicknames"`
	RoomHint        string         `yaml:"room_hint"`
	WillReportState bool           `yaml:"will_report_state"`
	Attributes      map[string]any `yaml:"attributes"`
	State           map[string]any `yaml:"state"`
	NoraSpecific    map[string]any `yaml:"nora_specific"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HOMESYNC_SECTION_KEY
// For example: HOMESYNC_BACKEND_ENDPOINT, HOMESYNC_ACCOUNT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Backend: BackendConfig{
			UserAgent: "homesync",
			Compress:  true,
			Timeout:   15,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "homesync",
			},
			TopicPrefix: "homesync",
			QoS:         1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Connection: ConnectionConfig{
			IdleGrace:    30,
			AuthRetryMin: 30,
			AuthRetryMax: 90,
		},
		Queue: QueueConfig{
			ReportState: LaneConfig{Window: 60, Limit: 12},
			Sync:        LaneConfig{Window: 60, Limit: 4},
			Notify:      LaneConfig{Window: 60, Limit: 10},
			Attempts:    3,
			RetryDelay:  1000,
		},
		Commands: CommandsConfig{
			AsyncTimeout: 1000,
		},
		Local: LocalConfig{
			Host:          "0.0.0.0",
			DiscoveryPort: 3311,
			ReplyPort:     3312,
			CommandPort:   3310,
			MagicPacket:   "homesync-discovery-v1",
			IdleGrace:     30,
		},
		Database: DatabaseConfig{
			Path:          "./data/homesync.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HOMESYNC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Logging
	if v := os.Getenv("HOMESYNC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Backend
	if v := os.Getenv("HOMESYNC_BACKEND_ENDPOINT"); v != "" {
		cfg.Backend.Endpoint = v
	}

	// Account - credentials belong in the environment, not the file
	if v := os.Getenv("HOMESYNC_ACCOUNT_GROUP"); v != "" {
		cfg.Account.Group = v
	}
	if v := os.Getenv("HOMESYNC_ACCOUNT_EMAIL"); v != "" {
		cfg.Account.Email = v
	}
	if v := os.Getenv("HOMESYNC_ACCOUNT_PASSWORD"); v != "" {
		cfg.Account.Password = v
	}
	if v := os.Getenv("HOMESYNC_ACCOUNT_SSO_TOKEN"); v != "" {
		cfg.Account.SSOToken = v
	}

	// MQTT
	if v := os.Getenv("HOMESYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HOMESYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HOMESYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Local execution
	if v := os.Getenv("HOMESYNC_LOCAL_ENABLED"); v != "" {
		cfg.Local.Enabled = v == "true" || v == "1"
	}

	// Database
	if v := os.Getenv("HOMESYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("HOMESYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Backend.Endpoint == "" {
		errs = append(errs, "backend.endpoint is required")
	}

	hasPassword := c.Account.Email != "" || c.Account.Password != ""
	hasSSO := c.Account.SSOToken != ""
	switch {
	case hasPassword && hasSSO:
		errs = append(errs, "account: set either email/password or sso_token, not both")
	case hasPassword && (c.Account.Email == "" || c.Account.Password == ""):
		errs = append(errs, "account: email and password must both be set")
	case !hasPassword && !hasSSO:
		errs = append(errs, "account credentials are required (set HOMESYNC_ACCOUNT_PASSWORD or HOMESYNC_ACCOUNT_SSO_TOKEN)")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Connection.AuthRetryMin <= 0 || c.Connection.AuthRetryMax < c.Connection.AuthRetryMin {
		errs = append(errs, "connection.auth_retry_min must be positive and not above auth_retry_max")
	}

	if c.Queue.Attempts < 1 {
		errs = append(errs, "queue.attempts must be at least 1")
	}

	if c.Local.Enabled {
		for name, port := range map[string]int{
			"local.discovery_port": c.Local.DiscoveryPort,
			"local.reply_port":     c.Local.ReplyPort,
			"local.command_port":   c.Local.CommandPort,
		} {
			if port < 1 || port > 65535 {
				errs = append(errs, name+" must be between 1 and 65535")
			}
		}
		if c.Local.MagicPacket == "" {
			errs = append(errs, "local.magic_packet is required")
		}
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case d.ID == "":
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
		case seen[d.ID]:
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicated", i, d.ID))
		}
		seen[d.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BackendTimeout returns the backend request timeout as a Duration.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.Timeout) * time.Second
}

// IdleGrace returns the connection idle grace as a Duration.
func (c *Config) IdleGrace() time.Duration {
	return time.Duration(c.Connection.IdleGrace) * time.Second
}

// AuthRetry returns the auth retry delay bounds.
func (c *Config) AuthRetry() (minDelay, maxDelay time.Duration) {
	return time.Duration(c.Connection.AuthRetryMin) * time.Second,
		time.Duration(c.Connection.AuthRetryMax) * time.Second
}

// RetryDelay returns the base delay between job attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Queue.RetryDelay) * time.Millisecond
}

// AsyncTimeout returns the async command response timeout.
func (c *Config) AsyncTimeout() time.Duration {
	return time.Duration(c.Commands.AsyncTimeout) * time.Millisecond
}

// LocalIdleGrace returns the Local Execution Service idle grace.
func (c *Config) LocalIdleGrace() time.Duration {
	return time.Duration(c.Local.IdleGrace) * time.Second
}

// WindowDuration returns the lane window as a Duration.
func (l LaneConfig) WindowDuration() time.Duration {
	return time.Duration(l.Window) * time.Second
}
