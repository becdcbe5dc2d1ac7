package config

import "time"

// Config is the relay configuration: built-in defaults, then the YAML
// file, then AUSTINRELAY_* environment variables.
type Config struct {
	Sampler   SamplerConfig   `yaml:"sampler"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SamplerConfig contains settings for the supervised austin process.
type SamplerConfig struct {
	// Binary is the path (or PATH-resolvable name) of the austin executable.
	// Default: "austin"
	Binary string `yaml:"binary"`

	// Args are the austin arguments, excluding the pipe-mode flag which is
	// always prepended by the supervisor.
	// Example: ["-i", "1ms", "python3", "app.py"]
	Args []string `yaml:"args"`

	// Env are additional environment variables (key=value format).
	Env []string `yaml:"env"`

	// WorkDir is the working directory for austin.
	WorkDir string `yaml:"work_dir"`

	// DiagnosticTimeoutMS bounds the wait for austin's stderr during shutdown.
	// Default: 100
	DiagnosticTimeoutMS int `yaml:"diagnostic_timeout_ms"`

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL (in seconds).
	// Default: 5
	GracefulTimeout int `yaml:"graceful_timeout"`

	// ResolveTimeout is how long to wait for the profiled child to appear (in seconds).
	// Default: 5
	ResolveTimeout int `yaml:"resolve_timeout"`

	// RestartOnFailure re-runs austin when it exits with a failure status.
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// RestartDelaySeconds is the initial backoff delay (in seconds).
	// Default: 5
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`

	// MaxRestartDelaySeconds caps the exponential backoff (in seconds).
	// Default: 300
	MaxRestartDelaySeconds int `yaml:"max_restart_delay_seconds"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix is the root of every relay topic. Default: "austin"
	TopicPrefix string `yaml:"topic_prefix"`

	// SampleBatch is the number of sample lines joined per MQTT message.
	// Default: 1
	SampleBatch int `yaml:"sample_batch"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DiagnosticTimeout returns the stderr drain bound as a Duration.
func (s SamplerConfig) DiagnosticTimeout() time.Duration {
	return time.Duration(s.DiagnosticTimeoutMS) * time.Millisecond
}

// GracefulTimeoutDuration returns the SIGTERM-to-SIGKILL window as a Duration.
func (s SamplerConfig) GracefulTimeoutDuration() time.Duration {
	return time.Duration(s.GracefulTimeout) * time.Second
}
