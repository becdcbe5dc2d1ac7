package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. Unknown keys are rejected so a
// misspelt option fails loudly instead of silently keeping its default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Operator-chosen config path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied, for one-shot runs without a config file.
func Default() (*Config, error) {
	cfg := defaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Sampler: SamplerConfig{
			Binary:                 "austin",
			DiagnosticTimeoutMS:    100,
			GracefulTimeout:        5,
			ResolveTimeout:         5,
			RestartDelaySeconds:    5,
			MaxRestartDelaySeconds: 300,
		},
		Database: DatabaseConfig{
			Path:        "./data/austinrelay.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker:      MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "austin-relay"},
			QoS:         1,
			Reconnect:   MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60},
			TopicPrefix: "austin",
			SampleBatch: 1,
		},
		API: APIConfig{
			Enabled:  true,
			Host:     "127.0.0.1",
			Port:     8090,
			Timeouts: APITimeoutConfig{Read: 30, Write: 30, Idle: 60},
		},
		WebSocket: WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "austin-relay",
			Bucket:        "profiling",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stderr"},
	}
}
