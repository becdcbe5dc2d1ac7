package relay

import (
	"time"

	"github.com/nerrad567/austin-relay/internal/austin"
	"github.com/nerrad567/austin-relay/internal/infrastructure/config"
)

// Relay defaults.
const (
	defaultRestartDelay    = 5 * time.Second
	defaultMaxRestartDelay = 5 * time.Minute
	defaultSampleBatch     = 1

	// sinkTimeout bounds each write to the run history.
	sinkTimeout = 5 * time.Second
)

// Config holds settings for a Relay.
type Config struct {
	// Supervisor configures each austin run.
	Supervisor austin.Config

	// Args are the austin arguments, without the pipe flag. Required.
	Args []string

	// RestartOnFailure re-runs austin after a recoverable failure.
	RestartOnFailure bool

	// RestartDelay is the first backoff delay. Default: 5s
	RestartDelay time.Duration

	// MaxRestartDelay caps the backoff. Default: 5m
	MaxRestartDelay time.Duration

	// MaxRestartAttempts limits restarts. 0 means unlimited.
	MaxRestartAttempts int

	// SampleBatch is the number of sample lines per MQTT message. Default: 1
	SampleBatch int
}

// ConfigFrom builds a relay Config from the sampler and MQTT sections of
// the configuration file.
func ConfigFrom(s config.SamplerConfig, m config.MQTTConfig) Config {
	return Config{
		Supervisor: austin.Config{
			Binary:            s.Binary,
			Env:               s.Env,
			WorkDir:           s.WorkDir,
			DiagnosticTimeout: s.DiagnosticTimeout(),
			GracefulTimeout:   s.GracefulTimeoutDuration(),
			ResolveTimeout:    time.Duration(s.ResolveTimeout) * time.Second,
		},
		Args:               s.Args,
		RestartOnFailure:   s.RestartOnFailure,
		RestartDelay:       time.Duration(s.RestartDelaySeconds) * time.Second,
		MaxRestartDelay:    time.Duration(s.MaxRestartDelaySeconds) * time.Second,
		MaxRestartAttempts: s.MaxRestartAttempts,
		SampleBatch:        m.SampleBatch,
	}
}

func (c *Config) applyDefaults() {
	if c.RestartDelay <= 0 {
		c.RestartDelay = defaultRestartDelay
	}
	if c.MaxRestartDelay <= 0 {
		c.MaxRestartDelay = defaultMaxRestartDelay
	}
	if c.SampleBatch <= 0 {
		c.SampleBatch = defaultSampleBatch
	}
}
