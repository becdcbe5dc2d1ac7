package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var (
	logLevels  = []string{"debug", "info", "warn", "warning", "error"}
	logFormats = []string{"json", "text"}
)

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	s := c.Sampler
	check(s.Binary != "", "sampler.binary is required")
	check(s.DiagnosticTimeoutMS >= 0, "sampler.diagnostic_timeout_ms must not be negative")
	check(s.GracefulTimeout >= 0, "sampler.graceful_timeout must not be negative")
	check(s.ResolveTimeout >= 0, "sampler.resolve_timeout must not be negative")
	check(s.MaxRestartAttempts >= 0, "sampler.max_restart_attempts must not be negative")
	if s.RestartOnFailure {
		check(s.RestartDelaySeconds > 0, "sampler.restart_delay_seconds must be positive when restart_on_failure is set")
		check(s.MaxRestartDelaySeconds == 0 || s.MaxRestartDelaySeconds >= s.RestartDelaySeconds,
			"sampler.max_restart_delay_seconds must not be below restart_delay_seconds")
	}

	check(c.Database.Path != "", "database.path is required")
	check(c.Database.BusyTimeout >= 0, "database.busy_timeout must not be negative")

	m := c.MQTT
	check(m.QoS >= 0 && m.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	if m.Enabled {
		check(m.TopicPrefix != "", "mqtt.topic_prefix is required when mqtt is enabled")
		check(!strings.ContainsAny(m.TopicPrefix, "+#"), "mqtt.topic_prefix must not contain wildcards")
		check(m.Broker.Host != "", "mqtt.broker.host is required when mqtt is enabled")
		check(validPort(m.Broker.Port), "mqtt.broker.port must be between 1 and 65535")
		check(m.SampleBatch >= 1, "mqtt.sample_batch must be at least 1")
	}

	if a := c.API; a.Enabled {
		check(validPort(a.Port), "api.port must be between 1 and 65535")
		if a.TLS.Enabled {
			check(a.TLS.CertFile != "" && a.TLS.KeyFile != "", "api.tls.cert_file and api.tls.key_file are required when tls is enabled")
		}
	}

	if i := c.InfluxDB; i.Enabled {
		check(i.URL != "", "influxdb.url is required when influxdb is enabled")
		check(i.Bucket != "", "influxdb.bucket is required when influxdb is enabled")
	}

	l := c.Logging
	check(l.Level == "" || slices.Contains(logLevels, strings.ToLower(l.Level)),
		"logging.level %q is not one of %s", l.Level, strings.Join(logLevels, ", "))
	check(l.Format == "" || slices.Contains(logFormats, strings.ToLower(l.Format)),
		"logging.format %q is not one of %s", l.Format, strings.Join(logFormats, ", "))

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}
