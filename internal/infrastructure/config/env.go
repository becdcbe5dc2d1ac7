package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// envPrefix starts every override variable.
const envPrefix = "AUSTINRELAY_"

// envOverride binds one environment variable to a config field.
type envOverride struct {
	name  string // without envPrefix
	apply func(*Config, string) error
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

var envOverrides = []envOverride{
	{"SAMPLER_BINARY", setString(func(c *Config) *string { return &c.Sampler.Binary })},
	{"SAMPLER_ARGS", func(c *Config, v string) error {
		c.Sampler.Args = strings.Fields(v)
		return nil
	}},
	{"SAMPLER_RESTART_ON_FAILURE", setBool(func(c *Config) *bool { return &c.Sampler.RestartOnFailure })},
	{"DATABASE_PATH", setString(func(c *Config) *string { return &c.Database.Path })},
	{"MQTT_ENABLED", setBool(func(c *Config) *bool { return &c.MQTT.Enabled })},
	{"MQTT_HOST", setString(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"MQTT_PORT", setInt(func(c *Config) *int { return &c.MQTT.Broker.Port })},
	{"MQTT_USERNAME", setString(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"MQTT_PASSWORD", setString(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"MQTT_TOPIC_PREFIX", setString(func(c *Config) *string { return &c.MQTT.TopicPrefix })},
	{"API_ENABLED", setBool(func(c *Config) *bool { return &c.API.Enabled })},
	{"API_HOST", setString(func(c *Config) *string { return &c.API.Host })},
	{"API_PORT", setInt(func(c *Config) *int { return &c.API.Port })},
	{"INFLUXDB_ENABLED", setBool(func(c *Config) *bool { return &c.InfluxDB.Enabled })},
	{"INFLUXDB_URL", setString(func(c *Config) *string { return &c.InfluxDB.URL })},
	{"INFLUXDB_TOKEN", setString(func(c *Config) *string { return &c.InfluxDB.Token })},
	{"LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
}

// applyEnvOverrides sets fields from AUSTINRELAY_* variables. Empty
// variables are ignored; malformed numbers and booleans are reported
// together.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	for _, o := range envOverrides {
		v := os.Getenv(envPrefix + o.name)
		if v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s=%q: %w", envPrefix, o.name, v, err))
		}
	}
	return errors.Join(errs...)
}
