// Package config loads the relay configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// AUSTINRELAY_* environment variables (AUSTINRELAY_SAMPLER_ARGS,
// AUSTINRELAY_MQTT_PASSWORD, ...). Unknown YAML keys and malformed
// environment values are errors. Validate collects every problem into a
// single ErrInvalid.
//
// Keep secrets such as the MQTT password and the InfluxDB token in the
// environment rather than the file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
