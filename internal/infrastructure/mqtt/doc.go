// Package mqtt publishes relay runs to an MQTT broker using the Eclipse
// Paho client.
//
// Topics hang off a configurable prefix (default "austin"):
//
//	austin/system/status      retained presence JSON; the will sets it offline
//	austin/run/{id}/status    retained lifecycle event (ready, terminated)
//	austin/run/{id}/samples   sample lines, newline-joined batches, QoS 0
//	austin/control/stop       subscribed; any message stops the current run
//
// Paho reconnects on its own. Subscriptions are recorded and replayed after
// each reconnect, and presence is republished as online. Stats exposes
// publish, failure and reconnect counters for the metrics endpoint.
//
// Sample payloads carry the profiled program's source paths. Enable TLS
// (mqtt.broker.tls) when the broker is not local.
package mqtt
