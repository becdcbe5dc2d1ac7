// Package api implements the HTTP REST API and WebSocket server for Austin Relay.
//
// This package provides:
//   - REST endpoints for the relay status, run history and stopping the current run
//   - WebSocket hub streaming run lifecycle events and sample lines
//   - Middleware stack (request ID, access log, panic recovery, CORS and
//     chi's request size limit)
//   - TLS support for deployments outside a trusted network
//
// # Architecture
//
// The relay publishes into the Hub as austin produces output; the API reads
// the relay's status and the run history from SQLite. The server never
// touches the austin process directly: stopping goes through the relay.
//
// # Graceful Degradation
//
// MQTT and the database stats are optional. Health reports "degraded" rather
// than failing when a dependency is unreachable.
package api
