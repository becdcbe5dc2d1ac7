// Package influxdb writes one point per finished austin run to InfluxDB 2.x
// through influxdb-client-go's non-blocking write API:
//
//	austin_run,run_id=...,mode=wall,outcome=clean duration_us=...,samples=...,saturation=...,errors=...
//
// Writes are batched and flushed in the background; failures reach the
// SetOnError callback and the WriteFailures counter in Stats rather than
// the caller. Connect pings the server so a bad URL or token fails at
// startup.
package influxdb
