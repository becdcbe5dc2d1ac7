// Package relay hosts supervised austin runs for the daemon.
//
// A Relay runs the austin Supervisor in a loop, restarting it with
// exponential backoff when a run fails and restarts are enabled. Every run
// gets its own ID and is fanned out to the configured sinks:
//
//   - runs.Repository: the SQLite run history
//   - Publisher: MQTT lifecycle and sample topics
//   - SummaryWriter: one InfluxDB point per finished run
//   - Broadcaster: the WebSocket hub (run.lifecycle and run.samples channels)
//
// Sink failures are logged and never affect the supervised process.
//
// Usage:
//
//	r, err := relay.New(relay.Deps{
//	    Config: relay.ConfigFrom(cfg.Sampler, cfg.MQTT),
//	    Logger: log,
//	    Runs:   runs.NewSQLiteRepository(db.DB),
//	})
//	if err != nil {
//	    return err
//	}
//	err = r.Run(ctx)
package relay
