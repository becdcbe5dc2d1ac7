package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementRun is the measurement run summaries are written to.
const MeasurementRun = "austin_run"

// RunSummary is the numeric outcome of one austin run.
//
// Footer-derived fields are only written when the corresponding Has flag is
// set, so a run that never printed a footer does not report a misleading zero.
type RunSummary struct {
	RunID   string
	Mode    string
	Outcome string

	// ExitCode is the sampler's exit status (signal deaths negative).
	ExitCode int

	// Samples is the number of sample lines forwarded by the relay.
	Samples int64

	// DurationUS is austin's reported sampling duration in microseconds.
	DurationUS    int64
	HasDuration   bool
	Saturation    float64
	HasSaturation bool
	ErrorRate     float64
	HasErrorRate  bool

	// EndedAt is the point's timestamp. Zero means now.
	EndedAt time.Time
}

// RunSummaryPoint builds the austin_run point for a summary.
func RunSummaryPoint(s RunSummary) *write.Point {
	ts := s.EndedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	p := write.NewPointWithMeasurement(MeasurementRun).
		AddTag("run_id", s.RunID).
		AddTag("outcome", s.Outcome).
		AddField("samples", s.Samples).
		AddField("exit_code", int64(s.ExitCode)).
		SetTime(ts)

	if s.Mode != "" {
		p.AddTag("mode", s.Mode)
	}
	if s.HasDuration {
		p.AddField("duration_us", s.DurationUS)
	}
	if s.HasSaturation {
		p.AddField("saturation", s.Saturation)
	}
	if s.HasErrorRate {
		p.AddField("errors", s.ErrorRate)
	}
	return p
}

// WriteRunSummary queues the summary of a finished run. It never blocks and
// does nothing once the client is closed.
func (c *Client) WriteRunSummary(s RunSummary) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(RunSummaryPoint(s))
	c.summaries.Add(1)
}
