package api

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/nerrad567/austin-relay/internal/austin"
	"github.com/nerrad567/austin-relay/internal/infrastructure/database"
	"github.com/nerrad567/austin-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/austin-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/austin-relay/internal/procinfo"
	"github.com/nerrad567/austin-relay/internal/runs"
)

// processSnapshotTimeout bounds each /proc read in GET /metrics.
const processSnapshotTimeout = time.Second

const bytesPerMB = 1 << 20

// Metrics is the body of GET /metrics. Sections for disabled sinks are
// omitted.
type Metrics struct {
	Timestamp     time.Time       `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Go            GoMetrics       `json:"go"`
	Processes     ProcessMetrics  `json:"processes"`
	Relay         RelayMetrics    `json:"relay"`
	WebSocket     WSMetrics       `json:"websocket"`
	Database      *database.Usage `json:"database,omitempty"`
	MQTT          *mqtt.Stats     `json:"mqtt,omitempty"`
	InfluxDB      *influxdb.Stats `json:"influxdb,omitempty"`
}

// GoMetrics describes the relay's own Go runtime.
type GoMetrics struct {
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
}

// ProcessMetrics holds resource snapshots of the relay, austin and the
// profiled program. The last two are present only while a run is active
// and the process can still be read.
type ProcessMetrics struct {
	Relay   *procinfo.Usage `json:"relay,omitempty"`
	Sampler *procinfo.Usage `json:"sampler,omitempty"`
	Target  *procinfo.Usage `json:"target,omitempty"`
}

// WSMetrics describes the WebSocket hub.
type WSMetrics struct {
	ConnectedClients int   `json:"connected_clients"`
	DroppedEvents    int64 `json:"dropped_events"`
}

// RelayMetrics summarises the relay and its current run.
type RelayMetrics struct {
	Active      bool            `json:"active"`
	State       austin.RunState `json:"state"`
	Samples     int64           `json:"samples"`
	Restarts    int             `json:"restarts"`
	LastOutcome runs.Outcome    `json:"last_outcome,omitempty"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := s.relay.Status()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m := Metrics{
		Timestamp:     time.Now().UTC(),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Go: GoMetrics{
			Goroutines:  runtime.NumGoroutine(),
			HeapAllocMB: float64(mem.HeapAlloc) / bytesPerMB,
			NumGC:       mem.NumGC,
		},
		Processes: ProcessMetrics{
			Relay: snapshot(ctx, os.Getpid()),
		},
		Relay: RelayMetrics{
			Active:      st.Active,
			State:       st.State,
			Samples:     st.Samples,
			Restarts:    st.Restarts,
			LastOutcome: st.LastOutcome,
		},
	}

	if st.State == austin.StateRunning {
		m.Processes.Sampler = snapshot(ctx, st.SamplerPID)
		m.Processes.Target = snapshot(ctx, st.TargetPID)
	}

	if s.hub != nil {
		m.WebSocket = WSMetrics{ConnectedClients: s.hub.ClientCount(), DroppedEvents: s.hub.Dropped()}
	}
	if s.db != nil {
		usage, err := s.db.Usage(ctx)
		if err != nil {
			s.logger.Warn("reading database usage", "error", err)
		}
		m.Database = &usage
	}
	if s.mqtt != nil {
		ms := s.mqtt.Stats()
		m.MQTT = &ms
	}
	if s.influx != nil {
		is := s.influx.Stats()
		m.InfluxDB = &is
	}

	writeJSON(w, http.StatusOK, m)
}

// snapshot returns nil for pid 0 or a process that cannot be read.
func snapshot(ctx context.Context, pid int) *procinfo.Usage {
	if pid <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, processSnapshotTimeout)
	defer cancel()
	u, err := procinfo.Snapshot(ctx, pid)
	if err != nil {
		return nil
	}
	return &u
}
