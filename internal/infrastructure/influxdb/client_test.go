package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/austin-relay/internal/infrastructure/config"
	"github.com/nerrad567/austin-relay/internal/infrastructure/influxdb"
)

// fakeInflux serves /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	*httptest.Server
	writes chan string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{writes: make(chan string, 16)}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
			f.writes <- string(body)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "austinrelay-test-token",
		Org:           "austin",
		Bucket:        "runs",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	srv := newFakeInflux(t)
	cfg := testConfig(srv.URL)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false with defaulted batch settings")
	}
}

func TestClose(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}

	// Writes and flushes after Close are no-ops.
	client.WriteRunSummary(influxdb.RunSummary{RunID: "late", Outcome: "clean"})
	client.Flush()
}

func TestClose_Nil(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestRunSummaryPoint(t *testing.T) {
	ended := time.Unix(1700000000, 0)

	tests := []struct {
		name    string
		summary influxdb.RunSummary
		want    []string
		notWant []string
	}{
		{
			name: "full footer",
			summary: influxdb.RunSummary{
				RunID: "r1", Mode: "wall", Outcome: "clean",
				Samples: 42, DurationUS: 1500000, HasDuration: true,
				Saturation: 0.25, HasSaturation: true,
				ErrorRate: 0.01, HasErrorRate: true,
				EndedAt: ended,
			},
			want: []string{
				"austin_run,",
				"mode=wall",
				"outcome=clean",
				"run_id=r1",
				"samples=42i",
				"exit_code=0i",
				"duration_us=1500000i",
				"saturation=0.25",
				"errors=0.01",
				" 1700000000000000000",
			},
		},
		{
			name: "no footer",
			summary: influxdb.RunSummary{
				RunID: "r2", Outcome: "failed", ExitCode: 1, EndedAt: ended,
			},
			want:    []string{"outcome=failed", "exit_code=1i", "samples=0i"},
			notWant: []string{"mode=", "duration_us", "saturation", "errors="},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := write.PointToLineProtocol(influxdb.RunSummaryPoint(tt.summary), time.Nanosecond)
			for _, w := range tt.want {
				if !strings.Contains(line, w) {
					t.Errorf("line %q missing %q", line, w)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(line, nw) {
					t.Errorf("line %q should not contain %q", line, nw)
				}
			}
		})
	}
}

func TestWriteRunSummary(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.WriteRunSummary(influxdb.RunSummary{RunID: "r-write", Mode: "cpu", Outcome: "terminated", ExitCode: -15, Samples: 7})
	client.WriteRunSummary(influxdb.RunSummary{RunID: "r-second", Outcome: "clean"})
	client.Flush()

	var body strings.Builder
	deadline := time.After(5 * time.Second)
	for !strings.Contains(body.String(), "run_id=r-second") || !strings.Contains(body.String(), "run_id=r-write") {
		select {
		case b := <-srv.writes:
			body.WriteString(b)
		case err := <-errCh:
			t.Fatalf("write error = %v", err)
		case <-deadline:
			t.Fatalf("timeout waiting for writes, got %q", body.String())
		}
	}

	if !strings.Contains(body.String(), "exit_code=-15i") {
		t.Errorf("written body %q missing exit code", body.String())
	}
}

func TestStats(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	client.WriteRunSummary(influxdb.RunSummary{RunID: "r1", Outcome: "clean"})
	client.WriteRunSummary(influxdb.RunSummary{RunID: "r2", Outcome: "failed"})

	st := client.Stats()
	if !st.Connected || st.Bucket != "runs" || st.Summaries != 2 || st.WriteFailures != 0 {
		t.Errorf("Stats() = %+v", st)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// A second Close is a no-op.
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	client.WriteRunSummary(influxdb.RunSummary{RunID: "r3", Outcome: "clean"})
	if st := client.Stats(); st.Connected || st.Summaries != 2 {
		t.Errorf("Stats() after Close = %+v", st)
	}
}

func TestWriteFailuresCounted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, `{"code":"invalid","message":"bad bucket"}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.WriteRunSummary(influxdb.RunSummary{RunID: "r-bad", Outcome: "clean"})
	client.Flush()

	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("no write error reported")
	}
	if st := client.Stats(); st.WriteFailures < 1 {
		t.Errorf("WriteFailures = %d, want >= 1", st.WriteFailures)
	}
}
