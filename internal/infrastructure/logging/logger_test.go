package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/austin-relay/internal/infrastructure/config"
)

// entries decodes one JSON object per line of buf.
func entries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var e map[string]any
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decoding %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWithWriter_DefaultAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "1.2.3", &buf)

	log.Info("austin ready", "sampler_pid", 4242)
	log.Debug("sample", "line", "P1;T1;app.py:main:1 10")

	got := entries(t, &buf)
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1 (debug filtered)", len(got))
	}
	e := got[0]
	if e["msg"] != "austin ready" || e["service"] != serviceName || e["version"] != "1.2.3" {
		t.Errorf("entry = %v", e)
	}
	if e["sampler_pid"] != float64(4242) {
		t.Errorf("sampler_pid = %v, want 4242", e["sampler_pid"])
	}
}

func TestNewWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggingConfig{Level: "debug", Format: "TEXT"}, "dev", &buf)

	log.Debug("run started", "run_id", "abc")

	out := buf.String()
	if !strings.Contains(out, "msg=\"run started\"") || !strings.Contains(out, "run_id=abc") {
		t.Errorf("text output = %q", out)
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	root := NewWithWriter(config.LoggingConfig{Level: "info"}, "dev", &buf)

	relayLog := root.Component("relay")
	if relayLog == root {
		t.Fatal("Component() returned the root logger")
	}
	relayLog.Info("austin finished")
	root.Info("shutdown")

	got := entries(t, &buf)
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0]["component"] != "relay" {
		t.Errorf("component = %v, want relay", got[0]["component"])
	}
	if _, ok := got[1]["component"]; ok {
		t.Errorf("root entry has component: %v", got[1])
	}
}

func TestSetLevel_SharedWithDerived(t *testing.T) {
	var buf bytes.Buffer
	root := NewWithWriter(config.LoggingConfig{Level: "info"}, "dev", &buf)
	child := root.Component("api").With("run_id", "r1")

	root.SetLevel("warn")
	if root.Level() != slog.LevelWarn || child.Level() != slog.LevelWarn {
		t.Fatalf("levels = %v/%v, want warn", root.Level(), child.Level())
	}
	child.Info("suppressed")
	child.Warn("kept")

	root.SetLevel("debug")
	child.Debug("now visible")

	got := entries(t, &buf)
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2: %v", len(got), got)
	}
	if got[0]["msg"] != "kept" || got[1]["msg"] != "now visible" {
		t.Errorf("messages = %v, %v", got[0]["msg"], got[1]["msg"])
	}
	if got[1]["run_id"] != "r1" {
		t.Errorf("run_id = %v, want r1", got[1]["run_id"])
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	log := New(config.LoggingConfig{Level: "info", Format: "json", Output: path}, "dev")

	log.Info("first")
	log.Info("second")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	got := entries(t, bytes.NewBuffer(data))
	if len(got) != 2 || got[1]["msg"] != "second" {
		t.Errorf("file entries = %v", got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != logFilePermissions {
		t.Errorf("log file mode = %o, want %o", perm, logFilePermissions)
	}
}

func TestOpenOutput(t *testing.T) {
	tests := []struct {
		output  string
		want    *os.File
		wantErr bool
	}{
		{"", os.Stderr, false},
		{"stderr", os.Stderr, false},
		{"STDOUT", os.Stdout, false},
		{filepath.Join(t.TempDir(), "missing", "relay.log"), os.Stderr, true},
	}

	for _, tt := range tests {
		w, err := openOutput(tt.output)
		if (err != nil) != tt.wantErr {
			t.Errorf("openOutput(%q) error = %v, wantErr %v", tt.output, err, tt.wantErr)
		}
		if w != tt.want {
			t.Errorf("openOutput(%q) = %v, want %v", tt.output, w, tt.want)
		}
	}
}

func TestDefault(t *testing.T) {
	log := Default()
	if log.Level() != slog.LevelInfo {
		t.Errorf("Default() level = %v, want info", log.Level())
	}
}
