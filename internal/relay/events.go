package relay

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/nerrad567/austin-relay/internal/austin"
	"github.com/nerrad567/austin-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/austin-relay/internal/runs"
)

// Lifecycle event names.
const (
	EventReady      = "ready"
	EventTerminated = "terminated"
	EventFinished   = "finished"
)

// WebSocket channels the relay broadcasts on.
const (
	ChannelLifecycle = "run.lifecycle"
	ChannelSamples   = "run.samples"
)

// Event is a lifecycle notification for one run. The same payload goes to
// MQTT and WebSocket subscribers.
type Event struct {
	Event       string            `json:"event"`
	RunID       string            `json:"run_id"`
	Timestamp   time.Time         `json:"timestamp"`
	SamplerPID  int               `json:"sampler_pid,omitempty"`
	TargetPID   int               `json:"target_pid,omitempty"`
	CommandLine []string          `json:"command_line,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Samples     int64             `json:"samples,omitempty"`
	Outcome     runs.Outcome      `json:"outcome,omitempty"`
	ExitCode    *int              `json:"exit_code,omitempty"`
	Diagnostic  string            `json:"diagnostic,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Scope returns the run the event belongs to.
func (e Event) Scope() string { return e.RunID }

// SampleEvent carries one sample line to WebSocket subscribers.
type SampleEvent struct {
	RunID string `json:"run_id"`
	Line  string `json:"line"`
}

// Scope returns the run the sample belongs to.
func (e SampleEvent) Scope() string { return e.RunID }

// Publisher is the subset of the MQTT client the relay publishes with.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Broadcaster is the subset of the WebSocket hub the relay broadcasts with.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// eventSink receives the lifecycle events and samples of one run.
type eventSink interface {
	event(ev Event)
	sample(line []byte)
	flush()
}

// events turns supervisor callbacks into Events for the publishing sinks.
type events struct {
	runID string
	sinks []eventSink
}

func (e *events) OnReady(samplerPID, targetPID int, commandLine []string) {
	e.publish(Event{
		Event:       EventReady,
		RunID:       e.runID,
		Timestamp:   time.Now().UTC(),
		SamplerPID:  samplerPID,
		TargetPID:   targetPID,
		CommandLine: commandLine,
	})
}

func (e *events) OnSample(line []byte) {
	for _, s := range e.sinks {
		s.sample(line)
	}
}

func (e *events) OnTerminate(meta austin.Metadata) {
	for _, s := range e.sinks {
		s.flush()
	}
	e.publish(Event{
		Event:     EventTerminated,
		RunID:     e.runID,
		Timestamp: time.Now().UTC(),
		Metadata:  meta,
	})
}

func (e *events) publish(ev Event) {
	for _, s := range e.sinks {
		s.event(ev)
	}
}

// mqttSink publishes lifecycle events retained on the run's status topic
// and samples, newline-joined in batches, on its samples topic.
type mqttSink struct {
	pub    Publisher
	topics mqtt.Topics
	qos    byte
	runID  string
	batch  int
	logger Logger

	// buf is only touched from the supervisor's goroutine.
	buf [][]byte
}

func (m *mqttSink) event(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		m.logger.Error("marshalling run event", "run_id", m.runID, "error", err)
		return
	}
	if err := m.pub.Publish(m.topics.RunStatus(m.runID), payload, m.qos, true); err != nil {
		m.logger.Warn("publishing run event", "run_id", m.runID, "event", ev.Event, "error", err)
	}
}

func (m *mqttSink) sample(line []byte) {
	m.buf = append(m.buf, bytes.Clone(line))
	if len(m.buf) >= m.batch {
		m.flush()
	}
}

func (m *mqttSink) flush() {
	if len(m.buf) == 0 {
		return
	}
	payload := bytes.Join(m.buf, []byte("\n"))
	m.buf = m.buf[:0]

	// Samples are high volume and superseded quickly: QoS 0, not retained.
	if err := m.pub.Publish(m.topics.RunSamples(m.runID), payload, 0, false); err != nil {
		m.logger.Debug("publishing samples", "run_id", m.runID, "error", err)
	}
}

// hubSink broadcasts lifecycle events and samples to WebSocket clients.
type hubSink struct {
	hub   Broadcaster
	runID string
}

func (h *hubSink) event(ev Event) {
	h.hub.Broadcast(ChannelLifecycle, ev)
}

func (h *hubSink) sample(line []byte) {
	h.hub.Broadcast(ChannelSamples, SampleEvent{RunID: h.runID, Line: string(line)})
}

func (h *hubSink) flush() {}
