package mqtt

import "fmt"

// DefaultTopicPrefix is the topic root used when none is configured.
const DefaultTopicPrefix = "austin"

// Topics provides builders for Austin Relay MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// All topics live under a single configurable root:
//
//	topics := mqtt.Topics{Prefix: "austin"}
//	statusTopic := topics.RunStatus("0b6f...")
//	// Returns: "austin/run/0b6f.../status"
type Topics struct {
	// Prefix is the topic root. Empty means DefaultTopicPrefix.
	Prefix string
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the relay's online/offline topic. It also carries the
// Last Will message.
//
// Example: austin/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.root())
}

// =============================================================================
// Run Topics
// =============================================================================

// RunStatus returns the retained lifecycle topic for a run.
//
// Example: austin/run/0b6f.../status
func (t Topics) RunStatus(runID string) string {
	return fmt.Sprintf("%s/run/%s/status", t.root(), runID)
}

// RunSamples returns the topic sample lines of a run are published on.
//
// Example: austin/run/0b6f.../samples
func (t Topics) RunSamples(runID string) string {
	return fmt.Sprintf("%s/run/%s/samples", t.root(), runID)
}

// =============================================================================
// Control Topics
// =============================================================================

// ControlStop returns the topic the relay listens on for stop requests.
//
// Example: austin/control/stop
func (t Topics) ControlStop() string {
	return fmt.Sprintf("%s/control/stop", t.root())
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllRunStatuses returns a pattern matching the lifecycle topic of every run.
//
// Pattern: austin/run/+/status
func (t Topics) AllRunStatuses() string {
	return fmt.Sprintf("%s/run/+/status", t.root())
}

// AllRunSamples returns a pattern matching the sample topic of every run.
//
// Pattern: austin/run/+/samples
func (t Topics) AllRunSamples() string {
	return fmt.Sprintf("%s/run/+/samples", t.root())
}

// AllTopics returns a pattern matching every relay topic.
// Use with caution - this receives ALL traffic, samples included.
//
// Pattern: austin/#
func (t Topics) AllTopics() string {
	return fmt.Sprintf("%s/#", t.root())
}
