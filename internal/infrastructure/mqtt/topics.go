package mqtt

import "fmt"

// Topic prefixes for the IntelliFlow MQTT scheme.
//
// All topics follow: intelliflow/{category}/...
// Detection counts flow in per lane, signal commands flow out per lane,
// and the retained state topic carries the latest full snapshot.
const (
	// TopicPrefix is the base for all IntelliFlow topics.
	TopicPrefix = "intelliflow"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "intelliflow/system"
)

// Topics provides builders for IntelliFlow MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	countTopic := topics.DetectionCount("North")
//	// Returns: "intelliflow/detection/count/North"
type Topics struct{}

// DetectionCount returns the topic a detection collaborator publishes
// vehicle counts for one lane on.
//
// Example: intelliflow/detection/count/North
func (Topics) DetectionCount(lane string) string {
	return fmt.Sprintf("%s/detection/count/%s", TopicPrefix, lane)
}

// AllDetectionCounts returns a pattern matching every lane's count topic.
//
// Pattern: intelliflow/detection/count/+
func (Topics) AllDetectionCounts() string {
	return fmt.Sprintf("%s/detection/count/+", TopicPrefix)
}

// SignalCommand returns the topic the core publishes signal head commands
// for one lane on. The hardware bridge subscribes to these.
//
// Example: intelliflow/signal/command/East
func (Topics) SignalCommand(lane string) string {
	return fmt.Sprintf("%s/signal/command/%s", TopicPrefix, lane)
}

// AllSignalCommands returns a pattern matching every lane's command topic.
//
// Pattern: intelliflow/signal/command/+
func (Topics) AllSignalCommands() string {
	return fmt.Sprintf("%s/signal/command/+", TopicPrefix)
}

// SignalState returns the retained topic carrying the latest full
// intersection snapshot.
//
// Example: intelliflow/signal/state
func (Topics) SignalState() string {
	return fmt.Sprintf("%s/signal/state", TopicPrefix)
}

// EvpEvent returns the topic for emergency preemption lifecycle events
// (started, refreshed, cleared, expired).
//
// Example: intelliflow/evp/event
func (Topics) EvpEvent() string {
	return fmt.Sprintf("%s/evp/event", TopicPrefix)
}

// SystemStatus returns the system status topic (online/offline, LWT).
//
// Example: intelliflow/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTopics returns a pattern matching all IntelliFlow topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: intelliflow/#
func (Topics) AllTopics() string {
	return "intelliflow/#"
}
