package detection

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/intelliflow/signal-core/internal/infrastructure/logging"
	"github.com/intelliflow/signal-core/internal/infrastructure/mqtt"
	"github.com/intelliflow/signal-core/internal/topology"
)

// CountSink receives validated lane counts. Satisfied by the signal
// controller; UpdateCount must not block.
type CountSink interface {
	UpdateCount(lane topology.Lane, count int)
}

// Subscriber is the slice of the MQTT client the collector needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// countMessage is the detection pipeline's payload. Extra fields
// (timestamps, confidence) are ignored.
type countMessage struct {
	Count *int `json:"count"`
}

// Collector subscribes to detection count topics and forwards validated
// counts to the sink.
//
// Thread Safety:
//   - Handlers run on MQTT client goroutines; the collector keeps no
//     mutable state of its own.
type Collector struct {
	topo   *topology.Topology
	sink   CountSink
	logger *logging.Logger
	topics mqtt.Topics
}

// NewCollector builds a collector for the resolved topology.
func NewCollector(topo *topology.Topology, sink CountSink, logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.Default()
	}
	return &Collector{
		topo:   topo,
		sink:   sink,
		logger: logger,
	}
}

// Attach subscribes to all detection count topics on the given client.
func (c *Collector) Attach(sub Subscriber, qos byte) error {
	topic := c.topics.AllDetectionCounts()
	if err := sub.Subscribe(topic, qos, c.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	c.logger.Info("Detection collector attached", "topic", topic)
	return nil
}

// HandleMessage processes one detection count message. Exported for the
// MQTT subscription; returns an error only for logging by the client's
// handler wrapper, the message is dropped either way.
func (c *Collector) HandleMessage(topic string, payload []byte) error {
	lane := laneFromTopic(topic)
	if lane == "" {
		return fmt.Errorf("detection: topic %q has no lane segment", topic)
	}
	if !c.topo.IsAvailable(lane) {
		c.logger.Warn("Count for unmonitored lane dropped", "lane", lane, "mode", c.topo.Mode())
		return nil
	}

	var msg countMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("detection: decoding count for lane %s: %w", lane, err)
	}
	if msg.Count == nil {
		return fmt.Errorf("detection: count missing for lane %s", lane)
	}
	if *msg.Count < 0 {
		return fmt.Errorf("detection: negative count %d for lane %s", *msg.Count, lane)
	}

	c.sink.UpdateCount(lane, *msg.Count)
	return nil
}

// laneFromTopic extracts the lane from a detection count topic
// (intelliflow/detection/count/{lane}).
func laneFromTopic(topic string) topology.Lane {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topology.Lane(topic[idx+1:])
}
