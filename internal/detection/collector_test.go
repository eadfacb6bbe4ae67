package detection

import (
	"testing"

	"github.com/intelliflow/signal-core/internal/infrastructure/mqtt"
	"github.com/intelliflow/signal-core/internal/topology"
)

// recordingSink captures forwarded counts.
type recordingSink struct {
	lanes  []topology.Lane
	counts []int
}

func (s *recordingSink) UpdateCount(lane topology.Lane, count int) {
	s.lanes = append(s.lanes, lane)
	s.counts = append(s.counts, count)
}

// fakeSubscriber records subscriptions.
type fakeSubscriber struct {
	topics   []string
	handlers []mqtt.MessageHandler
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.topics = append(f.topics, topic)
	f.handlers = append(f.handlers, handler)
	return nil
}

func fourLaneTopology(t *testing.T) *topology.Topology {
	t.Helper()
	topo, err := topology.Resolve(topology.ModeFourVideo, map[topology.Lane]topology.Source{
		topology.LaneNorth: {Type: "video", Path: "north.mp4"},
		topology.LaneSouth: {Type: "video", Path: "south.mp4"},
		topology.LaneEast:  {Type: "video", Path: "east.mp4"},
		topology.LaneWest:  {Type: "video", Path: "west.mp4"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	return topo
}

func TestCollector_Attach(t *testing.T) {
	sub := &fakeSubscriber{}
	collector := NewCollector(fourLaneTopology(t), &recordingSink{}, nil)

	if err := collector.Attach(sub, 1); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if len(sub.topics) != 1 || sub.topics[0] != "intelliflow/detection/count/+" {
		t.Errorf("subscribed topics = %v", sub.topics)
	}
}

func TestCollector_HandleMessage(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr bool
		want    []int
	}{
		{"valid count", "intelliflow/detection/count/North", `{"count": 7}`, false, []int{7}},
		{"zero count", "intelliflow/detection/count/East", `{"count": 0}`, false, []int{0}},
		{"extra fields ignored", "intelliflow/detection/count/West", `{"count": 3, "confidence": 0.9}`, false, []int{3}},
		{"negative count", "intelliflow/detection/count/North", `{"count": -2}`, true, nil},
		{"missing count", "intelliflow/detection/count/North", `{"vehicles": 4}`, true, nil},
		{"malformed json", "intelliflow/detection/count/North", `{count 4}`, true, nil},
		{"no lane segment", "intelliflow", `{"count": 1}`, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			collector := NewCollector(fourLaneTopology(t), sink, nil)

			err := collector.HandleMessage(tt.topic, []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("HandleMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(sink.counts) != len(tt.want) {
				t.Fatalf("forwarded %d counts, want %d", len(sink.counts), len(tt.want))
			}
			for i, want := range tt.want {
				if sink.counts[i] != want {
					t.Errorf("count[%d] = %d, want %d", i, sink.counts[i], want)
				}
			}
		})
	}
}

func TestCollector_UnmonitoredLaneDropped(t *testing.T) {
	topo, err := topology.Resolve(topology.ModeTwoVideo, map[topology.Lane]topology.Source{
		topology.LaneNorth: {Type: "video", Path: "north.mp4"},
		topology.LaneEast:  {Type: "video", Path: "east.mp4"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	sink := &recordingSink{}
	collector := NewCollector(topo, sink, nil)

	// South is a real approach but unmonitored in two-lane mode: dropped
	// without error so the pipeline is not spammed with retries.
	if err := collector.HandleMessage("intelliflow/detection/count/South", []byte(`{"count": 5}`)); err != nil {
		t.Errorf("HandleMessage() error = %v, want nil for unmonitored lane", err)
	}
	if len(sink.counts) != 0 {
		t.Errorf("unmonitored lane count was forwarded")
	}
}
