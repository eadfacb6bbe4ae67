package arduino

import (
	"errors"
	"strings"
	"testing"

	"github.com/intelliflow/signal-core/internal/infrastructure/config"
	"github.com/intelliflow/signal-core/internal/signal"
	"github.com/intelliflow/signal-core/internal/topology"
)

// fakePort records written frames and can fail on demand.
type fakePort struct {
	frames  []string
	failing bool
	closed  bool
}

func (p *fakePort) Write(data []byte) (int, error) {
	if p.failing {
		return 0, errors.New("write: input/output error")
	}
	p.frames = append(p.frames, string(data))
	return len(data), nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func testBridgeTopology(t *testing.T) *topology.Topology {
	t.Helper()
	topo, err := topology.Resolve(topology.ModeTwoVideo, map[topology.Lane]topology.Source{
		topology.LaneNorth: {Type: "video", Path: "north.mp4"},
		topology.LaneEast:  {Type: "video", Path: "east.mp4"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	return topo
}

func newTestBridge(t *testing.T) (*Bridge, *fakePort) {
	t.Helper()
	port := &fakePort{}
	bridge := New(config.SerialConfig{Enabled: true, Port: "/dev/ttyUSB0", Baud: 9600}, testBridgeTopology(t), nil)
	bridge.SetPortOpener(func(device string, baud int) (Port, error) {
		if device != "/dev/ttyUSB0" || baud != 9600 {
			t.Errorf("opened %s at %d, want /dev/ttyUSB0 at 9600", device, baud)
		}
		return port, nil
	})
	return bridge, port
}

func TestFrame(t *testing.T) {
	tests := []struct {
		channel Channel
		color   signal.Color
		want    string
	}{
		{ChannelNorthSouth, signal.ColorGreen, "L1_G\n"},
		{ChannelNorthSouth, signal.ColorRed, "L1_R\n"},
		{ChannelEastWest, signal.ColorYellow, "L2_Y\n"},
		{ChannelEastWest, signal.ColorRed, "L2_R\n"},
	}
	for _, tt := range tests {
		if got := string(Frame(tt.channel, tt.color)); got != tt.want {
			t.Errorf("Frame(%s, %s) = %q, want %q", tt.channel, tt.color, got, tt.want)
		}
	}
}

func TestChannelFor(t *testing.T) {
	if got := ChannelFor(topology.GroupNorthSouth); got != ChannelNorthSouth {
		t.Errorf("ChannelFor(NorthSouth) = %s", got)
	}
	if got := ChannelFor(topology.GroupEastWest); got != ChannelEastWest {
		t.Errorf("ChannelFor(EastWest) = %s", got)
	}
}

func TestBridge_StartWritesAllRed(t *testing.T) {
	bridge, port := newTestBridge(t)

	if err := bridge.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if len(port.frames) != 2 {
		t.Fatalf("wrote %d frames at start, want 2", len(port.frames))
	}
	joined := strings.Join(port.frames, "")
	if !strings.Contains(joined, "L1_R\n") || !strings.Contains(joined, "L2_R\n") {
		t.Errorf("startup frames = %q, want all-red on both channels", joined)
	}
}

func TestBridge_SendCommand_MapsLaneToChannel(t *testing.T) {
	bridge, port := newTestBridge(t)
	if err := bridge.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	port.frames = nil

	bridge.SendCommand(topology.LaneNorth, signal.ColorGreen)
	bridge.SendCommand(topology.LaneEast, signal.ColorYellow)

	want := []string{"L1_G\n", "L2_Y\n"}
	if len(port.frames) != len(want) {
		t.Fatalf("frames = %v, want %v", port.frames, want)
	}
	for i, frame := range want {
		if port.frames[i] != frame {
			t.Errorf("frame[%d] = %q, want %q", i, port.frames[i], frame)
		}
	}
}

func TestBridge_SendCommand_DeduplicatesPerChannel(t *testing.T) {
	bridge, port := newTestBridge(t)
	if err := bridge.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	port.frames = nil

	// North and South share L1: the second green is a duplicate frame.
	bridge.SendCommand(topology.LaneNorth, signal.ColorGreen)
	bridge.SendCommand(topology.LaneSouth, signal.ColorGreen)
	bridge.SendCommand(topology.LaneNorth, signal.ColorGreen)

	if len(port.frames) != 1 {
		t.Errorf("frames = %v, want a single L1_G", port.frames)
	}

	// A genuine change still goes out.
	bridge.SendCommand(topology.LaneNorth, signal.ColorYellow)
	if len(port.frames) != 2 || port.frames[1] != "L1_Y\n" {
		t.Errorf("frames = %v, want L1_Y appended", port.frames)
	}
}

func TestBridge_HandleCommand(t *testing.T) {
	bridge, port := newTestBridge(t)
	if err := bridge.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	port.frames = nil

	if err := bridge.HandleCommand("intelliflow/signal/command/East", []byte(`{"color":"green"}`)); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	if len(port.frames) != 1 || port.frames[0] != "L2_G\n" {
		t.Errorf("frames = %v, want [L2_G]", port.frames)
	}

	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"bad colour", "intelliflow/signal/command/East", `{"color":"purple"}`},
		{"bad json", "intelliflow/signal/command/East", `nope`},
		{"no lane", "intelliflow", `{"color":"red"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := bridge.HandleCommand(tt.topic, []byte(tt.payload)); err == nil {
				t.Error("HandleCommand() should fail")
			}
		})
	}
}

func TestBridge_WriteFailureDropsPortAndRecovers(t *testing.T) {
	bridge, port := newTestBridge(t)
	if err := bridge.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Fail the next write: the command is dropped, not retried in place.
	port.failing = true
	bridge.SendCommand(topology.LaneNorth, signal.ColorGreen)
	if !port.closed {
		t.Error("failed port was not closed")
	}

	// The opener supplies a working port again on the next command.
	port.failing = false
	port.frames = nil
	bridge.SendCommand(topology.LaneNorth, signal.ColorGreen)
	if len(port.frames) != 1 || port.frames[0] != "L1_G\n" {
		t.Errorf("frames after recovery = %v, want [L1_G]", port.frames)
	}
}

func TestBridge_CloseWritesAllRed(t *testing.T) {
	bridge, port := newTestBridge(t)
	if err := bridge.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	bridge.SendCommand(topology.LaneNorth, signal.ColorGreen)
	port.frames = nil

	if err := bridge.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	joined := strings.Join(port.frames, "")
	if !strings.Contains(joined, "L1_R\n") || !strings.Contains(joined, "L2_R\n") {
		t.Errorf("shutdown frames = %q, want all-red on both channels", joined)
	}
	if !port.closed {
		t.Error("port not closed")
	}

	// Close is idempotent.
	if err := bridge.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
