package arduino

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	goserial "go.bug.st/serial"

	"github.com/intelliflow/signal-core/internal/infrastructure/config"
	"github.com/intelliflow/signal-core/internal/infrastructure/logging"
	"github.com/intelliflow/signal-core/internal/infrastructure/mqtt"
	"github.com/intelliflow/signal-core/internal/signal"
	"github.com/intelliflow/signal-core/internal/topology"
)

// Port is the slice of the serial port the bridge uses. go.bug.st/serial
// ports satisfy it.
type Port interface {
	Write(p []byte) (n int, err error)
	Close() error
}

// PortOpener opens the serial port. Injectable for tests.
type PortOpener func(device string, baud int) (Port, error)

// openSerialPort is the production opener.
func openSerialPort(device string, baud int) (Port, error) {
	mode := &goserial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	}
	port, err := goserial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", device, err)
	}
	return port, nil
}

// Subscriber is the slice of the MQTT client the bridge needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// commandMessage is the payload on intelliflow/signal/command/{lane}.
type commandMessage struct {
	Color signal.Color `json:"color"`
}

// Bridge relays colour commands to the serial port.
//
// Thread Safety:
//   - All methods are safe for concurrent use; a single mutex guards the
//     port handle and the per-channel frame cache.
type Bridge struct {
	cfg    config.SerialConfig
	topo   *topology.Topology
	logger *logging.Logger
	open   PortOpener
	topics mqtt.Topics

	mu   sync.Mutex
	port Port
	last map[Channel]signal.Color
}

// New builds a bridge. The port is opened by Start, not here.
func New(cfg config.SerialConfig, topo *topology.Topology, logger *logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bridge{
		cfg:    cfg,
		topo:   topo,
		logger: logger,
		open:   openSerialPort,
		last:   make(map[Channel]signal.Color),
	}
}

// SetPortOpener replaces the serial opener. Test hook.
func (b *Bridge) SetPortOpener(open PortOpener) {
	b.open = open
}

// Start opens the serial port and drives both channels to red so the
// hardware begins from a known safe state.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensurePortLocked(); err != nil {
		return err
	}

	for _, channel := range []Channel{ChannelNorthSouth, ChannelEastWest} {
		if err := b.writeFrameLocked(channel, signal.ColorRed); err != nil {
			return fmt.Errorf("initial all-red: %w", err)
		}
		b.last[channel] = signal.ColorRed
	}

	b.logger.Info("Arduino bridge started", "port", b.cfg.Port, "baud", b.cfg.Baud)
	return nil
}

// Attach subscribes to all signal command topics on the given client.
func (b *Bridge) Attach(sub Subscriber, qos byte) error {
	topic := b.topics.AllSignalCommands()
	if err := sub.Subscribe(topic, qos, b.HandleCommand); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return nil
}

// HandleCommand processes one MQTT colour command
// (intelliflow/signal/command/{lane}, payload {"color": "green"}).
func (b *Bridge) HandleCommand(topic string, payload []byte) error {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return fmt.Errorf("arduino: topic %q has no lane segment", topic)
	}
	lane := topology.Lane(topic[idx+1:])

	var msg commandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("arduino: decoding command for lane %s: %w", lane, err)
	}
	switch msg.Color {
	case signal.ColorRed, signal.ColorYellow, signal.ColorGreen:
	default:
		return fmt.Errorf("arduino: unknown colour %q for lane %s", msg.Color, lane)
	}

	b.SendCommand(lane, msg.Color)
	return nil
}

// SendCommand relays a lane colour to its group channel. Also usable as a
// direct signal.CommandSink when MQTT is out of the loop. Duplicate
// frames are suppressed; delivery failures are logged, never returned,
// because scheduler state must not depend on hardware acknowledgement.
func (b *Bridge) SendCommand(lane topology.Lane, color signal.Color) {
	group, err := b.topo.GroupOf(lane)
	if err != nil {
		b.logger.Warn("Command for unknown lane dropped", "lane", lane)
		return
	}
	channel := ChannelFor(group)

	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.last[channel]; ok && prev == color {
		return
	}

	if err := b.ensurePortLocked(); err != nil {
		b.logger.Warn("Serial port unavailable, command dropped",
			"channel", channel, "color", color, "error", err)
		return
	}
	if err := b.writeFrameLocked(channel, color); err != nil {
		// Drop the handle; the next command retries a fresh open.
		b.logger.Warn("Serial write failed, will reopen",
			"channel", channel, "color", color, "error", err)
		b.port.Close()
		b.port = nil
		return
	}

	b.last[channel] = color
}

// Close drives both channels to red and releases the port.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.port == nil {
		return nil
	}

	for _, channel := range []Channel{ChannelNorthSouth, ChannelEastWest} {
		if err := b.writeFrameLocked(channel, signal.ColorRed); err != nil {
			b.logger.Warn("Shutdown all-red failed", "channel", channel, "error", err)
		}
	}

	err := b.port.Close()
	b.port = nil
	b.logger.Info("Arduino bridge stopped")
	return err
}

// ensurePortLocked opens the port if it is not already open. Caller holds
// the mutex.
func (b *Bridge) ensurePortLocked() error {
	if b.port != nil {
		return nil
	}
	port, err := b.open(b.cfg.Port, b.cfg.Baud)
	if err != nil {
		return err
	}
	b.port = port
	return nil
}

// writeFrameLocked writes one frame. Caller holds the mutex.
func (b *Bridge) writeFrameLocked(channel Channel, color signal.Color) error {
	_, err := b.port.Write(Frame(channel, color))
	return err
}
