package arduino

import (
	"fmt"

	"github.com/intelliflow/signal-core/internal/signal"
	"github.com/intelliflow/signal-core/internal/topology"
)

// Channel is one output channel of the Arduino controller.
type Channel string

const (
	// ChannelNorthSouth drives the North and South signal heads.
	ChannelNorthSouth Channel = "L1"

	// ChannelEastWest drives the East and West signal heads.
	ChannelEastWest Channel = "L2"
)

// ChannelFor maps a signal group to its output channel.
func ChannelFor(group topology.Group) Channel {
	if group == topology.GroupEastWest {
		return ChannelEastWest
	}
	return ChannelNorthSouth
}

// Frame builds the wire frame for a channel and colour, newline
// terminated (e.g. "L1_G\n").
func Frame(channel Channel, color signal.Color) []byte {
	return []byte(fmt.Sprintf("%s_%s\n", channel, color.Letter()))
}
