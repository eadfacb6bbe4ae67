// Package arduino bridges signal colour commands to the Arduino signal
// head controller over a serial line.
//
// The controller speaks a two-channel ASCII protocol at 9600 baud:
// channel L1 drives the NorthSouth signal heads, L2 the EastWest heads,
// and each frame is "{channel}_{letter}\n" where the letter is R, Y or G
// (for example "L1_G\n"). Per-lane commands collapse onto their group's
// channel; duplicate frames are suppressed so the wire only carries
// actual changes.
//
// The bridge consumes commands from the MQTT command topics, so it can
// run in-process or be split out to a host physically near the hardware.
// Delivery is best-effort: a dead serial port is logged and reopened on
// the next write, and the scheduler's state is never rolled back for a
// failed send. Both channels are driven to red at startup and shutdown.
package arduino
