// Package detection ingests per-lane vehicle counts from the detection
// pipeline over MQTT and forwards them to the signal controller.
//
// The detection pipeline (video inference, ESP32 sensors or IP webcams,
// depending on system mode) publishes counts to
// intelliflow/detection/count/{lane}. The collector validates each message
// against the resolved topology and hands valid counts to the controller
// as fire-and-forget updates; malformed or unknown-lane messages are
// logged and dropped, never fatal.
package detection
