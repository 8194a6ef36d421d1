// Package canbus provides the Controller Area Network plumbing the uCAN
// protocol engine runs over.
//
// It includes:
//   - A core Frame type with validation and binary marshaling helpers
//   - An in-memory loopback bus for tests and simulations
//   - A filtering multiplexer that fans received frames out to subscribers
//   - A slog decorator that logs bus traffic
//   - A Linux SocketCAN driver (linux-only) and interface helpers
//   - SLCAN serial adapters (USB-CAN dongles speaking the Lawicel protocol)
//   - An MCP2515 controller bus for TinyGo firmware builds
package canbus
