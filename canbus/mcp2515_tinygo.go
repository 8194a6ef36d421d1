//go:build tinygo

package canbus

import (
	"context"
	"sync"
	"time"

	"tinygo.org/x/drivers/mcp2515"
)

// mcp2515PollInterval is how long Receive sleeps between controller polls.
const mcp2515PollInterval = time.Millisecond

// MCP2515Bus drives a Microchip MCP2515 SPI CAN controller from TinyGo
// firmware. The device must already be constructed, configured and started
// (mcp2515.New, Configure, Begin) by the board setup code.
//
// The driver's Tx writes standard data frames only, so Send fails with
// ErrUnsupportedFrame for extended or remote frames. Receive reports
// extended frames as they arrive. uCAN traffic, which always uses 29-bit
// identifiers, can therefore be received but not sent on this bus until the
// driver transmits extended identifiers.
type MCP2515Bus struct {
	dev *mcp2515.Device

	mu     sync.Mutex
	closed bool
}

// NewMCP2515 wraps a started controller as a Bus.
func NewMCP2515(dev *mcp2515.Device) *MCP2515Bus {
	return &MCP2515Bus{dev: dev}
}

// Send transmits a standard data frame through the next free transmit
// buffer.
func (b *MCP2515Bus) Send(ctx context.Context, frame Frame) error {
	if err := standardDataOnly(frame); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return b.dev.Tx(frame.ID, frame.Len, frame.Payload())
}

// Receive polls the controller until a frame is pending or ctx is done.
func (b *MCP2515Bus) Receive(ctx context.Context) (Frame, error) {
	for {
		f, ok, err := b.tryReceive()
		if err != nil || ok {
			return f, err
		}
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-time.After(mcp2515PollInterval):
		}
	}
}

func (b *MCP2515Bus) tryReceive() (Frame, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Frame{}, false, ErrClosed
	}
	if !b.dev.Received() {
		return Frame{}, false, nil
	}
	msg, err := b.dev.Rx()
	if err != nil {
		return Frame{}, false, err
	}
	f, err := controllerFrame(msg.ID, msg.Ext, msg.Rtr, msg.Dlc, msg.Data)
	if err != nil {
		return Frame{}, false, err
	}
	return f, true, nil
}

// Close marks the bus closed. The controller itself is left running.
func (b *MCP2515Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
