package canbus

import (
	"context"
	"errors"
)

// Bus is one attachment to a CAN segment: a SocketCAN socket, an SLCAN
// adapter, a controller chip or a loopback endpoint. Send and Receive may be
// called from different goroutines.
//
// Receive hands each frame to exactly one caller, so a Bus shared by several
// consumers should be read through a Mux, which owns Receive and fans frames
// out by filter. Send always goes to the Bus directly.
type Bus interface {
	// Send queues frame for transmission, returning ctx.Err() if ctx ends
	// first.
	Send(ctx context.Context, frame Frame) error

	// Receive blocks for the next frame. An error other than ctx.Err()
	// means the Bus can no longer receive; a Mux stops on it.
	Receive(ctx context.Context) (Frame, error)

	// Close detaches from the segment. Later calls return ErrClosed.
	Close() error
}

// ErrClosed is returned by a Bus after Close.
var ErrClosed = errors.New("canbus: closed")
