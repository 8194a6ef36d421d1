package ucan

import (
	"context"
	"errors"
	"time"

	"github.com/notnil/ucan/canbus"
)

// Transport is the boundary to the CAN controller driver. A Node only ever
// calls Receive after Available returned true, and expects frames in FIFO
// order, each delivered exactly once.
type Transport interface {
	// Send transmits one frame with a 29-bit identifier.
	Send(id uint32, payload []byte) error
	// Available reports whether a received frame is pending.
	Available() bool
	// Receive returns the next pending frame without blocking.
	Receive() (id uint32, payload []byte, err error)
}

// Clock supplies the monotonic time used for timeouts.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// errNoFrame is returned by Receive when called with nothing pending.
var errNoFrame = errors.New("ucan: no frame pending")

// defaultSendTimeout bounds how long BusTransport.Send waits for the bus.
const defaultSendTimeout = time.Second

// rxQueueLen is the receive backlog BusTransport buffers between polls.
const rxQueueLen = 256

// BusTransport adapts a blocking canbus.Bus to the polling Transport a Node
// runs over. A background reader queues extended data frames; everything else
// on the bus is ignored.
type BusTransport struct {
	bus         canbus.Bus
	mux         *canbus.Mux
	rx          <-chan canbus.Frame
	cancel      func()
	sendTimeout time.Duration
}

// NewBusTransport starts receiving from bus. The transport owns bus and
// closes it on Close.
func NewBusTransport(bus canbus.Bus) *BusTransport {
	mux := canbus.NewMux(bus)
	rx, cancel := mux.Subscribe(canbus.And(canbus.ExtendedOnly(), canbus.DataOnly()), rxQueueLen)
	return &BusTransport{
		bus:         bus,
		mux:         mux,
		rx:          rx,
		cancel:      cancel,
		sendTimeout: defaultSendTimeout,
	}
}

// Send transmits an extended data frame.
func (t *BusTransport) Send(id uint32, payload []byte) error {
	frame, err := canbus.NewExtendedFrame(id, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.sendTimeout)
	defer cancel()
	return t.bus.Send(ctx, frame)
}

// Available reports whether a frame is queued.
func (t *BusTransport) Available() bool {
	return len(t.rx) > 0
}

// Receive pops the next queued frame.
func (t *BusTransport) Receive() (uint32, []byte, error) {
	select {
	case f, ok := <-t.rx:
		if !ok {
			if err := t.Err(); err != nil {
				return 0, nil, err
			}
			return 0, nil, canbus.ErrClosed
		}
		payload := make([]byte, f.Len)
		copy(payload, f.Payload())
		return f.ID, payload, nil
	default:
		return 0, nil, errNoFrame
	}
}

// Err reports a receive failure that stopped the transport, such as the bus
// being closed.
func (t *BusTransport) Err() error {
	return t.mux.Err()
}

// Dropped is the number of frames discarded because the receive queue was
// full when they arrived.
func (t *BusTransport) Dropped() uint64 {
	return t.mux.Dropped()
}

// Close stops receiving and closes the bus.
func (t *BusTransport) Close() error {
	t.cancel()
	err := t.bus.Close()
	_ = t.mux.Close()
	return err
}
