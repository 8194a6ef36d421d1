package ucan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults.
const (
	DefaultTimeout      = time.Second
	DefaultPollInterval = 500 * time.Microsecond
)

var (
	// ErrTimeout is returned when no matching response arrived in time.
	ErrTimeout = errors.New("ucan: timeout")
	// ErrAddressSpaceExhausted is returned by Join when every candidate
	// address is already taken.
	ErrAddressSpaceExhausted = errors.New("ucan: no free node address")
	// ErrInvalidAddress is returned for addresses outside their allowed range.
	ErrInvalidAddress = errors.New("ucan: invalid node address")
)

// Node is one protocol endpoint on the bus: it answers addressing and
// register traffic for its own hardware id and address, and issues requests
// to other nodes.
//
// A Node is safe for concurrent use. All transport access and every
// correlation wait is serialized on one mutex, so a Ping from one goroutine
// blocks a ReadRegisters from another until it completes. Run releases the
// mutex between polls.
type Node struct {
	mu sync.Mutex // guards the transport and correlation waits

	t        Transport
	clock    Clock
	log      *slog.Logger
	hw       HardwareID
	poll     time.Duration
	priority Priority

	addr    atomic.Int32
	timeout atomic.Int64

	cfgMu           sync.RWMutex
	pages           Pages
	onAddressChange func(Address)
	onPong          func(HardwareID, Address)
}

// Option configures a Node.
type Option func(*Node)

// WithTimeout sets the correlation timeout.
func WithTimeout(d time.Duration) Option {
	return func(n *Node) { n.timeout.Store(int64(d)) }
}

// WithPollInterval sets how long waits sleep when no frame is pending. Zero
// busy-polls.
func WithPollInterval(d time.Duration) Option {
	return func(n *Node) { n.poll = d }
}

// WithPriority sets the priority of requests this node originates.
func WithPriority(p Priority) Option {
	return func(n *Node) { n.priority = p & priorityMask }
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.log = l }
}

// WithPages installs the register page table.
func WithPages(p Pages) Option {
	return func(n *Node) { n.pages = p }
}

// New creates a node with its fixed hardware id and starting address. No
// frames are sent until Join or another operation is called.
func New(t Transport, hw HardwareID, addr Address, opts ...Option) *Node {
	n := &Node{
		t:        t,
		clock:    systemClock{},
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		hw:       hw,
		poll:     DefaultPollInterval,
		priority: PriorityNormal,
	}
	n.addr.Store(int32(addr))
	n.timeout.Store(int64(DefaultTimeout))
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// HardwareID returns the node's fixed hardware id.
func (n *Node) HardwareID() HardwareID {
	return n.hw
}

// Address returns the node's current address.
func (n *Node) Address() Address {
	return Address(n.addr.Load())
}

func (n *Node) setAddress(a Address) {
	n.addr.Store(int32(a))
}

// Timeout returns the correlation timeout.
func (n *Node) Timeout() time.Duration {
	return time.Duration(n.timeout.Load())
}

// SetTimeout changes the correlation timeout for subsequent waits.
func (n *Node) SetTimeout(d time.Duration) {
	n.timeout.Store(int64(d))
}

// ConfigurePages installs the register page table. The map is used in place,
// not copied.
func (n *Node) ConfigurePages(p Pages) {
	n.cfgMu.Lock()
	n.pages = p
	n.cfgMu.Unlock()
}

// OnAddressChange registers fn to be called after an address assignment
// addressed to this node's hardware id changed its address. At most one
// callback is kept; nil removes it.
func (n *Node) OnAddressChange(fn func(Address)) {
	n.cfgMu.Lock()
	n.onAddressChange = fn
	n.cfgMu.Unlock()
}

// OnPong registers an observer for every pong seen on the bus, including
// unsolicited ones. Observing a pong does not count as handling it.
func (n *Node) OnPong(fn func(hw HardwareID, from Address)) {
	n.cfgMu.Lock()
	n.onPong = fn
	n.cfgMu.Unlock()
}

// Poll receives and dispatches at most one pending frame. It reports the
// frame and whether one was processed.
func (n *Node) Poll() (Message, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.receive()
}

// Run keeps polling until ctx is done or the transport fails, answering
// other nodes' requests.
func (n *Node) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, ok, err := n.Poll()
		if err != nil {
			return err
		}
		if !ok {
			n.idle()
		}
	}
}

func (n *Node) idle() {
	if n.poll <= 0 {
		runtime.Gosched()
		return
	}
	time.Sleep(n.poll)
}

// receive is the single receive-and-dispatch primitive. Both the idle path
// (Poll) and every correlation wait go through it, so a node keeps answering
// pings and register requests while it waits for a response of its own.
// Callers hold n.mu.
func (n *Node) receive() (Message, bool, error) {
	if !n.t.Available() {
		if e, ok := n.t.(interface{ Err() error }); ok {
			if err := e.Err(); err != nil {
				return Message{}, false, fmt.Errorf("ucan: transport: %w", err)
			}
		}
		return Message{}, false, nil
	}
	raw, payload, err := n.t.Receive()
	if err != nil {
		return Message{}, false, fmt.Errorf("ucan: receive: %w", err)
	}
	msg := Message{ID: DecodeID(raw), Payload: payload}
	n.dispatch(msg)
	return msg, true, nil
}

func (n *Node) dispatch(msg Message) {
	if msg.ID.Broadcast {
		// No protocol defines broadcast-shaped traffic yet.
		n.log.Debug("ucan ignore", "id", msg.ID.String())
		return
	}
	switch msg.ID.Protocol {
	case ProtocolYARP:
		n.handleAddressing(msg)
	case ProtocolRAP:
		n.handleRegisters(msg)
	default:
		n.log.Debug("ucan ignore", "id", msg.ID.String())
	}
}

// await blocks until a received frame satisfies match or the timeout
// elapses. Every frame, matching or not, is dispatched first. Callers hold
// n.mu.
func (n *Node) await(ctx context.Context, match func(Message) bool) (Message, bool, error) {
	timeout := n.Timeout()
	start := n.clock.Now()
	for {
		msg, ok, err := n.receive()
		if err != nil {
			return Message{}, false, err
		}
		if ok && match(msg) {
			return msg, true, nil
		}
		if n.clock.Now().Sub(start) > timeout {
			return Message{}, false, nil
		}
		if err := ctx.Err(); err != nil {
			return Message{}, false, err
		}
		if !ok {
			n.idle()
		}
	}
}

// send transmits a unicast frame from this node. Callers hold n.mu.
func (n *Node) send(priority Priority, protocol Protocol, subfields uint8, to Address, payload []byte) error {
	raw := EncodeUnicast(priority, protocol, subfields, uint8(to), uint8(n.Address()))
	if err := n.t.Send(raw, payload); err != nil {
		return fmt.Errorf("ucan: send %s: %w", DecodeID(raw), err)
	}
	return nil
}

// reply answers req from this node, mirroring the request priority.
func (n *Node) reply(req Message, protocol Protocol, subfields uint8, payload []byte) {
	if err := n.send(req.ID.Priority, protocol, subfields, req.From(), payload); err != nil {
		n.log.Warn("ucan reply failed", "to", req.From(), "error", err)
	}
}

// addressedToUs reports whether a unicast message targets this node.
func (n *Node) addressedToUs(msg Message) bool {
	to := Address(msg.ID.Recipient)
	return to == n.Address() || to == BroadcastAddress
}
