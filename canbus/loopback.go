package canbus

import (
	"context"
	"sync"
)

// loopQueueLen is the per endpoint receive queue depth.
const loopQueueLen = 64

// LoopbackBus is an in-memory CAN segment for tests and simulations. Every
// endpoint opened on it sees the frames sent by all other endpoints. Like a
// controller with self reception disabled, an endpoint never receives its
// own frames.
type LoopbackBus struct {
	mu     sync.RWMutex
	closed bool
	ports  []*loopPort
}

// NewLoopbackBus returns an empty segment.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{}
}

// Open attaches a new endpoint. Endpoints opened after Close are already
// closed.
func (b *LoopbackBus) Open() Bus {
	p := &loopPort{
		seg:  b,
		rx:   make(chan Frame, loopQueueLen),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		p.shut()
		return p
	}
	b.ports = append(b.ports, p)
	return p
}

// Close detaches and closes every endpoint.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	ports := b.ports
	b.ports = nil
	b.closed = true
	b.mu.Unlock()
	for _, p := range ports {
		p.shut()
	}
	return nil
}

// peers lists the endpoints other than p.
func (b *LoopbackBus) peers(p *loopPort) ([]*loopPort, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false
	}
	out := make([]*loopPort, 0, len(b.ports))
	for _, q := range b.ports {
		if q != p {
			out = append(out, q)
		}
	}
	return out, true
}

func (b *LoopbackBus) detach(p *loopPort) {
	b.mu.Lock()
	for i, q := range b.ports {
		if q == p {
			b.ports = append(b.ports[:i], b.ports[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
}

type loopPort struct {
	seg  *LoopbackBus
	rx   chan Frame
	done chan struct{}
	once sync.Once
}

func (p *loopPort) shut() {
	p.once.Do(func() { close(p.done) })
}

func (p *loopPort) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Send delivers frame to every other endpoint, blocking while a receiver's
// queue is full.
func (p *loopPort) Send(ctx context.Context, frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	if p.isClosed() {
		return ErrClosed
	}
	peers, ok := p.seg.peers(p)
	if !ok {
		return ErrClosed
	}
	for _, q := range peers {
		select {
		case q.rx <- frame:
		case <-q.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *loopPort) Receive(ctx context.Context) (Frame, error) {
	if p.isClosed() {
		return Frame{}, ErrClosed
	}
	select {
	case f := <-p.rx:
		return f, nil
	case <-p.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (p *loopPort) Close() error {
	p.seg.detach(p)
	p.shut()
	return nil
}
