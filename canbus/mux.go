package canbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mux fans the frames received on a Bus out to filtered subscribers. A single
// goroutine owns Receive on the bus; Send is not proxied and goes to the bus
// directly.
type Mux struct {
	bus    Bus
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.RWMutex
	subs map[uint64]*subscriber
	next uint64
	err  error

	dropped atomic.Uint64
}

type subscriber struct {
	filter FrameFilter
	ch     chan Frame
}

// NewMux creates and starts a multiplexer bound to the given Bus.
func NewMux(bus Bus) *Mux {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Mux{
		bus:    bus,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[uint64]*subscriber),
	}
	go m.run()
	return m
}

// Close stops the background reader and closes all subscriber channels.
// The underlying Bus is not closed.
func (m *Mux) Close() error {
	m.cancel()
	<-m.done
	return nil
}

// Err reports why the background reader stopped, if it did.
func (m *Mux) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// Dropped returns how many frames were discarded because a subscriber's
// channel was full.
func (m *Mux) Dropped() uint64 {
	return m.dropped.Load()
}

// Subscribe returns a channel of frames accepted by filter (nil accepts
// everything) and a cancel func that closes it.
func (m *Mux) Subscribe(filter FrameFilter, buffer int) (<-chan Frame, func()) {
	if buffer < 0 {
		buffer = 0
	}
	s := &subscriber{filter: filter, ch: make(chan Frame, buffer)}
	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	id := m.next
	m.next++
	m.subs[id] = s
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if cur, ok := m.subs[id]; ok && cur == s {
			close(cur.ch)
			delete(m.subs, id)
		}
		m.mu.Unlock()
	}
	return s.ch, cancel
}

func (m *Mux) run() {
	defer close(m.done)
	for {
		f, err := m.bus.Receive(m.ctx)
		if err != nil {
			if m.ctx.Err() != nil {
				err = ErrClosed
			}
			m.fail(err)
			return
		}
		m.deliver(f)
	}
}

// deliver hands f to every matching subscriber without blocking; a full
// subscriber loses the frame.
func (m *Mux) deliver(f Frame) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subs {
		if s.filter != nil && !s.filter(f) {
			continue
		}
		select {
		case s.ch <- f:
		default:
			m.dropped.Add(1)
		}
	}
}

// fail records why reception stopped and closes every subscription.
func (m *Mux) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	for id, s := range m.subs {
		close(s.ch)
		delete(m.subs, id)
	}
}
