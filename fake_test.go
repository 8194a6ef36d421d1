package ucan

import (
	"sync"
	"time"
)

type rawFrame struct {
	id      uint32
	payload []byte
}

func (f rawFrame) msg() Message {
	return Message{ID: DecodeID(f.id), Payload: f.payload}
}

// fakeTransport is a scripted Transport. Frames passed to inject are
// received in order; respond, when set, is consulted on every Send and may
// queue answers.
type fakeTransport struct {
	mu      sync.Mutex
	rx      []rawFrame
	sent    []rawFrame
	respond func(sent Message) []rawFrame
	sendErr error
	rxErr   error
}

func (f *fakeTransport) Send(id uint32, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	fr := rawFrame{id: id, payload: append([]byte(nil), payload...)}
	f.sent = append(f.sent, fr)
	if f.respond != nil {
		f.rx = append(f.rx, f.respond(fr.msg())...)
	}
	return nil
}

func (f *fakeTransport) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rx) > 0
}

func (f *fakeTransport) Receive() (uint32, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rx) == 0 {
		return 0, nil, errNoFrame
	}
	fr := f.rx[0]
	f.rx = f.rx[1:]
	return fr.id, fr.payload, nil
}

func (f *fakeTransport) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rxErr
}

func (f *fakeTransport) inject(id uint32, payload ...byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = append(f.rx, rawFrame{id: id, payload: payload})
}

func (f *fakeTransport) sentMessages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.sent))
	for i, fr := range f.sent {
		out[i] = fr.msg()
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// stepClock advances by step every time it is read.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
	n    int
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	c.n++
	return t
}

var (
	hwA = HardwareID{0x01, 0x02, 0x03, 0x0a, 0x0b, 0x0c}
	hwB = HardwareID{0xde, 0xad, 0xbe, 0xef, 0x00, 0x42}
)

const testTimeout = 30 * time.Millisecond

func newTestNode(addr Address, opts ...Option) (*Node, *fakeTransport) {
	t := &fakeTransport{}
	opts = append([]Option{WithTimeout(testTimeout), WithPollInterval(time.Millisecond)}, opts...)
	return New(t, hwA, addr, opts...), t
}

func pongFrom(from, to Address, hw HardwareID) rawFrame {
	return rawFrame{
		id:      EncodeUnicast(PriorityNormal, ProtocolYARP, yarpPong, uint8(to), uint8(from)),
		payload: append([]byte(nil), hw[:]...),
	}
}
