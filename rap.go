package ucan

import (
	"context"
	"errors"
	"fmt"
)

// RAP subfields: the low three bits carry the register count, rapOpMask
// selects the operation.
const (
	rapLenMask  = 0x07
	rapOpMask   = 0x30
	rapRead     = 0x00
	rapWrite    = 0x20
	rapResponse = 0x30
)

// MaxRegisters is the most registers one request can cover: page and start
// register take two of the eight payload bytes.
const MaxRegisters = 6

// ErrRegisterCount is returned for a register count outside 1..MaxRegisters.
var ErrRegisterCount = errors.New("ucan: register count out of range")

// ReadFunc returns the value of register reg on page for a read request from
// the node at from.
type ReadFunc func(from Address, page, reg uint8) byte

// WriteFunc stores value into register reg on page for a write from the node
// at from.
type WriteFunc func(from Address, page, reg, value uint8)

// PageHandlers backs one register page. Either function may be nil: reads
// then yield zero and writes are dropped.
type PageHandlers struct {
	Read  ReadFunc
	Write WriteFunc
}

// Pages maps page numbers to their handlers.
type Pages map[uint8]PageHandlers

// Page is a register page implemented as a type.
type Page interface {
	ReadRegister(from Address, page, reg uint8) byte
	WriteRegister(from Address, page, reg, value uint8)
}

// Handlers adapts p for use in a Pages table.
func Handlers(p Page) PageHandlers {
	return PageHandlers{Read: p.ReadRegister, Write: p.WriteRegister}
}

// ReadRegisters reads count consecutive registers of page on the node at
// addr, starting at start. Register numbers wrap at 255. ErrTimeout means the
// node did not answer in time.
func (n *Node) ReadRegisters(ctx context.Context, addr Address, page, start uint8, count int) ([]byte, error) {
	if count < 1 || count > MaxRegisters {
		return nil, fmt.Errorf("read %d registers: %w", count, ErrRegisterCount)
	}
	if !addr.Valid() {
		return nil, fmt.Errorf("read from %d: %w", addr, ErrInvalidAddress)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.send(n.priority, ProtocolRAP, rapRead|uint8(count), addr, []byte{page, start}); err != nil {
		return nil, err
	}
	want := uint16(rapResponse | count)
	msg, ok, err := n.await(ctx, func(m Message) bool {
		return !m.ID.Broadcast &&
			m.ID.Protocol == ProtocolRAP &&
			m.ID.Subfields == want &&
			m.From() == addr &&
			len(m.Payload) >= 2+count &&
			m.Payload[0] == page && m.Payload[1] == start
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("read %d page %d reg %d: %w", addr, page, start, ErrTimeout)
	}
	out := make([]byte, count)
	copy(out, msg.Payload[2:])
	return out, nil
}

// WriteRegisters writes data into consecutive registers of page on the node
// at addr, starting at start. Nothing is acknowledged.
func (n *Node) WriteRegisters(addr Address, page, start uint8, data []byte) error {
	if len(data) < 1 || len(data) > MaxRegisters {
		return fmt.Errorf("write %d registers: %w", len(data), ErrRegisterCount)
	}
	if !addr.wire() {
		return fmt.Errorf("write to %d: %w", addr, ErrInvalidAddress)
	}
	payload := make([]byte, 0, 2+len(data))
	payload = append(payload, page, start)
	payload = append(payload, data...)

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.send(n.priority, ProtocolRAP, rapWrite|uint8(len(data)), addr, payload)
}

// HandleRegisters processes one inbound register message and reports whether
// it was acted upon. Responses are never handled here; they only satisfy a
// pending ReadRegisters.
func (n *Node) HandleRegisters(msg Message) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.handleRegisters(msg)
}

func (n *Node) handleRegisters(msg Message) bool {
	if msg.ID.Broadcast || msg.ID.Protocol != ProtocolRAP || !n.addressedToUs(msg) {
		return false
	}
	sub := uint8(msg.ID.Subfields)
	count := int(sub & rapLenMask)
	if count < 1 || count > MaxRegisters || len(msg.Payload) < 2 {
		n.log.Debug("ucan malformed register request", "id", msg.ID.String(), "len", len(msg.Payload))
		return false
	}
	page, start := msg.Payload[0], msg.Payload[1]

	n.cfgMu.RLock()
	h, found := n.pages[page]
	n.cfgMu.RUnlock()

	switch sub & rapOpMask {
	case rapWrite:
		if len(msg.Payload) < 2+count {
			n.log.Debug("ucan short register write", "len", len(msg.Payload), "count", count)
			return false
		}
		if !found || h.Write == nil {
			n.log.Debug("ucan write to unknown page", "page", page, "from", msg.From())
			return true
		}
		for i, v := range msg.Payload[2 : 2+count] {
			h.Write(msg.From(), page, start+uint8(i), v)
		}
		return true

	case rapRead:
		payload := make([]byte, 2+count)
		payload[0], payload[1] = page, start
		if found && h.Read != nil {
			for i := 0; i < count; i++ {
				payload[2+i] = h.Read(msg.From(), page, start+uint8(i))
			}
		}
		n.reply(msg, ProtocolRAP, rapResponse|uint8(count), payload)
		return true
	}
	return false
}
