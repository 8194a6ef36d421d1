package ucan

import (
	"bytes"
	"context"
	"fmt"
)

// YARP subfield values. The field is evaluated through yarpKindMask.
const (
	yarpKindMask    = 0x38
	yarpQueryMask   = 0x30
	yarpQuery       = 0x20 // ping
	yarpHardwareBit = 0x08 // query carries a hardware id
	yarpHWQuery     = yarpQuery | yarpHardwareBit
	yarpPong        = 0x38
	yarpAssign      = 0x18
)

const (
	hwQueryLen = len(HardwareID{})
	assignLen  = hwQueryLen + 1
)

// Join claims the node's starting address. It pings the candidate address
// and, whenever another node answers, moves on to the next address and pings
// again, until a ping goes unanswered. The node's address is updated as it
// goes. The address change callback is not invoked.
//
// ErrAddressSpaceExhausted means every address from the start up to
// MaxAddress is occupied; the node must not take part in the bus.
func (n *Node) Join(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	candidate := n.Address()
	if !candidate.Valid() {
		return fmt.Errorf("join from %d: %w", candidate, ErrInvalidAddress)
	}
	for ; candidate <= MaxAddress; candidate++ {
		n.setAddress(candidate)
		_, taken, err := n.ping(ctx, PriorityHigh, candidate)
		if err != nil {
			return err
		}
		if !taken {
			n.log.Info("ucan joined", "address", candidate, "hwid", n.hw.String())
			return nil
		}
		n.log.Debug("ucan address taken", "address", candidate)
	}
	return ErrAddressSpaceExhausted
}

// Ping probes addr and reports whether a node answered within the timeout.
// Pinging BroadcastAddress succeeds on the first pong from any node.
func (n *Node) Ping(ctx context.Context, addr Address) (bool, error) {
	_, ok, err := n.PingHardwareID(ctx, addr)
	return ok, err
}

// PingHardwareID is Ping that also returns the responder's hardware id.
func (n *Node) PingHardwareID(ctx context.Context, addr Address) (HardwareID, bool, error) {
	if !addr.wire() {
		return HardwareID{}, false, fmt.Errorf("ping %d: %w", addr, ErrInvalidAddress)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	msg, ok, err := n.ping(ctx, n.priority, addr)
	if err != nil || !ok {
		return HardwareID{}, false, err
	}
	var hw HardwareID
	copy(hw[:], msg.Payload)
	return hw, true, nil
}

func (n *Node) ping(ctx context.Context, priority Priority, addr Address) (Message, bool, error) {
	if err := n.send(priority, ProtocolYARP, yarpQuery, addr, nil); err != nil {
		return Message{}, false, err
	}
	return n.await(ctx, func(m Message) bool {
		return isPong(m) && (addr == BroadcastAddress || m.From() == addr)
	})
}

// Resolve asks the node with hardware id hw for its address. It returns
// NotFound when nobody answered within the timeout.
func (n *Node) Resolve(ctx context.Context, hw HardwareID) (Address, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.send(n.priority, ProtocolYARP, yarpHWQuery, BroadcastAddress, hw[:]); err != nil {
		return NotFound, err
	}
	msg, ok, err := n.await(ctx, func(m Message) bool {
		return isPong(m) && bytes.Equal(m.Payload, hw[:])
	})
	if err != nil || !ok {
		return NotFound, err
	}
	return msg.From(), nil
}

// AssignAddress tells the node with hardware id hw to take addr. Nothing is
// acknowledged; use Ping or Resolve to confirm.
func (n *Node) AssignAddress(hw HardwareID, addr Address) error {
	if !addr.Valid() {
		return fmt.Errorf("assign %d: %w", addr, ErrInvalidAddress)
	}
	payload := make([]byte, 0, assignLen)
	payload = append(payload, hw[:]...)
	payload = append(payload, byte(addr))

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.send(PriorityHigh, ProtocolYARP, yarpAssign, BroadcastAddress, payload)
}

// Discover pings every node at once and collects the pongs that arrive
// before the timeout. It always waits the full timeout.
func (n *Node) Discover(ctx context.Context) (map[Address]HardwareID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.send(n.priority, ProtocolYARP, yarpQuery, BroadcastAddress, nil); err != nil {
		return nil, err
	}
	found := make(map[Address]HardwareID)
	_, _, err := n.await(ctx, func(m Message) bool {
		if isPong(m) {
			var hw HardwareID
			copy(hw[:], m.Payload)
			found[m.From()] = hw
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// HandleAddressing processes one inbound addressing message and reports
// whether it was acted upon. It is exported for embeddings that run their
// own receive loop; Poll and Run already call it.
func (n *Node) HandleAddressing(msg Message) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.handleAddressing(msg)
}

func (n *Node) handleAddressing(msg Message) bool {
	if msg.ID.Broadcast || msg.ID.Protocol != ProtocolYARP {
		return false
	}
	sub := uint8(msg.ID.Subfields)
	switch {
	case sub&yarpKindMask == yarpPong:
		n.cfgMu.RLock()
		fn := n.onPong
		n.cfgMu.RUnlock()
		if fn != nil {
			var hw HardwareID
			copy(hw[:], msg.Payload)
			fn(hw, msg.From())
		}
		return false

	case sub&yarpQueryMask == yarpQuery:
		if !n.addressedToUs(msg) {
			return false
		}
		if sub&yarpHardwareBit != 0 && !bytes.Equal(msg.Payload, n.hw[:]) {
			return false
		}
		n.reply(msg, ProtocolYARP, yarpPong, n.hw[:])
		return true

	case sub&yarpKindMask == yarpAssign:
		if len(msg.Payload) < assignLen {
			n.log.Debug("ucan short assignment", "len", len(msg.Payload))
			return true
		}
		if !bytes.Equal(msg.Payload[:hwQueryLen], n.hw[:]) {
			return true
		}
		addr := Address(msg.Payload[hwQueryLen])
		if !addr.Valid() {
			n.log.Warn("ucan refused assignment", "address", addr, "from", msg.From())
			return true
		}
		n.setAddress(addr)
		n.log.Info("ucan address assigned", "address", addr, "from", msg.From())
		n.cfgMu.RLock()
		fn := n.onAddressChange
		n.cfgMu.RUnlock()
		if fn != nil {
			fn(addr)
		}
		return true
	}
	return false
}

func isPong(m Message) bool {
	return !m.ID.Broadcast && m.ID.Protocol == ProtocolYARP && uint8(m.ID.Subfields)&yarpKindMask == yarpPong
}
