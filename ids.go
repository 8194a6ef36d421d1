package ucan

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a short dynamic node address. Valid node addresses are 0..254;
// 255 is the broadcast address and NotFound is returned by lookups that got
// no answer.
type Address int16

const (
	// MaxAddress is the highest assignable node address.
	MaxAddress Address = 254
	// BroadcastAddress addresses every node.
	BroadcastAddress Address = 255
	// NotFound is returned by Resolve when no node answered.
	NotFound Address = -1
)

// Valid reports whether a is an assignable node address (0..254).
func (a Address) Valid() bool {
	return a >= 0 && a <= MaxAddress
}

// wire reports whether a fits the 8-bit sender/recipient fields.
func (a Address) wire() bool {
	return a >= 0 && a <= BroadcastAddress
}

func (a Address) String() string {
	switch a {
	case BroadcastAddress:
		return "broadcast"
	case NotFound:
		return "not-found"
	}
	return fmt.Sprintf("%d", int16(a))
}

// HardwareID is the 6-byte factory identifier of a node, the protocol level
// equivalent of a MAC address. It is carried on the wire in byte order.
type HardwareID [6]byte

// HardwareIDFromUint64 takes the low 48 bits of v, least significant byte
// first, the layout microcontroller firmware produces when it copies a
// 64-bit integer onto the bus.
func HardwareIDFromUint64(v uint64) HardwareID {
	var h HardwareID
	for i := range h {
		h[i] = byte(v >> (8 * i))
	}
	return h
}

// Uint64 is the inverse of HardwareIDFromUint64.
func (h HardwareID) Uint64() uint64 {
	var v uint64
	for i := range h {
		v |= uint64(h[i]) << (8 * i)
	}
	return v
}

// String renders h as colon separated hex bytes, e.g. "01:02:03:0a:0b:0c".
func (h HardwareID) String() string {
	parts := make([]string, len(h))
	for i, b := range h {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

// ParseHardwareID accepts "01:02:03:0a:0b:0c", "01-02-03-0a-0b-0c" or
// "0102030a0b0c" (optionally 0x-prefixed).
func ParseHardwareID(s string) (HardwareID, error) {
	var h HardwareID
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	if len(clean) != 2*len(h) {
		return h, fmt.Errorf("ucan: hardware id %q: want %d hex bytes", s, len(h))
	}
	if _, err := hex.Decode(h[:], []byte(clean)); err != nil {
		return h, fmt.Errorf("ucan: hardware id %q: %w", s, err)
	}
	return h, nil
}

// Priority is the 2-bit message priority. Lower values win bus arbitration.
type Priority uint8

const (
	PriorityEmergency Priority = 0
	PriorityHigh      Priority = 1
	PriorityNormal    Priority = 2
	PriorityLow       Priority = 3
)

// Protocol is the 4-bit protocol number carried in every identifier.
type Protocol uint8

const (
	// ProtocolYARP is the addressing protocol.
	ProtocolYARP Protocol = 0
	// ProtocolRAP is the register access protocol.
	ProtocolRAP Protocol = 1
)

func (p Protocol) String() string {
	switch p {
	case ProtocolYARP:
		return "YARP"
	case ProtocolRAP:
		return "RAP"
	}
	return fmt.Sprintf("proto%d", uint8(p))
}
