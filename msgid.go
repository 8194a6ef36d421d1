package ucan

import "fmt"

// Identifier bit layout, least significant bit first:
//
//	unicast:   priority:2 protocol:4 broadcast:1(=0) subfields:6  recipient:8 sender:8
//	broadcast: priority:2 protocol:4 broadcast:1(=1) subfields:14             sender:8
//
// The identifier fills 29 bits, a CAN 2.0B extended identifier.
const (
	priorityShift  = 0
	protocolShift  = 2
	broadcastShift = 6
	subfieldsShift = 7
	recipientShift = 13
	senderShift    = 21

	priorityMask           = 0x3
	protocolMask           = 0xF
	unicastSubfieldsMask   = 0x3F
	broadcastSubfieldsMask = 0x3FFF
	addressMask            = 0xFF
)

// MessageID is a decoded bus identifier. Broadcast selects the shape: in the
// broadcast shape Subfields is 14 bits wide and Recipient is always zero, in
// the unicast shape Subfields is 6 bits wide.
type MessageID struct {
	Priority  Priority
	Protocol  Protocol
	Broadcast bool
	Subfields uint16
	Recipient uint8
	Sender    uint8
}

// EncodeUnicast packs a unicast identifier. Out of range values are truncated
// to their field width.
func EncodeUnicast(priority Priority, protocol Protocol, subfields, recipient, sender uint8) uint32 {
	return uint32(priority&priorityMask)<<priorityShift |
		uint32(protocol&protocolMask)<<protocolShift |
		uint32(subfields&unicastSubfieldsMask)<<subfieldsShift |
		uint32(recipient)<<recipientShift |
		uint32(sender)<<senderShift
}

// EncodeBroadcast packs a broadcast identifier. Out of range values are
// truncated to their field width.
func EncodeBroadcast(priority Priority, protocol Protocol, subfields uint16, sender uint8) uint32 {
	return uint32(priority&priorityMask)<<priorityShift |
		uint32(protocol&protocolMask)<<protocolShift |
		1<<broadcastShift |
		uint32(subfields&broadcastSubfieldsMask)<<subfieldsShift |
		uint32(sender)<<senderShift
}

// Encode packs id according to its shape.
func (id MessageID) Encode() uint32 {
	if id.Broadcast {
		return EncodeBroadcast(id.Priority, id.Protocol, id.Subfields, id.Sender)
	}
	return EncodeUnicast(id.Priority, id.Protocol, uint8(id.Subfields), id.Recipient, id.Sender)
}

// DecodeID unpacks a raw identifier. Every value decodes to exactly one
// shape, chosen by the broadcast bit.
func DecodeID(raw uint32) MessageID {
	id := MessageID{
		Priority:  Priority((raw>>priorityShift)&priorityMask),
		Protocol:  Protocol((raw>>protocolShift)&protocolMask),
		Broadcast: (raw>>broadcastShift)&1 == 1,
		Sender:    uint8((raw>>senderShift)&addressMask),
	}
	if id.Broadcast {
		id.Subfields = uint16((raw>>subfieldsShift)&broadcastSubfieldsMask)
	} else {
		id.Subfields = uint16((raw>>subfieldsShift)&unicastSubfieldsMask)
		id.Recipient = uint8((raw>>recipientShift)&addressMask)
	}
	return id
}

func (id MessageID) String() string {
	if id.Broadcast {
		return fmt.Sprintf("%s bcast p%d sub=%#04x from=%d", id.Protocol, id.Priority, id.Subfields, id.Sender)
	}
	return fmt.Sprintf("%s p%d sub=%#02x %d->%d", id.Protocol, id.Priority, id.Subfields, id.Sender, id.Recipient)
}

// Message is one received frame: its decoded identifier and 0..8 payload bytes.
type Message struct {
	ID      MessageID
	Payload []byte
}

// Len is the payload length.
func (m Message) Len() int {
	return len(m.Payload)
}

// From is the sender's node address.
func (m Message) From() Address {
	return Address(m.ID.Sender)
}
