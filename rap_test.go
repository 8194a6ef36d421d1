package ucan

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type writeCall struct {
	from      Address
	page, reg uint8
	value     uint8
}

func TestRegisterHandler(t *testing.T) {
	Convey("Given a node at address 5 with pages 1 and 2", t, func() {
		var writes []writeCall
		storage := make(map[uint8]byte)
		pages := Pages{
			1: {
				Read: func(from Address, page, reg uint8) byte { return 0xA0 + reg },
			},
			2: {
				Read: func(from Address, page, reg uint8) byte { return storage[reg] },
				Write: func(from Address, page, reg, value uint8) {
					writes = append(writes, writeCall{from, page, reg, value})
					storage[reg] = value
				},
			},
		}
		node, tr := newTestNode(5, WithPages(pages))

		Convey("a write invokes the callback once per register in order", func() {
			tr.inject(EncodeUnicast(PriorityNormal, ProtocolRAP, rapWrite|3, 5, 4), 2, 5, 10, 20, 30)
			_, ok, err := node.Poll()
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(writes, ShouldResemble, []writeCall{
				{4, 2, 5, 10},
				{4, 2, 6, 20},
				{4, 2, 7, 30},
			})
			So(tr.sentMessages(), ShouldBeEmpty)

			Convey("and a read of the same range returns the values", func() {
				tr.inject(EncodeUnicast(PriorityNormal, ProtocolRAP, rapRead|3, 5, 4), 2, 5)
				_, _, err := node.Poll()
				So(err, ShouldBeNil)
				sent := tr.sentMessages()
				So(sent, ShouldHaveLength, 1)
				So(sent[0].Payload, ShouldResemble, []byte{2, 5, 10, 20, 30})
			})
		})

		Convey("a read is answered with page, start register and values", func() {
			tr.inject(EncodeUnicast(PriorityLow, ProtocolRAP, rapRead|3, 5, 4), 1, 0)
			_, _, err := node.Poll()
			So(err, ShouldBeNil)

			sent := tr.sentMessages()
			So(sent, ShouldHaveLength, 1)
			So(sent[0].ID, ShouldResemble, MessageID{
				Priority:  PriorityLow,
				Protocol:  ProtocolRAP,
				Subfields: 0x33,
				Recipient: 4,
				Sender:    5,
			})
			So(sent[0].Payload, ShouldResemble, []byte{1, 0, 0xA0, 0xA1, 0xA2})
		})

		Convey("register numbers wrap at 255", func() {
			tr.inject(EncodeUnicast(PriorityNormal, ProtocolRAP, rapWrite|2, 5, 4), 2, 255, 1, 2)
			node.Poll()
			So(writes, ShouldResemble, []writeCall{{4, 2, 255, 1}, {4, 2, 0, 2}})
		})

		Convey("a read of an unregistered page is still answered", func() {
			tr.inject(EncodeUnicast(PriorityNormal, ProtocolRAP, rapRead|2, 5, 4), 9, 3)
			node.Poll()
			sent := tr.sentMessages()
			So(sent, ShouldHaveLength, 1)
			So(sent[0].ID.Subfields, ShouldEqual, 0x32)
			So(sent[0].Payload, ShouldResemble, []byte{9, 3, 0, 0})
		})

		Convey("a read of a write-only page yields zeros", func() {
			node.ConfigurePages(Pages{3: {Write: func(Address, uint8, uint8, uint8) {}}})
			tr.inject(EncodeUnicast(PriorityNormal, ProtocolRAP, rapRead|1, 5, 4), 3, 0)
			node.Poll()
			So(tr.sentMessages()[0].Payload, ShouldResemble, []byte{3, 0, 0})
		})

		Convey("a write to an unregistered page is dropped silently", func() {
			msg := Message{ID: DecodeID(EncodeUnicast(PriorityNormal, ProtocolRAP, rapWrite|1, 5, 4)), Payload: []byte{9, 0, 1}}
			So(node.HandleRegisters(msg), ShouldBeTrue)
			So(writes, ShouldBeEmpty)
			So(tr.sentMessages(), ShouldBeEmpty)
		})

		Convey("a broadcast write reaches the node", func() {
			tr.inject(EncodeUnicast(PriorityNormal, ProtocolRAP, rapWrite|1, 255, 4), 2, 0, 7)
			node.Poll()
			So(writes, ShouldHaveLength, 1)
		})

		Convey("requests for other nodes are ignored", func() {
			msg := Message{ID: DecodeID(EncodeUnicast(PriorityNormal, ProtocolRAP, rapRead|1, 6, 4)), Payload: []byte{1, 0}}
			So(node.HandleRegisters(msg), ShouldBeFalse)
			So(tr.sentMessages(), ShouldBeEmpty)
		})

		Convey("malformed requests are ignored", func() {
			for _, msg := range []Message{
				{ID: DecodeID(EncodeUnicast(PriorityNormal, ProtocolRAP, rapRead|0, 5, 4)), Payload: []byte{1, 0}},
				{ID: DecodeID(EncodeUnicast(PriorityNormal, ProtocolRAP, rapRead|7, 5, 4)), Payload: []byte{1, 0}},
				{ID: DecodeID(EncodeUnicast(PriorityNormal, ProtocolRAP, rapRead|1, 5, 4)), Payload: []byte{1}},
				{ID: DecodeID(EncodeUnicast(PriorityNormal, ProtocolRAP, rapWrite|3, 5, 4)), Payload: []byte{2, 0, 1}},
			} {
				So(node.HandleRegisters(msg), ShouldBeFalse)
			}
			So(writes, ShouldBeEmpty)
			So(tr.sentMessages(), ShouldBeEmpty)
		})

		Convey("responses are left to a pending read", func() {
			msg := Message{ID: DecodeID(EncodeUnicast(PriorityNormal, ProtocolRAP, rapResponse|1, 5, 4)), Payload: []byte{1, 0, 9}}
			So(node.HandleRegisters(msg), ShouldBeFalse)
			So(tr.sentMessages(), ShouldBeEmpty)
		})
	})
}

func TestRegisterRequests(t *testing.T) {
	Convey("Given a node at address 1", t, func() {
		node, tr := newTestNode(1)
		ctx := context.Background()

		response := func(from Address, sub uint8, payload ...byte) rawFrame {
			return rawFrame{id: EncodeUnicast(PriorityNormal, ProtocolRAP, sub, 1, uint8(from)), payload: payload}
		}

		Convey("ReadRegisters sends a two byte request and returns the values", func() {
			tr.respond = func(m Message) []rawFrame {
				if m.ID.Protocol == ProtocolRAP && m.ID.Subfields == rapRead|3 {
					return []rawFrame{
						response(9, rapResponse|3, 2, 5, 0, 0, 0), // wrong node
						response(8, rapResponse|3, 2, 6, 0, 0, 0), // wrong register
						response(8, rapResponse|2, 2, 5, 0, 0),    // wrong count
						response(8, rapResponse|3, 2, 5, 10, 20, 30),
					}
				}
				return nil
			}
			vals, err := node.ReadRegisters(ctx, 8, 2, 5, 3)
			So(err, ShouldBeNil)
			So(vals, ShouldResemble, []byte{10, 20, 30})

			sent := tr.sentMessages()
			So(sent, ShouldHaveLength, 1)
			So(sent[0].ID, ShouldResemble, MessageID{Priority: PriorityNormal, Protocol: ProtocolRAP, Subfields: 0x03, Recipient: 8, Sender: 1})
			So(sent[0].Payload, ShouldResemble, []byte{2, 5})
		})

		Convey("ReadRegisters times out without an answer", func() {
			_, err := node.ReadRegisters(ctx, 8, 2, 5, 3)
			So(errors.Is(err, ErrTimeout), ShouldBeTrue)
		})

		Convey("ReadRegisters uses the configured priority", func() {
			node, tr := newTestNode(1, WithPriority(PriorityLow))
			_, _ = node.ReadRegisters(ctx, 8, 0, 0, 1)
			So(tr.sentMessages()[0].ID.Priority, ShouldEqual, PriorityLow)
		})

		Convey("register counts outside 1..6 are rejected", func() {
			_, err := node.ReadRegisters(ctx, 8, 0, 0, 0)
			So(errors.Is(err, ErrRegisterCount), ShouldBeTrue)
			_, err = node.ReadRegisters(ctx, 8, 0, 0, 7)
			So(errors.Is(err, ErrRegisterCount), ShouldBeTrue)
			So(errors.Is(node.WriteRegisters(8, 0, 0, nil), ErrRegisterCount), ShouldBeTrue)
			So(errors.Is(node.WriteRegisters(8, 0, 0, make([]byte, 7)), ErrRegisterCount), ShouldBeTrue)
			So(tr.sentMessages(), ShouldBeEmpty)
		})

		Convey("reads from the broadcast address are rejected", func() {
			_, err := node.ReadRegisters(ctx, BroadcastAddress, 0, 0, 1)
			So(errors.Is(err, ErrInvalidAddress), ShouldBeTrue)
		})

		Convey("WriteRegisters sends page, start register and data", func() {
			So(node.WriteRegisters(8, 2, 5, []byte{10, 20, 30}), ShouldBeNil)
			sent := tr.sentMessages()
			So(sent, ShouldHaveLength, 1)
			So(sent[0].ID.Subfields, ShouldEqual, 0x23)
			So(sent[0].ID.Recipient, ShouldEqual, 8)
			So(sent[0].Payload, ShouldResemble, []byte{2, 5, 10, 20, 30})
		})

		Convey("pages can be backed by a type", func() {
			p := &arrayPage{}
			node.ConfigurePages(Pages{4: Handlers(p)})
			tr.inject(EncodeUnicast(PriorityNormal, ProtocolRAP, rapWrite|2, 1, 3), 4, 10, 0xbe, 0xef)
			node.Poll()
			So(p.regs[10], ShouldEqual, 0xbe)
			So(p.regs[11], ShouldEqual, 0xef)
		})
	})
}

type arrayPage struct {
	regs [256]byte
}

func (p *arrayPage) ReadRegister(_ Address, _, reg uint8) byte { return p.regs[reg] }

func (p *arrayPage) WriteRegister(_ Address, _, reg, value uint8) { p.regs[reg] = value }
