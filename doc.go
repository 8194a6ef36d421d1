// Package ucan implements the uCAN node protocols on top of a shared CAN bus.
//
// Every frame carries a 29-bit extended identifier that packs a priority, a
// protocol number, a broadcast flag, protocol specific subfields and the
// sender (and, for unicast frames, the recipient) node address. Two protocols
// are defined:
//
//   - YARP, the addressing protocol: liveness pings, resolving a node's
//     6-byte hardware id to its 8-bit address, assigning addresses, and
//     collision avoidance when a node joins the bus.
//   - RAP, the register protocol: paged reads and writes of up to
//     MaxRegisters byte registers per frame.
//
// A Node owns one Transport. Requests that expect an answer block in a
// correlation wait that keeps dispatching unrelated inbound traffic, so a
// node waiting on a response still answers other nodes' pings and register
// requests. Between requests, Run (or repeated calls to Poll) does the same.
//
//	bus, _ := canbus.DialSocketCAN("can0")
//	t := ucan.NewBusTransport(bus)
//	defer t.Close()
//
//	node := ucan.New(t, hw, 10, ucan.WithPages(pages))
//	if err := node.Join(ctx); err != nil {
//		return err
//	}
//	go node.Run(ctx)
package ucan
