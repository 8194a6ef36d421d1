package ucan_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/notnil/ucan"
	"github.com/notnil/ucan/canbus"
	"github.com/notnil/ucan/devinfo"
	"github.com/notnil/ucan/regstore"
)

// simNode is a node on a shared loopback bus running its own receive loop.
type simNode struct {
	*ucan.Node
	t      *ucan.BusTransport
	cancel context.CancelFunc
	done   chan error
}

func joinSim(lb *canbus.LoopbackBus, hw uint64, addr ucan.Address, pages ucan.Pages) (*simNode, error) {
	t := ucan.NewBusTransport(lb.Open())
	n := ucan.New(t, ucan.HardwareIDFromUint64(hw), addr,
		ucan.WithTimeout(50*time.Millisecond),
		ucan.WithPollInterval(200*time.Microsecond),
		ucan.WithPages(pages),
	)
	if err := n.Join(context.Background()); err != nil {
		t.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &simNode{Node: n, t: t, cancel: cancel, done: make(chan error, 1)}
	go func() { s.done <- n.Run(ctx) }()
	return s, nil
}

func (s *simNode) stop() error {
	s.cancel()
	err := <-s.done
	s.t.Close()
	return err
}

func TestLoopbackNetwork(t *testing.T) {
	Convey("Given two nodes serving registers on a loopback bus", t, func() {
		lb := canbus.NewLoopbackBus()

		bank := regstore.NewBank()
		bank.Add(0, regstore.NewMemory())
		info, err := devinfo.Page("2.1.0")
		So(err, ShouldBeNil)
		bank.Add(devinfo.PageNumber, info)

		b, err := joinSim(lb, 0xB0B, 20, bank.Pages())
		So(err, ShouldBeNil)
		c, err := joinSim(lb, 0xC0C, 21, nil)
		So(err, ShouldBeNil)

		ht := ucan.NewBusTransport(lb.Open())
		host := ucan.New(ht, ucan.HardwareIDFromUint64(0xA0A), 1,
			ucan.WithTimeout(50*time.Millisecond),
			ucan.WithPollInterval(200*time.Microsecond),
		)
		ctx := context.Background()
		So(host.Join(ctx), ShouldBeNil)

		Reset(func() {
			_ = b.stop()
			_ = c.stop()
			ht.Close()
			lb.Close()
		})

		Convey("the host can ping both", func() {
			hw, ok, err := host.PingHardwareID(ctx, 20)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(hw, ShouldResemble, ucan.HardwareIDFromUint64(0xB0B))

			ok, err = host.Ping(ctx, 21)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			ok, err = host.Ping(ctx, 22)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("hardware ids resolve to addresses", func() {
			addr, err := host.Resolve(ctx, ucan.HardwareIDFromUint64(0xC0C))
			So(err, ShouldBeNil)
			So(addr, ShouldEqual, ucan.Address(21))

			addr, err = host.Resolve(ctx, ucan.HardwareIDFromUint64(0xDEAD))
			So(err, ShouldBeNil)
			So(addr, ShouldEqual, ucan.NotFound)
		})

		Convey("discovery finds every node", func() {
			found, err := host.Discover(ctx)
			So(err, ShouldBeNil)
			So(found, ShouldResemble, map[ucan.Address]ucan.HardwareID{
				20: ucan.HardwareIDFromUint64(0xB0B),
				21: ucan.HardwareIDFromUint64(0xC0C),
			})
		})

		Convey("registers written remotely read back", func() {
			So(host.WriteRegisters(20, 0, 5, []byte{10, 20, 30}), ShouldBeNil)

			var vals []byte
			for i := 0; i < 20; i++ {
				vals, err = host.ReadRegisters(ctx, 20, 0, 5, 3)
				So(err, ShouldBeNil)
				if vals[0] == 10 {
					break
				}
			}
			So(vals, ShouldResemble, []byte{10, 20, 30})
			snap, err := bank.Snapshot(0)
			So(err, ShouldBeNil)
			page := snap[0]
			So(page[5:8], ShouldResemble, []byte{10, 20, 30})
		})

		Convey("the firmware version is readable", func() {
			v, err := devinfo.Verify(ctx, host, 20, "^2")
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "2.1.0")
		})

		Convey("reads from an absent node time out", func() {
			_, err := host.ReadRegisters(ctx, 99, 0, 0, 1)
			So(errors.Is(err, ucan.ErrTimeout), ShouldBeTrue)
		})

		Convey("an assigned node moves", func() {
			moved := make(chan ucan.Address, 1)
			c.OnAddressChange(func(a ucan.Address) { moved <- a })
			So(host.AssignAddress(ucan.HardwareIDFromUint64(0xC0C), 42), ShouldBeNil)

			got := ucan.NotFound
			select {
			case got = <-moved:
			case <-time.After(time.Second):
			}
			So(got, ShouldEqual, ucan.Address(42))
			So(c.Address(), ShouldEqual, ucan.Address(42))
			ok, err := host.Ping(ctx, 42)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("a joining node skips taken addresses", func() {
			d, err := joinSim(lb, 0xD0D, 20, nil)
			So(err, ShouldBeNil)
			So(d.Address(), ShouldEqual, ucan.Address(22))
			So(errors.Is(d.stop(), context.Canceled), ShouldBeTrue)
		})

		Convey("waits from several goroutines are serialized", func() {
			var wg sync.WaitGroup
			results := make([]bool, 8)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ok, err := host.Ping(ctx, ucan.Address(20+i%2))
					results[i] = ok && err == nil
				}(i)
			}
			wg.Wait()
			for _, ok := range results {
				So(ok, ShouldBeTrue)
			}
		})
	})
}
