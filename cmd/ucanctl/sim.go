package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/notnil/ucan"
	"github.com/notnil/ucan/canbus"
	"github.com/notnil/ucan/devinfo"
	"github.com/notnil/ucan/internal/config"
	"github.com/notnil/ucan/regstore"
)

const (
	simFirmware     = "1.4.0"
	simFirstAddress = 10
	simHardwareBase = 0x4d4953000000 // "SIM" in the high bytes
	simJoinTimeout  = 20 * time.Millisecond
	simTick         = 100 * time.Millisecond
)

// startSimulation attaches cfg.SimNodes simulated devices to lb. Each one
// serves a RAM page whose first two registers count ticks and a device
// information page.
func startSimulation(ctx context.Context, lb *canbus.LoopbackBus, cfg config.Config, log *slog.Logger) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	var transports []*ucan.BusTransport
	stop := func() {
		cancel()
		wg.Wait()
		for _, t := range transports {
			t.Close()
		}
	}

	for i := 0; i < cfg.SimNodes; i++ {
		bank := regstore.NewBank()
		bank.Add(pageRAM, regstore.NewMemory())
		info, err := devinfo.Page(simFirmware)
		if err != nil {
			stop()
			return nil, err
		}
		bank.Add(devinfo.PageNumber, info)

		t := ucan.NewBusTransport(lb.Open())
		transports = append(transports, t)
		hw := ucan.HardwareIDFromUint64(simHardwareBase + uint64(i))
		nlog := log.With("sim", i)
		node := ucan.New(t, hw, ucan.Address(simFirstAddress+i),
			ucan.WithTimeout(simJoinTimeout),
			ucan.WithPollInterval(cfg.PollInterval),
			ucan.WithLogger(nlog),
			ucan.WithPages(bank.Pages()),
		)
		if err := node.Join(ctx); err != nil {
			stop()
			return nil, fmt.Errorf("sim node %d: %w", i, err)
		}
		nlog.Info("sim node up", "address", node.Address(), "hwid", hw.String())

		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := node.Run(ctx); err != nil && ctx.Err() == nil {
				nlog.Error("sim node stopped", "error", err)
			}
		}()
		go func() {
			defer wg.Done()
			tick(ctx, bank)
		}()
	}
	return stop, nil
}

// tick advances a 16-bit big endian counter in registers 0 and 1.
func tick(ctx context.Context, bank *regstore.Bank) {
	ticker := time.NewTicker(simTick)
	defer ticker.Stop()
	var n uint16
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			_ = bank.Commit(regstore.Edit{Page: pageRAM, Reg: 0, Data: []byte{byte(n >> 8), byte(n)}})
		}
	}
}
