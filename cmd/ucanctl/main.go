// Command ucanctl joins a CAN bus as a uCAN node and offers an interactive
// shell for pinging, resolving, addressing and reading or writing registers
// of other nodes.
//
//	ucanctl -config ucan.toml
//	ucanctl -sim -c "discover; read 10 0 0 4"
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/shlex"

	"github.com/notnil/ucan"
	"github.com/notnil/ucan/canbus"
	"github.com/notnil/ucan/devinfo"
	"github.com/notnil/ucan/internal/config"
	"github.com/notnil/ucan/internal/logging"
	"github.com/notnil/ucan/regstore"
)

// version is announced on the device information page.
const version = "0.3.0"

// Register pages served by ucanctl itself.
const (
	pageRAM uint8 = 0
	pageNVM uint8 = 1
)

var (
	configPath = flag.String("config", "", "TOML or YAML configuration file")
	simulate   = flag.Bool("sim", false, "use a loopback bus populated with simulated nodes")
	script     = flag.String("c", "", "run semicolon separated commands and exit")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ucanctl:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *simulate {
		cfg.Interface = config.InterfaceLoopback
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, cleanup, err := openBus(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	hw, _ := cfg.HW()
	bank, closeBank, err := hostPages(cfg, log)
	if err != nil {
		return err
	}
	defer closeBank()

	t := ucan.NewBusTransport(canbus.NewLoggedBus(bus, log.With("component", "canbus"), logging.LevelTrace, canbus.LogAll, nil))
	defer t.Close()
	node := ucan.New(t, hw, cfg.NodeAddress(),
		ucan.WithTimeout(cfg.Timeout),
		ucan.WithPollInterval(cfg.PollInterval),
		ucan.WithPriority(cfg.NodePriority()),
		ucan.WithLogger(log.With("component", "ucan")),
		ucan.WithPages(bank.Pages()),
	)
	node.OnAddressChange(func(a ucan.Address) {
		log.Warn("address reassigned", "address", a)
	})
	node.OnPong(func(hw ucan.HardwareID, from ucan.Address) {
		log.Debug("pong", "from", from, "hwid", hw.String())
	})

	if err := node.Join(ctx); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := node.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Error("receive loop stopped", "error", err)
			stop()
		}
	}()

	a := &app{ctx: ctx, node: node, cfg: cfg, bank: bank, log: log}
	shell := a.shell()
	if *script != "" {
		return runScript(shell, a, *script)
	}
	shell.Printf("ucanctl %s, node %s at address %s\n", version, hw, node.Address())
	go func() {
		<-ctx.Done()
		shell.Close()
	}()
	shell.Run()
	return nil
}

func openBus(ctx context.Context, cfg config.Config, log *slog.Logger) (canbus.Bus, func(), error) {
	switch cfg.Interface {
	case config.InterfaceLoopback:
		lb := canbus.NewLoopbackBus()
		stopSim, err := startSimulation(ctx, lb, cfg, log)
		if err != nil {
			lb.Close()
			return nil, nil, err
		}
		return lb.Open(), func() {
			stopSim()
			lb.Close()
		}, nil

	case config.InterfaceSLCAN:
		bus, err := canbus.DialSLCAN(cfg.Device, cfg.Baud, cfg.Bitrate)
		if err != nil {
			return nil, nil, err
		}
		return bus, func() {}, nil

	default:
		if cfg.BringUp {
			if err := canbus.BringUp(cfg.Device, cfg.Bitrate); err != nil {
				return nil, nil, fmt.Errorf("bring up %s: %w", cfg.Device, err)
			}
			log.Info("interface up", "device", cfg.Device, "bitrate", cfg.Bitrate)
		}
		bus, err := canbus.DialSocketCAN(cfg.Device)
		if err != nil {
			return nil, nil, err
		}
		return bus, func() {}, nil
	}
}

// hostPages builds the pages ucanctl serves: scratch RAM, optionally
// persisted registers, and the device information page.
func hostPages(cfg config.Config, log *slog.Logger) (*regstore.Bank, func(), error) {
	bank := regstore.NewBank()
	bank.Add(pageRAM, regstore.NewMemory())
	info, err := devinfo.Page(version)
	if err != nil {
		return nil, nil, err
	}
	bank.Add(devinfo.PageNumber, info)

	if cfg.NVMPath == "" {
		return bank, func() {}, nil
	}
	store, err := regstore.Open(cfg.NVMPath, log.With("component", "regstore"))
	if err != nil {
		return nil, nil, err
	}
	nvm, err := store.Page(pageNVM)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	bank.AddNVM(pageNVM, nvm)
	return bank, func() { store.Close() }, nil
}

type processor interface {
	Process(args ...string) error
}

func runScript(p processor, a *app, script string) error {
	for _, line := range strings.Split(script, ";") {
		args, err := shlex.Split(line)
		if err != nil {
			return fmt.Errorf("parse %q: %w", line, err)
		}
		if len(args) == 0 {
			continue
		}
		if err := p.Process(args...); err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		if a.failed {
			return fmt.Errorf("%s failed", args[0])
		}
	}
	return nil
}
