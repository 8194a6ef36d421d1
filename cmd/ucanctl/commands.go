package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/notnil/ucan"
	"github.com/notnil/ucan/devinfo"
	"github.com/notnil/ucan/internal/config"
	"github.com/notnil/ucan/regstore"
)

type app struct {
	ctx    context.Context
	node   *ucan.Node
	cfg    config.Config
	bank   *regstore.Bank
	log    *slog.Logger
	failed bool
}

var errUsage = errors.New("wrong number of arguments")

func (a *app) shell() *ishell.Shell {
	shell := ishell.New()
	shell.SetPrompt("ucan> ")

	add := func(name, help string, fn func(c *ishell.Context) error) {
		shell.AddCmd(&ishell.Cmd{
			Name: name,
			Help: help,
			Func: func(c *ishell.Context) {
				if err := fn(c); err != nil {
					a.failed = true
					c.Err(err)
				}
			},
		})
	}

	add("ping", "ping <addr>", a.ping)
	add("resolve", "resolve <hwid>", a.resolve)
	add("assign", "assign <hwid> <addr>", a.assign)
	add("discover", "discover", a.discover)
	add("read", "read <addr> <page> <reg> <count>", a.read)
	add("write", "write <addr> <page> <reg> <byte>...", a.write)
	add("timeout", "timeout [duration]", a.timeout)
	add("whoami", "whoami", a.whoami)
	add("version", "version <addr>", a.version)
	add("regs", "regs <page> <reg> <count>  (local registers)", a.regs)
	return shell
}

func parseAddress(s string) (ucan.Address, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("address %q: %w", s, err)
	}
	return ucan.Address(v), nil
}

func parseByte(what, s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", what, s, err)
	}
	return uint8(v), nil
}

func hexBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, " ")
}

func (a *app) ping(c *ishell.Context) error {
	if len(c.Args) != 1 {
		return errUsage
	}
	addr, err := parseAddress(c.Args[0])
	if err != nil {
		return err
	}
	start := time.Now()
	hw, ok, err := a.node.PingHardwareID(a.ctx, addr)
	if err != nil {
		return err
	}
	if !ok {
		c.Printf("%s: no answer\n", addr)
		return nil
	}
	c.Printf("%s: %s in %s\n", addr, hw, time.Since(start).Round(time.Microsecond))
	return nil
}

func (a *app) resolve(c *ishell.Context) error {
	if len(c.Args) != 1 {
		return errUsage
	}
	hw, err := ucan.ParseHardwareID(c.Args[0])
	if err != nil {
		return err
	}
	addr, err := a.node.Resolve(a.ctx, hw)
	if err != nil {
		return err
	}
	c.Printf("%s: %s\n", hw, addr)
	return nil
}

func (a *app) assign(c *ishell.Context) error {
	if len(c.Args) != 2 {
		return errUsage
	}
	hw, err := ucan.ParseHardwareID(c.Args[0])
	if err != nil {
		return err
	}
	addr, err := parseAddress(c.Args[1])
	if err != nil {
		return err
	}
	if err := a.node.AssignAddress(hw, addr); err != nil {
		return err
	}
	ok, err := a.node.Ping(a.ctx, addr)
	if err != nil {
		return err
	}
	c.Printf("%s -> %s confirmed=%t\n", hw, addr, ok)
	return nil
}

func (a *app) discover(c *ishell.Context) error {
	found, err := a.node.Discover(a.ctx)
	if err != nil {
		return err
	}
	addrs := make([]ucan.Address, 0, len(found))
	for addr := range found {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, addr := range addrs {
		c.Printf("%3d  %s\n", int(addr), found[addr])
	}
	c.Printf("%d node(s)\n", len(found))
	return nil
}

func (a *app) read(c *ishell.Context) error {
	if len(c.Args) != 4 {
		return errUsage
	}
	addr, err := parseAddress(c.Args[0])
	if err != nil {
		return err
	}
	page, err := parseByte("page", c.Args[1])
	if err != nil {
		return err
	}
	reg, err := parseByte("register", c.Args[2])
	if err != nil {
		return err
	}
	count, err := strconv.Atoi(c.Args[3])
	if err != nil {
		return fmt.Errorf("count %q: %w", c.Args[3], err)
	}
	vals, err := a.node.ReadRegisters(a.ctx, addr, page, reg, count)
	if err != nil {
		return err
	}
	c.Printf("%s page %d reg %d: %s\n", addr, page, reg, hexBytes(vals))
	return nil
}

func (a *app) write(c *ishell.Context) error {
	if len(c.Args) < 4 {
		return errUsage
	}
	addr, err := parseAddress(c.Args[0])
	if err != nil {
		return err
	}
	page, err := parseByte("page", c.Args[1])
	if err != nil {
		return err
	}
	reg, err := parseByte("register", c.Args[2])
	if err != nil {
		return err
	}
	data := make([]byte, 0, len(c.Args)-3)
	for _, s := range c.Args[3:] {
		v, err := parseByte("value", s)
		if err != nil {
			return err
		}
		data = append(data, v)
	}
	return a.node.WriteRegisters(addr, page, reg, data)
}

func (a *app) timeout(c *ishell.Context) error {
	switch len(c.Args) {
	case 0:
	case 1:
		d, err := time.ParseDuration(c.Args[0])
		if err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		a.node.SetTimeout(d)
	default:
		return errUsage
	}
	c.Printf("timeout %s\n", a.node.Timeout())
	return nil
}

func (a *app) whoami(c *ishell.Context) error {
	c.Printf("address %s hwid %s interface %s %s\n", a.node.Address(), a.node.HardwareID(), a.cfg.Interface, a.cfg.Device)
	return nil
}

func (a *app) version(c *ishell.Context) error {
	if len(c.Args) != 1 {
		return errUsage
	}
	addr, err := parseAddress(c.Args[0])
	if err != nil {
		return err
	}
	if a.cfg.Firmware == "" {
		v, err := devinfo.ReadVersion(a.ctx, a.node, addr)
		if err != nil {
			return err
		}
		c.Printf("%s: %s\n", addr, v)
		return nil
	}
	v, err := devinfo.Verify(a.ctx, a.node, addr, a.cfg.Firmware)
	if err != nil {
		return err
	}
	c.Printf("%s: %s (satisfies %s)\n", addr, v, a.cfg.Firmware)
	return nil
}

func (a *app) regs(c *ishell.Context) error {
	if len(c.Args) != 3 {
		return errUsage
	}
	page, err := parseByte("page", c.Args[0])
	if err != nil {
		return err
	}
	reg, err := parseByte("register", c.Args[1])
	if err != nil {
		return err
	}
	count, err := strconv.Atoi(c.Args[2])
	if err != nil || count < 1 || count > regstore.PageSize {
		return fmt.Errorf("count %q out of range", c.Args[2])
	}
	snap, err := a.bank.Snapshot(page)
	if err != nil {
		return err
	}
	regs := snap[page]
	out := make([]byte, count)
	for i := range out {
		out[i] = regs[reg+uint8(i)]
	}
	c.Printf("local page %d reg %d: %s\n", page, reg, hexBytes(out))
	return nil
}
