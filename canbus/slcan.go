//go:build !tinygo

package canbus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
)

// SLCAN (Lawicel) serial-line CAN. USB-CAN dongles such as CANable or
// USBtin expose the bus as a serial port speaking this ASCII protocol:
//
//	tIIILDD..\r       standard data frame
//	TIIIIIIIILDD..\r  extended data frame
//	r / R             remote frames, same layout without data
//
// Commands are acknowledged with '\r' and rejected with '\a'.

// slcanReadTimeout bounds each serial read so Receive observes its context.
const slcanReadTimeout = 50 * time.Millisecond

// slcanBitrates maps a bitrate in bit/s to the SLCAN "Sn" setup code.
var slcanBitrates = map[uint32]int{
	10000:   0,
	20000:   1,
	50000:   2,
	100000:  3,
	125000:  4,
	250000:  5,
	500000:  6,
	800000:  7,
	1000000: 8,
}

// ErrSLCANSyntax reports a line that is not a well-formed SLCAN frame.
var ErrSLCANSyntax = errors.New("canbus: malformed slcan frame")

// DialSLCAN opens the serial device, configures the adapter for bitrate and
// opens the CAN channel.
func DialSLCAN(device string, baud int, bitrate uint32) (Bus, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: slcanReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("canbus: open serial port %s: %w", device, err)
	}
	bus, err := NewSLCAN(port, bitrate)
	if err != nil {
		port.Close()
		return nil, err
	}
	return bus, nil
}

// NewSLCAN runs the SLCAN protocol over an already opened serial stream.
// The stream is owned by the returned Bus.
func NewSLCAN(rw io.ReadWriteCloser, bitrate uint32) (Bus, error) {
	code, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("canbus: unsupported slcan bitrate %d", bitrate)
	}
	s := &slcanBus{rw: rw}
	// Close any channel left open by a previous session before configuring.
	for _, cmd := range []string{"C\r", "S" + strconv.Itoa(code) + "\r", "O\r"} {
		if err := s.write([]byte(cmd)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

type slcanBus struct {
	rw io.ReadWriteCloser

	wmu sync.Mutex

	rmu     sync.Mutex
	pending []byte

	cmu    sync.Mutex
	closed bool

	malformed atomic.Uint64
}

// Malformed returns how many frame lines could not be decoded and were
// skipped. The Bus returned by NewSLCAN and DialSLCAN implements it.
func (s *slcanBus) Malformed() uint64 {
	return s.malformed.Load()
}

func (s *slcanBus) write(b []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.rw.Write(b)
	return err
}

func (s *slcanBus) isClosed() bool {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	return s.closed
}

// Send writes one frame as an SLCAN line.
func (s *slcanBus) Send(ctx context.Context, frame Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrClosed
	}
	line, err := EncodeSLCAN(frame)
	if err != nil {
		return err
	}
	return s.write([]byte(line))
}

// Receive returns the next frame line from the adapter. Acknowledgements and
// status replies are skipped, as are frame lines that fail to decode, so a
// line garbled on the serial link never ends reception.
func (s *slcanBus) Receive(ctx context.Context) (Frame, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	buf := make([]byte, 64)
	for {
		for {
			i := bytes.IndexAny(s.pending, "\r\a")
			if i < 0 {
				break
			}
			line := string(s.pending[:i])
			s.pending = s.pending[i+1:]
			if !isSLCANFrameLine(line) {
				continue
			}
			f, err := DecodeSLCAN(line)
			if err != nil {
				s.malformed.Add(1)
				continue
			}
			return f, nil
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if s.isClosed() {
			return Frame{}, ErrClosed
		}
		n, err := s.rw.Read(buf)
		s.pending = append(s.pending, buf[:n]...)
		if err != nil && !errors.Is(err, io.EOF) {
			if s.isClosed() {
				return Frame{}, ErrClosed
			}
			return Frame{}, err
		}
	}
}

// Close closes the CAN channel and the serial stream.
func (s *slcanBus) Close() error {
	s.cmu.Lock()
	if s.closed {
		s.cmu.Unlock()
		return nil
	}
	s.closed = true
	s.cmu.Unlock()
	_ = s.write([]byte("C\r"))
	return s.rw.Close()
}

func isSLCANFrameLine(line string) bool {
	if line == "" {
		return false
	}
	switch line[0] {
	case 't', 'T', 'r', 'R':
		return true
	}
	return false
}

// EncodeSLCAN renders frame as an SLCAN transmit command including the
// trailing carriage return.
func EncodeSLCAN(frame Frame) (string, error) {
	if err := frame.Validate(); err != nil {
		return "", err
	}
	var b strings.Builder
	switch {
	case frame.RTR && frame.Extended:
		b.WriteByte('R')
	case frame.RTR:
		b.WriteByte('r')
	case frame.Extended:
		b.WriteByte('T')
	default:
		b.WriteByte('t')
	}
	if frame.Extended {
		fmt.Fprintf(&b, "%08X", frame.ID&canEffMask)
	} else {
		fmt.Fprintf(&b, "%03X", frame.ID&canStdMask)
	}
	b.WriteByte('0' + frame.Len)
	if !frame.RTR {
		for _, c := range frame.Payload() {
			fmt.Fprintf(&b, "%02X", c)
		}
	}
	b.WriteByte('\r')
	return b.String(), nil
}

// DecodeSLCAN parses one SLCAN frame line without its terminator.
func DecodeSLCAN(line string) (Frame, error) {
	var f Frame
	if len(line) < 1 {
		return f, ErrSLCANSyntax
	}
	idLen := 3
	switch line[0] {
	case 't':
	case 'T':
		f.Extended = true
		idLen = 8
	case 'r':
		f.RTR = true
	case 'R':
		f.Extended = true
		f.RTR = true
		idLen = 8
	default:
		return f, ErrSLCANSyntax
	}
	if len(line) < 1+idLen+1 {
		return f, ErrSLCANSyntax
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return f, ErrSLCANSyntax
	}
	f.ID = uint32(id)
	dlc := line[1+idLen]
	if dlc < '0' || dlc > '8' {
		return f, ErrSLCANSyntax
	}
	f.Len = dlc - '0'
	data := line[2+idLen:]
	if !f.RTR {
		// Some adapters append a 4-digit timestamp after the data bytes.
		if len(data) < 2*int(f.Len) {
			return f, ErrSLCANSyntax
		}
		for i := 0; i < int(f.Len); i++ {
			v, err := strconv.ParseUint(data[2*i:2*i+2], 16, 8)
			if err != nil {
				return f, ErrSLCANSyntax
			}
			f.Data[i] = byte(v)
		}
	}
	return f, f.Validate()
}
