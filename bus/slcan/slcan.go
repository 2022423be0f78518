// Package slcan implements the bus transport over the textual SLCAN
// protocol, as spoken by serial CAN adapters and slcand.
package slcan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/evdrive/go-canmap/bus"
)

// ErrNotDataFrame is returned for lines that are valid SLCAN traffic but not
// data frames (remote requests, command acknowledgements).
var ErrNotDataFrame = errors.New("not an SLCAN data frame")

// Encode converts a frame into its SLCAN ASCII line, including the
// terminating carriage return. Standard frames use 't', extended frames 'T'.
func Encode(f bus.Frame) string {
	var b strings.Builder
	if f.Extended() {
		b.WriteByte('T')
		fmt.Fprintf(&b, "%08X", f.ID&0x1FFFFFFF)
	} else {
		b.WriteByte('t')
		fmt.Fprintf(&b, "%03X", f.ID&0x7FF)
	}

	b.WriteByte('0' + (f.Length & 0x0F))
	for i := uint8(0); i < f.Length && i < 8; i++ {
		fmt.Fprintf(&b, "%02X", f.Data[i])
	}

	b.WriteByte('\r')
	return b.String()
}

// Decode parses one SLCAN line (without the trailing carriage return) into a
// frame.
func Decode(line string) (bus.Frame, error) {
	if line == "" {
		return bus.Frame{}, ErrNotDataFrame
	}

	var idDigits int
	switch line[0] {
	case 't':
		idDigits = 3
	case 'T':
		idDigits = 8
	case 'r', 'R':
		return bus.Frame{}, ErrNotDataFrame
	default:
		return bus.Frame{}, ErrNotDataFrame
	}

	if len(line) < 1+idDigits+1 {
		return bus.Frame{}, fmt.Errorf("SLCAN line too short: %q", line)
	}

	id, err := strconv.ParseUint(line[1:1+idDigits], 16, 32)
	if err != nil {
		return bus.Frame{}, fmt.Errorf("bad SLCAN identifier: %w", err)
	}

	dlc := line[1+idDigits] - '0'
	if dlc > 8 {
		return bus.Frame{}, fmt.Errorf("bad SLCAN DLC %c", line[1+idDigits])
	}

	data := line[1+idDigits+1:]
	if len(data) < int(dlc)*2 {
		return bus.Frame{}, fmt.Errorf("SLCAN line truncated: %q", line)
	}

	f := bus.Frame{ID: uint32(id), Length: dlc}
	for i := uint8(0); i < dlc; i++ {
		b, err := strconv.ParseUint(data[i*2:i*2+2], 16, 8)
		if err != nil {
			return bus.Frame{}, fmt.Errorf("bad SLCAN data byte: %w", err)
		}
		f.Data[i] = byte(b)
	}
	return f, nil
}

// Device speaks SLCAN over any byte stream, typically a serial port. It
// implements bus.Transport.
type Device struct {
	rw io.ReadWriter
	r  *bufio.Reader
}

// NewDevice wraps an open byte stream.
func NewDevice(rw io.ReadWriter) *Device {
	return &Device{rw: rw, r: bufio.NewReader(rw)}
}

// SendFrame writes one frame.
func (d *Device) SendFrame(f bus.Frame) error {
	_, err := io.WriteString(d.rw, Encode(f))
	return err
}

// ReadFrame reads lines until a data frame arrives. Non-frame traffic is
// skipped silently, read deadlines of the underlying stream surface as
// bus.ErrReadTimeout.
func (d *Device) ReadFrame() (bus.Frame, error) {
	for {
		line, err := d.r.ReadString('\r')
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" {
				return bus.Frame{}, io.EOF
			}
			if err, ok := err.(interface{ Timeout() bool }); ok && err.Timeout() {
				return bus.Frame{}, bus.ErrReadTimeout
			}
			return bus.Frame{}, err
		}

		f, err := Decode(strings.TrimRight(line, "\r"))
		if errors.Is(err, ErrNotDataFrame) {
			continue
		}
		if err != nil {
			return bus.Frame{}, err
		}
		return f, nil
	}
}

// Close closes the underlying stream when it is closable.
func (d *Device) Close() error {
	if c, ok := d.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
