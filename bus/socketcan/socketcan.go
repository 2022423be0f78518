// Package socketcan implements the bus transport on top of a Linux raw
// AF_CAN socket.
package socketcan

import (
	"encoding/binary"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/evdrive/go-canmap/bus"
	"golang.org/x/sys/unix"
)

const (
	canRaw = 1

	// canIDMask selects bits 0-28, the CAN identifier itself.
	canIDMask = uint32(1)<<29 - 1
	// canIDERRFlag is bit 29 in CAN ID and means ERR error message flag (0 = data frame, 1 = error message)
	canIDERRFlag = uint32(1 << 29)
	// canIDRTRFlag is bit 30 in CAN ID and means RTR remote transmission request (1 = rtr frame)
	canIDRTRFlag = uint32(1 << 30)
	// canIDEFFFlag is bit 31 in CAN ID and means EFF extended frame format / IDE identifier extension flag (0 = standard 11 bit, 1 = extended 29 bit)
	canIDEFFFlag = uint32(1 << 31)
)

// Connection is one bound raw CAN socket. It implements bus.Transport.
type Connection struct {
	socketFD int
}

// NewConnection opens and binds a raw CAN socket on the named interface
// (for example "can0").
func NewConnection(ifName string) (*Connection, error) {
	ifi, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("bad ifName: %w", err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRaw)
	if err != nil {
		return nil, fmt.Errorf("could not create CAN socket: %w", err)
	}

	addr := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err = unix.Bind(fd, addr); err != nil {
		return nil, fmt.Errorf("could not bind CAN socket: %w", err)
	}

	return &Connection{socketFD: fd}, nil
}

func isContinuableSocketErr(err error) bool {
	// EWOULDBLOCK - a receive or send returns it when SO_RCVTIMEO/SO_SNDTIMEO
	// elapses while no data became available or the output buffer stayed full.
	// EINTR - a signal arrived during the blocking operation.
	return err == syscall.EWOULDBLOCK || err == syscall.EINTR
}

// SetReadTimeout bounds how long ReadFrame blocks. With a timeout set,
// ReadFrame returns bus.ErrReadTimeout when it elapses, letting the dispatch
// loop poll its context.
func (c *Connection) SetReadTimeout(timeout time.Duration) error {
	return c.setSocketTimeout(unix.SO_RCVTIMEO, timeout)
}

// SetSendTimeout bounds how long SendFrame blocks.
func (c *Connection) SetSendTimeout(timeout time.Duration) error {
	return c.setSocketTimeout(unix.SO_SNDTIMEO, timeout)
}

func (c *Connection) setSocketTimeout(opt int, timeout time.Duration) error {
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	return unix.SetsockoptTimeval(c.socketFD, unix.SOL_SOCKET, opt, &tv)
}

// Close closes the socket.
func (c *Connection) Close() error {
	return unix.Close(c.socketFD)
}

// SendFrame writes one frame.
func (c *Connection) SendFrame(f bus.Frame) error {
	// Can frame structure: https://github.com/linux-can/can-utils/blob/affdc1b79973c7497bb8607603c24734e11a91aa/include/linux/can.h#L107
	canFrame := make([]byte, 16)

	canID := f.ID & canIDMask
	if f.Extended() {
		canID |= canIDEFFFlag
	}
	binary.LittleEndian.PutUint32(canFrame[0:4], canID)

	canFrame[4] = f.Length
	copy(canFrame[8:], f.Data[:f.Length])

	_, err := unix.Write(c.socketFD, canFrame)
	if isContinuableSocketErr(err) {
		return fmt.Errorf("frame write timeout: %w", err)
	}
	return err
}

// ReadFrame reads one frame, skipping nothing: remote transmission requests
// and error frames surface as errors.
func (c *Connection) ReadFrame() (bus.Frame, error) {
	canFrame := make([]byte, 16)
	_, err := unix.Read(c.socketFD, canFrame)
	if err != nil {
		if isContinuableSocketErr(err) {
			return bus.Frame{}, bus.ErrReadTimeout
		}
		return bus.Frame{}, err
	}

	canID := binary.LittleEndian.Uint32(canFrame[0:4])
	if canID&canIDRTRFlag != 0 {
		return bus.Frame{}, fmt.Errorf("read CAN remote transmission request frame")
	} else if canID&canIDERRFlag != 0 {
		return bus.Frame{}, fmt.Errorf("read CAN error message frame")
	}

	f := bus.Frame{
		ID:     canID & canIDMask,
		Length: canFrame[4],
	}
	copy(f.Data[:], canFrame[8:8+f.Length])

	return f, nil
}
