// canmap-cfg drives the configuration protocol of a remote mapping node:
// reading and writing parameters and adding mapping entries over the bus.
package main

import (
	"errors"
	"flag"
	"fmt"
	"time"

	canmap "github.com/evdrive/go-canmap"
	"github.com/evdrive/go-canmap/bus"
	"github.com/evdrive/go-canmap/bus/slcan"
	"github.com/evdrive/go-canmap/bus/socketcan"
	"github.com/evdrive/go-canmap/param"
	"github.com/pterm/pterm"
	"github.com/tarm/serial"
)

func main() {
	ifName := flag.String("can", "", "SocketCAN interface name, for example can0")
	deviceAddr := flag.String("device", "", "path to SLCAN serial device, for example /dev/ttyUSB0")
	baudRate := flag.Int("baud", 115200, "serial device baud rate")
	nodeID := flag.Uint("node", 1, "node id of the remote node")
	timeout := flag.Duration("timeout", time.Second, "how long to wait for the reply")

	read := flag.Int("read", -1, "read the parameter with this index")
	write := flag.Int("write", -1, "write the parameter with this index")
	value := flag.Float64("value", 0, "value for -write")
	byID := flag.Bool("stable", false, "address the parameter by stable id instead of fast index")

	mapDir := flag.String("map", "", "add a mapping: tx or rx")
	mapParam := flag.Int("param", 0, "parameter index for -map")
	mapCanID := flag.Uint("canid", 0x100, "CAN identifier for -map (11 bits)")
	mapOffset := flag.Uint("offset", 0, "bit offset for -map")
	mapLength := flag.Uint("length", 8, "bit length for -map")
	mapGain := flag.Float64("gain", 1.0, "gain for -map (Q5 fixed point on the wire)")
	flag.Parse()

	req, err := buildRequest(requestSpec{
		read: *read, write: *write, value: *value, byID: *byID,
		mapDir: *mapDir, mapParam: *mapParam, mapCanID: uint32(*mapCanID),
		mapOffset: uint8(*mapOffset), mapLength: uint8(*mapLength), mapGain: float32(*mapGain),
	})
	if err != nil {
		pterm.Error.Println(err)
		return
	}

	transport, err := openTransport(*ifName, *deviceAddr, *baudRate)
	if err != nil {
		pterm.Error.Println(err)
		return
	}
	defer transport.Close()

	reply, err := exchange(transport, uint8(*nodeID), req, *timeout)
	if err != nil {
		pterm.Error.Println(err)
		return
	}

	printReply(req, reply)
}

type requestSpec struct {
	read, write int
	value       float64
	byID        bool

	mapDir    string
	mapParam  int
	mapCanID  uint32
	mapOffset uint8
	mapLength uint8
	mapGain   float32
}

func buildRequest(spec requestSpec) (canmap.SDO, error) {
	paramIndex := uint16(0x2000)
	if spec.byID {
		paramIndex = 0x2001
	}

	switch {
	case spec.read >= 0:
		return canmap.SDO{Cmd: canmap.SDORead, Index: paramIndex, SubIndex: uint8(spec.read)}, nil
	case spec.write >= 0:
		return canmap.SDO{
			Cmd:      canmap.SDOWrite,
			Index:    paramIndex,
			SubIndex: uint8(spec.write),
			Data:     uint32(param.FromFloat(float32(spec.value))),
		}, nil
	case spec.mapDir != "":
		var index uint16
		switch spec.mapDir {
		case "rx":
			index = 0x4000 | uint16(spec.mapCanID&0x7FF)
		case "tx":
			index = 0x3000 | uint16(spec.mapCanID&0x7FF)
		default:
			return canmap.SDO{}, fmt.Errorf("bad -map direction %q, want tx or rx", spec.mapDir)
		}
		return canmap.SDO{
			Cmd:      canmap.SDOWrite,
			Index:    index,
			SubIndex: uint8(spec.mapParam),
			Data:     canmap.MapData(spec.mapOffset, spec.mapLength, spec.mapGain),
		}, nil
	}
	return canmap.SDO{}, errors.New("one of -read, -write or -map is required")
}

// exchange sends the request and reads frames until the node's reply
// identifier comes back or the timeout passes.
func exchange(transport bus.Transport, nodeID uint8, req canmap.SDO, timeout time.Duration) (canmap.SDO, error) {
	if err := transport.SendFrame(bus.FrameFromWords(canmap.SDORequestID(nodeID), req.Payload())); err != nil {
		return canmap.SDO{}, fmt.Errorf("request send failed: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		f, err := transport.ReadFrame()
		if errors.Is(err, bus.ErrReadTimeout) {
			continue
		}
		if err != nil {
			return canmap.SDO{}, err
		}
		if f.ID == canmap.SDOReplyID(nodeID) {
			return canmap.SDOFromPayload(f.PayloadWords()), nil
		}
	}
	return canmap.SDO{}, errors.New("no reply from node")
}

func printReply(req, reply canmap.SDO) {
	switch reply.Cmd {
	case canmap.SDOReadReply:
		pterm.Success.Printfln("parameter %d = %g (raw 0x%08X)",
			req.SubIndex, param.ToFloat(int32(reply.Data)), reply.Data)
	case canmap.SDOWriteReply:
		pterm.Success.Printfln("write acknowledged")
	case canmap.SDOAbort:
		switch reply.Data {
		case canmap.SDOErrRange:
			pterm.Error.Printfln("node aborted: value out of range")
		case canmap.SDOErrInvalidIndex:
			pterm.Error.Printfln("node aborted: invalid index")
		default:
			pterm.Error.Printfln("node aborted: code 0x%08X", reply.Data)
		}
	default:
		pterm.Warning.Printfln("unexpected reply command 0x%02X", reply.Cmd)
	}
}

func openTransport(ifName, deviceAddr string, baudRate int) (bus.Transport, error) {
	if ifName != "" {
		conn, err := socketcan.NewConnection(ifName)
		if err != nil {
			return nil, err
		}
		if err := conn.SetReadTimeout(100 * time.Millisecond); err != nil {
			return nil, err
		}
		return conn, nil
	}
	if deviceAddr != "" {
		port, err := serial.OpenPort(&serial.Config{
			Name:        deviceAddr,
			Baud:        baudRate,
			ReadTimeout: 100 * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}
		return slcan.NewDevice(port), nil
	}
	return nil, errors.New("either -can or -device is required")
}
