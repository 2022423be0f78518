// canmap-node runs a complete mapping node on a real or serial CAN bus: it
// answers the configuration protocol, decodes mapped receive frames into its
// parameter table, periodically transmits the mapped send frames and persists
// the mapping across restarts through a file-backed flash image.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	canmap "github.com/evdrive/go-canmap"
	"github.com/evdrive/go-canmap/bus"
	"github.com/evdrive/go-canmap/bus/slcan"
	"github.com/evdrive/go-canmap/bus/socketcan"
	"github.com/evdrive/go-canmap/flash"
	"github.com/evdrive/go-canmap/param"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

const (
	flashSize     = 128 * 1024
	flashPageSize = 1024
)

func main() {
	ifName := flag.String("can", "", "SocketCAN interface name, for example can0")
	deviceAddr := flag.String("device", "", "path to SLCAN serial device, for example /dev/ttyUSB0")
	baudRate := flag.Int("baud", 115200, "serial device baud rate")
	nodeID := flag.Uint("node", 1, "configuration protocol node id")
	flashFile := flag.String("flash", "canmap.bin", "file backing the flash image")
	interval := flag.Duration("interval", 100*time.Millisecond, "periodic send interval")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	transport, err := openTransport(*ifName, *deviceAddr, *baudRate)
	if err != nil {
		logrus.Fatal(err)
	}
	defer transport.Close()

	params, err := param.NewTable(demoParams())
	if err != nil {
		logrus.Fatal(err)
	}

	mem := loadFlash(*flashFile)

	b := bus.New(transport)
	m := canmap.New(b, params, mem, flash.NewCRC32(), canmap.Config{NodeID: uint8(*nodeID)})
	b.AddReceiveCallback(m)

	go func() {
		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).Error("bus loop ended")
			cancel()
		}
	}()

	area, _ := pterm.DefaultArea.WithFullscreen().Start()
	sendTicker := time.NewTicker(*interval)
	defer sendTicker.Stop()
	renderTicker := time.NewTicker(500 * time.Millisecond)
	defer renderTicker.Stop()

	start := time.Now()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-sendTicker.C:
			updateSpotValues(params, time.Since(start))
			m.SendAll()
		case <-renderTicker.C:
			area.Update(render(params, m))
		}
	}
	_ = area.Stop()

	m.Save()
	if err := os.WriteFile(*flashFile, mem.Bytes(), 0o644); err != nil {
		logrus.WithError(err).Error("could not write flash image")
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

func loadFlash(path string) *flash.Memory {
	data, err := os.ReadFile(path)
	if err != nil || len(data) != flashSize {
		return flash.NewMemory(flashSize, flashPageSize)
	}
	return flash.NewMemoryFromBytes(data, flashPageSize)
}

// demoParams is a small inverter-flavored table: a few managed parameters and
// a few spot values that the node animates to have something to map.
func demoParams() []param.Attributes {
	return []param.Attributes{
		{Name: "maxcurrent", ID: 10, Unit: "A", Min: 0, Max: 500, Default: 100, IsParam: true},
		{Name: "maxspeed", ID: 11, Unit: "rpm", Min: 0, Max: 12000, Default: 6000, IsParam: true},
		{Name: "throtramp", ID: 12, Unit: "%/s", Min: 1, Max: 1000, Default: 50, IsParam: true},
		{Name: "idlespeed", ID: 13, Unit: "rpm", Min: 0, Max: 2000, Default: 800, IsParam: true},
		{Name: "speed", ID: 30, Unit: "rpm"},
		{Name: "current", ID: 31, Unit: "A"},
		{Name: "voltage", ID: 32, Unit: "V"},
		{Name: "tmpmotor", ID: 33, Unit: "°C"},
	}
}

func updateSpotValues(params *param.Table, elapsed time.Duration) {
	t := elapsed.Seconds()
	params.SetFloat(params.IndexOfName("speed"), 3000+1000*float32(math.Sin(t/3)))
	params.SetFloat(params.IndexOfName("current"), 120+20*float32(math.Sin(t)))
	params.SetFloat(params.IndexOfName("voltage"), 400)
	params.SetFloat(params.IndexOfName("tmpmotor"), 45+5*float32(math.Sin(t/30)))
}

func render(params *param.Table, m *canmap.Mapper) string {
	paramData := pterm.TableData{{"Name", "Value", "Unit", "Id"}}
	for i := 0; i < params.Count(); i++ {
		attr, _ := params.Attributes(i)
		paramData = append(paramData, []string{
			attr.Name,
			fmt.Sprintf("%.2f", params.GetFloat(i)),
			attr.Unit,
			fmt.Sprintf("%d", attr.ID),
		})
	}
	paramTable, _ := pterm.DefaultTable.WithHasHeader().WithData(paramData).Srender()

	mapData := pterm.TableData{{"Dir", "CAN Id", "Param", "Offset", "Length", "Gain"}}
	m.IterateMappings(func(mp canmap.Mapping) {
		dir := "tx"
		if mp.IsReceive {
			dir = "rx"
		}
		name := fmt.Sprintf("#%d", mp.Param)
		if attr, ok := params.Attributes(mp.Param); ok {
			name = attr.Name
		}
		mapData = append(mapData, []string{
			dir,
			fmt.Sprintf("0x%X", mp.CanID),
			name,
			fmt.Sprintf("%d", mp.BitOffset),
			fmt.Sprintf("%d", mp.BitLength),
			fmt.Sprintf("%g", mp.Gain),
		})
	})
	mapTable, _ := pterm.DefaultTable.WithHasHeader().WithData(mapData).Srender()

	return paramTable + "\n" + mapTable
}
