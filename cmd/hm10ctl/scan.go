package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/urfave/cli"
	"tinygo.org/x/bluetooth"
)

// serviceUUID is the GATT service HM-10 modules advertise by default.
var serviceUUID = bluetooth.New16BitUUID(0xFFE0)

type scanResult struct {
	Address string
	Name    string
	RSSI    int16
}

// runScan lists modules advertising the HM-10 service using the host's
// Bluetooth adapter.
func runScan(c *cli.Context) error {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}

	var mu sync.Mutex
	seen := make(map[string]scanResult)

	timer := time.AfterFunc(c.Duration("duration"), func() {
		adapter.StopScan()
	})
	defer timer.Stop()

	err := adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(serviceUUID) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if _, ok := seen[addr]; ok {
			return
		}
		r := scanResult{Address: addr, Name: result.LocalName(), RSSI: result.RSSI}
		seen[addr] = r
		fmt.Fprintf(c.App.Writer, "%s  %4d dBm  %s\n", r.Address, r.RSSI, r.Name)
	})
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		fmt.Fprintln(c.App.Writer, "no modules found")
	}
	return nil
}
