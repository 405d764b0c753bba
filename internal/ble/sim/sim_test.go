package sim

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chaz8081/microbit-uart/internal/ble"
)

// startCoordinator runs a Coordinator over a simulated adapter.
func startCoordinator(t *testing.T, adapter *Adapter) *ble.Coordinator {
	t.Helper()
	c := ble.NewCoordinator(ble.DefaultOptions())
	if err := c.Initialize(adapter); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		adapter.Close()
	})
	return c
}

// waitFor reads updates until one of the wanted type arrives.
func waitFor(t *testing.T, c *ble.Coordinator, typ ble.UpdateType) ble.Update {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u := <-c.Updates():
			if u.Type == typ {
				return u
			}
		case <-timeout:
			t.Fatalf("timed out waiting for update type %d", typ)
		}
	}
}

func TestSimulatedRoundTrip(t *testing.T) {
	adapter := New(Options{}, Microbit("sim-2", "zogit"), Microbit("sim-1", "gavet"))
	c := startCoordinator(t, adapter)
	waitFor(t, c, ble.UpdatePower)

	if err := c.ToggleScan(); err != nil {
		t.Fatalf("ToggleScan() error = %v", err)
	}
	var devs []ble.Device
	for len(devs) < 2 {
		devs = waitFor(t, c, ble.UpdateDevices).Devices
	}
	if devs[0].Name != "BBC micro:bit [gavet]" {
		t.Errorf("Devices()[0] = %q, want gavet first", devs[0].Name)
	}

	dev, err := c.Select(0)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if adapter.Scanning() {
		t.Error("scan still running after Select")
	}
	if got := waitFor(t, c, ble.UpdateReady).Device; got.ID != dev.ID {
		t.Errorf("ready on %s, want %s", got.ID, dev.ID)
	}

	if err := c.SendCommand('A'); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if got := waitFor(t, c, ble.UpdateLine).Text; got != "A" {
		t.Errorf("echoed line = %q, want %q", got, "A")
	}
	if got := string(adapter.Received(dev.ID)); got != "A\n" {
		t.Errorf("peripheral received %q, want %q", got, "A\n")
	}

	long := "scroll a message longer than one write"
	if err := c.SendText(long); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if got := waitFor(t, c, ble.UpdateLine).Text; got != long {
		t.Errorf("echoed line = %q, want %q", got, long)
	}
}

func TestSimulatedMissingServiceStalls(t *testing.T) {
	p := Microbit("sim-1", "tatop")
	p.WithoutUART = true
	adapter := New(Options{}, p)
	c := startCoordinator(t, adapter)
	waitFor(t, c, ble.UpdatePower)

	if err := c.ToggleScan(); err != nil {
		t.Fatalf("ToggleScan() error = %v", err)
	}
	waitFor(t, c, ble.UpdateDevices)
	if _, err := c.Select(0); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	waitFor(t, c, ble.UpdateConnected)

	// Give the discovery round trip time to complete.
	time.Sleep(50 * time.Millisecond)
	if _, state, ok := c.Session(); !ok || state != ble.StateConnected {
		t.Errorf("Session() state = %v, ok = %v; want connected", state, ok)
	}
	if err := c.SendCommand('A'); !errors.Is(err, ble.ErrNotReady) {
		t.Errorf("SendCommand() error = %v, want ErrNotReady", err)
	}
}

func TestSimulatedDrop(t *testing.T) {
	adapter := New(Options{}, Microbit("sim-1", "vopov"))
	c := startCoordinator(t, adapter)
	waitFor(t, c, ble.UpdatePower)

	if err := c.ToggleScan(); err != nil {
		t.Fatalf("ToggleScan() error = %v", err)
	}
	waitFor(t, c, ble.UpdateDevices)
	if _, err := c.Select(0); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	waitFor(t, c, ble.UpdateReady)

	lost := errors.New("sim: out of range")
	adapter.Drop("sim-1", lost)
	u := waitFor(t, c, ble.UpdateDisconnected)
	if !errors.Is(u.Err, lost) {
		t.Errorf("disconnect error = %v, want %v", u.Err, lost)
	}
	if _, _, ok := c.Session(); ok {
		t.Error("session still active after drop")
	}
}

func TestSimulatedPowerOff(t *testing.T) {
	adapter := New(Options{State: ble.PowerOff}, Microbit("sim-1", "pagiv"))
	c := startCoordinator(t, adapter)
	if u := waitFor(t, c, ble.UpdatePower); u.State != ble.PowerOff {
		t.Fatalf("power update = %v, want powered-off", u.State)
	}
	if err := c.ToggleScan(); !errors.Is(err, ble.ErrAdapterNotReady) {
		t.Errorf("ToggleScan() error = %v, want ErrAdapterNotReady", err)
	}
}

func TestScanFilter(t *testing.T) {
	plain := Peripheral{ID: "hr", Name: "Heart Rate", WithoutUART: true}
	adapter := New(Options{}, Microbit("sim-1", "gezet"), plain)
	if err := adapter.Enable(); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if err := adapter.StartScan([]string{strings.ToUpper(ble.ServiceUUID)}); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	defer adapter.Close()

	var seen []string
	timeout := time.After(time.Second)
	for len(seen) < 1 {
		select {
		case ev := <-adapter.Events():
			if d, ok := ev.(ble.DeviceDiscovered); ok {
				seen = append(seen, d.Device.ID)
			}
		case <-timeout:
			t.Fatal("timed out waiting for discovery")
		}
	}
	// Give a stray second result a chance to show up.
	select {
	case ev := <-adapter.Events():
		if d, ok := ev.(ble.DeviceDiscovered); ok {
			seen = append(seen, d.Device.ID)
		}
	case <-time.After(20 * time.Millisecond):
	}
	if len(seen) != 1 || seen[0] != "sim-1" {
		t.Errorf("discovered %v, want only sim-1", seen)
	}
}
