package ble

import (
	"fmt"
	"log/slog"
	"sort"
)

// Discovery owns the adapter handle, the scan, and the list of nearby
// named devices. It hands a chosen device off for connection.
//
// Discovery is not safe for concurrent use; the Coordinator serializes
// access.
type Discovery struct {
	adapter Adapter
	filter  []string

	state    PowerState
	scanning bool

	seen    map[string]Device // keyed by Device.ID
	devices []Device          // seen, sorted by name

	pending *Device // connect issued, no outcome yet
	active  *Device // connected
}

// NewDiscovery creates a Discovery that scans for advertisers of the given
// services. An empty filter accepts every advertiser.
func NewDiscovery(filter []string) *Discovery {
	return &Discovery{
		filter: filter,
		seen:   make(map[string]Device),
	}
}

// Initialize acquires the adapter handle and enables it. Scanning stays
// unavailable until the adapter reports PowerOn.
func (d *Discovery) Initialize(adapter Adapter) error {
	if adapter == nil {
		return ErrNotInitialized
	}
	d.adapter = adapter
	d.state = adapter.PowerState()
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	return nil
}

// handle returns the adapter, or ErrNotInitialized before Initialize.
func (d *Discovery) handle() (Adapter, error) {
	if d.adapter == nil {
		return nil, ErrNotInitialized
	}
	return d.adapter, nil
}

func (d *Discovery) poweredOn() bool {
	return d.adapter != nil && d.state == PowerOn
}

// ToggleScan stops a running scan or starts a new one. It returns
// ErrAdapterNotReady, and does nothing, unless the adapter is powered on.
func (d *Discovery) ToggleScan() error {
	a, err := d.handle()
	if err != nil {
		return err
	}
	if !d.poweredOn() {
		return ErrAdapterNotReady
	}
	if d.scanning {
		return d.stopScan()
	}
	if err := a.StartScan(d.filter); err != nil {
		return fmt.Errorf("ble: start scan: %w", err)
	}
	d.scanning = true
	slog.Debug("[BLE] scan started", "filter", d.filter)
	return nil
}

// stopScan ends the scan. The adapter is only asked to stop while powered
// on; in any other state there is no scan for it to stop.
func (d *Discovery) stopScan() error {
	was := d.scanning
	d.scanning = false
	if !was || !d.poweredOn() {
		return nil
	}
	if err := d.adapter.StopScan(); err != nil {
		return fmt.Errorf("ble: stop scan: %w", err)
	}
	slog.Debug("[BLE] scan stopped")
	return nil
}

// Scanning reports whether a scan is in progress.
func (d *Discovery) Scanning() bool { return d.scanning }

// State returns the last known adapter power state.
func (d *Discovery) State() PowerState { return d.state }

// HandleStateChanged records the new adapter state and ends any scan in
// progress, whatever the transition.
func (d *Discovery) HandleStateChanged(state PowerState) {
	if d.scanning && d.poweredOn() {
		if err := d.stopScan(); err != nil {
			slog.Warn("[BLE] stop scan on state change", "error", err)
		}
	}
	d.scanning = false
	d.state = state
	slog.Info("[BLE] adapter state", "state", state)
}

// HandleDeviceDiscovered adds dev to the list. Unnamed devices are
// ignored, as are results that arrive after the scan was stopped.
// It reports whether the list changed.
func (d *Discovery) HandleDeviceDiscovered(dev Device) bool {
	if dev.Name == "" || !d.scanning {
		return false
	}
	if prev, ok := d.seen[dev.ID]; ok && prev.Name == dev.Name {
		d.seen[dev.ID] = dev
		d.refresh()
		return false
	}
	d.seen[dev.ID] = dev
	d.refresh()
	return true
}

// refresh rebuilds the sorted list from the set.
func (d *Discovery) refresh() {
	list := make([]Device, 0, len(d.seen))
	for _, dev := range d.seen {
		list = append(list, dev)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
	d.devices = list
}

// Devices returns a copy of the list, sorted ascending by name.
func (d *Discovery) Devices() []Device {
	out := make([]Device, len(d.devices))
	copy(out, d.devices)
	return out
}

// Select stops the scan and issues a connect to the device at index.
func (d *Discovery) Select(index int) (Device, error) {
	a, err := d.handle()
	if err != nil {
		return Device{}, err
	}
	if !d.poweredOn() {
		return Device{}, ErrAdapterNotReady
	}
	if d.pending != nil || d.active != nil {
		return Device{}, ErrSessionActive
	}
	if index < 0 || index >= len(d.devices) {
		return Device{}, fmt.Errorf("%w: %d", ErrNoSuchDevice, index)
	}
	dev := d.devices[index]

	if err := d.stopScan(); err != nil {
		return Device{}, err
	}
	if err := a.Connect(dev); err != nil {
		return Device{}, fmt.Errorf("ble: connect to %s: %w", dev.ID, err)
	}
	d.pending = &dev
	slog.Info("[BLE] connecting", "name", dev.Name, "id", dev.ID)
	return dev, nil
}

// HandleConnected records dev as the session target. It reports false for
// a connection nobody asked for.
func (d *Discovery) HandleConnected(dev Device) bool {
	if d.pending == nil || d.pending.ID != dev.ID {
		slog.Warn("[BLE] unexpected connection", "id", dev.ID)
		return false
	}
	// Keep the advertised name; some stacks report connections without it.
	if dev.Name == "" {
		dev.Name = d.pending.Name
	}
	d.pending = nil
	d.active = &dev
	slog.Info("[BLE] peripheral connected", "name", dev.Name, "id", dev.ID)
	return true
}

// HandleDisconnected clears the session target. No reconnect is attempted.
func (d *Discovery) HandleDisconnected(dev Device, err error) {
	if err != nil {
		slog.Warn("[BLE] peripheral disconnected", "id", dev.ID, "error", err)
	} else {
		slog.Info("[BLE] peripheral disconnected", "id", dev.ID)
	}
	if d.pending != nil && d.pending.ID == dev.ID {
		d.pending = nil
	}
	if d.active != nil && d.active.ID == dev.ID {
		d.active = nil
	}
}

// Active returns the connected device, if any.
func (d *Discovery) Active() (Device, bool) {
	if d.active == nil {
		return Device{}, false
	}
	return *d.active, true
}

// Pending reports whether a connect is outstanding.
func (d *Discovery) Pending() bool { return d.pending != nil }

// Reset cancels any existing connection and clears the device list, as
// when the list screen is entered again.
func (d *Discovery) Reset() error {
	var err error
	for _, dev := range []*Device{d.active, d.pending} {
		if dev == nil || d.adapter == nil {
			continue
		}
		if derr := d.adapter.Disconnect(*dev); derr != nil && err == nil {
			err = fmt.Errorf("ble: disconnect %s: %w", dev.ID, derr)
		}
	}
	d.active = nil
	d.pending = nil
	d.seen = make(map[string]Device)
	d.devices = nil
	return err
}
