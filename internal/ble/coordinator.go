package ble

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chaz8081/microbit-uart/internal/ble/protocol"
)

// UpdateType says what changed.
type UpdateType int

const (
	// UpdatePower carries a new adapter State.
	UpdatePower UpdateType = iota
	// UpdateScanning carries the Scanning flag.
	UpdateScanning
	// UpdateDevices carries the sorted device list.
	UpdateDevices
	// UpdateConnected carries the connected Device; the handshake starts.
	UpdateConnected
	// UpdateReady carries the Device whose session can now send commands.
	UpdateReady
	// UpdateDisconnected carries the Device and any Err.
	UpdateDisconnected
	// UpdateText carries one notification as Text.
	UpdateText
	// UpdateLine carries one reassembled readback line as Text.
	UpdateLine
)

// Update is emitted on the channel returned by Updates.
type Update struct {
	Type     UpdateType
	State    PowerState
	Scanning bool
	Devices  []Device
	Device   Device
	Text     string
	Err      error
}

// Options configures a Coordinator.
type Options struct {
	Profile       Profile
	ScanFilter    []string // empty accepts every advertiser
	MaxWriteBytes int
	LineBuffer    int // readback reassembly capacity
	UpdateBuffer  int // Updates channel capacity
}

// DefaultOptions returns the micro:bit defaults.
func DefaultOptions() Options {
	return Options{
		Profile:       DefaultProfile(),
		MaxWriteBytes: protocol.MaxPayloadBytes,
		LineBuffer:    protocol.DefaultLineBuffer,
		UpdateBuffer:  64,
	}
}

// Coordinator owns the adapter handle, the Discovery controller and the
// single active Session. It consumes the adapter's event stream in order
// and serializes user actions with it.
type Coordinator struct {
	opts Options

	mu        sync.Mutex
	adapter   Adapter
	discovery *Discovery
	session   *Session
	lines     *protocol.LineBuffer

	updates chan Update
}

// NewCoordinator creates a Coordinator. Call Initialize before use.
func NewCoordinator(opts Options) *Coordinator {
	if opts.UpdateBuffer <= 0 {
		opts.UpdateBuffer = 64
	}
	return &Coordinator{
		opts:      opts,
		discovery: NewDiscovery(opts.ScanFilter),
		lines:     protocol.NewLineBuffer(opts.LineBuffer),
		updates:   make(chan Update, opts.UpdateBuffer),
	}
}

// Updates returns the channel that receives UI-facing updates.
func (c *Coordinator) Updates() <-chan Update {
	return c.updates
}

// Initialize acquires and enables the adapter.
func (c *Coordinator) Initialize(adapter Adapter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.discovery.Initialize(adapter); err != nil {
		return err
	}
	c.adapter = adapter
	return nil
}

// Run consumes adapter events until ctx is cancelled or the event stream
// closes. It blocks; run it in a goroutine.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	adapter := c.adapter
	c.mu.Unlock()
	if adapter == nil {
		return ErrNotInitialized
	}

	events := adapter.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.handle(ev)
		}
	}
}

// handle dispatches one adapter event.
func (c *Coordinator) handle(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case StateChanged:
		wasScanning := c.discovery.Scanning()
		c.discovery.HandleStateChanged(e.State)
		c.publish(Update{Type: UpdatePower, State: e.State})
		if wasScanning {
			c.publish(Update{Type: UpdateScanning, Scanning: false})
		}

	case DeviceDiscovered:
		if c.discovery.HandleDeviceDiscovered(e.Device) {
			c.publish(Update{Type: UpdateDevices, Devices: c.discovery.Devices()})
		}

	case Connected:
		if !c.discovery.HandleConnected(e.Device) {
			// Not ours; drop it to keep a single session.
			if err := c.adapter.Disconnect(e.Device); err != nil {
				slog.Warn("[BLE] drop unexpected connection", "id", e.Device.ID, "error", err)
			}
			return
		}
		dev, _ := c.discovery.Active()
		c.lines.Reset()
		c.session = NewSession(c.adapter, dev, SessionOptions{
			Profile:       c.opts.Profile,
			MaxWriteBytes: c.opts.MaxWriteBytes,
			OnText: func(text string) {
				c.publish(Update{Type: UpdateText, Device: dev, Text: text})
			},
			OnValue: func(raw []byte) {
				for _, line := range c.lines.Write(raw) {
					c.publish(Update{Type: UpdateLine, Device: dev, Text: line})
				}
			},
		})
		c.publish(Update{Type: UpdateConnected, Device: dev})
		if err := c.session.Start(); err != nil {
			slog.Error("[BLE] start session", "id", dev.ID, "error", err)
		}

	case Disconnected:
		c.discovery.HandleDisconnected(e.Device, e.Err)
		if c.session != nil && c.session.Device().ID == e.Device.ID {
			c.session.HandleDisconnected()
			c.session = nil
		}
		c.publish(Update{Type: UpdateDisconnected, Device: e.Device, Err: e.Err})

	case ServicesFound:
		if s := c.sessionFor(e.Device.ID); s != nil {
			s.HandleServicesDiscovered(e.Services, e.Err)
		}

	case CharacteristicsFound:
		if s := c.sessionFor(e.Service.DeviceID); s != nil {
			before := s.State()
			s.HandleCharacteristicsDiscovered(e.Characteristics, e.Err)
			if before != StateReady && s.State() == StateReady {
				slog.Info("[BLE] session ready", "name", s.Device().Name)
				c.publish(Update{Type: UpdateReady, Device: s.Device()})
			}
		}

	case ValueUpdated:
		if s := c.sessionFor(e.Characteristic.DeviceID); s != nil {
			s.HandleValueUpdated(e.Characteristic, e.Value, e.Err)
		}

	default:
		slog.Debug("[BLE] unhandled event", "event", ev)
	}
}

// sessionFor returns the session if it belongs to deviceID (caller must hold mu).
func (c *Coordinator) sessionFor(deviceID string) *Session {
	if c.session == nil || c.session.Device().ID != deviceID {
		return nil
	}
	return c.session
}

// publish sends an update without blocking (caller must hold mu).
func (c *Coordinator) publish(u Update) {
	select {
	case c.updates <- u:
	default:
		slog.Warn("[BLE] update channel full, dropping update", "type", u.Type)
	}
}

// ToggleScan starts or stops scanning.
func (c *Coordinator) ToggleScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.discovery.ToggleScan(); err != nil {
		return err
	}
	c.publish(Update{Type: UpdateScanning, Scanning: c.discovery.Scanning()})
	return nil
}

// Scanning reports whether a scan is in progress.
func (c *Coordinator) Scanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discovery.Scanning()
}

// PowerState returns the last adapter state seen.
func (c *Coordinator) PowerState() PowerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discovery.State()
}

// Devices returns the discovered devices sorted by name.
func (c *Coordinator) Devices() []Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discovery.Devices()
}

// Select connects to the device at index in Devices.
func (c *Coordinator) Select(index int) (Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return Device{}, ErrSessionActive
	}
	wasScanning := c.discovery.Scanning()
	dev, err := c.discovery.Select(index)
	if err != nil {
		return Device{}, err
	}
	if wasScanning {
		c.publish(Update{Type: UpdateScanning, Scanning: false})
	}
	return dev, nil
}

// Session returns the active session's device and state.
func (c *Coordinator) Session() (Device, SessionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Device{}, StateDisconnected, false
	}
	return c.session.Device(), c.session.State(), true
}

// SendCommand writes a command letter on the active session.
func (c *Coordinator) SendCommand(letter byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ErrNotReady
	}
	return c.session.SendCommand(letter)
}

// SendText writes a newline-terminated text line on the active session.
func (c *Coordinator) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ErrNotReady
	}
	return c.session.SendText(text)
}

// Disconnect closes the active session.
func (c *Coordinator) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ErrNoSession
	}
	return c.closeSession()
}

// closeSession tears down the session (caller must hold mu). The adapter's
// Disconnected event still follows and is handled idempotently.
func (c *Coordinator) closeSession() error {
	s := c.session
	c.session = nil
	err := s.Close()
	c.discovery.HandleDisconnected(s.Device(), nil)
	return err
}

// Reset cancels any connection and clears the device list.
func (c *Coordinator) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.session != nil {
		err = c.closeSession()
	}
	if rerr := c.discovery.Reset(); rerr != nil && err == nil {
		err = rerr
	}
	c.lines.Reset()
	c.publish(Update{Type: UpdateDevices, Devices: nil})
	return err
}
