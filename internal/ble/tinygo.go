package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// ErrWriteModeUnsupported is returned for WriteWithResponse, which the
// tinygo backend does not expose on every platform.
var ErrWriteModeUnsupported = errors.New("ble: write mode not supported")

// TinyGoAdapter implements Adapter on tinygo-org/bluetooth: BlueZ on
// Linux, CoreBluetooth on macOS, WinRT on Windows.
// On macOS device IDs are CoreBluetooth UUIDs, not MAC addresses.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	queue   *EventQueue

	mu       sync.Mutex
	state    PowerState
	scanning bool
	conns    map[string]*tinyGoConn // keyed by Device.ID
	services map[serviceKey]bluetooth.DeviceService
	chars    map[charKey]bluetooth.DeviceCharacteristic
}

type tinyGoConn struct {
	dev    Device
	device bluetooth.Device
}

type serviceKey struct{ device, service string }

type charKey struct{ device, service, char string }

// NewTinyGoAdapter creates an adapter on the platform default radio.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:  bluetooth.DefaultAdapter,
		queue:    NewEventQueue(),
		conns:    make(map[string]*tinyGoConn),
		services: make(map[serviceKey]bluetooth.DeviceService),
		chars:    make(map[charKey]bluetooth.DeviceCharacteristic),
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

func (a *TinyGoAdapter) Events() <-chan Event { return a.queue.Events() }

func (a *TinyGoAdapter) PowerState() PowerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *TinyGoAdapter) setState(s PowerState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.queue.Push(StateChanged{State: s})
}

func (a *TinyGoAdapter) Enable() error {
	// Disconnects of peripherals we did not drop ourselves arrive here
	// with connected=false.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.conns[id]
		if ok {
			a.forget(id)
		}
		a.mu.Unlock()
		if ok {
			a.queue.Push(Disconnected{Device: conn.dev})
		}
	})

	if err := a.adapter.Enable(); err != nil {
		a.setState(PowerOff)
		return err
	}
	a.setState(PowerOn)
	return nil
}

func (a *TinyGoAdapter) StartScan(serviceUUIDs []string) error {
	filter, err := parseUUIDs(serviceUUIDs)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.scanning {
		a.mu.Unlock()
		return errors.New("ble: scan already in progress")
	}
	a.scanning = true
	a.mu.Unlock()

	go func() {
		err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if len(filter) > 0 && !advertisesAny(result, filter) {
				return
			}
			a.queue.Push(DeviceDiscovered{Device: Device{
				ID:   result.Address.String(),
				Name: result.LocalName(),
				RSSI: int(result.RSSI),
			}})
		})
		a.mu.Lock()
		a.scanning = false
		a.mu.Unlock()
		if err != nil {
			slog.Warn("[BLE] scan ended with error", "error", err)
		}
	}()
	return nil
}

func advertisesAny(result bluetooth.ScanResult, uuids []bluetooth.UUID) bool {
	for _, u := range uuids {
		if result.HasServiceUUID(u) {
			return true
		}
	}
	return false
}

func (a *TinyGoAdapter) StopScan() error {
	a.mu.Lock()
	scanning := a.scanning
	a.mu.Unlock()
	if !scanning {
		return nil
	}
	return a.adapter.StopScan()
}

func (a *TinyGoAdapter) Connect(dev Device) error {
	var addr bluetooth.Address
	addr.Set(dev.ID)

	// tinygo/bluetooth's Connect blocks with its own platform timeout.
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			a.queue.Push(Disconnected{Device: dev, Err: fmt.Errorf("ble: connect to %s: %w", dev.ID, err)})
			return
		}
		a.mu.Lock()
		a.conns[dev.ID] = &tinyGoConn{dev: dev, device: device}
		a.mu.Unlock()
		a.queue.Push(Connected{Device: dev})
	}()
	return nil
}

func (a *TinyGoAdapter) Disconnect(dev Device) error {
	a.mu.Lock()
	conn, ok := a.conns[dev.ID]
	if ok {
		a.forget(dev.ID)
	}
	a.mu.Unlock()
	if !ok {
		return nil
	}
	err := conn.device.Disconnect()
	a.queue.Push(Disconnected{Device: conn.dev})
	return err
}

// forget drops a connection and its GATT handles (caller must hold mu).
func (a *TinyGoAdapter) forget(id string) {
	delete(a.conns, id)
	for k := range a.services {
		if k.device == id {
			delete(a.services, k)
		}
	}
	for k := range a.chars {
		if k.device == id {
			delete(a.chars, k)
		}
	}
}

func (a *TinyGoAdapter) conn(id string) (*tinyGoConn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.conns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	return c, nil
}

func (a *TinyGoAdapter) DiscoverServices(dev Device, uuids []string) error {
	c, err := a.conn(dev.ID)
	if err != nil {
		return err
	}
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return err
	}

	go func() {
		svcs, err := c.device.DiscoverServices(filter)
		if err != nil {
			a.queue.Push(ServicesFound{Device: c.dev, Err: fmt.Errorf("ble: discover services: %w", err)})
			return
		}
		out := make([]Service, 0, len(svcs))
		a.mu.Lock()
		for i := range svcs {
			id := svcs[i].UUID().String()
			a.services[serviceKey{dev.ID, key(id)}] = svcs[i]
			out = append(out, Service{DeviceID: dev.ID, UUID: id})
		}
		a.mu.Unlock()
		a.queue.Push(ServicesFound{Device: c.dev, Services: out})
	}()
	return nil
}

func (a *TinyGoAdapter) DiscoverCharacteristics(svc Service, uuids []string) error {
	a.mu.Lock()
	s, ok := a.services[serviceKey{svc.DeviceID, key(svc.UUID)}]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: service %s not discovered", svc.UUID)
	}
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return err
	}

	go func() {
		chars, err := s.DiscoverCharacteristics(filter)
		if err != nil {
			a.queue.Push(CharacteristicsFound{Service: svc, Err: fmt.Errorf("ble: discover characteristics: %w", err)})
			return
		}
		out := make([]Characteristic, 0, len(chars))
		a.mu.Lock()
		for i := range chars {
			id := chars[i].UUID().String()
			a.chars[charKey{svc.DeviceID, key(svc.UUID), key(id)}] = chars[i]
			out = append(out, Characteristic{DeviceID: svc.DeviceID, ServiceUUID: svc.UUID, UUID: id})
		}
		a.mu.Unlock()
		a.queue.Push(CharacteristicsFound{Service: svc, Characteristics: out})
	}()
	return nil
}

func (a *TinyGoAdapter) characteristic(ch Characteristic) (bluetooth.DeviceCharacteristic, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.chars[charKey{ch.DeviceID, key(ch.ServiceUUID), key(ch.UUID)}]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("ble: characteristic %s not discovered", ch.UUID)
	}
	return c, nil
}

func (a *TinyGoAdapter) WriteValue(ch Characteristic, data []byte, mode WriteMode) error {
	if mode != WriteWithoutResponse {
		return ErrWriteModeUnsupported
	}
	c, err := a.characteristic(ch)
	if err != nil {
		return err
	}
	_, err = c.WriteWithoutResponse(data)
	return err
}

func (a *TinyGoAdapter) SetNotify(ch Characteristic, enabled bool) error {
	c, err := a.characteristic(ch)
	if err != nil {
		return err
	}
	if !enabled {
		return c.EnableNotifications(nil)
	}
	return c.EnableNotifications(func(buf []byte) {
		value := make([]byte, len(buf))
		copy(value, buf)
		a.queue.Push(ValueUpdated{Characteristic: ch, Value: value})
	})
}

// Close stops event delivery.
func (a *TinyGoAdapter) Close() {
	a.queue.Close()
}

func parseUUIDs(ids []string) ([]bluetooth.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]bluetooth.UUID, 0, len(ids))
	for _, s := range ids {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("ble: parse UUID %q: %w", s, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func key(uuid string) string {
	return strings.ToLower(uuid)
}
