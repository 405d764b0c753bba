// Package ble drives a BLE central session with a micro:bit running the
// UART service. It handles scanning, connection hand-off, service and
// characteristic discovery, notifications and command writes.
package ble

import "errors"

// micro:bit UART UUIDs. The micro:bit indicates on TX and accepts writes
// on RX, which is the reverse of the stock Nordic UART role naming.
const (
	ServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	TXCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	RXCharUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

var (
	// ErrNotInitialized is returned when the adapter is used before Initialize.
	ErrNotInitialized = errors.New("ble: adapter not initialized")
	// ErrAdapterNotReady is returned when an action needs a powered-on adapter.
	ErrAdapterNotReady = errors.New("ble: bluetooth is not powered on")
	// ErrNoSuchDevice is returned when a list index has no device.
	ErrNoSuchDevice = errors.New("ble: no device at that position")
	// ErrSessionActive is returned when a connect is attempted while a
	// session exists or a connect is already pending.
	ErrSessionActive = errors.New("ble: a session is already active")
	// ErrNoSession is returned for session operations with no connection.
	ErrNoSession = errors.New("ble: no active session")
	// ErrNotReady is returned for writes before the write characteristic
	// has been discovered.
	ErrNotReady = errors.New("ble: write characteristic not resolved")
)

// PowerState is the adapter's radio state.
type PowerState int

const (
	PowerUnknown PowerState = iota
	PowerUnsupported
	PowerUnauthorized
	PowerOff
	PowerOn
)

func (s PowerState) String() string {
	switch s {
	case PowerUnsupported:
		return "unsupported"
	case PowerUnauthorized:
		return "unauthorized"
	case PowerOff:
		return "powered-off"
	case PowerOn:
		return "powered-on"
	default:
		return "unknown"
	}
}

// Device is a discovered BLE peripheral. ID is the identity; names may
// collide.
type Device struct {
	ID   string
	Name string
	RSSI int
}

// Service is a discovered GATT service on a connected device.
type Service struct {
	DeviceID string
	UUID     string
}

// Characteristic is a discovered GATT characteristic.
type Characteristic struct {
	DeviceID    string
	ServiceUUID string
	UUID        string
}

// WriteMode selects whether a write waits for an ATT response.
type WriteMode int

const (
	WriteWithoutResponse WriteMode = iota
	WriteWithResponse
)

// Adapter is the platform Bluetooth stack seen from the central role.
// Methods that start asynchronous work return once the request is issued;
// the outcome arrives as an Event on the Events channel. Events are
// delivered in order on that single channel.
type Adapter interface {
	// Enable initializes the stack. The resulting state arrives as a
	// StateChanged event.
	Enable() error
	// PowerState returns the current radio state.
	PowerState() PowerState
	// StartScan begins scanning. An empty filter accepts every advertiser.
	StartScan(serviceUUIDs []string) error
	// StopScan stops a scan in progress.
	StopScan() error
	// Connect requests a connection; the result is Connected or Disconnected.
	Connect(dev Device) error
	// Disconnect tears down a connection; a Disconnected event follows.
	Disconnect(dev Device) error
	// DiscoverServices requests services; nil means all. Result: ServicesFound.
	DiscoverServices(dev Device, uuids []string) error
	// DiscoverCharacteristics requests characteristics of svc.
	// Result: CharacteristicsFound.
	DiscoverCharacteristics(svc Service, uuids []string) error
	// WriteValue writes data to the characteristic.
	WriteValue(ch Characteristic, data []byte, mode WriteMode) error
	// SetNotify enables or disables value-change notifications. Values
	// arrive as ValueUpdated events.
	SetNotify(ch Characteristic, enabled bool) error
	// Events returns the ordered event stream.
	Events() <-chan Event
}
