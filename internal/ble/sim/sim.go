// Package sim provides an in-process Adapter with simulated micro:bit
// peripherals running the UART service. Each peripheral reassembles the
// lines written to it and answers over notifications.
package sim

import (
	"fmt"
	"strings"
	"sync"

	"github.com/chaz8081/microbit-uart/internal/ble"
	"github.com/chaz8081/microbit-uart/internal/ble/protocol"
)

// Responder returns the reply a peripheral sends for a received line, or
// "" for no reply.
type Responder func(line string) string

// Echo replies to every line with the line itself.
func Echo(line string) string { return line }

// Peripheral describes one simulated device.
type Peripheral struct {
	ID          string
	Name        string
	RSSI        int
	WithoutUART bool      // advertise only the generic services
	Respond     Responder // nil means Echo
}

// Microbit returns a peripheral named like a real micro:bit.
func Microbit(id, nickname string) Peripheral {
	return Peripheral{ID: id, Name: fmt.Sprintf("BBC micro:bit [%s]", nickname), RSSI: -55}
}

const (
	genericAccessUUID    = "00001800-0000-1000-8000-00805f9b34fb"
	genericAttributeUUID = "00001801-0000-1000-8000-00805f9b34fb"
)

// Options configures the simulated radio.
type Options struct {
	Profile ble.Profile
	State   ble.PowerState // state reported after Enable; zero means PowerOn
}

type link struct {
	p        Peripheral
	notify   bool
	lines    *protocol.LineBuffer
	received []byte
}

// Adapter is a simulated ble.Adapter.
type Adapter struct {
	opts  Options
	peers []Peripheral
	queue *ble.EventQueue

	mu       sync.Mutex
	state    ble.PowerState
	scanning bool
	links    map[string]*link
}

// Compile-time check that Adapter implements ble.Adapter.
var _ ble.Adapter = (*Adapter)(nil)

// New creates a simulated adapter seeing the given peripherals.
func New(opts Options, peers ...Peripheral) *Adapter {
	if opts.Profile == (ble.Profile{}) {
		opts.Profile = ble.DefaultProfile()
	}
	if opts.State == ble.PowerUnknown {
		opts.State = ble.PowerOn
	}
	return &Adapter{
		opts:  opts,
		peers: peers,
		queue: ble.NewEventQueue(),
		links: make(map[string]*link),
	}
}

func (a *Adapter) Events() <-chan ble.Event { return a.queue.Events() }

func (a *Adapter) PowerState() ble.PowerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) Enable() error {
	a.SetPowerState(a.opts.State)
	return nil
}

// SetPowerState simulates a radio state transition.
func (a *Adapter) SetPowerState(s ble.PowerState) {
	a.mu.Lock()
	a.state = s
	if s != ble.PowerOn {
		a.scanning = false
	}
	a.mu.Unlock()
	a.queue.Push(ble.StateChanged{State: s})
}

func (a *Adapter) requirePower() error {
	if a.state != ble.PowerOn {
		return ble.ErrAdapterNotReady
	}
	return nil
}

func (a *Adapter) StartScan(filter []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requirePower(); err != nil {
		return err
	}
	a.scanning = true
	for _, p := range a.peers {
		if !a.advertises(p, filter) {
			continue
		}
		a.queue.Push(ble.DeviceDiscovered{Device: ble.Device{ID: p.ID, Name: p.Name, RSSI: p.RSSI}})
	}
	return nil
}

func (a *Adapter) advertises(p Peripheral, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if !p.WithoutUART && ble.SameUUID(f, a.opts.Profile.Service) {
			return true
		}
	}
	return false
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanning = false
	return nil
}

// Scanning reports whether a scan is running.
func (a *Adapter) Scanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning
}

func (a *Adapter) peer(id string) (Peripheral, bool) {
	for _, p := range a.peers {
		if p.ID == id {
			return p, true
		}
	}
	return Peripheral{}, false
}

func (a *Adapter) Connect(dev ble.Device) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requirePower(); err != nil {
		return err
	}
	p, ok := a.peer(dev.ID)
	if !ok {
		a.queue.Push(ble.Disconnected{Device: dev, Err: fmt.Errorf("sim: no peripheral %s", dev.ID)})
		return nil
	}
	a.links[dev.ID] = &link{p: p, lines: protocol.NewLineBuffer(0)}
	a.queue.Push(ble.Connected{Device: ble.Device{ID: p.ID, Name: p.Name, RSSI: p.RSSI}})
	return nil
}

func (a *Adapter) Disconnect(dev ble.Device) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.links[dev.ID]; !ok {
		return nil
	}
	delete(a.links, dev.ID)
	a.queue.Push(ble.Disconnected{Device: dev})
	return nil
}

// Drop simulates the peripheral going out of range.
func (a *Adapter) Drop(id string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.links[id]
	if !ok {
		return
	}
	delete(a.links, id)
	a.queue.Push(ble.Disconnected{Device: ble.Device{ID: id, Name: l.p.Name}, Err: err})
}

func (a *Adapter) DiscoverServices(dev ble.Device, _ []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.links[dev.ID]
	if !ok {
		return ble.ErrNoSession
	}
	svcs := []ble.Service{
		{DeviceID: dev.ID, UUID: genericAccessUUID},
		{DeviceID: dev.ID, UUID: genericAttributeUUID},
	}
	if !l.p.WithoutUART {
		svcs = append(svcs, ble.Service{DeviceID: dev.ID, UUID: strings.ToUpper(a.opts.Profile.Service)})
	}
	a.queue.Push(ble.ServicesFound{Device: dev, Services: svcs})
	return nil
}

func (a *Adapter) DiscoverCharacteristics(svc ble.Service, ids []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.links[svc.DeviceID]; !ok {
		return ble.ErrNoSession
	}
	if !ble.SameUUID(svc.UUID, a.opts.Profile.Service) {
		a.queue.Push(ble.CharacteristicsFound{Service: svc})
		return nil
	}
	var chars []ble.Characteristic
	for _, id := range ids {
		if ble.SameUUID(id, a.opts.Profile.Notify) || ble.SameUUID(id, a.opts.Profile.Write) {
			chars = append(chars, ble.Characteristic{DeviceID: svc.DeviceID, ServiceUUID: svc.UUID, UUID: id})
		}
	}
	a.queue.Push(ble.CharacteristicsFound{Service: svc, Characteristics: chars})
	return nil
}

func (a *Adapter) WriteValue(ch ble.Characteristic, data []byte, _ ble.WriteMode) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.links[ch.DeviceID]
	if !ok {
		return ble.ErrNoSession
	}
	if !ble.SameUUID(ch.UUID, a.opts.Profile.Write) {
		return fmt.Errorf("sim: characteristic %s is not writable", ch.UUID)
	}
	l.received = append(l.received, data...)

	respond := l.p.Respond
	if respond == nil {
		respond = Echo
	}
	for _, line := range l.lines.Write(data) {
		reply := respond(line)
		if reply == "" || !l.notify {
			continue
		}
		a.queue.Push(ble.ValueUpdated{
			Characteristic: ble.Characteristic{DeviceID: ch.DeviceID, ServiceUUID: ch.ServiceUUID, UUID: a.opts.Profile.Notify},
			Value:          []byte(reply + string(protocol.Terminator)),
		})
	}
	return nil
}

func (a *Adapter) SetNotify(ch ble.Characteristic, enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.links[ch.DeviceID]
	if !ok {
		return ble.ErrNoSession
	}
	if !ble.SameUUID(ch.UUID, a.opts.Profile.Notify) {
		return fmt.Errorf("sim: characteristic %s does not notify", ch.UUID)
	}
	l.notify = enabled
	return nil
}

// Received returns every byte written to the peripheral so far.
func (a *Adapter) Received(id string) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.links[id]
	if !ok {
		return nil
	}
	out := make([]byte, len(l.received))
	copy(out, l.received)
	return out
}

// Close stops event delivery.
func (a *Adapter) Close() {
	a.queue.Close()
}
