package ble

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/chaz8081/microbit-uart/internal/ble/protocol"
)

// SessionState is a step of the post-connection handshake.
type SessionState int

const (
	StateConnected SessionState = iota
	StateServiceDiscovered
	StateCharacteristicsDiscovered
	StateReady
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateServiceDiscovered:
		return "service-discovered"
	case StateCharacteristicsDiscovered:
		return "characteristics-discovered"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Profile       Profile
	MaxWriteBytes int               // per-write limit for SendText (default protocol.MaxPayloadBytes)
	OnText        func(text string) // called with each UTF-8 notification
	OnValue       func(raw []byte)  // called with each raw notification on the notify characteristic
}

// Session owns one connection and walks it from Connected to Ready:
// discover the UART service, discover its two characteristics, subscribe
// to the notify characteristic.
//
// Session is not safe for concurrent use; the Coordinator serializes
// access.
type Session struct {
	adapter Adapter
	device  Device
	opts    SessionOptions

	state      SessionState
	service    *Service
	writeChar  *Characteristic
	notifyChar *Characteristic
	subscribed bool
}

// NewSession creates a Session for a connected device.
func NewSession(adapter Adapter, dev Device, opts SessionOptions) *Session {
	if opts.Profile == (Profile{}) {
		opts.Profile = DefaultProfile()
	}
	if opts.MaxWriteBytes <= 0 {
		opts.MaxWriteBytes = protocol.MaxPayloadBytes
	}
	return &Session{
		adapter: adapter,
		device:  dev,
		opts:    opts,
		state:   StateConnected,
	}
}

// Device returns the session's peripheral.
func (s *Session) Device() Device { return s.device }

// State returns the current handshake state.
func (s *Session) State() SessionState { return s.state }

// Start requests discovery of every service on the device.
func (s *Session) Start() error {
	if s.state == StateDisconnected {
		return ErrNoSession
	}
	if err := s.adapter.DiscoverServices(s.device, nil); err != nil {
		return fmt.Errorf("ble: discover services: %w", err)
	}
	return nil
}

// HandleServicesDiscovered looks for the UART service and requests its two
// characteristics. If the service is absent the session stays Connected
// and nothing is reported.
func (s *Session) HandleServicesDiscovered(services []Service, err error) {
	if s.state == StateDisconnected {
		return
	}
	if err != nil {
		slog.Error("[BLE] service discovery failed", "id", s.device.ID, "error", err)
		return
	}

	for _, svc := range services {
		if !SameUUID(svc.UUID, s.opts.Profile.Service) {
			continue
		}
		found := svc
		s.service = &found
		s.state = StateServiceDiscovered

		ids := []string{s.opts.Profile.Notify, s.opts.Profile.Write}
		if err := s.adapter.DiscoverCharacteristics(found, ids); err != nil {
			slog.Error("[BLE] characteristic discovery request failed", "error", err)
		}
		return
	}

	slog.Debug("[BLE] UART service not present", "id", s.device.ID, "services", len(services))
}

// HandleCharacteristicsDiscovered enables notifications on the notify
// characteristic and stores the write characteristic.
func (s *Session) HandleCharacteristicsDiscovered(chars []Characteristic, err error) {
	if s.state == StateDisconnected || s.service == nil {
		return
	}
	if err != nil {
		slog.Error("[BLE] characteristic discovery failed", "id", s.device.ID, "error", err)
		return
	}

	for _, ch := range chars {
		c := ch
		if SameUUID(c.UUID, s.opts.Profile.Notify) {
			s.notifyChar = &c
			if err := s.adapter.SetNotify(c, true); err != nil {
				slog.Error("[BLE] enable notifications failed", "char", c.UUID, "error", err)
			} else {
				s.subscribed = true
			}
		}
		if SameUUID(c.UUID, s.opts.Profile.Write) {
			s.writeChar = &c
		}
	}

	if s.notifyChar != nil || s.writeChar != nil {
		s.state = StateCharacteristicsDiscovered
	}
	if s.subscribed && s.writeChar != nil {
		s.state = StateReady
	}
}

// HandleValueUpdated delivers notify-characteristic values to the
// observers. Values that are not valid UTF-8 reach OnValue only.
func (s *Session) HandleValueUpdated(ch Characteristic, value []byte, err error) {
	if s.state == StateDisconnected {
		return
	}
	if err != nil {
		slog.Error("[BLE] value update failed", "char", ch.UUID, "error", err)
		return
	}
	if s.notifyChar == nil || !SameUUID(ch.UUID, s.notifyChar.UUID) {
		return
	}
	if !utf8.Valid(value) {
		slog.Debug("[BLE] notification is not valid UTF-8", "len", len(value))
	} else if s.opts.OnText != nil {
		s.opts.OnText(string(value))
	}
	if s.opts.OnValue != nil {
		s.opts.OnValue(value)
	}
}

// SendCommand writes a single command letter followed by a newline,
// without waiting for a response. Ordering of overlapping writes is left
// to the transport.
func (s *Session) SendCommand(letter byte) error {
	if s.writeChar == nil {
		return ErrNotReady
	}
	payload, err := protocol.EncodeCommand(letter)
	if err != nil {
		return err
	}
	if err := s.adapter.WriteValue(*s.writeChar, payload, WriteWithoutResponse); err != nil {
		return fmt.Errorf("ble: write command %q: %w", letter, err)
	}
	slog.Debug("[BLE] command sent", "command", string(letter))
	return nil
}

// SendText writes text as one newline-terminated line, split into writes
// that fit MaxWriteBytes.
func (s *Session) SendText(text string) error {
	if s.writeChar == nil {
		return ErrNotReady
	}
	for _, chunk := range protocol.EncodeLine(text, s.opts.MaxWriteBytes) {
		if err := s.adapter.WriteValue(*s.writeChar, chunk, WriteWithoutResponse); err != nil {
			return fmt.Errorf("ble: write text: %w", err)
		}
	}
	return nil
}

// Close disconnects the device and clears the session.
func (s *Session) Close() error {
	if s.state == StateDisconnected {
		return nil
	}
	err := s.adapter.Disconnect(s.device)
	s.HandleDisconnected()
	if err != nil {
		return fmt.Errorf("ble: disconnect %s: %w", s.device.ID, err)
	}
	return nil
}

// HandleDisconnected clears every service and characteristic reference,
// whatever state the session was in.
func (s *Session) HandleDisconnected() {
	s.service = nil
	s.writeChar = nil
	s.notifyChar = nil
	s.subscribed = false
	s.state = StateDisconnected
}

// resolved reports which references the session holds (for tests).
func (s *Session) resolved() (service, write, notify bool) {
	return s.service != nil, s.writeChar != nil, s.notifyChar != nil
}
