package ble

// Event is an asynchronous outcome reported by an Adapter.
type Event interface {
	event()
}

// StateChanged reports a new adapter power state.
type StateChanged struct {
	State PowerState
}

// DeviceDiscovered reports an advertisement seen during a scan.
type DeviceDiscovered struct {
	Device Device
}

// Connected reports a completed connection.
type Connected struct {
	Device Device
}

// Disconnected reports a dropped connection or a failed connect. Err is
// nil for a clean disconnect.
type Disconnected struct {
	Device Device
	Err    error
}

// ServicesFound reports the result of DiscoverServices.
type ServicesFound struct {
	Device   Device
	Services []Service
	Err      error
}

// CharacteristicsFound reports the result of DiscoverCharacteristics.
type CharacteristicsFound struct {
	Service         Service
	Characteristics []Characteristic
	Err             error
}

// ValueUpdated reports a notification on a subscribed characteristic.
type ValueUpdated struct {
	Characteristic Characteristic
	Value          []byte
	Err            error
}

func (StateChanged) event()         {}
func (DeviceDiscovered) event()     {}
func (Connected) event()            {}
func (Disconnected) event()         {}
func (ServicesFound) event()        {}
func (CharacteristicsFound) event() {}
func (ValueUpdated) event()         {}
