package device

import "github.com/nerrad567/gray-logic-homesync/internal/merge"

// Type is the declared device type as understood by the voice backend.
type Type string

// Device types referenced by the core. The catalogue is open; any other
// value is accepted and passed through.
const (
	TypeLight          Type = "action.devices.types.LIGHT"
	TypeSwitch         Type = "action.devices.types.SWITCH"
	TypeOutlet         Type = "action.devices.types.OUTLET"
	TypeThermostat     Type = "action.devices.types.THERMOSTAT"
	TypeBlinds         Type = "action.devices.types.BLINDS"
	TypeScene          Type = "action.devices.types.SCENE"
	TypeSpeaker        Type = "action.devices.types.SPEAKER"
	TypeTV             Type = "action.devices.types.TV"
	TypeSensor         Type = "action.devices.types.SENSOR"
	TypeFan            Type = "action.devices.types.FAN"
	TypeGarage         Type = "action.devices.types.GARAGE"
	TypeDoor           Type = "action.devices.types.DOOR"
	TypeGate           Type = "action.devices.types.GATE"
	TypeLock           Type = "action.devices.types.LOCK"
	TypeSecuritySystem Type = "action.devices.types.SECURITYSYSTEM"
)

// Trait is a named bundle of state fields and commands a device supports.
type Trait string

// Traits referenced by the core.
const (
	TraitOnOff            Trait = "action.devices.traits.OnOff"
	TraitBrightness       Trait = "action.devices.traits.Brightness"
	TraitColorSetting     Trait = "action.devices.traits.ColorSetting"
	TraitTemperature      Trait = "action.devices.traits.TemperatureSetting"
	TraitOpenClose        Trait = "action.devices.traits.OpenClose"
	TraitScene            Trait = "action.devices.traits.Scene"
	TraitTransportControl Trait = "action.devices.traits.TransportControl"
	TraitVolume           Trait = "action.devices.traits.Volume"
	TraitSensorState      Trait = "action.devices.traits.SensorState"
	TraitFanSpeed         Trait = "action.devices.traits.FanSpeed"
	TraitLockUnlock       Trait = "action.devices.traits.LockUnlock"
	TraitArmDisarm        Trait = "action.devices.traits.ArmDisarm"
)

// Name is the display name block of a device.
type Name struct {
	Name      string   `json:"name" yaml:"name"`
	Nicknames []string `json:"nicknames,omitempty" yaml:"nicknames,omitempty"`
}

// State is a device's trait-defined state map.
// Values are JSON-compatible: bool, float64, string, nested maps and slices.
type State map[string]any

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	return State(merge.Clone(s))
}

// Device is a logical smart device.
//
// The core never creates or destroys devices; it reads them and patches
// State and NoraSpecific.
type Device struct {
	ID              string         `json:"id" yaml:"id"`
	Type            Type           `json:"type" yaml:"type"`
	Traits          []Trait        `json:"traits" yaml:"traits"`
	Name            Name           `json:"name" yaml:"name"`
	WillReportState bool           `json:"willReportState" yaml:"will_report_state"`
	RoomHint        string         `json:"roomHint,omitempty" yaml:"room_hint,omitempty"`
	Attributes      map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	State           State          `json:"state" yaml:"state"`
	NoraSpecific    NoraSpecific   `json:"noraSpecific,omitempty" yaml:"nora_specific,omitempty"`
}

// HasTrait reports whether the device declares t.
func (d *Device) HasTrait(t Trait) bool {
	for _, have := range d.Traits {
		if have == t {
			return true
		}
	}
	return false
}

// DeepCopy creates an independent copy of the device.
// Maps and slices are copied so the result can be modified without affecting
// the original.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cp := *d
	if d.Traits != nil {
		cp.Traits = make([]Trait, len(d.Traits))
		copy(cp.Traits, d.Traits)
	}
	if d.Name.Nicknames != nil {
		cp.Name.Nicknames = make([]string, len(d.Name.Nicknames))
		copy(cp.Name.Nicknames, d.Name.Nicknames)
	}
	cp.Attributes = merge.Clone(d.Attributes)
	cp.State = d.State.Clone()
	cp.NoraSpecific = NoraSpecific(merge.Clone(d.NoraSpecific))
	return &cp
}

// Side-channel keys in NoraSpecific.
const (
	NoraAsyncCommandExecution = "asyncCommandExecution"
	NoraTwoFactor             = "twoFactor"
	NoraLocalExecution        = "localExecution"
	NoraLocalDeviceID         = "localDeviceId"
	NoraProxyID               = "proxyId"
)

// NoraSpecific is the private side-channel map of a device.
type NoraSpecific map[string]any

// AsyncCommandExecution reports whether commands are executed by a remote
// responder rather than the local command function.
func (n NoraSpecific) AsyncCommandExecution() bool {
	v, _ := n[NoraAsyncCommandExecution].(bool)
	return v
}

// TwoFactor reports whether a secondary confirmation factor is configured.
func (n NoraSpecific) TwoFactor() bool {
	v, ok := n[NoraTwoFactor]
	return ok && v != nil && v != false
}

// LocalExecution reports whether the device opted in to LAN execution.
func (n NoraSpecific) LocalExecution() bool {
	v, _ := n[NoraLocalExecution].(bool)
	return v
}

// Origin tags who wrote a remote state record.
type Origin string

// Origins of remote state records.
const (
	OriginClient Origin = "client"
	OriginServer Origin = "server"
)

// RemoteUpdate is the record stored at a device's remote state path.
type RemoteUpdate struct {
	State     State  `json:"state"`
	Origin    Origin `json:"origin"`
	Timestamp int64  `json:"timestamp"`
}
