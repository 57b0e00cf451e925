package main

import (
	"unicode"
	"unicode/utf8"
)

// DeviceStatus is the adb connection state of a device. Anything the bridge
// reports outside these two values is excluded from the model entirely.
type DeviceStatus string

const (
	StatusDevice       DeviceStatus = "device"
	StatusUnauthorized DeviceStatus = "unauthorized"
)

// Device is one bridge-visible Android device. Devices are rebuilt fresh on
// every poll cycle and never mutated in place; the serial is the sole key.
// Properties are populated only for StatusDevice.
type Device struct {
	Serial         string            `json:"serial"`
	Status         DeviceStatus      `json:"status"`
	Model          string            `json:"model,omitempty"`
	Manufacturer   string            `json:"manufacturer,omitempty"`
	AndroidVersion string            `json:"androidVersion,omitempty"`
	SDK            string            `json:"sdk,omitempty"`
	Resolution     string            `json:"resolution,omitempty"`
	Battery        *int              `json:"battery,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// DisplayName is what device cards and window titles show: capitalized
// manufacturer plus model, falling back to the serial.
func (d Device) DisplayName() string {
	model := d.Model
	if model == "" {
		model = d.Serial
	}
	if d.Manufacturer == "" {
		return model
	}
	return capitalize(d.Manufacturer) + " " + model
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// Snapshot is the full set of devices visible as of one poll cycle, in the
// bridge tool's own line order. Immutable once produced.
type Snapshot struct {
	Devices []Device
}

// Count returns the number of devices in the snapshot.
func (s Snapshot) Count() int {
	return len(s.Devices)
}

// Get looks up a device by serial.
func (s Snapshot) Get(serial string) (Device, bool) {
	for _, d := range s.Devices {
		if d.Serial == serial {
			return d, true
		}
	}
	return Device{}, false
}

// SameDevices reports whether both snapshots contain exactly the same serials.
// This is deliberately coarse: property deltas on an already-known device
// (battery level, resolution) do not count as a change, so the UI keeps the
// values from the first sighting until the device set itself changes.
func (s Snapshot) SameDevices(other Snapshot) bool {
	if len(s.Devices) != len(other.Devices) {
		return false
	}
	serials := make(map[string]struct{}, len(s.Devices))
	for _, d := range s.Devices {
		serials[d.Serial] = struct{}{}
	}
	for _, d := range other.Devices {
		if _, ok := serials[d.Serial]; !ok {
			return false
		}
	}
	return true
}
