package config

import (
	"fmt"
	"sort"

	"github.com/tejusbharadwaj/domotik/internal/models"
)

// DeviceType is the closed set of device categories a [device.<name>] table may declare.
type DeviceType string

const (
	DeviceEvent               DeviceType = "event"
	DeviceTemperatureHumidity DeviceType = "temperature-humidity"
	DeviceAtmosphericPressure DeviceType = "atmospheric-pressure"
)

// Device is a validated registry entry. Bounds only drive chart axes.
type Device struct {
	Name           string     `json:"name"`
	Type           DeviceType `json:"type"`
	Trigger        string     `json:"trigger,omitempty"`
	HumidityMin    float64    `json:"humidity_min,omitempty"`
	HumidityMax    float64    `json:"humidity_max,omitempty"`
	TemperatureMin float64    `json:"temperature_min,omitempty"`
	TemperatureMax float64    `json:"temperature_max,omitempty"`
	PressureMin    float64    `json:"pressure_min,omitempty"`
	PressureMax    float64    `json:"pressure_max,omitempty"`
}

// Registry indexes configured devices by name.
type Registry struct {
	devices  map[string]Device
	pressure *Device
}

// NewRegistry validates raw device tables. Unknown types fail here, at load
// time, rather than on first use.
func NewRegistry(raw map[string]DeviceConfig) (*Registry, error) {
	r := &Registry{devices: make(map[string]Device, len(raw))}
	for name, dc := range raw {
		d := Device{Name: name, Type: DeviceType(dc.Type), Trigger: dc.Trigger}
		switch d.Type {
		case DeviceEvent:
		case DeviceTemperatureHumidity:
			if dc.HumidityMin > dc.HumidityMax || dc.TemperatureMin > dc.TemperatureMax {
				return nil, fmt.Errorf("device %s: min bound above max bound", name)
			}
			d.HumidityMin, d.HumidityMax = dc.HumidityMin, dc.HumidityMax
			d.TemperatureMin, d.TemperatureMax = dc.TemperatureMin, dc.TemperatureMax
		case DeviceAtmosphericPressure:
			if dc.Min > dc.Max {
				return nil, fmt.Errorf("device %s: min bound above max bound", name)
			}
			if r.pressure != nil {
				return nil, fmt.Errorf("device %s: atmospheric pressure already configured by %s", name, r.pressure.Name)
			}
			d.PressureMin, d.PressureMax = dc.Min, dc.Max
			dev := d
			r.pressure = &dev
		default:
			return nil, fmt.Errorf("device %s: unknown type: %q", name, dc.Type)
		}
		r.devices[name] = d
	}
	return r, nil
}

// Lookup checks that a device-scoped kind names a configured device of the
// matching type. Singleton kinds always succeed with a zero Device.
func (r *Registry) Lookup(kind models.SensorKind) (Device, error) {
	var want DeviceType
	switch kind.Kind {
	case models.KindOnOff:
		want = DeviceEvent
	case models.KindTemperatureHumidity:
		want = DeviceTemperatureHumidity
	default:
		return Device{}, nil
	}
	if kind.Device == "" {
		return Device{}, models.NewParamError("device", "missing parameter")
	}
	d, ok := r.devices[kind.Device]
	if !ok || d.Type != want {
		return Device{}, models.NewParamError("device", fmt.Sprintf("%s not found in configuration", kind.Device))
	}
	return d, nil
}

// Pressure returns the atmospheric pressure device, if one is configured.
func (r *Registry) Pressure() (Device, bool) {
	if r.pressure == nil {
		return Device{}, false
	}
	return *r.pressure, true
}

// ByType returns the devices of the given type sorted by name.
func (r *Registry) ByType(t DeviceType) []Device {
	var out []Device
	for _, d := range r.All() {
		if d.Type == t {
			out = append(out, d)
		}
	}
	return out
}

// All returns every device sorted by name.
func (r *Registry) All() []Device {
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
