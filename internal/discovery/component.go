package discovery

import (
	"encoding/json"
	"fmt"
)

// Kind is the component platform named in the discovery topic.
type Kind string

// Supported component kinds.
const (
	KindSensor       Kind = "sensor"
	KindBinarySensor Kind = "binary_sensor"
)

// ParseKind maps a discovery topic segment to a supported [Kind].
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSensor, KindBinarySensor:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
	}
}

// Identifiers holds the device identifiers. Discovery payloads send
// either a single string or a list, so both are accepted.
type Identifiers []string

// UnmarshalJSON accepts a JSON string or an array of strings.
func (ids *Identifiers) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*ids = Identifiers{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("device identifiers: %w", err)
	}
	*ids = many
	return nil
}

// Device is the device registry block of a discovery payload.
type Device struct {
	Identifiers  Identifiers `json:"identifiers"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer"`
	Model        string      `json:"model"`
	SWVersion    string      `json:"sw_version"`
}

// SensorAttrs are the fields only a sensor component carries.
type SensorAttrs struct {
	ValueTemplate     string
	UnitOfMeasurement string
	DeviceClass       string
}

// BinarySensorAttrs are the fields only a binary_sensor component
// carries.
type BinarySensorAttrs struct {
	PayloadOn  string
	PayloadOff string
}

// Component is a discovered device facet. Exactly one of Sensor and
// BinarySensor is set, matching Kind. A Component is never mutated
// after [ParseConfig] returns it, so copies may share the pointers.
type Component struct {
	Kind       Kind
	UniqueID   string
	Name       string
	StateTopic string
	Device     *Device

	Sensor       *SensorAttrs
	BinarySensor *BinarySensorAttrs
}

// DeviceName returns the device's display name, or "" if the component
// has no device block.
func (c Component) DeviceName() string {
	if c.Device == nil {
		return ""
	}
	return c.Device.Name
}
