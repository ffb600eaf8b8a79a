package mqtt

import "github.com/nugget/hassflux/internal/buildinfo"

// Presence payloads of the gateway's own binary_sensor.
const (
	PresenceOn  = "Started"
	PresenceOff = "Stopped"
)

// DeviceInfo holds the Home Assistant device registry fields of the
// gateway's discovery payload.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// BinarySensorConfig is the JSON payload for an HA MQTT binary_sensor
// discovery message. The gateway publishes one (retained) for its own
// presence on every broker (re-)connect.
type BinarySensorConfig struct {
	Name           string     `json:"name"`
	UniqueID       string     `json:"unique_id"`
	StateTopic     string     `json:"state_topic"`
	PayloadOn      string     `json:"payload_on"`
	PayloadOff     string     `json:"payload_off"`
	DeviceClass    string     `json:"device_class,omitempty"`
	EntityCategory string     `json:"entity_category,omitempty"`
	Device         DeviceInfo `json:"device"`
}

// NewDeviceInfo creates a DeviceInfo from the persistent instance ID
// and the configured device name. The instance ID stays stable when
// the device is renamed, so HA keeps the entity history.
func NewDeviceInfo(instanceID, deviceName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{instanceID},
		Name:         deviceName,
		Manufacturer: "Hollow Oak",
		Model:        "hassflux MQTT to InfluxDB gateway",
		SWVersion:    buildinfo.Version,
	}
}

// presenceConfig describes the gateway's running state.
func presenceConfig(instanceID string, device DeviceInfo, stateTopic string) BinarySensorConfig {
	return BinarySensorConfig{
		Name:           device.Name + " Presence",
		UniqueID:       instanceID,
		StateTopic:     stateTopic,
		PayloadOn:      PresenceOn,
		PayloadOff:     PresenceOff,
		DeviceClass:    "running",
		EntityCategory: "diagnostic",
		Device:         device,
	}
}
