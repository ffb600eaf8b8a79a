package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nugget/hassflux/internal/topic"
)

// ConfigPatterns returns the subscription filters for discovery
// configurations under prefix: one without and one with a node id
// level.
func ConfigPatterns(prefix string) []string {
	prefix = strings.TrimSuffix(prefix, topic.Separator)
	return []string{
		prefix + "/+/+/config",
		prefix + "/+/+/+/config",
	}
}

// KindFromTopic returns the component kind encoded in a discovery
// config topic under prefix.
func KindFromTopic(configTopic, prefix string) (Kind, error) {
	prefix = strings.TrimSuffix(prefix, topic.Separator) + topic.Separator
	rest, ok := strings.CutPrefix(configTopic, prefix)
	if !ok || !strings.HasSuffix(rest, "/config") {
		return "", fmt.Errorf("%w: %s", ErrNotConfigTopic, configTopic)
	}
	levels := strings.Split(rest, topic.Separator)
	if len(levels) < 3 || len(levels) > 4 {
		return "", fmt.Errorf("%w: %s", ErrNotConfigTopic, configTopic)
	}
	return ParseKind(levels[0])
}

// configPayload is the subset of a discovery configuration hassflux
// reads, after abbreviated keys have been expanded.
type configPayload struct {
	UniqueID          string  `json:"unique_id"`
	Name              string  `json:"name"`
	StateTopic        string  `json:"state_topic"`
	Device            *Device `json:"device"`
	ValueTemplate     string  `json:"value_template"`
	UnitOfMeasurement string  `json:"unit_of_measurement"`
	DeviceClass       string  `json:"device_class"`
	PayloadOn         *string `json:"payload_on"`
	PayloadOff        *string `json:"payload_off"`
}

// ParseConfig decodes a discovery configuration payload into a
// [Component] of the given kind. It returns [ErrIncomplete] when the
// payload lacks a unique id, device block or state topic.
func ParseConfig(kind Kind, payload []byte) (Component, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Component{}, fmt.Errorf("decode discovery payload: %w", err)
	}
	if raw == nil {
		return Component{}, fmt.Errorf("%w: empty payload", ErrIncomplete)
	}

	expanded, err := json.Marshal(expandAbbreviations(raw))
	if err != nil {
		return Component{}, fmt.Errorf("re-encode discovery payload: %w", err)
	}

	var cp configPayload
	if err := json.NewDecoder(bytes.NewReader(expanded)).Decode(&cp); err != nil {
		return Component{}, fmt.Errorf("decode discovery payload: %w", err)
	}

	switch {
	case cp.UniqueID == "":
		return Component{}, fmt.Errorf("%w: missing unique_id", ErrIncomplete)
	case cp.Device == nil:
		return Component{}, fmt.Errorf("%w: missing device", ErrIncomplete)
	case cp.StateTopic == "":
		return Component{}, fmt.Errorf("%w: missing state_topic", ErrIncomplete)
	}

	c := Component{
		Kind:       kind,
		UniqueID:   cp.UniqueID,
		Name:       cp.Name,
		StateTopic: cp.StateTopic,
		Device:     cp.Device,
	}

	switch kind {
	case KindSensor:
		c.Sensor = &SensorAttrs{
			ValueTemplate:     cp.ValueTemplate,
			UnitOfMeasurement: cp.UnitOfMeasurement,
			DeviceClass:       cp.DeviceClass,
		}
	case KindBinarySensor:
		// Home Assistant defaults for binary sensors.
		attrs := &BinarySensorAttrs{PayloadOn: "ON", PayloadOff: "OFF"}
		if cp.PayloadOn != nil {
			attrs.PayloadOn = *cp.PayloadOn
		}
		if cp.PayloadOff != nil {
			attrs.PayloadOff = *cp.PayloadOff
		}
		c.BinarySensor = attrs
	default:
		return Component{}, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}

	return c, nil
}
