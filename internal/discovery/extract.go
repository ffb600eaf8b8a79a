package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Binary sensor field names.
const (
	FieldStatus       = "status"
	FieldBinaryStatus = "binary_status"
)

// deviceIDKey is the payload key sensor gateways put the device
// address under.
const deviceIDKey = "id"

// Field is one extracted name/value pair. Value is a float64, a bool or
// (for binary sensor status) a string.
type Field struct {
	Name  string
	Value any
}

// Fields is the set of values stored for one data message.
type Fields map[string]any

// Add stores f unless a field with the same name is already present.
// It reports whether f was added.
func (fs Fields) Add(f Field) bool {
	if _, exists := fs[f.Name]; exists {
		return false
	}
	fs[f.Name] = f.Value
	return true
}

// Names returns the field names in sorted order.
func (fs Fields) Names() []string {
	names := make([]string, 0, len(fs))
	for n := range fs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Payload is a data message body. JSON is the decoded object, or nil if
// the body was not decoded (no sensor matched) or is not an object.
type Payload struct {
	Raw  []byte
	JSON map[string]any
}

// DecodeJSON decodes a data message body into a flat key/value object.
// Numbers are kept as [json.Number] so integer ids survive unchanged.
func DecodeJSON(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode data payload: %w", err)
	}
	return obj, nil
}

// Extract returns the fields component c contributes for payload p. It
// never fails: anything that does not apply yields no fields.
func Extract(c Component, p Payload) []Field {
	switch c.Kind {
	case KindSensor:
		if f, ok := extractSensor(c, p.JSON); ok {
			return []Field{f}
		}
	case KindBinarySensor:
		return extractBinarySensor(c, string(p.Raw))
	}
	return nil
}

func extractSensor(c Component, data map[string]any) (Field, bool) {
	if c.Sensor == nil || data == nil {
		return Field{}, false
	}
	key, ok := TemplateField(c.Sensor.ValueTemplate)
	if !ok {
		return Field{}, false
	}
	name, ok := CanonicalName(key)
	if !ok {
		return Field{}, false
	}
	raw, ok := data[key]
	if !ok {
		return Field{}, false
	}
	v, ok := toFloat(raw)
	if !ok {
		return Field{}, false
	}
	return Field{Name: name, Value: v}, true
}

func extractBinarySensor(c Component, raw string) []Field {
	on := ""
	if c.BinarySensor != nil {
		on = c.BinarySensor.PayloadOn
	}
	return []Field{
		{Name: FieldStatus, Value: raw},
		{Name: FieldBinaryStatus, Value: raw == on},
	}
}

// DeviceID returns the device address a sensor gateway embeds in its
// payload under "id". Numeric ids are formatted as decimal strings.
func DeviceID(data map[string]any) (string, bool) {
	switch v := data[deviceIDKey].(type) {
	case string:
		return v, v != ""
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// toFloat converts a payload value to a finite number. NaN and
// infinities have no line protocol representation.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && isFinite(f)
	case float64:
		return n, isFinite(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && isFinite(f)
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
