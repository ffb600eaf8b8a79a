// Package discovery models Home Assistant MQTT discovery components and
// extracts telemetry fields from the data they publish.
//
// A device announces each of its components with a retained JSON
// configuration on <prefix>/<kind>/[<node_id>/]<object_id>/config. The
// configuration names a state topic and, for sensors, a value template
// such as "{{ value_json.temp }}". [ParseConfig] turns the announcement
// into a [Component]; [Extract] later reads the referenced value out of
// a data message published on the state topic.
//
// Only the sensor and binary_sensor kinds carry telemetry that hassflux
// stores. Other kinds are rejected with [ErrUnsupportedKind].
package discovery
