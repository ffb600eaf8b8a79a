package discovery

import "errors"

var (
	// ErrUnsupportedKind is returned for discovery topics whose component
	// kind hassflux does not store (lights, switches, ...).
	ErrUnsupportedKind = errors.New("unsupported component kind")

	// ErrIncomplete is returned for configurations without a unique id,
	// device block, or state topic. Such components cannot be routed.
	ErrIncomplete = errors.New("incomplete component configuration")

	// ErrNotConfigTopic is returned when a topic does not have the
	// <prefix>/<kind>/[<node_id>/]<object_id>/config shape.
	ErrNotConfigTopic = errors.New("not a discovery config topic")
)
