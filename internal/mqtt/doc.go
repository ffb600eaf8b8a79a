// Package mqtt connects hassflux to the MQTT broker.
//
// The [Client] uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. The broker session is not
// kept across connections, so on every (re-)connect the client
// subscribes again to the discovery config filters and to every state
// topic the registry already knows, then announces the gateway itself
// as a Home Assistant binary_sensor whose state is "Started". A will
// message flips that state to "Stopped" on unexpected disconnects.
//
// Inbound publishes are queued and handed to a fixed pool of worker
// goroutines, so a slow sink write on one topic does not hold up
// messages on others. The queue is bounded; when it is full, or when
// the optional rate limit is exceeded, messages are dropped and
// counted.
package mqtt
