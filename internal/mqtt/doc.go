// Package mqtt forwards MCP session events to an MQTT broker.
//
// A Forwarder subscribes to the event bus and publishes each event as
// JSON under <prefix>/<server>/<kind>. Server health transitions are
// also published, retained, to <prefix>/<server>/status so a late
// subscriber sees the current state. The forwarder's own availability
// is published retained to <prefix>/availability, with a will message
// that flips it to "offline" on unexpected disconnects.
//
// Connection management, including reconnects, is handled by Eclipse
// Paho v2's [autopaho] package.
package mqtt
