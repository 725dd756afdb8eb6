// Package mqtt publishes Despensa's operational status to an MQTT
// broker so dashboards and monitoring can watch the agent without
// polling its HTTP API.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. A will message
// ensures the availability topic transitions to "offline" on
// unexpected disconnects; every (re-)connect publishes a birth message
// ("online") and a fresh state document. The state document is a
// single retained JSON payload refreshed on a configurable interval.
package mqtt
