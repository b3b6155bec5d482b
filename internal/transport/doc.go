// Package transport links the controller to a robot base over TCP.
//
// The base streams laser scan frames; the controller streams twist frames
// back. Both directions use the frame + TLV codec from internal/protocol.
// A Bridge moves decoded scans onto the laser bus topic and encodes commands
// from the twist topic, reconnecting with exponential backoff when the link
// drops.
package transport
