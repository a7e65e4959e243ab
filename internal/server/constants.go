// Package server provides the HTTP surface and supervises client WebSocket connections.
package server

const (
	// Close reason sent to clients when the process stops.
	shutdownReason = "server shutting down"

	healthStatusOK = "ok"
)
