// Package server is the HTTP and WebSocket front end of the room chat relay.
//
// It exposes the join-request endpoint, the per-room WebSocket endpoint, the
// embedded chat page, health and metrics. Each WebSocket is wrapped in a
// Client that implements relay.Conn, so the relay package never sees the
// socket itself. Configuration, logging, origin checks and server lifecycle
// helpers live here as well.
package server
