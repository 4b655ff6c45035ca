// Package server implements the presence synchronization core: the
// connection registry and broadcast fan-out (Hub), the per-connection
// session state machine, the local and Redis-backed presence backends, and
// the HTTP surface that upgrades clients to WebSocket.
//
// The implementation is organized into specialized files for configuration,
// the hub, clients, sessions, routing, and HTTP handlers.
package server
