// Package timeouts defines shared timeout constants used across the process.
// Centralizing these values prevents drift between the transport and hub
// lifecycle boundaries and makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// HubStop bounds the wait for the hub worker goroutine to exit after it has
// been signalled to stop.
const HubStop = 5 * time.Second

// HeartbeatInterval is how often the hub pings live connections and sweeps
// for stale participants.
const HeartbeatInterval = 30 * time.Second

// HeartbeatTimeout is how long a participant may go without a pong before its
// connections are considered stale and closed.
const HeartbeatTimeout = 60 * time.Second
