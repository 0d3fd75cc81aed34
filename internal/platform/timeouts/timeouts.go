// Package timeouts defines shared timeout constants used across the
// process so boundary durations stay discoverable and do not drift.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// StoreQuery caps a single credential or message store round trip issued
// from a request handler.
const StoreQuery = 3 * time.Second
