package httpserver

import "time"

// ShutdownTimeout controls how long to wait for graceful shutdowns, including
// in-flight uploads and background workers.
var ShutdownTimeout = 30 * time.Second
