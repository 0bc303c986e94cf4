package coordinator

import "errors"

// ErrIO marks a sink write failure as run-fatal.
var ErrIO = errors.New("coordinator: output write failed")

// ErrShutdown names orderly termination, not a failure. Run itself
// returns nil, not ErrShutdown, when its context is cancelled.
var ErrShutdown = errors.New("coordinator: shut down")
