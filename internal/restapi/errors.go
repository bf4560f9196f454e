package restapi

import "errors"

// ErrTransient marks an I/O-level failure (timeout, connection reset) that
// callers should log and retry on the next tick, per §7.
var ErrTransient = errors.New("restapi: transient I/O error")

// ErrProtocol marks a non-2xx or malformed response from the node API.
var ErrProtocol = errors.New("restapi: protocol error")
