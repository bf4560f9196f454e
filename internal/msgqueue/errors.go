package msgqueue

import "errors"

// ErrOversize is returned when a descriptor's encoded header does not fit
// within its configured PacketSize.
var ErrOversize = errors.New("msgqueue: encoded message exceeds packet size")

// ErrMalformed is returned when a descriptor's wire form cannot be parsed.
var ErrMalformed = errors.New("msgqueue: malformed message")
