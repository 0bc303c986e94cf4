package tracker

import "errors"

// ErrUnreachable marks a recoverable tracker transport failure: a
// connection error, non-2xx status, or malformed bencode response.
// Callers never need to branch on it directly — Announce always
// collapses these into an empty peer list — but it is exposed so
// logging call sites can classify the cause.
var ErrUnreachable = errors.New("tracker: unreachable")
