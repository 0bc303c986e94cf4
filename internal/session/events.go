package session

import "github.com/google/uuid"

// Event is emitted by a session to the coordinator over a shared,
// bounded channel. Events from a single session are emitted in the
// order the session processed them; there is no ordering across
// sessions.
//
// Choked exists alongside Connected, Closed, and PieceAssembled so the
// coordinator gets prompt notice that an in-flight piece's blocks were
// just cancelled, rather than waiting for its next scheduling tick to
// notice nothing more will arrive.
type Event interface {
	isEvent()
}

// Connected announces a session has completed its handshake and is
// ready to be scheduled against.
type Connected struct {
	Endpoint  string
	SessionID uuid.UUID
}

// Closed announces a session has torn down, for any reason. Err is nil
// for a coordinator-requested close.
type Closed struct {
	Endpoint  string
	SessionID uuid.UUID
	Err       error
}

// Choked announces the peer choked us, cancelling every pending
// request this session held.
type Choked struct {
	Endpoint string
}

// PieceAssembled announces a complete, concatenated piece buffer ready
// for the coordinator to verify and commit. The session performs no
// hash verification itself; that is centralized in the coordinator.
type PieceAssembled struct {
	Endpoint string
	Index    int
	Data     []byte
}

func (Connected) isEvent()      {}
func (Closed) isEvent()         {}
func (Choked) isEvent()         {}
func (PieceAssembled) isEvent() {}
