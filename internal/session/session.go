// Package session drives a single peer-wire connection: the handshake,
// the choke/interested state machine, block-level request bookkeeping,
// and piece reassembly from delivered blocks.
//
// A Session owns no shared state: every fact the coordinator needs
// either arrives as an Event or is read through Snapshot, which copies
// out from behind a mutex rather than exposing the live maps. The
// coordinator is the only task that decides what to request and when;
// the session is a dumb executor of RequestBlock/Close commands plus a
// wire-protocol state machine.
package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lvbealr/gopherbit/internal/config"
	"github.com/lvbealr/gopherbit/internal/peerwire"
)

type blockKey struct {
	index int
	begin uint32
}

// Snapshot is a read-only copy of a session's wire state, taken for
// scheduling decisions. The coordinator polls this once per tick
// instead of reaching into the session's live state.
type Snapshot struct {
	Handshaken     bool
	PeerChoking    bool
	PeerInterested bool
	PeerPieces     map[int]struct{}
	PendingBlocks  int
}

// Session manages one TCP connection to a remote peer.
type Session struct {
	conn      net.Conn
	endpoint  string
	sessionID uuid.UUID
	log       *logrus.Entry

	infoHash  [20]byte
	numPieces int
	pieceSize func(index int) int64

	mu             sync.RWMutex
	handshaken     bool
	peerChoking    bool
	peerInterested bool
	amInterested   bool
	peerPieces     map[int]struct{}

	pendingMu       sync.Mutex
	pendingRequests map[blockKey]time.Time

	partial map[int]map[uint32][]byte // touched only by the Run goroutine

	events   chan<- Event
	commands chan Command
}

// Dial connects to endpoint and performs the BEP 3 handshake, returning
// a Session ready to have Run called on it. The handshake deadline is
// config.HandshakeTimeout.
func Dial(ctx context.Context, endpoint string, infoHash, ourPeerID [20]byte, numPieces int, pieceSize func(int) int64, events chan<- Event, log *logrus.Entry) (*Session, error) {
	dialer := net.Dialer{Timeout: config.HandshakeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("session: dialing %s: %w", endpoint, err)
	}
	return handshakeOver(conn, endpoint, infoHash, ourPeerID, numPieces, pieceSize, events, log)
}

// handshakeOver performs the BEP 3 handshake over an already-open
// connection and builds a Session around it. Split out from Dial so
// tests can hand it an in-memory net.Pipe instead of a real socket.
func handshakeOver(conn net.Conn, endpoint string, infoHash, ourPeerID [20]byte, numPieces int, pieceSize func(int) int64, events chan<- Event, log *logrus.Entry) (*Session, error) {
	if err := conn.SetDeadline(time.Now().Add(config.HandshakeTimeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: setting handshake deadline: %w", err)
	}

	if err := peerwire.WriteHandshake(conn, infoHash, ourPeerID); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := peerwire.ReadHandshake(conn, infoHash); err != nil {
		conn.Close()
		return nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: clearing handshake deadline: %w", err)
	}

	id := uuid.New()
	s := &Session{
		conn:            conn,
		endpoint:        endpoint,
		sessionID:       id,
		log:             log.WithFields(logrus.Fields{"endpoint": endpoint, "session_id": id}),
		infoHash:        infoHash,
		numPieces:       numPieces,
		pieceSize:       pieceSize,
		handshaken:      true,
		peerChoking:     true,
		peerPieces:      make(map[int]struct{}),
		pendingRequests: make(map[blockKey]time.Time),
		partial:         make(map[int]map[uint32][]byte),
		events:          events,
		commands:        make(chan Command, config.CommandQueueSize),
	}
	return s, nil
}

// Endpoint returns the remote address this session is connected to.
func (s *Session) Endpoint() string { return s.endpoint }

// SessionID returns the correlation id minted at Dial time.
func (s *Session) SessionID() uuid.UUID { return s.sessionID }

// Commands returns the channel the coordinator sends RequestBlock and
// Close commands on.
func (s *Session) Commands() chan<- Command { return s.commands }

// Snapshot copies out the session's current wire state for scheduling.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pieces := make(map[int]struct{}, len(s.peerPieces))
	for idx := range s.peerPieces {
		pieces[idx] = struct{}{}
	}

	s.pendingMu.Lock()
	pending := len(s.pendingRequests)
	s.pendingMu.Unlock()

	return Snapshot{
		Handshaken:     s.handshaken,
		PeerChoking:    s.peerChoking,
		PeerInterested: s.peerInterested,
		PeerPieces:     pieces,
		PendingBlocks:  pending,
	}
}

// Run declares interest, then services the wire and the command
// channel until ctx is cancelled, the connection fails, or a Close
// command arrives. It always emits exactly one Closed event before
// returning.
func (s *Session) Run(ctx context.Context) {
	s.events <- Connected{Endpoint: s.endpoint, SessionID: s.sessionID}

	if err := s.sendInterested(); err != nil {
		s.closeWithError(err)
		return
	}

	msgCh := make(chan peerwire.Message)
	errCh := make(chan error, 1)
	go s.readLoop(msgCh, errCh)

	for {
		select {
		case <-ctx.Done():
			s.closeWithError(nil)
			return
		case err := <-errCh:
			s.closeWithError(err)
			return
		case msg := <-msgCh:
			if err := s.handleMessage(msg); err != nil {
				s.closeWithError(err)
				return
			}
		case cmd, ok := <-s.commands:
			if !ok {
				s.closeWithError(nil)
				return
			}
			if s.handleCommand(cmd) {
				s.closeWithError(nil)
				return
			}
		}
	}
}

func (s *Session) readLoop(msgCh chan<- peerwire.Message, errCh chan<- error) {
	for {
		msg, err := peerwire.ReadMessage(s.conn)
		if err != nil {
			errCh <- err
			return
		}
		msgCh <- msg
	}
}

// handleCommand returns true when the session should close.
func (s *Session) handleCommand(cmd Command) bool {
	switch c := cmd.(type) {
	case RequestBlock:
		if err := s.sendRequest(c); err != nil {
			s.log.WithError(err).Warn("sending request failed")
			return true
		}
		return false
	case Close:
		return true
	default:
		return false
	}
}

func (s *Session) handleMessage(msg peerwire.Message) error {
	if msg.KeepAlive {
		return nil
	}

	switch msg.ID {
	case peerwire.Choke:
		s.mu.Lock()
		s.peerChoking = true
		s.mu.Unlock()
		s.pendingMu.Lock()
		s.pendingRequests = make(map[blockKey]time.Time)
		s.pendingMu.Unlock()
		s.events <- Choked{Endpoint: s.endpoint}

	case peerwire.Unchoke:
		s.mu.Lock()
		s.peerChoking = false
		s.mu.Unlock()

	case peerwire.Interested:
		s.mu.Lock()
		s.peerInterested = true
		s.mu.Unlock()

	case peerwire.NotInterested:
		s.mu.Lock()
		s.peerInterested = false
		s.mu.Unlock()

	case peerwire.Have:
		index, err := peerwire.ParseHavePayload(msg.Payload)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.peerPieces[int(index)] = struct{}{}
		s.mu.Unlock()

	case peerwire.Bitfield:
		set := peerwire.SetPieces(peerwire.BitSet(msg.Payload), s.numPieces)
		s.mu.Lock()
		s.peerPieces = set
		s.mu.Unlock()

	case peerwire.Piece:
		return s.handlePiece(msg.Payload)

	case peerwire.Request, peerwire.Cancel:
		// Upload serving is out of scope; requests and cancels from the
		// remote peer are read and ignored, and no record of them is kept.

	default:
		// Unknown message ids are skipped rather than treated as a
		// protocol violation.
	}

	return nil
}

func (s *Session) handlePiece(payload []byte) error {
	index, begin, block, err := peerwire.ParsePiecePayload(payload)
	if err != nil {
		return err
	}

	key := blockKey{index: int(index), begin: begin}
	s.pendingMu.Lock()
	if _, ok := s.pendingRequests[key]; !ok {
		s.pendingMu.Unlock()
		// Block we never asked for (or already cancelled by a choke);
		// discard it.
		return nil
	}
	delete(s.pendingRequests, key)
	s.pendingMu.Unlock()

	blocks, ok := s.partial[int(index)]
	if !ok {
		blocks = make(map[uint32][]byte)
		s.partial[int(index)] = blocks
	}
	blocks[begin] = block

	expected := s.pieceSize(int(index))
	if pieceComplete(blocks, expected) {
		data := assemblePiece(blocks, expected)
		delete(s.partial, int(index))
		s.events <- PieceAssembled{Endpoint: s.endpoint, Index: int(index), Data: data}
	}

	return nil
}

func pieceComplete(blocks map[uint32][]byte, expected int64) bool {
	var total int64
	for _, b := range blocks {
		total += int64(len(b))
	}
	return total == expected
}

func assemblePiece(blocks map[uint32][]byte, expected int64) []byte {
	out := make([]byte, expected)
	for begin, b := range blocks {
		copy(out[begin:], b)
	}
	return out
}

func (s *Session) sendInterested() error {
	s.mu.Lock()
	s.amInterested = true
	s.mu.Unlock()
	if err := peerwire.WriteMessage(s.conn, peerwire.Interested, nil); err != nil {
		return fmt.Errorf("session: sending interested: %w", err)
	}
	return nil
}

func (s *Session) sendRequest(req RequestBlock) error {
	key := blockKey{index: req.Index, begin: req.Begin}
	s.pendingMu.Lock()
	s.pendingRequests[key] = time.Now()
	s.pendingMu.Unlock()

	payload := peerwire.RequestPayload(uint32(req.Index), req.Begin, req.Length)
	if err := peerwire.WriteMessage(s.conn, peerwire.Request, payload); err != nil {
		return fmt.Errorf("session: sending request: %w", err)
	}
	return nil
}

func (s *Session) closeWithError(err error) {
	s.conn.Close()
	s.events <- Closed{Endpoint: s.endpoint, SessionID: s.sessionID, Err: err}
}
