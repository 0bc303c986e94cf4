package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvbealr/gopherbit/internal/peerwire"
)

const pieceLen = 32

func fixedPieceSize(int) int64 { return pieceLen }

func discardLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(nopWriter{})
	return logrus.NewEntry(log)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// newTestSession wires a Session to one end of a net.Pipe, performing
// the handshake over it synchronously, and hands back the other end so
// the test can act as the remote peer.
func newTestSession(t *testing.T, events chan Event) (*Session, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()

	var infoHash, ourID [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(ourID[:], "-PC0001-abcdefgh1234")

	done := make(chan struct{})
	var s *Session
	var err error
	go func() {
		s, err = handshakeOver(local, "remote:1", infoHash, ourID, 4, fixedPieceSize, events, discardLog())
		close(done)
	}()

	// Act as the remote peer for the handshake.
	_, readErr := peerwire.ReadHandshake(remote, infoHash)
	require.NoError(t, readErr)
	require.NoError(t, peerwire.WriteHandshake(remote, infoHash, [20]byte{}))

	<-done
	require.NoError(t, err)
	return s, remote
}

func TestSessionHandshakeEmitsConnected(t *testing.T) {
	events := make(chan Event, 16)
	s, remote := newTestSession(t, events)
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// First message the remote sees should be "interested".
	msg, err := peerwire.ReadMessage(remote)
	require.NoError(t, err)
	assert.Equal(t, peerwire.Interested, msg.ID)

	evt := <-events
	conn, ok := evt.(Connected)
	require.True(t, ok, "expected Connected event, got %T", evt)
	assert.Equal(t, "remote:1", conn.Endpoint)
}

func TestSessionAssemblesPieceFromTwoBlocks(t *testing.T) {
	events := make(chan Event, 16)
	s, remote := newTestSession(t, events)
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	<-events // Connected
	_, err := peerwire.ReadMessage(remote) // interested
	require.NoError(t, err)

	s.Commands() <- RequestBlock{Index: 0, Begin: 0, Length: 16}
	s.Commands() <- RequestBlock{Index: 0, Begin: 16, Length: 16}

	for i := 0; i < 2; i++ {
		msg, err := peerwire.ReadMessage(remote)
		require.NoError(t, err)
		require.Equal(t, peerwire.Request, msg.ID)
		index, begin, length, err := peerwire.ParseRequestPayload(msg.Payload)
		require.NoError(t, err)

		block := make([]byte, length)
		for j := range block {
			block[j] = byte(begin) + byte(j)
		}
		payload := peerwire.PiecePayload(index, begin, block)
		require.NoError(t, peerwire.WriteMessage(remote, peerwire.Piece, payload))
	}

	select {
	case evt := <-events:
		assembled, ok := evt.(PieceAssembled)
		require.True(t, ok, "expected PieceAssembled, got %T", evt)
		assert.Equal(t, 0, assembled.Index)
		assert.Len(t, assembled.Data, pieceLen)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for PieceAssembled")
	}
}

func TestSessionChokeCancelsPendingAndEmitsChoked(t *testing.T) {
	events := make(chan Event, 16)
	s, remote := newTestSession(t, events)
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	<-events // Connected
	_, err := peerwire.ReadMessage(remote) // interested
	require.NoError(t, err)

	s.Commands() <- RequestBlock{Index: 0, Begin: 0, Length: 16}
	_, err = peerwire.ReadMessage(remote) // request
	require.NoError(t, err)

	require.NoError(t, peerwire.WriteMessage(remote, peerwire.Choke, nil))

	select {
	case evt := <-events:
		_, ok := evt.(Choked)
		require.True(t, ok, "expected Choked, got %T", evt)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Choked")
	}

	snap := s.Snapshot()
	assert.True(t, snap.PeerChoking)
	assert.Equal(t, 0, snap.PendingBlocks)
}

func TestSessionUnknownMessageIDIsSkipped(t *testing.T) {
	events := make(chan Event, 16)
	s, remote := newTestSession(t, events)
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	<-events // Connected
	_, err := peerwire.ReadMessage(remote) // interested
	require.NoError(t, err)

	require.NoError(t, peerwire.WriteMessage(remote, peerwire.ID(99), []byte("whatever")))
	require.NoError(t, peerwire.WriteMessage(remote, peerwire.Unchoke, nil))

	// If the unknown id had closed the session, this write would fail
	// (or hit the deadline) instead of being read by the session.
	_ = remote.SetWriteDeadline(time.Now().Add(time.Second))
	require.NoError(t, peerwire.WriteMessage(remote, peerwire.Have, peerwire.RequestPayload(2, 0, 0)[:4]))

	time.Sleep(50 * time.Millisecond)
	snap := s.Snapshot()
	assert.False(t, snap.PeerChoking)
	_, has := snap.PeerPieces[2]
	assert.True(t, has)
}

func TestSessionCloseCommandEndsRun(t *testing.T) {
	events := make(chan Event, 16)
	s, remote := newTestSession(t, events)
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	<-events // Connected
	_, err := peerwire.ReadMessage(remote) // interested
	require.NoError(t, err)

	s.Commands() <- Close{}

	select {
	case evt := <-events:
		closed, ok := evt.(Closed)
		require.True(t, ok, "expected Closed, got %T", evt)
		assert.NoError(t, closed.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Closed")
	}
}
