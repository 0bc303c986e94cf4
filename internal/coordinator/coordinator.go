// Package coordinator is the central state machine for a download: it
// owns the piece-state table, the session pool, the output sink, and
// the transfer counters, and is the sole goroutine permitted to mutate
// any of them. Peer sessions and the tracker client talk to it only
// through channels.
package coordinator

import (
	"context"
	"crypto/sha1"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lvbealr/gopherbit/internal/config"
	"github.com/lvbealr/gopherbit/internal/layout"
	"github.com/lvbealr/gopherbit/internal/metainfo"
	"github.com/lvbealr/gopherbit/internal/session"
	"github.com/lvbealr/gopherbit/internal/sink"
	"github.com/lvbealr/gopherbit/internal/tracker"
)

type sessionHandle struct {
	session  *session.Session
	commands chan<- session.Command
}

type dialResult struct {
	endpoint string
	sess     *session.Session
	err      error
}

// Coordinator drives one torrent's download to completion.
type Coordinator struct {
	torrent *metainfo.Torrent
	peerID  [20]byte
	sink    *sink.Sink
	tracker *tracker.Client
	log     *logrus.Entry

	pieces   []pieceState
	sessions map[string]*sessionHandle
	dialing  map[string]struct{}

	events      chan session.Event
	dialResults chan dialResult
	trackerCh   chan trackerAnnounce
	fatalErr    chan error
	counters    *counters
}

// New builds a Coordinator ready to have Run called on it.
func New(t *metainfo.Torrent, outputDir string, peerID [20]byte, log *logrus.Entry) (*Coordinator, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	l := layout.Single(t.Name, t.TotalLength)
	s, err := sink.Open(outputDir, l, t.PieceLength)
	if err != nil {
		return nil, fmt.Errorf("coordinator: opening sink: %w", err)
	}

	pieces := make([]pieceState, t.NumPieces())

	return &Coordinator{
		torrent:     t,
		peerID:      peerID,
		sink:        s,
		tracker:     tracker.New(t.AnnounceURL, t.AnnounceList, t.InfoHash, peerID, log.WithField("component", "tracker")),
		log:         log,
		pieces:      pieces,
		sessions:    make(map[string]*sessionHandle),
		dialing:     make(map[string]struct{}),
		events:      make(chan session.Event, config.EventQueueSize),
		dialResults: make(chan dialResult, config.MaxPeers),
		trackerCh:   make(chan trackerAnnounce, 4),
		fatalErr:    make(chan error, 1),
		counters:    newCounters(t.TotalLength, t.NumPieces()),
	}, nil
}

// Progress reports current download progress for the CLI.
func (c *Coordinator) Progress() Progress { return c.counters.progress() }

// Run drives the coordinator until ctx is cancelled or a fatal error
// occurs (sink write failure, wrapped in ErrIO). It always closes the
// sink before returning.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.sink.Close()

	go runTrackerLoop(ctx, c.tracker, c.counters, c.trackerCh)

	ticker := time.NewTicker(config.SchedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdownSessions()
			return nil

		case err := <-c.fatalErr:
			c.shutdownSessions()
			return fmt.Errorf("coordinator: %w: %w", err, ErrIO)

		case ann := <-c.trackerCh:
			c.handleTrackerAnnounce(ctx, ann)

		case res := <-c.dialResults:
			c.handleDialResult(res)

		case evt := <-c.events:
			c.handleSessionEvent(evt)

		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Coordinator) shutdownSessions() {
	for _, h := range c.sessions {
		select {
		case h.commands <- session.Close{}:
		default:
		}
	}
}

func (c *Coordinator) handleTrackerAnnounce(ctx context.Context, ann trackerAnnounce) {
	if ann.err != nil {
		c.log.WithError(ann.err).Warn("tracker announce failed, keeping existing peers")
	}

	for _, p := range ann.peers {
		endpoint := p.String()
		if _, ok := c.sessions[endpoint]; ok {
			continue
		}
		if _, ok := c.dialing[endpoint]; ok {
			continue
		}
		if len(c.sessions)+len(c.dialing) >= config.MaxPeers {
			break
		}

		c.dialing[endpoint] = struct{}{}
		go c.connect(ctx, endpoint)
	}

	c.counters.setPeerCount(len(c.sessions))
}

func (c *Coordinator) connect(ctx context.Context, endpoint string) {
	sess, err := session.Dial(ctx, endpoint, c.torrent.InfoHash, c.peerID, c.torrent.NumPieces(), c.torrent.PieceSize, c.events, c.log)
	c.dialResults <- dialResult{endpoint: endpoint, sess: sess, err: err}
	if err != nil {
		return
	}
	sess.Run(ctx)
}

func (c *Coordinator) handleDialResult(res dialResult) {
	delete(c.dialing, res.endpoint)
	if res.err != nil {
		c.log.WithError(res.err).WithField("endpoint", res.endpoint).Debug("dial failed")
		return
	}
	c.sessions[res.endpoint] = &sessionHandle{session: res.sess, commands: res.sess.Commands()}
	c.counters.setPeerCount(len(c.sessions))
}

func (c *Coordinator) handleSessionEvent(evt session.Event) {
	switch e := evt.(type) {
	case session.Connected:
		c.log.WithFields(logrus.Fields{"endpoint": e.Endpoint, "session_id": e.SessionID}).Info("peer handshake complete")

	case session.Closed:
		if e.Err != nil {
			c.log.WithError(e.Err).WithField("endpoint", e.Endpoint).Debug("session closed")
		}
		delete(c.sessions, e.Endpoint)
		c.reassignFrom(e.Endpoint)
		c.counters.setPeerCount(len(c.sessions))

	case session.Choked:
		c.reassignFrom(e.Endpoint)

	case session.PieceAssembled:
		c.completePiece(e.Endpoint, e.Index, e.Data)
	}
}

// reassignFrom returns any piece currently InFlight on endpoint back to
// Missing, so the next tick can hand it to a different session.
func (c *Coordinator) reassignFrom(endpoint string) {
	for i := range c.pieces {
		if c.pieces[i].Status == InFlight && c.pieces[i].Endpoint == endpoint {
			c.pieces[i] = pieceState{Status: Missing}
		}
	}
}

func (c *Coordinator) completePiece(endpoint string, index int, data []byte) {
	if index < 0 || index >= len(c.pieces) {
		return
	}
	if c.pieces[index].Status == Complete {
		return
	}

	sum := sha1.Sum(data)
	if sum != c.torrent.PieceHashes[index] {
		c.log.WithFields(logrus.Fields{"piece": index, "endpoint": endpoint}).Warn("hash mismatch, retrying piece")
		c.pieces[index] = pieceState{Status: Missing}
		return
	}

	if err := c.sink.Commit(index, data); err != nil {
		select {
		case c.fatalErr <- err:
		default:
		}
		return
	}

	c.pieces[index] = pieceState{Status: Complete}
	c.counters.addDownloaded(int64(len(data)))
}

// tick runs one scheduling pass: reap stale in-flight assignments, then
// hand every still-missing, currently-available piece to a candidate
// session.
func (c *Coordinator) tick() {
	c.reapStaleAssignments()

	available := c.availablePieces()
	for index := range available {
		if c.pieces[index].Status != Missing {
			continue
		}

		endpoint, h := c.pickCandidate(index)
		if h == nil {
			continue
		}

		c.pieces[index] = pieceState{Status: InFlight, Endpoint: endpoint, AssignedAt: time.Now()}
		c.dispatchPiece(index, h)
	}
}

func (c *Coordinator) reapStaleAssignments() {
	now := time.Now()
	for i := range c.pieces {
		if c.pieces[i].Status == InFlight && now.Sub(c.pieces[i].AssignedAt) > config.RequestStaleness {
			c.pieces[i] = pieceState{Status: Missing}
		}
	}
}

func (c *Coordinator) availablePieces() map[int]struct{} {
	available := make(map[int]struct{})
	for _, h := range c.sessions {
		snap := h.session.Snapshot()
		if !snap.Handshaken {
			continue
		}
		for idx := range snap.PeerPieces {
			available[idx] = struct{}{}
		}
	}
	return available
}

// pickCandidate picks the handshaken, unchoking session that claims
// index with the fewest outstanding pending blocks, ties broken by
// endpoint string.
func (c *Coordinator) pickCandidate(index int) (string, *sessionHandle) {
	var endpoints []string
	for ep := range c.sessions {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)

	var bestEndpoint string
	var best *sessionHandle
	bestPending := -1

	for _, ep := range endpoints {
		h := c.sessions[ep]
		snap := h.session.Snapshot()
		if !snap.Handshaken || snap.PeerChoking {
			continue
		}
		if _, ok := snap.PeerPieces[index]; !ok {
			continue
		}
		if best == nil || snap.PendingBlocks < bestPending {
			best = h
			bestEndpoint = ep
			bestPending = snap.PendingBlocks
		}
	}

	return bestEndpoint, best
}

func (c *Coordinator) dispatchPiece(index int, h *sessionHandle) {
	size := c.torrent.PieceSize(index)
	var begin int64
	for begin < size {
		length := int64(config.BlockSize)
		if remaining := size - begin; remaining < length {
			length = remaining
		}

		cmd := session.RequestBlock{Index: index, Begin: uint32(begin), Length: uint32(length)}
		select {
		case h.commands <- cmd:
		default:
			c.log.WithField("piece", index).Warn("session command queue full, dropping block request")
		}

		begin += length
	}
}
