// Package config holds the tunable constants shared by the tracker,
// session, and coordinator packages. Centralising them here keeps the
// scheduler and wire-protocol code free of magic numbers.
package config

import "time"

const (
	// BlockSize is the fixed block size requested from peers, except
	// possibly the last block of the last piece.
	BlockSize = 16384

	// MaxPeers bounds the coordinator's session pool.
	MaxPeers = 50

	// MaxFrameSize is the hard ceiling on a peer-wire message length.
	// A frame above this is treated as a protocol violation.
	MaxFrameSize = 1 << 20

	// DefaultTrackerInterval is used when a tracker response omits
	// "interval" or when the announce itself fails.
	DefaultTrackerInterval = 1800 * time.Second

	// MaxTrackerInterval caps whatever interval the tracker proposes.
	MaxTrackerInterval = 300 * time.Second

	// TrackerRetryBackoff is how long the coordinator waits after a
	// failed announce before trying again.
	TrackerRetryBackoff = 60 * time.Second

	// HandshakeTimeout bounds connect + handshake exchange.
	HandshakeTimeout = 10 * time.Second

	// AnnounceTimeout bounds a single HTTP announce round trip.
	AnnounceTimeout = 15 * time.Second

	// RequestStaleness is the implicit deadline on a pending block
	// request; once exceeded the owning piece is forfeited.
	RequestStaleness = 60 * time.Second

	// SchedulerTick is the coordinator's piece-assignment cadence.
	SchedulerTick = 1 * time.Second

	// ProgressInterval is how often the CLI driver polls progress.
	ProgressInterval = 10 * time.Second

	// DefaultPort is advertised to trackers when the client does not
	// listen for incoming connections.
	DefaultPort = 6681

	// PeerIDPrefix identifies this client implementation on the wire.
	PeerIDPrefix = "-PC0001-"

	// ProtocolString is the BEP 3 handshake protocol name.
	ProtocolString = "BitTorrent protocol"

	// EventQueueSize bounds the coordinator's inbound event channel.
	EventQueueSize = 256

	// CommandQueueSize bounds a session's inbound command channel.
	CommandQueueSize = 64
)
