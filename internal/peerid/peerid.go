// Package peerid generates the client's 20-byte BitTorrent peer identity.
package peerid

import (
	"crypto/rand"
	"fmt"

	"github.com/lvbealr/gopherbit/internal/config"
)

// ID is a 20-byte peer identity, fixed for the lifetime of the process.
type ID [20]byte

// Generate produces a new peer-id: the fixed client prefix followed by
// 12 cryptographically random bytes.
func Generate() (ID, error) {
	var id ID
	copy(id[:], config.PeerIDPrefix)

	tail := id[len(config.PeerIDPrefix):]
	if _, err := rand.Read(tail); err != nil {
		return ID{}, fmt.Errorf("peerid: generating random suffix: %w", err)
	}

	return id, nil
}

// String renders the peer-id for logging. The random suffix is binary,
// so it is hex-encoded rather than printed as raw bytes.
func (id ID) String() string {
	return fmt.Sprintf("%s%x", config.PeerIDPrefix, id[len(config.PeerIDPrefix):])
}
