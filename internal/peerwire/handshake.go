// Package peerwire implements the BEP 3 handshake and message framing
// shared by every peer session. It is intentionally stateless: session
// state (choke flags, bitfields, pending requests) lives in the session
// package, which uses these types to talk to the wire.
package peerwire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/lvbealr/gopherbit/internal/config"
)

const handshakeLength = 49 + len(config.ProtocolString)

// Handshake is the 68-byte BEP 3 handshake message.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// --------------------------------------------------------------------------------------------- //

// Marshal renders the handshake as the 68-byte wire form: a 1-byte
// protocol-name length, the protocol name, 8 reserved zero bytes (no
// extensions advertised), then info-hash and peer-id.
func (h Handshake) Marshal() []byte {
	buf := make([]byte, 0, handshakeLength)
	buf = append(buf, byte(len(config.ProtocolString)))
	buf = append(buf, config.ProtocolString...)
	buf = append(buf, make([]byte, 8)...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	return buf
}

// --------------------------------------------------------------------------------------------- //

// ReadHandshake reads and validates a peer's handshake response,
// confirming it names the BitTorrent protocol and carries our expected
// info-hash. It does not check the remote peer-id against anything —
// any 20 bytes are accepted as an identity.
func ReadHandshake(r io.Reader, expectedInfoHash [20]byte) (Handshake, error) {
	buf := make([]byte, handshakeLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, fmt.Errorf("peerwire: reading handshake: %w", err)
	}

	pstrlen := int(buf[0])
	if pstrlen != len(config.ProtocolString) {
		return Handshake{}, fmt.Errorf("peerwire: unexpected protocol name length %d", pstrlen)
	}
	if !bytes.Equal(buf[1:1+pstrlen], []byte(config.ProtocolString)) {
		return Handshake{}, fmt.Errorf("peerwire: unexpected protocol name %q", buf[1:1+pstrlen])
	}

	var hs Handshake
	offset := 1 + pstrlen + 8
	copy(hs.InfoHash[:], buf[offset:offset+20])
	copy(hs.PeerID[:], buf[offset+20:offset+40])

	if !bytes.Equal(hs.InfoHash[:], expectedInfoHash[:]) {
		return Handshake{}, fmt.Errorf("peerwire: info-hash mismatch")
	}

	return hs, nil
}

// --------------------------------------------------------------------------------------------- //

// WriteHandshake sends our handshake over w.
func WriteHandshake(w io.Writer, infoHash, peerID [20]byte) error {
	hs := Handshake{InfoHash: infoHash, PeerID: peerID}
	_, err := w.Write(hs.Marshal())
	if err != nil {
		return fmt.Errorf("peerwire: writing handshake: %w", err)
	}
	return nil
}
