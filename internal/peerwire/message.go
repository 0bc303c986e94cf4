package peerwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lvbealr/gopherbit/internal/config"
)

// ID is a BEP 3 message identifier.
type ID uint8

const (
	Choke ID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
)

func (id ID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// Message is a single decoded peer-wire message. A zero-value Message
// with KeepAlive set to true represents the length-0 keep-alive frame,
// which carries no id and triggers no state change.
type Message struct {
	KeepAlive bool
	ID        ID
	Payload   []byte
}

// --------------------------------------------------------------------------------------------- //

// WriteMessage frames and writes a single message: a 4-byte big-endian
// length prefix followed by the id byte and payload.
func WriteMessage(w io.Writer, id ID, payload []byte) error {
	length := uint32(len(payload) + 1)
	buf := make([]byte, 4+len(payload)+1)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(id)
	copy(buf[5:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("peerwire: writing message %s: %w", id, err)
	}
	return nil
}

// --------------------------------------------------------------------------------------------- //

// WriteKeepAlive writes the length-0 keep-alive frame.
func WriteKeepAlive(w io.Writer) error {
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("peerwire: writing keep-alive: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------------------------- //

// ReadMessage reads one length-prefixed frame. A length of zero yields a
// KeepAlive message. A length exceeding config.MaxFrameSize is a
// protocol violation.
func ReadMessage(r io.Reader) (Message, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return Message{}, fmt.Errorf("peerwire: reading length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 {
		return Message{KeepAlive: true}, nil
	}
	if length > config.MaxFrameSize {
		return Message{}, fmt.Errorf("peerwire: frame length %d exceeds ceiling %d", length, config.MaxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("peerwire: reading frame body: %w", err)
	}

	return Message{ID: ID(body[0]), Payload: body[1:]}, nil
}

// --------------------------------------------------------------------------------------------- //

// RequestPayload builds the 12-byte payload for a "request" (or
// "cancel") message.
func RequestPayload(index, begin, length uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], index)
	binary.BigEndian.PutUint32(buf[4:8], begin)
	binary.BigEndian.PutUint32(buf[8:12], length)
	return buf
}

// --------------------------------------------------------------------------------------------- //

// ParseRequestPayload decodes a "request"/"cancel" payload.
func ParseRequestPayload(payload []byte) (index, begin, length uint32, err error) {
	if len(payload) < 12 {
		return 0, 0, 0, fmt.Errorf("peerwire: request payload too short: %d bytes", len(payload))
	}
	index = binary.BigEndian.Uint32(payload[0:4])
	begin = binary.BigEndian.Uint32(payload[4:8])
	length = binary.BigEndian.Uint32(payload[8:12])
	return index, begin, length, nil
}

// --------------------------------------------------------------------------------------------- //

// ParseHavePayload decodes a "have" payload.
func ParseHavePayload(payload []byte) (index uint32, err error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("peerwire: have payload too short: %d bytes", len(payload))
	}
	return binary.BigEndian.Uint32(payload[0:4]), nil
}

// --------------------------------------------------------------------------------------------- //

// ParsePiecePayload splits a "piece" payload into its index, begin
// offset, and block bytes.
func ParsePiecePayload(payload []byte) (index, begin uint32, block []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, fmt.Errorf("peerwire: piece payload too short: %d bytes", len(payload))
	}
	index = binary.BigEndian.Uint32(payload[0:4])
	begin = binary.BigEndian.Uint32(payload[4:8])
	return index, begin, payload[8:], nil
}

// --------------------------------------------------------------------------------------------- //

// PiecePayload builds a "piece" message payload (used by tests that
// simulate a remote peer serving blocks).
func PiecePayload(index, begin uint32, block []byte) []byte {
	buf := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(buf[0:4], index)
	binary.BigEndian.PutUint32(buf[4:8], begin)
	copy(buf[8:], block)
	return buf
}
