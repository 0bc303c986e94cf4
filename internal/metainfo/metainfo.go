// Package metainfo parses a bencoded single-file torrent descriptor and
// computes its info-hash. Decoding itself is delegated to
// jackpal/bencode-go; this package is the adapter the rest of the client
// depends on for piece geometry and tracker endpoints.
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"

	"github.com/jackpal/bencode-go"
)

// rawFile is the bencode-go decode target. Field names follow BEP 3;
// unknown keys are ignored by bencode-go's Unmarshal.
type rawFile struct {
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	Info         rawInfo    `bencode:"info"`
}

type rawInfo struct {
	Name        string `bencode:"name"`
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Length      int64  `bencode:"length"`
}

// Torrent is the immutable torrent descriptor consumed by the tracker
// client and coordinator.
type Torrent struct {
	AnnounceURL  string
	AnnounceList [][]string
	Name         string
	PieceLength  int64
	TotalLength  int64
	PieceHashes  [][20]byte
	InfoHash     [20]byte
}

// NumPieces is the number of piece hashes. For a well-formed torrent
// this equals ceil(TotalLength / PieceLength); Decode does not check
// that the two agree.
func (t *Torrent) NumPieces() int {
	return len(t.PieceHashes)
}

// PieceSize returns the expected byte length of piece index i, which is
// PieceLength for every piece except possibly the last.
func (t *Torrent) PieceSize(index int) int64 {
	if index == t.NumPieces()-1 {
		last := t.TotalLength - t.PieceLength*int64(t.NumPieces()-1)
		return last
	}
	return t.PieceLength
}

// Load reads and parses a .torrent file at path, returning the descriptor
// the rest of the client operates on.
func Load(path string) (*Torrent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metainfo: reading %q: %w", path, err)
	}
	return Decode(data)
}

// Decode parses a bencoded metainfo buffer into a Torrent descriptor.
func Decode(data []byte) (*Torrent, error) {
	var raw rawFile
	if err := bencode.Unmarshal(bytes.NewReader(data), &raw); err != nil {
		return nil, fmt.Errorf("metainfo: decoding: %w: %w", err, ErrInvalidMetainfo)
	}

	if raw.Announce == "" {
		return nil, fmt.Errorf("metainfo: missing \"announce\": %w", ErrInvalidMetainfo)
	}
	if raw.Info.Name == "" {
		return nil, fmt.Errorf("metainfo: missing \"info.name\": %w", ErrInvalidMetainfo)
	}
	if raw.Info.PieceLength <= 0 {
		return nil, fmt.Errorf("metainfo: invalid \"info.piece length\": %w", ErrInvalidMetainfo)
	}
	if raw.Info.Length <= 0 {
		return nil, fmt.Errorf("metainfo: invalid \"info.length\": %w", ErrInvalidMetainfo)
	}
	if len(raw.Info.Pieces)%20 != 0 {
		return nil, fmt.Errorf("metainfo: \"info.pieces\" length %d not a multiple of 20: %w", len(raw.Info.Pieces), ErrInvalidMetainfo)
	}

	infoHash, err := hashInfoDict(data)
	if err != nil {
		return nil, fmt.Errorf("metainfo: %w: %w", err, ErrInvalidMetainfo)
	}

	numPieces := len(raw.Info.Pieces) / 20
	hashes := make([][20]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		copy(hashes[i][:], raw.Info.Pieces[i*20:(i+1)*20])
	}

	return &Torrent{
		AnnounceURL:  raw.Announce,
		AnnounceList: raw.AnnounceList,
		Name:         raw.Info.Name,
		PieceLength:  raw.Info.PieceLength,
		TotalLength:  raw.Info.Length,
		PieceHashes:  hashes,
		InfoHash:     infoHash,
	}, nil
}

// hashInfoDict locates the raw, untouched byte range of the top-level
// "info" dictionary inside the original metainfo buffer and hashes it
// directly, rather than re-marshaling the decoded struct. BEP 3 defines
// the info-hash over the exact bytes as written, and re-encoding risks
// diverging from the source's integer/string formatting or key order.
func hashInfoDict(data []byte) ([20]byte, error) {
	raw, err := extractInfoBytes(data)
	if err != nil {
		return [20]byte{}, err
	}
	return sha1.Sum(raw), nil
}

// extractInfoBytes walks the bencoded buffer to find the "4:info" key at
// the top level and returns the byte range of its value, a bencoded
// dictionary. It understands the full bencode grammar (integers, byte
// strings, lists, dictionaries) so it can skip past nested values
// correctly while searching.
func extractInfoBytes(data []byte) ([]byte, error) {
	start := -1
	for i := 1; start < 0 && i < len(data) && data[i] != 'e'; {
		keyEnd, err := valueEnd(data, i)
		if err != nil {
			return nil, fmt.Errorf("malformed top-level dictionary: %w", err)
		}
		if string(data[i:keyEnd]) == "4:info" {
			start = keyEnd
		} else if i, err = valueEnd(data, keyEnd); err != nil {
			return nil, fmt.Errorf("malformed top-level dictionary: %w", err)
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("no \"4:info\" key found")
	}

	end, err := valueEnd(data, start)
	if err != nil {
		return nil, fmt.Errorf("malformed info dictionary: %w", err)
	}

	if start >= len(data) || data[start] != 'd' {
		return nil, fmt.Errorf("\"info\" value is not a dictionary")
	}

	return data[start:end], nil
}

// valueEnd returns the offset just past the single bencoded value that
// begins at data[start].
func valueEnd(data []byte, start int) (int, error) {
	if start >= len(data) {
		return 0, fmt.Errorf("unexpected end of buffer")
	}

	switch b := data[start]; {
	case b == 'd' || b == 'l':
		i := start + 1
		for {
			if i >= len(data) {
				return 0, fmt.Errorf("unterminated container")
			}
			if data[i] == 'e' {
				return i + 1, nil
			}
			if b == 'd' {
				// dictionary: a string key, then a value
				keyEnd, err := valueEnd(data, i)
				if err != nil {
					return 0, err
				}
				i = keyEnd
			}
			valEnd, err := valueEnd(data, i)
			if err != nil {
				return 0, err
			}
			i = valEnd
		}

	case b == 'i':
		j := start + 1
		for j < len(data) && data[j] != 'e' {
			j++
		}
		if j >= len(data) {
			return 0, fmt.Errorf("unterminated integer")
		}
		return j + 1, nil

	case b >= '0' && b <= '9':
		j := start
		for j < len(data) && data[j] >= '0' && data[j] <= '9' {
			j++
		}
		if j >= len(data) || data[j] != ':' {
			return 0, fmt.Errorf("malformed byte-string length")
		}
		length := 0
		for _, c := range data[start:j] {
			length = length*10 + int(c-'0')
		}
		strStart := j + 1
		strEnd := strStart + length
		if strEnd > len(data) {
			return 0, fmt.Errorf("byte string runs past end of buffer")
		}
		return strEnd, nil

	default:
		return 0, fmt.Errorf("unrecognised bencode tag %q", b)
	}
}
