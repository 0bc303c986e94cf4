// Package layout maps a torrent's logical byte stream onto one or more
// output files. This client only downloads single-file torrents, but
// the sink always goes through this mapping rather than special-casing
// that case — a single-file torrent is simply a one-entry layout, and
// the offset arithmetic below works unchanged if multi-file support is
// ever added (`info.files` parsing itself is out of scope here).
package layout

import "fmt"

// Entry is one output file's placement within the logical byte stream.
type Entry struct {
	Name   string
	Offset int64 // offset of this file's first byte within the stream
	Length int64
}

// Layout is an ordered, contiguous sequence of Entries spanning
// exactly [0, TotalLength).
type Layout struct {
	Entries     []Entry
	TotalLength int64
}

// Single builds the one-entry layout used by every torrent this client
// downloads.
func Single(name string, length int64) Layout {
	return Layout{
		Entries:     []Entry{{Name: name, Offset: 0, Length: length}},
		TotalLength: length,
	}
}

// Span is the portion of one Entry covered by a byte range.
type Span struct {
	Entry      Entry
	FileOffset int64 // offset within Entry's own file
	DataOffset int64 // offset within the requested range's data slice
	Length     int64
}

// Ranges splits the byte range [offset, offset+length) into the
// per-file spans it touches, in file order. It is the sink's only way
// to turn a piece commit into concrete file writes.
func Ranges(l Layout, offset, length int64) ([]Span, error) {
	if offset < 0 || length < 0 || offset+length > l.TotalLength {
		return nil, fmt.Errorf("layout: range [%d, %d) out of bounds for total length %d", offset, offset+length, l.TotalLength)
	}

	var spans []Span
	remainingStart := offset
	remainingEnd := offset + length

	for _, e := range l.Entries {
		entryStart := e.Offset
		entryEnd := e.Offset + e.Length

		start := max64(remainingStart, entryStart)
		end := min64(remainingEnd, entryEnd)
		if start >= end {
			continue
		}

		spans = append(spans, Span{
			Entry:      e,
			FileOffset: start - entryStart,
			DataOffset: start - offset,
			Length:     end - start,
		})
	}

	return spans, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
