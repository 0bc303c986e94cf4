// Package sink writes verified pieces to their final location on disk.
// The coordinator treats it as a single commit(index, bytes) operation;
// internally it pre-sizes every output file and maps each piece onto
// the file byte ranges computed by internal/layout.
package sink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lvbealr/gopherbit/internal/layout"
)

// Sink is an output target pre-sized to the torrent's total length,
// written sparsely at piece offsets.
type Sink struct {
	layout      layout.Layout
	pieceLength int64
	files       map[string]*os.File
}

// Open creates (or truncates) every file named in l under dir,
// pre-sizing each to its final length.
func Open(dir string, l layout.Layout, pieceLength int64) (*Sink, error) {
	files := make(map[string]*os.File, len(l.Entries))

	for _, entry := range l.Entries {
		path := filepath.Join(dir, entry.Name)
		if parent := filepath.Dir(path); parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				closeAll(files)
				return nil, fmt.Errorf("sink: creating directory for %s: %w", entry.Name, err)
			}
		}

		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			closeAll(files)
			return nil, fmt.Errorf("sink: opening %s: %w", entry.Name, err)
		}
		if err := f.Truncate(entry.Length); err != nil {
			f.Close()
			closeAll(files)
			return nil, fmt.Errorf("sink: truncating %s to %d bytes: %w", entry.Name, entry.Length, err)
		}

		files[entry.Name] = f
	}

	return &Sink{layout: l, pieceLength: pieceLength, files: files}, nil
}

// Commit seeks to a verified piece's file offset(s), writes its bytes,
// and flushes before returning, so a piece counted as complete is
// already durable on disk.
func (s *Sink) Commit(index int, data []byte) error {
	offset := int64(index) * s.pieceLength

	spans, err := layout.Ranges(s.layout, offset, int64(len(data)))
	if err != nil {
		return fmt.Errorf("sink: mapping piece %d: %w", index, err)
	}

	touched := make(map[string]*os.File, len(spans))

	for _, span := range spans {
		f, ok := s.files[span.Entry.Name]
		if !ok {
			return fmt.Errorf("sink: no open file for %s", span.Entry.Name)
		}
		chunk := data[span.DataOffset : span.DataOffset+span.Length]
		if _, err := f.WriteAt(chunk, span.FileOffset); err != nil {
			return fmt.Errorf("sink: writing piece %d to %s: %w", index, span.Entry.Name, err)
		}
		touched[span.Entry.Name] = f
	}

	for name, f := range touched {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sink: flushing piece %d to %s: %w", index, name, err)
		}
	}

	return nil
}

// Close flushes and closes every open output file.
func (s *Sink) Close() error {
	var firstErr error
	for name, f := range s.files {
		if err := f.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink: syncing %s: %w", name, err)
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink: closing %s: %w", name, err)
		}
	}
	return firstErr
}

func closeAll(files map[string]*os.File) {
	for _, f := range files {
		f.Close()
	}
}
