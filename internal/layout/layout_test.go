package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleFileRangeStaysWithinOneEntry(t *testing.T) {
	l := Single("movie.mkv", 1000)

	spans, err := Ranges(l, 100, 50)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "movie.mkv", spans[0].Entry.Name)
	assert.Equal(t, int64(100), spans[0].FileOffset)
	assert.Equal(t, int64(0), spans[0].DataOffset)
	assert.Equal(t, int64(50), spans[0].Length)
}

func TestRangeRejectsOutOfBounds(t *testing.T) {
	l := Single("movie.mkv", 1000)

	_, err := Ranges(l, 900, 200)
	assert.Error(t, err)
}

func TestRangeSpansMultipleEntries(t *testing.T) {
	l := Layout{
		Entries: []Entry{
			{Name: "a.bin", Offset: 0, Length: 100},
			{Name: "b.bin", Offset: 100, Length: 100},
			{Name: "c.bin", Offset: 200, Length: 100},
		},
		TotalLength: 300,
	}

	spans, err := Ranges(l, 80, 140)
	require.NoError(t, err)
	require.Len(t, spans, 3)

	assert.Equal(t, "a.bin", spans[0].Entry.Name)
	assert.Equal(t, int64(80), spans[0].FileOffset)
	assert.Equal(t, int64(0), spans[0].DataOffset)
	assert.Equal(t, int64(20), spans[0].Length)

	assert.Equal(t, "b.bin", spans[1].Entry.Name)
	assert.Equal(t, int64(0), spans[1].FileOffset)
	assert.Equal(t, int64(20), spans[1].DataOffset)
	assert.Equal(t, int64(100), spans[1].Length)

	assert.Equal(t, "c.bin", spans[2].Entry.Name)
	assert.Equal(t, int64(0), spans[2].FileOffset)
	assert.Equal(t, int64(120), spans[2].DataOffset)
	assert.Equal(t, int64(20), spans[2].Length)
}

func TestRangeExactlyOneEntryBoundary(t *testing.T) {
	l := Single("f.bin", 500)

	spans, err := Ranges(l, 0, 500)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, int64(500), spans[0].Length)
}
