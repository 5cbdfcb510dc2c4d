package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tinyHeader = Header{Height: 2, Width: 2, Channels: 1}

func writeTiny(t *testing.T, path string, recs []Record) {
	t.Helper()
	w, err := NewWriter(path, tinyHeader)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
}

func TestContainerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.beton")
	recs := []Record{
		{Image: []byte{0, 1, 2, 3}, Label: 4},
		{Image: []byte{255, 254, 253, 252}, Label: 0},
		{Image: []byte{9, 9, 9, 9}, Label: 9},
	}
	writeTiny(t, path, recs)

	ds, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, 3, ds.Header.Count)
	assert.Equal(t, Version, ds.Header.Version)
	assert.Equal(t, 4, ds.Header.ImageSize())
	for i, r := range recs {
		assert.Equal(t, r, ds.Record(i))
	}
}

func TestContainerEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.beton")
	writeTiny(t, path, nil)
	ds, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 0, ds.Len())
}

func TestWriteRejectsWrongImageSize(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "x.beton"), tinyHeader)
	require.NoError(t, err)
	defer w.Close()
	assert.Error(t, w.Write(Record{Image: []byte{1, 2, 3}}))
}

func TestNewWriterRejectsEmptyShape(t *testing.T) {
	_, err := NewWriter(filepath.Join(t.TempDir(), "x.beton"), Header{})
	assert.Error(t, err)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.beton"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(errorsCause(err)))
}

func TestReadBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.beton")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a container"), 0644))
	_, err := Read(path)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestReadTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cut.beton")
	recs := make([]Record, 50)
	for i := range recs {
		recs[i] = Record{Image: []byte{byte(i), 1, 2, 3}, Label: i % 10}
	}
	writeTiny(t, path, recs)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0644))

	_, err = Read(path)
	assert.Error(t, err)
}
