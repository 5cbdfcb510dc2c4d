package dataset

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mholt/archiver/v3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorsCause(err error) error { return errors.Cause(err) }

func cifarBytes(labels ...byte) []byte {
	var buf bytes.Buffer
	for i, l := range labels {
		buf.WriteByte(l)
		img := bytes.Repeat([]byte{byte(i)}, cifarImageBytes)
		buf.Write(img)
	}
	return buf.Bytes()
}

func TestFromCIFARBinary(t *testing.T) {
	recs, err := FromCIFARBinary(bytes.NewReader(cifarBytes(3, 7)))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 3, recs[0].Label)
	assert.Equal(t, 7, recs[1].Label)
	assert.Len(t, recs[1].Image, 3072)
	assert.Equal(t, byte(1), recs[1].Image[100])
}

func TestFromCIFARBinaryPartialRecord(t *testing.T) {
	data := cifarBytes(1)
	_, err := FromCIFARBinary(bytes.NewReader(data[:1000]))
	assert.Error(t, err)
}

func TestFromCIFARBinaryBadLabel(t *testing.T) {
	_, err := FromCIFARBinary(bytes.NewReader(cifarBytes(12)))
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "b.bin")
	require.NoError(t, os.WriteFile(a, cifarBytes(0, 1), 0644))
	require.NoError(t, os.WriteFile(b, cifarBytes(2), 0644))

	dst := filepath.Join(dir, "out.beton")
	n, err := Convert(dst, a, b)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ds, err := Read(dst)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, ds.Labels)
	assert.Equal(t, CIFARHeight, ds.Header.Height)
}

func TestConvertMissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := Convert(filepath.Join(dir, "out.beton"), filepath.Join(dir, "missing.bin"))
	assert.Error(t, err)
}

func TestExtractCIFAR(t *testing.T) {
	src := t.TempDir()
	batches := filepath.Join(src, cifarDir)
	require.NoError(t, os.MkdirAll(batches, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(batches, "test_batch.bin"), cifarBytes(5), 0644))

	archive := filepath.Join(t.TempDir(), "cifar.tar.gz")
	require.NoError(t, archiver.NewTarGz().Archive([]string{batches}, archive))

	out := t.TempDir()
	require.NoError(t, ExtractCIFAR(archive, out))
	data, err := os.ReadFile(TestBatch(out))
	require.NoError(t, err)
	assert.Len(t, data, 1+cifarImageBytes)
	assert.Len(t, TrainBatches(out), 5)
}

func TestDownload(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/data/archive.tar.gz" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	path, err := Download(context.Background(), srv.URL+"/data/archive.tar.gz", dir, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "archive.tar.gz"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	// second call is served from disk
	_, err = Download(context.Background(), srv.URL+"/data/archive.tar.gz", dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, err = Download(context.Background(), srv.URL+"/missing.tar.gz", dir, nil)
	assert.Error(t, err)
}
