package dataset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/mholt/archiver/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// CIFAR-10 binary layout: one label byte followed by a 32x32x3 CHW image.
const (
	CIFARHeight   = 32
	CIFARWidth    = 32
	CIFARChannels = 3
	CIFARClasses  = 10

	cifarImageBytes = CIFARHeight * CIFARWidth * CIFARChannels

	// CIFARURL is the canonical location of the binary distribution.
	CIFARURL = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"
	cifarDir = "cifar-10-batches-bin"
)

// CIFARHeader is the container header for CIFAR images.
var CIFARHeader = Header{Version: Version, Height: CIFARHeight, Width: CIFARWidth, Channels: CIFARChannels}

// FromCIFARBinary parses one CIFAR-10 binary batch file.
func FromCIFARBinary(r io.Reader) ([]Record, error) {
	var recs []Record
	buf := make([]byte, 1+cifarImageBytes)
	for {
		_, err := io.ReadFull(r, buf)
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "cifar record %d", len(recs))
		}
		if int(buf[0]) >= CIFARClasses {
			return nil, errors.Errorf("cifar record %d: label %d out of range", len(recs), buf[0])
		}
		img := make([]byte, cifarImageBytes)
		copy(img, buf[1:])
		recs = append(recs, Record{Image: img, Label: int(buf[0])})
	}
}

// TrainBatches lists the five training batch files of an extracted archive.
func TrainBatches(dir string) []string {
	var files []string
	for i := 1; i <= 5; i++ {
		files = append(files, filepath.Join(dir, cifarDir, fmt.Sprintf("data_batch_%d.bin", i)))
	}
	return files
}

// TestBatch is the test split batch file of an extracted archive.
func TestBatch(dir string) string {
	return filepath.Join(dir, cifarDir, "test_batch.bin")
}

// Convert writes the records of the CIFAR batch files srcs, in order, into
// a container at dst and returns the record count.
func Convert(dst string, srcs ...string) (int, error) {
	w, err := NewWriter(dst, CIFARHeader)
	if err != nil {
		return 0, err
	}
	for _, src := range srcs {
		if err := appendCIFAR(w, src); err != nil {
			w.Close()
			return 0, err
		}
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return w.Count(), nil
}

func appendCIFAR(w *Writer, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open cifar batch")
	}
	defer f.Close()
	recs, err := FromCIFARBinary(f)
	if err != nil {
		return errors.Wrapf(err, "parse %s", src)
	}
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// Download fetches url into dir unless the file is already present and
// returns the local path.
func Download(ctx context.Context, url, dir string, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dst := filepath.Join(dir, path.Base(url))
	if fi, err := os.Stat(dst); err == nil && fi.Size() > 0 {
		logger.Info("archive already present", zap.String("path", dst))
		return dst, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "create %s", dir)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "get %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("get %s: %s", url, resp.Status)
	}

	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", errors.Wrapf(err, "create %s", tmp)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", errors.Wrapf(err, "download %s", url)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", errors.Wrap(err, "rename download")
	}
	logger.Info("downloaded archive", zap.String("path", dst), zap.Int64("bytes", n))
	return dst, nil
}

// ExtractCIFAR unpacks the tar.gz archive into dir.
func ExtractCIFAR(archive, dir string) error {
	tgz := archiver.NewTarGz()
	tgz.OverwriteExisting = true
	if err := tgz.Unarchive(archive, dir); err != nil {
		return errors.Wrapf(err, "extract %s", archive)
	}
	return nil
}
