// Package dataset reads and writes the binary image container consumed by
// the loader.
//
// A container file is a snappy framed stream of msgpack values:
//
//	header    [magic "CMSK", version, height, width, channels]
//	records   (true, [image bin, label int])*
//	trailer   false, record count
//
// Images are stored as raw CHW bytes.
package dataset

import (
	"bufio"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"
)

const (
	magic = "CMSK"
	// Version of the container layout written by this package.
	Version = 1
)

var (
	// ErrBadMagic is returned when a file is not a container.
	ErrBadMagic = errors.New("not a dataset container")
	// ErrTruncated is returned when a container ends before its trailer.
	ErrTruncated = errors.New("truncated dataset container")
)

// Header describes the images in a container.
type Header struct {
	Version  int
	Height   int
	Width    int
	Channels int
	// Count is filled in when reading, from the trailer.
	Count int
}

// ImageSize is the number of bytes per image.
func (h Header) ImageSize() int { return h.Height * h.Width * h.Channels }

// EncodeMsg implements msgp.Encodable
func (h Header) EncodeMsg(en *msgp.Writer) error {
	if err := en.WriteArrayHeader(5); err != nil {
		return err
	}
	if err := en.WriteString(magic); err != nil {
		return err
	}
	for _, v := range []int{h.Version, h.Height, h.Width, h.Channels} {
		if err := en.WriteInt(v); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsg implements msgp.Decodable
func (h *Header) DecodeMsg(dc *msgp.Reader) error {
	sz, err := dc.ReadArrayHeader()
	if err != nil {
		return errors.Wrap(ErrBadMagic, err.Error())
	}
	if sz != 5 {
		return errors.Wrapf(ErrBadMagic, "header has %d fields", sz)
	}
	m, err := dc.ReadString()
	if err != nil || m != magic {
		return ErrBadMagic
	}
	for _, dst := range []*int{&h.Version, &h.Height, &h.Width, &h.Channels} {
		if *dst, err = dc.ReadInt(); err != nil {
			return err
		}
	}
	if h.Version != Version {
		return errors.Errorf("unsupported container version %d", h.Version)
	}
	return nil
}

// Record is one labelled image.
type Record struct {
	Image []byte
	Label int
}

// EncodeMsg implements msgp.Encodable
func (r Record) EncodeMsg(en *msgp.Writer) error {
	if err := en.WriteArrayHeader(2); err != nil {
		return err
	}
	if err := en.WriteBytes(r.Image); err != nil {
		return err
	}
	return en.WriteInt(r.Label)
}

// DecodeMsg implements msgp.Decodable
func (r *Record) DecodeMsg(dc *msgp.Reader) error {
	sz, err := dc.ReadArrayHeader()
	if err != nil {
		return err
	}
	if sz != 2 {
		return errors.Errorf("record has %d fields, want 2", sz)
	}
	if r.Image, err = dc.ReadBytes(r.Image[:0]); err != nil {
		return err
	}
	r.Label, err = dc.ReadInt()
	return err
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (r Record) Msgsize() int {
	return msgp.ArrayHeaderSize + msgp.BytesPrefixSize + len(r.Image) + msgp.IntSize
}

// Writer streams records into a container file.
type Writer struct {
	f      *os.File
	sw     *snappy.Writer
	mw     *msgp.Writer
	header Header
	n      int
}

// NewWriter creates path and writes the header.
func NewWriter(path string, h Header) (*Writer, error) {
	if h.ImageSize() <= 0 {
		return nil, errors.Errorf("invalid image shape %dx%dx%d", h.Channels, h.Height, h.Width)
	}
	h.Version = Version
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	sw := snappy.NewBufferedWriter(f)
	w := &Writer{f: f, sw: sw, mw: msgp.NewWriter(sw), header: h}
	if err := h.EncodeMsg(w.mw); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "write header")
	}
	return w, nil
}

// Write appends one record.
func (w *Writer) Write(r Record) error {
	if len(r.Image) != w.header.ImageSize() {
		return errors.Errorf("record %d: image has %d bytes, want %d", w.n, len(r.Image), w.header.ImageSize())
	}
	if err := w.mw.WriteBool(true); err != nil {
		return err
	}
	if err := r.EncodeMsg(w.mw); err != nil {
		return errors.Wrapf(err, "record %d", w.n)
	}
	w.n++
	return nil
}

// Count is the number of records written so far.
func (w *Writer) Count() int { return w.n }

// Close writes the trailer and closes the file.
func (w *Writer) Close() error {
	err := w.mw.WriteBool(false)
	if err == nil {
		err = w.mw.WriteInt(w.n)
	}
	if err == nil {
		err = w.mw.Flush()
	}
	if err == nil {
		err = w.sw.Close()
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return errors.Wrap(err, "close container")
}

// Dataset is a fully decoded container.
type Dataset struct {
	Header Header
	Images [][]byte
	Labels []int
}

// Len is the number of records.
func (d *Dataset) Len() int { return len(d.Labels) }

// Record returns record i.
func (d *Dataset) Record(i int) Record {
	return Record{Image: d.Images[i], Label: d.Labels[i]}
}

// Read decodes the container at path.
func Read(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open dataset")
	}
	defer f.Close()
	ds, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return ds, nil
}

// Decode reads a container from r.
func Decode(r io.Reader) (*Dataset, error) {
	dc := msgp.NewReader(snappy.NewReader(r))
	ds := &Dataset{}
	if err := ds.Header.DecodeMsg(dc); err != nil {
		return nil, err
	}
	size := ds.Header.ImageSize()
	for {
		more, err := dc.ReadBool()
		if err != nil {
			return nil, truncated(err, ds.Len())
		}
		if !more {
			break
		}
		var rec Record
		if err := rec.DecodeMsg(dc); err != nil {
			return nil, truncated(err, ds.Len())
		}
		if len(rec.Image) != size {
			return nil, errors.Errorf("record %d: image has %d bytes, want %d", ds.Len(), len(rec.Image), size)
		}
		ds.Images = append(ds.Images, rec.Image)
		ds.Labels = append(ds.Labels, rec.Label)
	}
	count, err := dc.ReadInt()
	if err != nil {
		return nil, truncated(err, ds.Len())
	}
	if count != ds.Len() {
		return nil, errors.Errorf("trailer says %d records, read %d", count, ds.Len())
	}
	ds.Header.Count = count
	return ds, nil
}

func truncated(err error, n int) error {
	if errors.Cause(err) == io.EOF || errors.Cause(err) == io.ErrUnexpectedEOF {
		return errors.Wrapf(ErrTruncated, "after %d records", n)
	}
	return errors.Wrapf(err, "record %d", n)
}
