package records

import (
	"bufio"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"
)

// maxRecordLength rejects absurd length headers before allocating.
const maxRecordLength = 1 << 30

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(b []byte) uint32 {
	c := crc32.Checksum(b, castagnoli)
	return ((c >> 15) | (c << 17)) + 0xa282ead8
}

// TFRecordSource reads one TFRecord file per category. Each record is a
// serialized tf.train.Example (see DecodeExample).
type TFRecordSource struct {
	files map[string]string
}

// NewTFRecordSource creates a source from a category -> file path mapping.
func NewTFRecordSource(files map[string]string) *TFRecordSource {
	return &TFRecordSource{files: files}
}

// NewTFRecordSourceFromSpec resolves the per-class files of a dataset split.
func NewTFRecordSourceFromSpec(spec *DatasetSpec, split Split) (*TFRecordSource, []string, error) {
	classFiles, err := spec.ClassFiles(split)
	if err != nil {
		return nil, nil, err
	}
	files := make(map[string]string, len(classFiles))
	classes := make([]string, 0, len(classFiles))
	for _, cf := range classFiles {
		files[cf.Class] = cf.Path
		classes = append(classes, cf.Class)
	}
	return NewTFRecordSource(files), classes, nil
}

func (s *TFRecordSource) path(category string) (string, error) {
	p, ok := s.files[category]
	if !ok {
		return "", errors.Wrapf(ErrUnknownCategory, "no file for %q", category)
	}
	return p, nil
}

// Open implements RecordSource.
func (s *TFRecordSource) Open(_ context.Context, category string) (RecordIterator, error) {
	p, err := s.path(category)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open tfrecord %s", p)
	}
	return &tfrecordIterator{f: f, r: newFrameReader(f)}, nil
}

// Count implements RecordSource by scanning the record headers of the file.
func (s *TFRecordSource) Count(_ context.Context, category string) (int, error) {
	p, err := s.path(category)
	if err != nil {
		return 0, err
	}
	return countTFRecords(p)
}

// countTFRecords counts the records of a TFRecord file without decoding payloads.
func countTFRecords(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open tfrecord %s", path)
	}
	defer f.Close()

	fr := newFrameReader(f)
	count := 0
	for {
		n, err := fr.header()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.Wrapf(err, "record %d of %s", count, path)
		}
		if _, err := fr.r.Discard(int(n) + 4); err != nil {
			return 0, errors.Wrapf(ErrCorruptRecord, "record %d of %s truncated", count, path)
		}
		count++
	}
	return count, nil
}

type frameReader struct {
	r   *bufio.Reader
	hdr [12]byte
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReader(r)}
}

// header reads a length header and validates its checksum.
func (fr *frameReader) header() (uint64, error) {
	if _, err := io.ReadFull(fr.r, fr.hdr[:]); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, errors.Wrap(ErrCorruptRecord, "truncated header")
	}
	length := binary.LittleEndian.Uint64(fr.hdr[:8])
	if maskedCRC(fr.hdr[:8]) != binary.LittleEndian.Uint32(fr.hdr[8:12]) {
		return 0, errors.Wrap(ErrCorruptRecord, "length checksum mismatch")
	}
	if length > maxRecordLength {
		return 0, errors.Wrapf(ErrCorruptRecord, "record length %d too large", length)
	}
	return length, nil
}

// next returns the payload of the next record.
func (fr *frameReader) next() ([]byte, error) {
	length, err := fr.header()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length+4)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		return nil, errors.Wrap(ErrCorruptRecord, "truncated payload")
	}
	data := buf[:length]
	if maskedCRC(data) != binary.LittleEndian.Uint32(buf[length:]) {
		return nil, errors.Wrap(ErrCorruptRecord, "payload checksum mismatch")
	}
	return data, nil
}

type tfrecordIterator struct {
	f   *os.File
	r   *frameReader
	pos int
}

func (it *tfrecordIterator) Next() (SampleRecord, error) {
	data, err := it.r.next()
	if err != nil {
		if err == io.EOF {
			return SampleRecord{}, io.EOF
		}
		return SampleRecord{}, errors.Wrapf(err, "%s record %d", it.f.Name(), it.pos)
	}
	pos := it.pos
	it.pos++
	rec, err := DecodeExample(data, pos)
	if err != nil {
		return SampleRecord{}, errors.Wrapf(err, "%s record %d", it.f.Name(), pos)
	}
	return rec, nil
}

func (it *tfrecordIterator) Close() error {
	return it.f.Close()
}

// TFRecordWriter writes framed records to an io.Writer.
type TFRecordWriter struct {
	w   io.Writer
	hdr [12]byte
	crc [4]byte
}

// NewTFRecordWriter creates a writer emitting TFRecord framing to w.
func NewTFRecordWriter(w io.Writer) *TFRecordWriter {
	return &TFRecordWriter{w: w}
}

// WriteRaw writes one framed payload.
func (tw *TFRecordWriter) WriteRaw(data []byte) error {
	binary.LittleEndian.PutUint64(tw.hdr[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(tw.hdr[8:], maskedCRC(tw.hdr[:8]))
	binary.LittleEndian.PutUint32(tw.crc[:], maskedCRC(data))
	for _, chunk := range [][]byte{tw.hdr[:], data, tw.crc[:]} {
		if _, err := tw.w.Write(chunk); err != nil {
			return errors.Wrap(err, "failed to write tfrecord")
		}
	}
	return nil
}

// Write encodes rec as an example and writes it.
func (tw *TFRecordWriter) Write(rec SampleRecord) error {
	return tw.WriteRaw(EncodeExample(rec))
}

// WriteTFRecordFile creates path and writes recs into it.
func WriteTFRecordFile(path string, recs []SampleRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	bw := bufio.NewWriter(f)
	tw := NewTFRecordWriter(bw)
	for _, rec := range recs {
		if err := tw.Write(rec); err != nil {
			f.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to flush %s", path)
	}
	return f.Close()
}
