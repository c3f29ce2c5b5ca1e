package brickfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/google/uuid"
)

// Writer appends brick payloads in order and finalizes the trailing
// metadata block. It is the on-disk counterpart the Bricker drives one
// level and one brick at a time.
type Writer struct {
	f        *os.File
	buf      *bufio.Writer
	pos      uint64 // current write position, payload region starts at 8
	header   Header
	metas    []BrickMeta
	finished bool
}

// Create opens path for writing and reserves the 8-byte metadata-offset
// breadcrumb at the start of the file.
func Create(path string, header Header) (*Writer, error) {
	if header.UUID == "" {
		header.UUID = uuid.NewString()
	} else if _, err := uuid.Parse(header.UUID); err != nil {
		return nil, fmt.Errorf("brickfile: %w: %v", ErrInvalidUUID, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("brickfile: create %s: %w", path, err)
	}
	w := &Writer{
		f:      f,
		buf:    bufio.NewWriterSize(f, 1<<20),
		pos:    8,
		header: header,
	}
	var placeholder [8]byte
	if _, err := w.buf.Write(placeholder[:]); err != nil {
		w.abort()
		return nil, fmt.Errorf("brickfile: write header placeholder: %w", err)
	}
	return w, nil
}

// Path returns the path to the file underlying this writer, for callers
// that need to unlink it on failure.
func (w *Writer) Path() string { return w.f.Name() }

func (w *Writer) abort() {
	_ = w.buf.Flush()
	_ = w.f.Close()
	_ = os.Remove(w.f.Name())
}

// Abort closes and unlinks the partial file: I/O errors abort the
// whole operation and the partial output is unlinked.
func (w *Writer) Abort() {
	if w.finished {
		return
	}
	w.abort()
}

// WriteBrick appends one brick payload and records its metadata. Callers
// are responsible for having already applied compression (or not).
func (w *Writer) WriteBrick(size uint64, min, max int64, payload []byte) (BrickID, error) {
	if uint64(len(payload)) != size {
		return 0, fmt.Errorf("brickfile: payload length %d does not match declared size %d", len(payload), size)
	}
	offset := w.pos
	n, err := w.buf.Write(payload)
	if err != nil {
		w.abort()
		return 0, fmt.Errorf("brickfile: write brick payload: %w", err)
	}
	w.pos += uint64(n)
	id := BrickID(len(w.metas))
	w.metas = append(w.metas, BrickMeta{Offset: offset, Size: size, Min: min, Max: max})
	return id, nil
}

func writeU64(buf *bufio.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := buf.Write(b[:])
	return err
}

func writeI64(buf *bufio.Writer, v int64) error {
	return writeU64(buf, uint64(v))
}

func writeU8(buf *bufio.Writer, v uint8) error {
	return buf.WriteByte(v)
}

func writeF32(buf *bufio.Writer, v float32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	_, err := buf.Write(b[:])
	return err
}

func writeString(buf *bufio.Writer, s string) error {
	if err := writeU64(buf, uint64(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

// Finish writes the trailing metadata block and patches the 8-byte
// metadata offset at the start of the file.
func (w *Writer) Finish() error {
	metaOffset := w.pos
	if _, err := w.buf.WriteString(string(Magic[:])); err != nil {
		w.abort()
		return fmt.Errorf("brickfile: write magic: %w", err)
	}
	fields := []func() error{
		func() error { return writeU64(w.buf, Version) },
		func() error { return writeU64(w.buf, uint64(w.header.Width)) },
		func() error { return writeU64(w.buf, uint64(w.header.Height)) },
		func() error { return writeU64(w.buf, uint64(w.header.Depth)) },
		func() error { return writeU64(w.buf, uint64(w.header.ComponentsPerVoxel)) },
		func() error { return writeU64(w.buf, uint64(w.header.BytesPerComponent)) },
		func() error { return writeF32(w.buf, w.header.Aspect[0]) },
		func() error { return writeF32(w.buf, w.header.Aspect[1]) },
		func() error { return writeF32(w.buf, w.header.Aspect[2]) },
		func() error { return writeU64(w.buf, uint64(w.header.BrickSize)) },
		func() error { return writeU64(w.buf, uint64(w.header.Overlap)) },
		func() error { return writeU64(w.buf, uint64(w.header.GlobalMin)) },
		func() error { return writeU64(w.buf, uint64(w.header.GlobalMax)) },
		func() error { return writeU8(w.buf, uint8(w.header.Compression)) },
		func() error { return writeString(w.buf, w.header.UUID) },
		func() error { return writeString(w.buf, w.header.Description) },
		func() error { return writeU64(w.buf, uint64(len(w.metas))) },
		func() error { return writeU64(w.buf, 0) }, // reserved
	}
	for _, f := range fields {
		if err := f(); err != nil {
			w.abort()
			return fmt.Errorf("brickfile: write metadata header: %w", err)
		}
	}
	for _, m := range w.metas {
		if err := writeI64(w.buf, int64(m.Offset)); err != nil {
			w.abort()
			return fmt.Errorf("brickfile: write brick meta: %w", err)
		}
		if err := writeI64(w.buf, int64(m.Size)); err != nil {
			w.abort()
			return fmt.Errorf("brickfile: write brick meta: %w", err)
		}
		if err := writeI64(w.buf, m.Min); err != nil {
			w.abort()
			return fmt.Errorf("brickfile: write brick meta: %w", err)
		}
		if err := writeI64(w.buf, m.Max); err != nil {
			w.abort()
			return fmt.Errorf("brickfile: write brick meta: %w", err)
		}
	}
	if err := w.buf.Flush(); err != nil {
		w.abort()
		return fmt.Errorf("brickfile: flush: %w", err)
	}

	var off [8]byte
	binary.LittleEndian.PutUint64(off[:], metaOffset)
	if _, err := w.f.WriteAt(off[:], 0); err != nil {
		w.abort()
		return fmt.Errorf("brickfile: patch metadata offset: %w", err)
	}
	w.finished = true
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("brickfile: close: %w", err)
	}
	return nil
}
