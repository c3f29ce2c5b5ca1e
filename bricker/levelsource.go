package bricker

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/gekko3d/borgvr/volumereader"
)

// levelSource is the per-level voxel source the bricking loop reads
// from: the original VolumeReader at level 0, and a memory-mapped
// downsampled temporary file for every level after that — so at most one
// resolution level is resident at a time.
type levelSource interface {
	Width() uint32
	Height() uint32
	Depth() uint32
	// Voxel returns the raw little-endian bytes of the voxel at (x,y,z)
	// (length components*bytesPerComponent), or nil if out of bounds.
	Voxel(x, y, z int) []byte
	Close() error
}

// readerSource adapts a volumereader.VolumeReader (level 0 input) to
// levelSource.
type readerSource struct {
	r    volumereader.VolumeReader
	comp uint8
	bpc  uint8
	buf  []byte
}

func sourceFromReader(r volumereader.VolumeReader) levelSource {
	return &readerSource{r: r, comp: r.ComponentsPerVoxel(), bpc: r.BytesPerComponent(),
		buf: make([]byte, int(r.ComponentsPerVoxel())*int(r.BytesPerComponent()))}
}

func (s *readerSource) Width() uint32  { w, _, _ := s.r.Dims(); return w }
func (s *readerSource) Height() uint32 { _, h, _ := s.r.Dims(); return h }
func (s *readerSource) Depth() uint32  { _, _, d := s.r.Dims(); return d }

func (s *readerSource) Voxel(x, y, z int) []byte {
	vals, ok := s.r.VoxelAt(x, y, z)
	if !ok {
		return nil
	}
	for c, v := range vals {
		writeLE(s.buf[c*int(s.bpc):], v, s.bpc)
	}
	return s.buf
}

func (s *readerSource) Close() error { return nil }

// mmapSource is a memory-mapped flat row-major volume used for every
// downsampled level after level 0.
type mmapSource struct {
	f            *os.File
	mm           mmap.MMap
	w, h, d      uint32
	comp, bpc    uint8
	voxelStride  int
}

func newMmapSource(w, h, d uint32, comp, bpc uint8) (*mmapSource, error) {
	f, err := os.CreateTemp("", "borgvr-level-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("bricker: create temp level file: %w", err)
	}
	stride := int(comp) * int(bpc)
	size := int64(w) * int64(h) * int64(d) * int64(stride)
	if size == 0 {
		size = int64(stride)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("bricker: truncate temp level file: %w", err)
	}
	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("bricker: mmap temp level file: %w", err)
	}
	return &mmapSource{f: f, mm: mm, w: w, h: h, d: d, comp: comp, bpc: bpc, voxelStride: stride}, nil
}

func (s *mmapSource) Width() uint32  { return s.w }
func (s *mmapSource) Height() uint32 { return s.h }
func (s *mmapSource) Depth() uint32  { return s.d }

func (s *mmapSource) offset(x, y, z int) (int64, bool) {
	if x < 0 || y < 0 || z < 0 || x >= int(s.w) || y >= int(s.h) || z >= int(s.d) {
		return 0, false
	}
	idx := int64(x) + int64(y)*int64(s.w) + int64(z)*int64(s.w)*int64(s.h)
	return idx * int64(s.voxelStride), true
}

func (s *mmapSource) Voxel(x, y, z int) []byte {
	off, ok := s.offset(x, y, z)
	if !ok {
		return nil
	}
	return s.mm[off : off+int64(s.voxelStride)]
}

func (s *mmapSource) set(x, y, z int, data []byte) {
	off, ok := s.offset(x, y, z)
	if !ok {
		return
	}
	copy(s.mm[off:off+int64(s.voxelStride)], data)
}

func (s *mmapSource) Close() error {
	if err := s.mm.Unmap(); err != nil {
		s.f.Close()
		os.Remove(s.f.Name())
		return err
	}
	if err := s.f.Close(); err != nil {
		os.Remove(s.f.Name())
		return err
	}
	return os.Remove(s.f.Name())
}
