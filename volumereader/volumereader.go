// Package volumereader defines the abstract random-access voxel source
// the Bricker consumes. Real ingestion formats (DICOM, NRRD, QVIS, RAW)
// are out of scope for this repo; this package models only the
// interface boundary plus two simple concrete sources used by tests and
// the raw-file CLI path.
package volumereader

import (
	"fmt"
	"io"
)

// VolumeReader is an abstract random-access source of raw voxels,
// addressed by (x,y,z) in the finest-level grid. Values are widened to
// uint64 regardless of the source's native bytes-per-component.
type VolumeReader interface {
	// Dims returns the finest-level volume dimensions in voxels.
	Dims() (width, height, depth uint32)
	// ComponentsPerVoxel is 1, 2, or 4.
	ComponentsPerVoxel() uint8
	// BytesPerComponent is 1, 2, or 4.
	BytesPerComponent() uint8
	// VoxelAt returns the component values at (x,y,z); ok is false when
	// the coordinate is outside [0,width)x[0,height)x[0,depth).
	VoxelAt(x, y, z int) (components []uint64, ok bool)
}

// Procedural is a closure-backed VolumeReader for tests and other
// boundary-scenario fixtures, generating voxels on demand from a
// caller-supplied function instead of reading a file.
type Procedural struct {
	Width, Height, Depth uint32
	Components           uint8
	BytesPer             uint8
	Fn                   func(x, y, z int) []uint64
}

func (p *Procedural) Dims() (uint32, uint32, uint32) { return p.Width, p.Height, p.Depth }
func (p *Procedural) ComponentsPerVoxel() uint8       { return p.Components }
func (p *Procedural) BytesPerComponent() uint8        { return p.BytesPer }

func (p *Procedural) VoxelAt(x, y, z int) ([]uint64, bool) {
	if x < 0 || y < 0 || z < 0 || x >= int(p.Width) || y >= int(p.Height) || z >= int(p.Depth) {
		return nil, false
	}
	return p.Fn(x, y, z), true
}

// RawFile reads a flat, row-major raw volume (components interleaved per
// voxel, little-endian) through an io.ReaderAt — the minimal analogue of DICOM/NRRD/QVIS ingestion this
// repo models only at the interface boundary.
type RawFile struct {
	r                    io.ReaderAt
	width, height, depth uint32
	bytesPerComponent    uint8
	componentsPerVoxel   uint8
}

// FromRawFile wraps r as a VolumeReader over a width x height x depth
// volume with the given voxel layout.
func FromRawFile(r io.ReaderAt, width, height, depth uint32, componentsPerVoxel, bytesPerComponent uint8) (*RawFile, error) {
	if componentsPerVoxel != 1 && componentsPerVoxel != 2 && componentsPerVoxel != 4 {
		return nil, fmt.Errorf("volumereader: unsupported components_per_voxel %d", componentsPerVoxel)
	}
	if bytesPerComponent != 1 && bytesPerComponent != 2 && bytesPerComponent != 4 {
		return nil, fmt.Errorf("volumereader: unsupported bytes_per_component %d", bytesPerComponent)
	}
	return &RawFile{r: r, width: width, height: height, depth: depth,
		bytesPerComponent: bytesPerComponent, componentsPerVoxel: componentsPerVoxel}, nil
}

func (f *RawFile) Dims() (uint32, uint32, uint32) { return f.width, f.height, f.depth }
func (f *RawFile) ComponentsPerVoxel() uint8       { return f.componentsPerVoxel }
func (f *RawFile) BytesPerComponent() uint8        { return f.bytesPerComponent }

func (f *RawFile) voxelStride() int64 {
	return int64(f.componentsPerVoxel) * int64(f.bytesPerComponent)
}

func (f *RawFile) VoxelAt(x, y, z int) ([]uint64, bool) {
	if x < 0 || y < 0 || z < 0 || x >= int(f.width) || y >= int(f.height) || z >= int(f.depth) {
		return nil, false
	}
	idx := int64(x) + int64(y)*int64(f.width) + int64(z)*int64(f.width)*int64(f.height)
	off := idx * f.voxelStride()
	buf := make([]byte, f.voxelStride())
	if _, err := f.r.ReadAt(buf, off); err != nil {
		return nil, false
	}
	out := make([]uint64, f.componentsPerVoxel)
	for c := 0; c < int(f.componentsPerVoxel); c++ {
		out[c] = readComponent(buf[c*int(f.bytesPerComponent):], f.bytesPerComponent)
	}
	return out, true
}

func readComponent(b []byte, n uint8) uint64 {
	var v uint64
	for i := uint8(0); i < n; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
