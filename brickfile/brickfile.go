// Package brickfile implements the BORGVR on-disk bricked-volume format:
// the header, per-level metadata, per-brick metadata, and the payload
// region, plus serialization and memory-mapped read access.
package brickfile

import (
	"errors"
	"math"
)

// Magic is the fixed 6-byte file signature at the start of the trailing
// metadata block.
var Magic = [6]byte{'B', 'O', 'R', 'G', 'V', 'R'}

// Version is the only wire version this package understands.
const Version uint64 = 2

// Compression identifies the payload encoding applied per brick.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
)

// Errors returned by this package. Fatal-to-dataset errors (§7): no
// partial state is retained by the caller when these occur.
var (
	ErrBadMagic               = errors.New("brickfile: bad magic")
	ErrUnsupportedVersion     = errors.New("brickfile: unsupported version")
	ErrTruncated              = errors.New("brickfile: truncated metadata block")
	ErrInvalidUUID            = errors.New("brickfile: invalid uuid")
	ErrDecompressionFailed    = errors.New("brickfile: decompression failed")
	ErrDecompressedSizeMismatch = errors.New("brickfile: decompressed size mismatch")
	ErrBrickIDOutOfRange      = errors.New("brickfile: brick id out of range")
	ErrOutputTooSmall         = errors.New("brickfile: output buffer too small")
)

// BrickID is a linear index into the brick metadata array, ordered by
// level then (z,y,x) within the level.
type BrickID uint32

// BrickMeta is immutable per-brick metadata, fixed at file creation.
type BrickMeta struct {
	Offset uint64 // byte offset of the payload in the file
	Size   uint64 // bytes of payload (may be < FullBrickBytes when compressed)
	Min    int64  // intensity minimum over the brick
	Max    int64  // intensity maximum over the brick
}

// LevelMeta is computed from Header at open/build time, never stored
// verbatim in the file.
type LevelMeta struct {
	Size       [3]uint32 // volume dimensions at this level, in voxels
	BrickCount [3]uint32 // bricks along each axis
	PrevBricks uint32    // cumulative brick count from all finer levels
}

// Header holds the global, file-wide metadata block (everything but the
// per-brick array, which is carried separately alongside it).
type Header struct {
	Width, Height, Depth uint32
	ComponentsPerVoxel   uint8 // 1, 2, or 4
	BytesPerComponent    uint8 // 1, 2, or 4
	Aspect               [3]float32
	BrickSize            uint32 // cube edge length, in voxels
	Overlap              uint32 // per-face overlap, in voxels
	GlobalMin, GlobalMax int64
	Compression          Compression
	UUID                 string
	Description          string
}

// FullBrickBytes is the uncompressed payload size of one brick.
func (h *Header) FullBrickBytes() uint64 {
	n := uint64(h.BrickSize)
	return n * n * n * uint64(h.ComponentsPerVoxel) * uint64(h.BytesPerComponent)
}

// Stride is the effective interior edge of a brick once overlap on both
// sides of each axis is removed: brick_size - 2*overlap.
func (h *Header) Stride() uint32 {
	return h.BrickSize - 2*h.Overlap
}

// LevelCount computes L = 1 + ceil(log2(maxAxisBrickCount)) from the
// finest-level brick counts.
func LevelCount(bx, by, bz uint32) int {
	m := bx
	if by > m {
		m = by
	}
	if bz > m {
		m = bz
	}
	if m <= 1 {
		return 1
	}
	return 1 + int(math.Ceil(math.Log2(float64(m))))
}

// ceilDiv is ceil(a/b) with integer arithmetic, a,b > 0.
func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// BuildLevels computes the full LevelMeta pyramid given the finest-level
// volume dimensions and the brick stride, halving each dimension
// (integer divide) per level until a single brick remains.
func BuildLevels(width, height, depth, brickSize, overlap uint32) []LevelMeta {
	stride := brickSize - 2*overlap
	levels := make([]LevelMeta, 0, 8)
	w, h, d := width, height, depth
	var prev uint32
	for {
		bx := ceilDiv(w, stride)
		by := ceilDiv(h, stride)
		bz := ceilDiv(d, stride)
		if bx == 0 {
			bx = 1
		}
		if by == 0 {
			by = 1
		}
		if bz == 0 {
			bz = 1
		}
		lm := LevelMeta{
			Size:       [3]uint32{w, h, d},
			BrickCount: [3]uint32{bx, by, bz},
			PrevBricks: prev,
		}
		levels = append(levels, lm)
		prev += bx * by * bz
		if bx <= 1 && by <= 1 && bz <= 1 {
			break
		}
		w, h, d = w/2, h/2, d/2
		if w == 0 {
			w = 1
		}
		if h == 0 {
			h = 1
		}
		if d == 0 {
			d = 1
		}
	}
	return levels
}

// BrickIndex computes the linear brick-metadata index for a brick at
// grid coordinates (x,y,z) within level, following the fixed ordering
// rule: brick_metadata[level_meta[l].prev_bricks + x + y*bx + z*bx*by].
func BrickIndex(level LevelMeta, x, y, z uint32) BrickID {
	bx, by := level.BrickCount[0], level.BrickCount[1]
	return BrickID(level.PrevBricks + x + y*bx + z*bx*by)
}

// TotalBricks returns the total brick count across all levels.
func TotalBricks(levels []LevelMeta) uint32 {
	last := levels[len(levels)-1]
	return last.PrevBricks + last.BrickCount[0]*last.BrickCount[1]*last.BrickCount[2]
}

// ChildIndices returns the brick ids of the (up to) 8 octree children of
// brick (x,y,z) in level `levelIdx` of levels, or nil if levelIdx is the
// finest level (no finer level exists). Built once at open time so
// lookups never recompute the octree relationship at query time.
func ChildIndices(levels []LevelMeta, levelIdx int, x, y, z uint32) []BrickID {
	if levelIdx <= 0 {
		return nil
	}
	child := levels[levelIdx-1]
	cbx, cby, cbz := child.BrickCount[0], child.BrickCount[1], child.BrickCount[2]
	out := make([]BrickID, 0, 8)
	for dz := uint32(0); dz < 2; dz++ {
		cz := z*2 + dz
		if cz >= cbz {
			continue
		}
		for dy := uint32(0); dy < 2; dy++ {
			cy := y*2 + dy
			if cy >= cby {
				continue
			}
			for dx := uint32(0); dx < 2; dx++ {
				cx := x*2 + dx
				if cx >= cbx {
					continue
				}
				out = append(out, BrickIndex(child, cx, cy, cz))
			}
		}
	}
	return out
}
