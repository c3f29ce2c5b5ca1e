// Package bricker implements the offline conversion of a raw monolithic
// volume into the hierarchical BORGVR bricked file format: partitioning,
// overlap, downsampling, per-brick min/max, optional LZ4 compression,
// and on-disk layout.
package bricker

import (
	"fmt"
	"math"

	"github.com/gekko3d/borgvr/brickfile"
	"github.com/gekko3d/borgvr/logging"
	"github.com/gekko3d/borgvr/volumereader"
	"github.com/pierrec/lz4/v4"
)

// ExtensionStrategy controls how out-of-bounds samples are produced when
// a brick's footprint (including overlap) extends past the volume.
type ExtensionStrategy int

const (
	ExtendZero ExtensionStrategy = iota
	ExtendClamp
	ExtendWrap
)

// Params are the bricker's input parameters.
type Params struct {
	BrickSize         uint32
	Overlap           uint32
	Extension         ExtensionStrategy
	Compression       brickfile.Compression
	Description       string
	Logger            logging.Logger
}

// validate checks the invariant bricking requires before it starts:
// overlap < brick_size/2.
func (p *Params) validate() error {
	if p.BrickSize == 0 {
		return fmt.Errorf("bricker: brick size must be > 0")
	}
	if p.Overlap*2 >= p.BrickSize {
		return fmt.Errorf("bricker: overlap %d must be < brick_size/2 (%d)", p.Overlap, p.BrickSize/2)
	}
	switch p.Compression {
	case brickfile.CompressionNone, brickfile.CompressionLZ4:
	default:
		return fmt.Errorf("bricker: unsupported compression %d", p.Compression)
	}
	return nil
}

// Run converts reader into a BORGVR file at outPath using params.
// On any I/O error the partial output is unlinked rather than left
// as a corrupt half-written file.
func Run(reader volumereader.VolumeReader, outPath string, params Params) (err error) {
	log := logging.OrNop(params.Logger)
	if err := params.validate(); err != nil {
		return err
	}

	width, height, depth := reader.Dims()
	comps := reader.ComponentsPerVoxel()
	bpc := reader.BytesPerComponent()

	// Overflow guard: volume_axis * bytes_per_voxel must fit a uint64,
	// which it always will on any real machine, but we still check
	// rather than assume it.
	voxelBytes := uint64(comps) * uint64(bpc)
	if voxelBytes == 0 {
		return fmt.Errorf("bricker: invalid voxel layout: %d components x %d bytes", comps, bpc)
	}
	for _, axis := range []uint32{width, height, depth} {
		if uint64(axis)*voxelBytes < uint64(axis) {
			return fmt.Errorf("bricker: coordinate overflow for axis size %d", axis)
		}
	}

	header := brickfile.Header{
		Width: width, Height: height, Depth: depth,
		ComponentsPerVoxel: comps,
		BytesPerComponent:  bpc,
		Aspect:             [3]float32{1, 1, 1},
		BrickSize:          params.BrickSize,
		Overlap:            params.Overlap,
		Compression:        params.Compression,
		Description:        params.Description,
		GlobalMin:          math.MaxInt64,
		GlobalMax:          math.MinInt64,
	}

	w, err := brickfile.Create(outPath, header)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			w.Abort()
		}
	}()

	full := int(header.FullBrickBytes())
	payload := make([]byte, full)
	var scratch []byte
	if params.Compression == brickfile.CompressionLZ4 {
		scratch = make([]byte, lz4.CompressBlockBound(full))
	}

	cur := sourceFromReader(reader)
	defer cur.Close()

	level := 0
	for {
		bx := ceilDivStride(cur.Width(), params.BrickSize, params.Overlap)
		by := ceilDivStride(cur.Height(), params.BrickSize, params.Overlap)
		bz := ceilDivStride(cur.Depth(), params.BrickSize, params.Overlap)
		stride := params.BrickSize - 2*params.Overlap

		log.Debugf("bricking level %d: volume=%dx%dx%d bricks=%dx%dx%d", level, cur.Width(), cur.Height(), cur.Depth(), bx, by, bz)

		for bzI := uint32(0); bzI < bz; bzI++ {
			for byI := uint32(0); byI < by; byI++ {
				for bxI := uint32(0); bxI < bx; bxI++ {
					x0 := int(bxI*stride) - int(params.Overlap)
					y0 := int(byI*stride) - int(params.Overlap)
					z0 := int(bzI*stride) - int(params.Overlap)

					fillBrick(cur, x0, y0, z0, int(params.BrickSize), int(comps), int(bpc), params.Extension, payload)

					mn, mx := brickMinMax(payload, comps, bpc)
					if comps == 1 {
						if mn < header.GlobalMin {
							header.GlobalMin = mn
						}
						if mx > header.GlobalMax {
							header.GlobalMax = mx
						}
					}

					final := payload
					size := uint64(full)
					if params.Compression == brickfile.CompressionLZ4 {
						var c lz4.Compressor
						n, cerr := c.CompressBlock(payload, scratch)
						if cerr != nil {
							return fmt.Errorf("bricker: lz4 compress: %w", cerr)
						}
						if n > 0 && n < full {
							final = scratch[:n]
							size = uint64(n)
						}
					}

					if _, werr := w.WriteBrick(size, mn, mx, final); werr != nil {
						return werr
					}
				}
			}
		}

		if bx <= 1 && by <= 1 && bz <= 1 {
			break
		}

		next, derr := downsample(cur, comps, bpc)
		if derr != nil {
			return fmt.Errorf("bricker: downsample level %d: %w", level, derr)
		}
		cur.Close()
		cur = next
		level++
	}

	if comps != 1 {
		header.GlobalMin, header.GlobalMax = 0, 0
	}

	if err := w.Finish(); err != nil {
		return err
	}
	log.Infof("bricker: wrote %s (%d levels)", outPath, level+1)
	return nil
}

func ceilDivStride(axis, brickSize, overlap uint32) uint32 {
	stride := brickSize - 2*overlap
	if stride == 0 {
		stride = 1
	}
	n := (axis + stride - 1) / stride
	if n == 0 {
		n = 1
	}
	return n
}

// brickMinMax scans a payload buffer and returns the per-brick
// (min,max) intensity range, per-component widened to int64. Only
// meaningful for single-component data; multi-component callers ignore
// the result for global min/max purposes.
func brickMinMax(payload []byte, comps, bpc uint8) (int64, int64) {
	stride := int(comps) * int(bpc)
	if stride == 0 || len(payload) < stride {
		return 0, 0
	}
	mn := int64(math.MaxInt64)
	mx := int64(math.MinInt64)
	for i := 0; i+stride <= len(payload); i += stride {
		for c := 0; c < int(comps); c++ {
			v := int64(readLE(payload[i+c*int(bpc):], bpc))
			if v < mn {
				mn = v
			}
			if v > mx {
				mx = v
			}
		}
	}
	return mn, mx
}

func readLE(b []byte, n uint8) uint64 {
	var v uint64
	for i := uint8(0); i < n; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func writeLE(b []byte, v uint64, n uint8) {
	for i := uint8(0); i < n; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
