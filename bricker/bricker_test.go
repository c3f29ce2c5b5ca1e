package bricker

import (
	"path/filepath"
	"testing"

	"github.com/gekko3d/borgvr/brickfile"
	"github.com/gekko3d/borgvr/volumereader"
	"github.com/stretchr/testify/require"
)

func gridReader(w, h, d uint32, fn func(x, y, z int) []uint64) *volumereader.Procedural {
	return &volumereader.Procedural{Width: w, Height: h, Depth: d, Components: 1, BytesPer: 1, Fn: fn}
}

func TestRunBoundaryScenario128(t *testing.T) {
	reader := gridReader(128, 128, 128, func(x, y, z int) []uint64 {
		return []uint64{uint64((x + y + z) % 256)}
	})
	out := filepath.Join(t.TempDir(), "vol.borgvr")
	err := Run(reader, out, Params{BrickSize: 32, Overlap: 2, Extension: ExtendClamp, Compression: brickfile.CompressionNone})
	require.NoError(t, err)

	r, err := brickfile.Open(out)
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, r.Levels, 4)
	require.Equal(t, [3]uint32{5, 5, 5}, r.Levels[0].BrickCount)
	require.Equal(t, [3]uint32{3, 3, 3}, r.Levels[1].BrickCount)
	require.Equal(t, [3]uint32{2, 2, 2}, r.Levels[2].BrickCount)
	require.Equal(t, [3]uint32{1, 1, 1}, r.Levels[3].BrickCount)
	require.EqualValues(t, 125+27+8+1, len(r.Metas))
}

func TestRunExactMultipleNoOverlapBitExact(t *testing.T) {
	// Bricker with compression=false and overlap=0 over dims that are
	// multiples of brick_size: concatenating finest-level bricks in
	// (z,y,x) order reproduces the input bit-exactly.
	const bs = 8
	w, h, d := uint32(16), uint32(16), uint32(16)
	value := func(x, y, z int) uint8 {
		return uint8((x*7 + y*13 + z*31) % 251)
	}
	reader := gridReader(w, h, d, func(x, y, z int) []uint64 {
		return []uint64{uint64(value(x, y, z))}
	})
	out := filepath.Join(t.TempDir(), "vol.borgvr")
	err := Run(reader, out, Params{BrickSize: bs, Overlap: 0, Extension: ExtendClamp, Compression: brickfile.CompressionNone})
	require.NoError(t, err)

	r, err := brickfile.Open(out)
	require.NoError(t, err)
	defer r.Close()

	lvl0 := r.Levels[0]
	full := int(r.Header.FullBrickBytes())
	buf := make([]byte, full)
	for bz := uint32(0); bz < lvl0.BrickCount[2]; bz++ {
		for by := uint32(0); by < lvl0.BrickCount[1]; by++ {
			for bx := uint32(0); bx < lvl0.BrickCount[0]; bx++ {
				id := brickfile.BrickIndex(lvl0, bx, by, bz)
				require.NoError(t, r.GetBrick(id, buf))
				for dz := 0; dz < bs; dz++ {
					for dy := 0; dy < bs; dy++ {
						for dx := 0; dx < bs; dx++ {
							gx, gy, gz := int(bx)*bs+dx, int(by)*bs+dy, int(bz)*bs+dz
							got := buf[dx+dy*bs+dz*bs*bs]
							require.Equal(t, value(gx, gy, gz), got, "voxel (%d,%d,%d)", gx, gy, gz)
						}
					}
				}
			}
		}
	}
}

func TestRunRejectsBadOverlap(t *testing.T) {
	reader := gridReader(8, 8, 8, func(x, y, z int) []uint64 { return []uint64{0} })
	out := filepath.Join(t.TempDir(), "vol.borgvr")
	err := Run(reader, out, Params{BrickSize: 8, Overlap: 4, Compression: brickfile.CompressionNone})
	require.Error(t, err)
}

func TestRunLZ4CompressionRoundTrip(t *testing.T) {
	// A brick that is entirely one value should compress smaller.
	reader := gridReader(32, 32, 32, func(x, y, z int) []uint64 { return []uint64{42} })
	out := filepath.Join(t.TempDir(), "vol.borgvr")
	err := Run(reader, out, Params{BrickSize: 16, Overlap: 0, Extension: ExtendClamp, Compression: brickfile.CompressionLZ4})
	require.NoError(t, err)

	r, err := brickfile.Open(out)
	require.NoError(t, err)
	defer r.Close()

	full := r.Header.FullBrickBytes()
	foundCompressed := false
	for _, m := range r.Metas {
		if m.Size < full {
			foundCompressed = true
		}
	}
	require.True(t, foundCompressed)

	buf := make([]byte, full)
	for id := range r.Metas {
		require.NoError(t, r.GetBrick(brickfile.BrickID(id), buf))
		for _, b := range buf {
			require.Equal(t, uint8(42), b)
		}
	}
}
