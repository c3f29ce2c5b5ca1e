package volumereader

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProceduralBounds(t *testing.T) {
	p := &Procedural{
		Width: 4, Height: 4, Depth: 4, Components: 1, BytesPer: 1,
		Fn: func(x, y, z int) []uint64 { return []uint64{uint64(x + y + z)} },
	}
	v, ok := p.VoxelAt(1, 2, 3)
	require.True(t, ok)
	require.Equal(t, []uint64{6}, v)

	_, ok = p.VoxelAt(-1, 0, 0)
	require.False(t, ok)
	_, ok = p.VoxelAt(4, 0, 0)
	require.False(t, ok)
}

func TestRawFileVoxelAt(t *testing.T) {
	// 2x2x2 single-component u8 volume, values = linear index.
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	rf, err := FromRawFile(bytes.NewReader(data), 2, 2, 2, 1, 1)
	require.NoError(t, err)

	v, ok := rf.VoxelAt(1, 1, 1)
	require.True(t, ok)
	require.Equal(t, []uint64{7}, v)

	_, ok = rf.VoxelAt(2, 0, 0)
	require.False(t, ok)
}

func TestRawFileMultiByteComponent(t *testing.T) {
	// single voxel, 2 components, 2 bytes each (u16 little-endian).
	data := []byte{0x34, 0x12, 0xCD, 0xAB}
	rf, err := FromRawFile(bytes.NewReader(data), 1, 1, 1, 2, 2)
	require.NoError(t, err)
	v, ok := rf.VoxelAt(0, 0, 0)
	require.True(t, ok)
	require.Equal(t, []uint64{0x1234, 0xABCD}, v)
}

func TestFromRawFileRejectsBadLayout(t *testing.T) {
	_, err := FromRawFile(bytes.NewReader(nil), 1, 1, 1, 3, 1)
	require.Error(t, err)
	_, err = FromRawFile(bytes.NewReader(nil), 1, 1, 1, 1, 3)
	require.Error(t, err)
}
