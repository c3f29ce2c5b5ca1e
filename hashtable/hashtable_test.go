package hashtable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSizeRoundsUpToPowerOfTwo(t *testing.T) {
	// 1 MiB budget, 512-byte bricks -> need 2048 slots exactly.
	require.EqualValues(t, 2048, Size(1, 512))
	// 1 MiB budget, 600-byte bricks -> need ceil(1048576/600)=1748, next pow2 2048.
	require.EqualValues(t, 2048, Size(1, 600))
}

func TestSizeMinimumOne(t *testing.T) {
	require.EqualValues(t, 1, Size(0, 512))
	require.EqualValues(t, 1, Size(1, 0))
}

func TestExtractUniqueDropsZeroAndDuplicates(t *testing.T) {
	words := []uint32{0, 5, 3, 5, 0, 7, 3}
	ids := extractUnique(words)
	require.Len(t, ids, 3)
	require.EqualValues(t, 3, ids[0])
	require.EqualValues(t, 5, ids[1])
	require.EqualValues(t, 7, ids[2])
}

func TestExtractUniqueAllZero(t *testing.T) {
	require.Empty(t, extractUnique([]uint32{0, 0, 0}))
}

func TestNextPow2(t *testing.T) {
	require.EqualValues(t, 1, nextPow2(0))
	require.EqualValues(t, 1, nextPow2(1))
	require.EqualValues(t, 2, nextPow2(2))
	require.EqualValues(t, 4, nextPow2(3))
	require.EqualValues(t, 1024, nextPow2(1024))
	require.EqualValues(t, 2048, nextPow2(1025))
}
