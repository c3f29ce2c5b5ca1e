package atlas

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLevelDataComputesLayout(t *testing.T) {
	ld := NewLevelData(4, 2, 8, 64)
	require.EqualValues(t, 4, ld.BricksX)
	require.EqualValues(t, 8, ld.BricksXTimesY)
	require.EqualValues(t, 64, ld.PrevBricks)
	require.InDelta(t, 0.25, ld.FractionalLayout.X(), 1e-6)
	require.InDelta(t, 0.5, ld.FractionalLayout.Y(), 1e-6)
	require.InDelta(t, 0.125, ld.FractionalLayout.Z(), 1e-6)
}
