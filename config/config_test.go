package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validBrickConfig() BrickConfig {
	return BrickConfig{
		InputPath:  "in.raw",
		OutputPath: "out.borgvr",
		Width:      64, Height: 64, Depth: 64,
		Components: 1,
		BytesPer:   1,
		BrickSize:  32,
		Overlap:    2,
	}
}

func TestBrickConfigValidateOK(t *testing.T) {
	c := validBrickConfig()
	require.NoError(t, c.Validate())
}

func TestBrickConfigValidateRejectsBadOverlap(t *testing.T) {
	c := validBrickConfig()
	c.Overlap = 16
	require.Error(t, c.Validate())
}

func TestBrickConfigValidateRejectsBadComponents(t *testing.T) {
	c := validBrickConfig()
	c.Components = 3
	require.Error(t, c.Validate())
}

func TestBrickConfigValidateRequiresPaths(t *testing.T) {
	c := validBrickConfig()
	c.InputPath = ""
	require.Error(t, c.Validate())
}

func TestServerConfigValidate(t *testing.T) {
	c := ServerConfig{ListenAddr: ":9000", DatasetPaths: []string{"a.borgvr"}}
	require.NoError(t, c.Validate())

	c.DatasetPaths = nil
	require.Error(t, c.Validate())
}

func TestRuntimeBudgetValidate(t *testing.T) {
	b := RuntimeBudget{AtlasBudgetBytes: 1 << 20, HashtableMinMB: 4, MaxProbingAttempts: 32}
	require.NoError(t, b.Validate())

	b.MaxProbingAttempts = 0
	require.Error(t, b.Validate())
}
