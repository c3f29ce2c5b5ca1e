// Package config holds validated parameter sets: the flag-populated
// BrickConfig and ServerConfig that cmd/borgvr-brick and
// cmd/borgvr-server build from the command line, and RuntimeBudget for
// the renderer's atlas and hashtable budgets, separating argument
// parsing from the packages that consume the validated values.
package config

import (
	"fmt"

	"github.com/gekko3d/borgvr/brickfile"
)

// BrickConfig is the validated input to a bricker.Run invocation.
type BrickConfig struct {
	InputPath   string
	OutputPath  string
	Width       uint32
	Height      uint32
	Depth       uint32
	Components  uint8
	BytesPer    uint8
	BrickSize   uint32
	Overlap     uint32
	Compression brickfile.Compression
	Description string
}

// Validate checks the fields a flag.Parse pass cannot enforce itself.
func (c *BrickConfig) Validate() error {
	if c.InputPath == "" {
		return fmt.Errorf("config: -in is required")
	}
	if c.OutputPath == "" {
		return fmt.Errorf("config: -out is required")
	}
	if c.Width == 0 || c.Height == 0 || c.Depth == 0 {
		return fmt.Errorf("config: -width/-height/-depth must be > 0")
	}
	switch c.Components {
	case 1, 2, 4:
	default:
		return fmt.Errorf("config: -components must be 1, 2, or 4, got %d", c.Components)
	}
	switch c.BytesPer {
	case 1, 2, 4:
	default:
		return fmt.Errorf("config: -bytes-per-component must be 1, 2, or 4, got %d", c.BytesPer)
	}
	if c.BrickSize == 0 {
		return fmt.Errorf("config: -brick-size must be > 0")
	}
	if c.Overlap*2 >= c.BrickSize {
		return fmt.Errorf("config: -overlap must be < brick-size/2")
	}
	return nil
}

// ServerConfig is the validated input to a cmd/borgvr-server run.
type ServerConfig struct {
	ListenAddr   string
	DatasetPaths []string
	Debug        bool
}

// Validate checks the fields a flag.Parse pass cannot enforce itself.
func (c *ServerConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: -listen is required")
	}
	if len(c.DatasetPaths) == 0 {
		return fmt.Errorf("config: at least one dataset path is required")
	}
	return nil
}

// RuntimeBudget is the memory/working-set budget the renderer passes to
// atlas.New and hashtable.New.
type RuntimeBudget struct {
	AtlasBudgetBytes     uint64
	HashtableMinMB       uint64
	MaxProbingAttempts   uint32
	RemoteCacheLocalPath string
}

// Validate checks the fields a flag.Parse pass cannot enforce itself.
func (b *RuntimeBudget) Validate() error {
	if b.AtlasBudgetBytes == 0 {
		return fmt.Errorf("config: atlas budget must be > 0")
	}
	if b.HashtableMinMB == 0 {
		return fmt.Errorf("config: hashtable budget must be > 0")
	}
	if b.MaxProbingAttempts == 0 {
		return fmt.Errorf("config: max probing attempts must be > 0")
	}
	return nil
}
