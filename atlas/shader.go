package atlas

import "github.com/go-gl/mathgl/mgl32"

// ShaderConstants mirrors the compile-time constants the runtime↔GPU
// contract expects baked into the shader.
type ShaderConstants struct {
	LevelCount               uint32
	BrickSize                uint32
	BrickInnerSize           uint32
	OverlapStep              uint32
	LevelZeroWorldSpaceError float32
	LODFactor                float32
	PoolSize                 [3]uint32
	VolumeSize               [3]uint32
	PoolCapacity             uint32
	HashtableSize            uint32
	MaxProbingAttempts       uint32
	MaxIterations            uint32
	RequestLowresLOD         bool
	StopOnMiss               bool
}

// LevelData is the per-level entry of the level table the shader reads
// to map a brick's level-local coordinate to a global brick index.
// FractionalLayout holds 1/brick count along each axis of the level,
// i.e. the fraction of the level one brick spans, as an mgl32.Vec3.
type LevelData struct {
	BricksX          uint32
	BricksXTimesY    uint32
	PrevBricks       uint32
	FractionalLayout mgl32.Vec3
}

// NewLevelData builds a LevelData from brick-grid dimensions.
func NewLevelData(bricksX, bricksY, bricksZ, prevBricks uint32) LevelData {
	return LevelData{
		BricksX:          bricksX,
		BricksXTimesY:    bricksX * bricksY,
		PrevBricks:       prevBricks,
		FractionalLayout: mgl32.Vec3{1 / float32(bricksX), 1 / float32(bricksY), 1 / float32(bricksZ)},
	}
}
