// Package datasource implements runtime random access to decompressed
// bricks: a local memory-mapped source, a remote framed-protocol source,
// and a caching wrapper that mirrors a remote source to a local file
// with a background prefetch worker.
package datasource

import (
	"github.com/gekko3d/borgvr/brickfile"
)

// ErrNotYetAvailable is returned by async sources for a brick that has
// been requested but is not yet resident locally.
var ErrNotYetAvailable = notYetAvailable{}

type notYetAvailable struct{ id brickfile.BrickID }

func (e notYetAvailable) Error() string { return "datasource: brick not yet available" }
func (e notYetAvailable) Is(target error) bool {
	_, ok := target.(notYetAvailable)
	return ok
}

// NotYetAvailable builds an ErrNotYetAvailable carrying the brick id, so
// callers can errors.As into it if they need the id.
func NotYetAvailable(id brickfile.BrickID) error { return notYetAvailable{id: id} }

func (e notYetAvailable) BrickID() brickfile.BrickID { return e.id }

// DataSource is random access to decompressed bricks at runtime.
type DataSource interface {
	// Metadata returns the file-wide header.
	Metadata() *brickfile.Header
	// FirstBrick synchronously reads the single coarsest brick
	// (index brickCount-1). Must succeed if the file is valid.
	FirstBrick(out []byte) error
	// Brick reads brick id into out. May return ErrNotYetAvailable for
	// async sources.
	Brick(id brickfile.BrickID, out []byte) error
	// AllocateBrickBuffer returns an owned buffer sized FullBrickBytes.
	AllocateBrickBuffer() []byte
	// NewRequest hints that any prior request queue may be discarded.
	// Called once per frame.
	NewRequest()
	// BrickCount is the total number of bricks across all levels.
	BrickCount() uint32
}
