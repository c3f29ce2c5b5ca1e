package datasource

import (
	"fmt"

	"github.com/gekko3d/borgvr/brickfile"
)

// LocalDataSource reads bricks from a memory-mapped BrickFile,
// decompressing on demand.
type LocalDataSource struct {
	reader *brickfile.Reader
}

// NewLocalDataSource wraps an already-open brickfile.Reader.
func NewLocalDataSource(reader *brickfile.Reader) *LocalDataSource {
	return &LocalDataSource{reader: reader}
}

func (s *LocalDataSource) Metadata() *brickfile.Header { return &s.reader.Header }

func (s *LocalDataSource) BrickCount() uint32 { return uint32(len(s.reader.Metas)) }

func (s *LocalDataSource) AllocateBrickBuffer() []byte {
	return make([]byte, s.reader.Header.FullBrickBytes())
}

func (s *LocalDataSource) FirstBrick(out []byte) error {
	id := brickfile.BrickID(s.BrickCount() - 1)
	if err := s.reader.GetBrick(id, out); err != nil {
		return fmt.Errorf("datasource: first brick: %w", err)
	}
	return nil
}

func (s *LocalDataSource) Brick(id brickfile.BrickID, out []byte) error {
	return s.reader.GetBrick(id, out)
}

// NewRequest is a no-op: LocalDataSource never queues requests, every
// read is synchronous.
func (s *LocalDataSource) NewRequest() {}
