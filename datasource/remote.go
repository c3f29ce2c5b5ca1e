package datasource

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gekko3d/borgvr/brickfile"
	"github.com/gekko3d/borgvr/wireproto"
)

// RemoteDataSource is a synchronous DataSource backed by one
// strictly-serialized wireproto connection.
type RemoteDataSource struct {
	client   *wireproto.Client
	datasetID int
	header   brickfile.Header
	metas    []brickfile.BrickMeta
}

// Dial opens a connection to addr and selects datasetID with OPEN,
// decoding the returned BORGVR metadata block.
func Dial(addr string, datasetID int) (*RemoteDataSource, error) {
	c, err := wireproto.Dial(addr)
	if err != nil {
		return nil, err
	}
	metaBlock, err := c.Open(datasetID)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("datasource: OPEN %d: %w", datasetID, err)
	}
	header, metas, err := decodeMetadataBlock(metaBlock)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("datasource: decode metadata from OPEN response: %w", err)
	}
	return &RemoteDataSource{client: c, datasetID: datasetID, header: header, metas: metas}, nil
}

func (s *RemoteDataSource) Close() error { return s.client.Close() }

func (s *RemoteDataSource) Metadata() *brickfile.Header { return &s.header }

func (s *RemoteDataSource) BrickCount() uint32 { return uint32(len(s.metas)) }

func (s *RemoteDataSource) AllocateBrickBuffer() []byte {
	return make([]byte, s.header.FullBrickBytes())
}

func (s *RemoteDataSource) FirstBrick(out []byte) error {
	return s.Brick(brickfile.BrickID(s.BrickCount()-1), out)
}

func (s *RemoteDataSource) Brick(id brickfile.BrickID, out []byte) error {
	if int(id) < 0 || int(id) >= len(s.metas) {
		return fmt.Errorf("datasource: %w: %d", brickfile.ErrBrickIDOutOfRange, id)
	}
	raw, err := s.client.GetBrick(uint32(id))
	if err != nil {
		return fmt.Errorf("datasource: GETBRICK %d: %w", id, err)
	}
	return brickfile.Decompress(&s.header, raw, out)
}

// NewRequest is a no-op for RemoteDataSource: it issues exactly one
// request per Brick() call with no internal queue to discard.
func (s *RemoteDataSource) NewRequest() {}

// decodeMetadataBlock parses the trailing BORGVR metadata block (the
// same layout brickfile.Reader parses from a mmap, here read from an
// in-memory OPEN response instead). Kept local to avoid exporting
// brickfile's internal field-by-field parser.
func decodeMetadataBlock(b []byte) (brickfile.Header, []brickfile.BrickMeta, error) {
	cur := 0
	need := func(n int) error {
		if cur+n > len(b) {
			return errors.New("datasource: truncated metadata block")
		}
		return nil
	}
	if err := need(6); err != nil {
		return brickfile.Header{}, nil, err
	}
	if string(b[cur:cur+6]) != string(brickfile.Magic[:]) {
		return brickfile.Header{}, nil, brickfile.ErrBadMagic
	}
	cur += 6

	readU64 := func() (uint64, error) {
		if err := need(8); err != nil {
			return 0, err
		}
		v := binary.LittleEndian.Uint64(b[cur : cur+8])
		cur += 8
		return v, nil
	}
	readI64 := func() (int64, error) { v, err := readU64(); return int64(v), err }
	readU8 := func() (uint8, error) {
		if err := need(1); err != nil {
			return 0, err
		}
		v := b[cur]
		cur++
		return v, nil
	}
	readF32 := func() (float32, error) {
		if err := need(4); err != nil {
			return 0, err
		}
		v := math.Float32frombits(binary.LittleEndian.Uint32(b[cur : cur+4]))
		cur += 4
		return v, nil
	}
	readString := func() (string, error) {
		n, err := readU64()
		if err != nil {
			return "", err
		}
		if err := need(int(n)); err != nil {
			return "", err
		}
		s := string(b[cur : cur+int(n)])
		cur += int(n)
		return s, nil
	}

	version, err := readU64()
	if err != nil {
		return brickfile.Header{}, nil, err
	}
	if version != brickfile.Version {
		return brickfile.Header{}, nil, brickfile.ErrUnsupportedVersion
	}

	var h brickfile.Header
	if v, err := readU64(); err != nil {
		return h, nil, err
	} else {
		h.Width = uint32(v)
	}
	if v, err := readU64(); err != nil {
		return h, nil, err
	} else {
		h.Height = uint32(v)
	}
	if v, err := readU64(); err != nil {
		return h, nil, err
	} else {
		h.Depth = uint32(v)
	}
	if v, err := readU64(); err != nil {
		return h, nil, err
	} else {
		h.ComponentsPerVoxel = uint8(v)
	}
	if v, err := readU64(); err != nil {
		return h, nil, err
	} else {
		h.BytesPerComponent = uint8(v)
	}
	for i := 0; i < 3; i++ {
		v, err := readF32()
		if err != nil {
			return h, nil, err
		}
		h.Aspect[i] = v
	}
	if v, err := readU64(); err != nil {
		return h, nil, err
	} else {
		h.BrickSize = uint32(v)
	}
	if v, err := readU64(); err != nil {
		return h, nil, err
	} else {
		h.Overlap = uint32(v)
	}
	if v, err := readI64(); err != nil {
		return h, nil, err
	} else {
		h.GlobalMin = v
	}
	if v, err := readI64(); err != nil {
		return h, nil, err
	} else {
		h.GlobalMax = v
	}
	if v, err := readU8(); err != nil {
		return h, nil, err
	} else {
		h.Compression = brickfile.Compression(v)
	}
	if v, err := readString(); err != nil {
		return h, nil, err
	} else {
		h.UUID = v
	}
	if v, err := readString(); err != nil {
		return h, nil, err
	} else {
		h.Description = v
	}

	brickCount, err := readU64()
	if err != nil {
		return h, nil, err
	}
	if _, err := readU64(); err != nil { // reserved
		return h, nil, err
	}
	metas := make([]brickfile.BrickMeta, brickCount)
	for i := range metas {
		off, err := readI64()
		if err != nil {
			return h, nil, err
		}
		size, err := readI64()
		if err != nil {
			return h, nil, err
		}
		mn, err := readI64()
		if err != nil {
			return h, nil, err
		}
		mx, err := readI64()
		if err != nil {
			return h, nil, err
		}
		metas[i] = brickfile.BrickMeta{Offset: uint64(off), Size: uint64(size), Min: mn, Max: mx}
	}
	return h, metas, nil
}
