package datasource

import (
	"fmt"

	"github.com/gekko3d/borgvr/brickfile"
)

// ServerDataset adapts a brickfile.Reader to wireproto.Dataset, serving
// raw (as-stored) brick payloads — the caller on the wire decompresses.
type ServerDataset struct {
	Reader *brickfile.Reader
}

func (d *ServerDataset) Description() string { return d.Reader.Header.Description }

func (d *ServerDataset) MetadataBlock() []byte {
	return encodeMetadataBlock(&d.Reader.Header, d.Reader.Metas)
}

func (d *ServerDataset) BrickPayload(index uint32) ([]byte, error) {
	if int(index) >= len(d.Reader.Metas) {
		return nil, fmt.Errorf("datasource: %w: %d", brickfile.ErrBrickIDOutOfRange, index)
	}
	id := brickfile.BrickID(index)
	out := make([]byte, d.Reader.Metas[id].Size)
	n, err := d.Reader.GetBrickRaw(id, out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}
