package datasource

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/gekko3d/borgvr/brickfile"
)

// encodeMetadataBlock serializes header+metas into the same trailing
// metadata block layout brickfile.Writer.Finish writes to disk, so it
// can be shipped as the OPEN response body.
func encodeMetadataBlock(h *brickfile.Header, metas []brickfile.BrickMeta) []byte {
	var buf bytes.Buffer
	buf.Write(brickfile.Magic[:])

	var u64 [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(u64[:], v)
		buf.Write(u64[:])
	}
	writeI64 := func(v int64) { writeU64(uint64(v)) }
	writeF32 := func(v float32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		buf.Write(b[:])
	}
	writeString := func(s string) {
		writeU64(uint64(len(s)))
		buf.WriteString(s)
	}

	writeU64(brickfile.Version)
	writeU64(uint64(h.Width))
	writeU64(uint64(h.Height))
	writeU64(uint64(h.Depth))
	writeU64(uint64(h.ComponentsPerVoxel))
	writeU64(uint64(h.BytesPerComponent))
	writeF32(h.Aspect[0])
	writeF32(h.Aspect[1])
	writeF32(h.Aspect[2])
	writeU64(uint64(h.BrickSize))
	writeU64(uint64(h.Overlap))
	writeI64(h.GlobalMin)
	writeI64(h.GlobalMax)
	buf.WriteByte(uint8(h.Compression))
	writeString(h.UUID)
	writeString(h.Description)
	writeU64(uint64(len(metas)))
	writeU64(0) // reserved
	for _, m := range metas {
		writeI64(int64(m.Offset))
		writeI64(int64(m.Size))
		writeI64(m.Min)
		writeI64(m.Max)
	}
	return buf.Bytes()
}
