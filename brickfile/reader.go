package brickfile

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/sys/unix"
)

// Reader is a read-only, memory-mapped view of a BORGVR file. The first
// 8 bytes are the only random-access breadcrumb; everything else lives
// in the trailing metadata block.
type Reader struct {
	f      *os.File
	mm     mmap.MMap
	Header Header
	Metas  []BrickMeta
	Levels []LevelMeta

	// children[levelIdx] is the child-brick-id table for every brick of
	// levelIdx, indexed the same way as BrickIndex; precomputed once at
	// open.
	children [][][]BrickID
}

// Open mmaps path read-only and parses the header + metadata block.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("brickfile: open %s: %w", path, err)
	}
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("brickfile: mmap %s: %w", path, err)
	}
	// Bricks are fetched by id in whatever order page_in requests them,
	// never sequentially, so sequential readahead just wastes page
	// cache; best-effort, ignored on platforms without madvise.
	_ = unix.Madvise(mm, unix.MADV_RANDOM)
	r := &Reader{f: f, mm: mm}
	if err := r.parse(); err != nil {
		mm.Unmap()
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) parse() error {
	if len(r.mm) < 8 {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	metaOffset := binary.LittleEndian.Uint64(r.mm[0:8])
	if metaOffset >= uint64(len(r.mm)) {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	b := r.mm[metaOffset:]
	cur := 0
	need := func(n int) error {
		if cur+n > len(b) {
			return ErrTruncated
		}
		return nil
	}
	if err := need(6); err != nil {
		return fmt.Errorf("brickfile: %w", err)
	}
	if string(b[cur:cur+6]) != string(Magic[:]) {
		return fmt.Errorf("brickfile: %w", ErrBadMagic)
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
	readI64 := func() (int64, error) {
		v, err := readU64()
		return int64(v), err
	}
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
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	if version != Version {
		return fmt.Errorf("brickfile: %w: got %d want %d", ErrUnsupportedVersion, version, Version)
	}

	var h Header
	w, err := readU64()
	if err != nil {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	h.Width = uint32(w)
	ht, err := readU64()
	if err != nil {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	h.Height = uint32(ht)
	d, err := readU64()
	if err != nil {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	h.Depth = uint32(d)
	comp, err := readU64()
	if err != nil {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	h.ComponentsPerVoxel = uint8(comp)
	bpc, err := readU64()
	if err != nil {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	h.BytesPerComponent = uint8(bpc)
	for i := 0; i < 3; i++ {
		v, err := readF32()
		if err != nil {
			return fmt.Errorf("brickfile: %w", ErrTruncated)
		}
		h.Aspect[i] = v
	}
	bs, err := readU64()
	if err != nil {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	h.BrickSize = uint32(bs)
	ov, err := readU64()
	if err != nil {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	h.Overlap = uint32(ov)
	gmin, err := readI64()
	if err != nil {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	h.GlobalMin = gmin
	gmax, err := readI64()
	if err != nil {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	h.GlobalMax = gmax
	compr, err := readU8()
	if err != nil {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	h.Compression = Compression(compr)
	uuidStr, err := readString()
	if err != nil {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	h.UUID = uuidStr
	desc, err := readString()
	if err != nil {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	h.Description = desc

	brickCount, err := readU64()
	if err != nil {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	if _, err := readU64(); err != nil { // reserved
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}

	metas := make([]BrickMeta, brickCount)
	for i := range metas {
		off, err := readI64()
		if err != nil {
			return fmt.Errorf("brickfile: %w", ErrTruncated)
		}
		size, err := readI64()
		if err != nil {
			return fmt.Errorf("brickfile: %w", ErrTruncated)
		}
		mn, err := readI64()
		if err != nil {
			return fmt.Errorf("brickfile: %w", ErrTruncated)
		}
		mx, err := readI64()
		if err != nil {
			return fmt.Errorf("brickfile: %w", ErrTruncated)
		}
		metas[i] = BrickMeta{Offset: uint64(off), Size: uint64(size), Min: mn, Max: mx}
	}

	r.Header = h
	r.Metas = metas
	r.Levels = BuildLevels(h.Width, h.Height, h.Depth, h.BrickSize, h.Overlap)
	r.precomputeChildren()
	return nil
}

func (r *Reader) precomputeChildren() {
	r.children = make([][][]BrickID, len(r.Levels))
	for li, lvl := range r.Levels {
		bx, by, bz := lvl.BrickCount[0], lvl.BrickCount[1], lvl.BrickCount[2]
		total := int(bx * by * bz)
		table := make([][]BrickID, total)
		if li > 0 {
			for z := uint32(0); z < bz; z++ {
				for y := uint32(0); y < by; y++ {
					for x := uint32(0); x < bx; x++ {
						idx := BrickIndex(lvl, x, y, z) - BrickID(lvl.PrevBricks)
						table[idx] = ChildIndices(r.Levels, li, x, y, z)
					}
				}
			}
		}
		r.children[li] = table
	}
}

// ChildrenOf returns the (up to 8) child brick ids of id, or nil if id is
// on the finest level.
func (r *Reader) ChildrenOf(id BrickID) []BrickID {
	li, local := r.levelOf(id)
	if li < 0 {
		return nil
	}
	return r.children[li][local]
}

func (r *Reader) levelOf(id BrickID) (levelIdx int, localIdx int) {
	for i := len(r.Levels) - 1; i >= 0; i-- {
		if uint32(id) >= r.Levels[i].PrevBricks {
			return i, int(uint32(id) - r.Levels[i].PrevBricks)
		}
	}
	return -1, -1
}

// Close unmaps and closes the underlying file.
func (r *Reader) Close() error {
	if err := r.mm.Unmap(); err != nil {
		return fmt.Errorf("brickfile: unmap: %w", err)
	}
	return r.f.Close()
}

// GetBrickRaw copies the stored (possibly compressed) bytes of brick id
// into out, which must be at least Metas[id].Size bytes.
func (r *Reader) GetBrickRaw(id BrickID, out []byte) (int, error) {
	if int(id) < 0 || int(id) >= len(r.Metas) {
		return 0, fmt.Errorf("brickfile: %w: %d", ErrBrickIDOutOfRange, id)
	}
	m := r.Metas[id]
	if uint64(len(out)) < m.Size {
		return 0, fmt.Errorf("brickfile: %w", ErrOutputTooSmall)
	}
	if m.Offset+m.Size > uint64(len(r.mm)) {
		return 0, fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	n := copy(out, r.mm[m.Offset:m.Offset+m.Size])
	return n, nil
}

// GetBrick copies brick id into out, decompressing if the file is
// LZ4-compressed and this brick's payload was actually smaller than
// FullBrickBytes. out must be exactly FullBrickBytes long.
func (r *Reader) GetBrick(id BrickID, out []byte) error {
	if int(id) < 0 || int(id) >= len(r.Metas) {
		return fmt.Errorf("brickfile: %w: %d", ErrBrickIDOutOfRange, id)
	}
	full := r.Header.FullBrickBytes()
	if uint64(len(out)) != full {
		return fmt.Errorf("brickfile: %w", ErrDecompressedSizeMismatch)
	}
	m := r.Metas[id]
	if m.Offset+m.Size > uint64(len(r.mm)) {
		return fmt.Errorf("brickfile: %w", ErrTruncated)
	}
	raw := r.mm[m.Offset : m.Offset+m.Size]
	return Decompress(&r.Header, raw, out)
}

// Decompress decodes a raw (possibly LZ4-compressed) brick payload as
// stored on disk or received over the wire into out, which must be
// exactly header.FullBrickBytes() long. Shared by Reader.GetBrick and
// datasource.RemoteDataSource, whose GETBRICK response carries the same
// "raw payload, caller decompresses" contract.
func Decompress(header *Header, raw []byte, out []byte) error {
	full := header.FullBrickBytes()
	if uint64(len(out)) != full {
		return fmt.Errorf("brickfile: %w", ErrDecompressedSizeMismatch)
	}
	if header.Compression == CompressionLZ4 && uint64(len(raw)) < full {
		n, err := lz4.UncompressBlock(raw, out)
		if err != nil {
			return fmt.Errorf("brickfile: %w: %v", ErrDecompressionFailed, err)
		}
		if uint64(n) != full {
			return fmt.Errorf("brickfile: %w", ErrDecompressedSizeMismatch)
		}
		return nil
	}
	if uint64(len(raw)) != full {
		return fmt.Errorf("brickfile: %w", ErrDecompressedSizeMismatch)
	}
	copy(out, raw)
	return nil
}
