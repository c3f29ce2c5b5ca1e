package datasource

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"os"
	"sync"
)

// CacheMap is a bitmap of resident bricks in a CachingRemoteDataSource's
// local mirror. Every bit set corresponds to a valid, fully written
// payload at that brick's offset in the local mmap.
type CacheMap struct {
	mu    sync.Mutex
	words []uint64
	n     uint32
	set   uint32
}

// NewCacheMap allocates a CacheMap for n bricks, all initially unset.
func NewCacheMap(n uint32) *CacheMap {
	return &CacheMap{words: make([]uint64, (n+63)/64), n: n}
}

// Set marks brick id resident. Returns false if it was already set.
func (c *CacheMap) Set(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, b := id/64, id%64
	mask := uint64(1) << b
	if c.words[w]&mask != 0 {
		return false
	}
	c.words[w] |= mask
	c.set++
	return true
}

func (c *CacheMap) IsSet(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSetLocked(id)
}

func (c *CacheMap) isSetLocked(id uint32) bool {
	if id >= c.n {
		return false
	}
	w, b := id/64, id%64
	return c.words[w]&(uint64(1)<<b) != 0
}

// Complete reports whether every bit is set.
func (c *CacheMap) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set >= c.n
}

// LastUnsetIndex returns the highest-indexed unset brick, prioritizing
// the tail of the metadata array — coarsest levels are last in index
// order, so this prefetches low-resolution bricks first. This
// heuristic assumes the current level ordering and would need
// revision if levels were ever reordered.
// Returns (0, false) when the map is complete.
func (c *CacheMap) LastUnsetIndex() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for w := len(c.words) - 1; w >= 0; w-- {
		word := c.words[w]
		// Mask off bits beyond c.n in the final word.
		if w == len(c.words)-1 {
			validBits := c.n - uint32(w)*64
			if validBits < 64 {
				word |= ^uint64(0) << validBits // treat out-of-range bits as "set"
			}
		}
		if word == ^uint64(0) {
			continue
		}
		inv := ^word
		top := 63 - bits.LeadingZeros64(inv)
		return uint32(w)*64 + uint32(top), true
	}
	return 0, false
}

// Persist writes the bitmap to path, for CachingRemoteDataSource to pick
// up where it left off across sessions.
func (c *CacheMap) Persist(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("datasource: persist cache map: %w", err)
	}
	defer f.Close()
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], c.n)
	if _, err := f.Write(hdr[:]); err != nil {
		return fmt.Errorf("datasource: persist cache map: %w", err)
	}
	buf := make([]byte, 8*len(c.words))
	for i, w := range c.words {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	_, err = f.Write(buf)
	return err
}

// LoadCacheMap reads a CacheMap previously written by Persist.
func LoadCacheMap(path string) (*CacheMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("datasource: truncated cache map file")
	}
	n := binary.LittleEndian.Uint32(data[0:4])
	cm := NewCacheMap(n)
	body := data[4:]
	for i := range cm.words {
		off := i * 8
		if off+8 > len(body) {
			break
		}
		cm.words[i] = binary.LittleEndian.Uint64(body[off : off+8])
	}
	cm.set = 0
	for id := uint32(0); id < n; id++ {
		if cm.isSetLocked(id) {
			cm.set++
		}
	}
	return cm, nil
}
