// Package hashtable implements GPUHashtable: the fixed-capacity
// linear-probing table the shader uses to report brick-id misses each
// frame.
package hashtable

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/borgvr/brickfile"
)

// nextPow2 rounds v up to the next power of two, minimum 1.
func nextPow2(v uint64) uint32 {
	if v <= 1 {
		return 1
	}
	n := uint32(1)
	for uint64(n) < v {
		n <<= 1
	}
	return n
}

// Size computes the hashtable slot count for a minMB memory budget,
// rounded up to the next power of two ≥ ceil(minMB·2^20 / fullBrickBytes).
func Size(minMB uint64, fullBrickBytes uint64) uint32 {
	if fullBrickBytes == 0 {
		return 1
	}
	need := (minMB<<20 + fullBrickBytes - 1) / fullBrickBytes
	return nextPow2(need)
}

// Table owns the GPU-resident hashtable buffer plus a CPU-readback
// buffer used to drain it once per frame, using the same buffer
// creation and MapAsync/GetMappedRange readback pattern as the other
// GPU-resident buffers in this codebase.
type Table struct {
	device *wgpu.Device

	Buffer             *wgpu.Buffer
	readback           *wgpu.Buffer
	Size               uint32
	MaxProbingAttempts uint32
}

// Params bundles Table construction inputs.
type Params struct {
	Device             *wgpu.Device
	MinMB              uint64
	FullBrickBytes     uint64
	MaxProbingAttempts uint32
}

// New creates the hashtable's GPU buffer (zero-initialized, every slot
// "free") and its CPU-readback counterpart.
func New(p Params) (*Table, error) {
	size := Size(p.MinMB, p.FullBrickBytes)
	byteSize := uint64(size) * 4

	buf, err := p.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "GPUHashtableBuffer",
		Size:  byteSize,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("hashtable: failed to create hashtable buffer: %w", err)
	}
	readback, err := p.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "GPUHashtableReadback",
		Size:  byteSize,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("hashtable: failed to create hashtable readback buffer: %w", err)
	}

	t := &Table{
		device:             p.Device,
		Buffer:             buf,
		readback:           readback,
		Size:               size,
		MaxProbingAttempts: p.MaxProbingAttempts,
	}
	t.Clear()
	return t, nil
}

// Clear zeroes the GPU-side table, marking every slot free.
func (t *Table) Clear() {
	t.device.GetQueue().WriteBuffer(t.Buffer, 0, make([]byte, uint64(t.Size)*4))
}

// Drain copies the table to the CPU, extracts the unique non-zero brick
// ids the shader wrote this frame, clears the table for the next frame,
// and returns the ids for VolumeAtlas.PageIn.
func (t *Table) Drain() ([]brickfile.BrickID, error) {
	byteSize := uint64(t.Size) * 4

	encoder, err := t.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("hashtable: failed to create command encoder: %w", err)
	}
	encoder.CopyBufferToBuffer(t.Buffer, 0, t.readback, 0, byteSize)
	cmdBuf, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("hashtable: failed to finish command buffer: %w", err)
	}
	t.device.GetQueue().Submit(cmdBuf)

	var mapErr error
	mapped := false
	t.readback.MapAsync(wgpu.MapModeRead, 0, byteSize, func(status wgpu.BufferMapAsyncStatus) {
		if status == wgpu.BufferMapAsyncStatusSuccess {
			mapped = true
		} else {
			mapErr = fmt.Errorf("hashtable: map readback buffer failed: status %d", status)
		}
	})
	for !mapped && mapErr == nil {
		t.device.Poll(true, nil)
	}
	if mapErr != nil {
		return nil, mapErr
	}

	data := t.readback.GetMappedRange(0, uint(byteSize))
	words := make([]uint32, t.Size)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4 : i*4+4])
	}
	t.readback.Unmap()

	t.Clear()
	return extractUnique(words), nil
}

// extractUnique returns the distinct non-zero slot values as brick ids
// in ascending order. Factored out of Drain so the extraction logic is
// testable without a real GPU device.
func extractUnique(words []uint32) []brickfile.BrickID {
	seen := make(map[uint32]struct{}, len(words))
	ids := make([]brickfile.BrickID, 0, len(words))
	for _, w := range words {
		if w == 0 {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		ids = append(ids, brickfile.BrickID(w))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
