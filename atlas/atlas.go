// Package atlas implements VolumeAtlas: the GPU-resident brick cache
// that pages bricks in and out of a 3-D texture under LRU pressure.
package atlas

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/borgvr/brickfile"
	"github.com/gekko3d/borgvr/datasource"
	"github.com/gekko3d/borgvr/logging"
	"github.com/gekko3d/borgvr/pagetable"
)

// ErrWorkingSetTooLarge is returned by PageIn when the requested miss
// set cannot be satisfied without evicting the pinned coarsest brick.
var ErrWorkingSetTooLarge = errors.New("atlas: working set too large for atlas capacity")

// AtlasDims computes the atlas page-grid dimensions for a memory
// budget: as cubic as possible, grown one axis at a time until the
// grid holds at least maxBricks pages.
func AtlasDims(budgetBytes uint64, brickSize uint32, voxelBytes uint64, brickCount uint32) (nx, ny, nz, maxBricks uint32) {
	perBrick := uint64(brickSize) * uint64(brickSize) * uint64(brickSize) * voxelBytes
	if perBrick == 0 {
		return 1, 1, 1, 1
	}
	maxB := budgetBytes / perBrick
	if maxB > uint64(brickCount) {
		maxB = uint64(brickCount)
	}
	if maxB < 1 {
		maxB = 1
	}
	maxBricks = uint32(maxB)

	n := uint32(math.Cbrt(float64(maxBricks)))
	if n < 1 {
		n = 1
	}
	nx, ny, nz = n, n, n
	for nx*ny*nz < maxBricks {
		switch {
		case nx <= ny && nx <= nz:
			nx++
		case ny <= nx && ny <= nz:
			ny++
		default:
			nz++
		}
	}
	return
}

// VolumeAtlas owns the GPU-resident brick cache: a 3-D texture, its
// status buffer, and the per-page bookkeeping. GPU resources are
// created and named the same way GpuBufferManager does it; the paging
// algorithm on top is specific to brick streaming.
type VolumeAtlas struct {
	device *wgpu.Device

	header brickfile.Header
	metas  []brickfile.BrickMeta

	nx, ny, nz uint32
	brickSize  uint32

	Texture      *wgpu.Texture
	TextureView  *wgpu.TextureView
	StatusBuffer *wgpu.Buffer

	dataSource datasource.DataSource
	emptyTest  func(brickfile.BrickMeta) bool
	onSnapshot func()

	storageLock *sync.Mutex
	table       *pagetable.Table
	pageMeta    []pagetable.PageMeta
	resident    uint32
	pageFrame   uint64

	// uploadSubregion writes a decompressed brick payload into the atlas
	// texture at the voxel origin of the given page. Indirected through
	// a field (rather than calling a.device directly) so the paging
	// algorithm is testable without a real GPU device.
	uploadSubregion func(page uint32, payload []byte)

	staging []byte
	log     logging.Logger
}

// Params bundles VolumeAtlas construction inputs.
type Params struct {
	Device      *wgpu.Device
	Header      brickfile.Header
	Metas       []brickfile.BrickMeta
	BudgetBytes uint64
	DataSource  datasource.DataSource
	// EmptyTest classifies a brick as empty under the current TF/iso
	// (grounded on emptiness.Classifier.IsEmpty).
	EmptyTest func(brickfile.BrickMeta) bool
	// OnSnapshot is called after each PageIn to notify the
	// EmptinessUpdater that status/page_meta/brick_to_page changed.
	OnSnapshot  func()
	StorageLock *sync.Mutex
	Table       *pagetable.Table
	Log         logging.Logger
}

// New builds and initializes a VolumeAtlas: creates the GPU texture and
// status buffer, allocates PageMeta, and synchronously fetches and pins
// the coarsest brick at page 0.
func New(p Params) (*VolumeAtlas, error) {
	voxelBytes := uint64(p.Header.ComponentsPerVoxel) * uint64(p.Header.BytesPerComponent)
	nx, ny, nz, maxBricks := AtlasDims(p.BudgetBytes, p.Header.BrickSize, voxelBytes, uint32(len(p.Metas)))

	format, err := textureFormat(p.Header.ComponentsPerVoxel, p.Header.BytesPerComponent)
	if err != nil {
		return nil, fmt.Errorf("atlas: %w", err)
	}

	a := &VolumeAtlas{
		device:      p.Device,
		header:      p.Header,
		metas:       p.Metas,
		nx:          nx,
		ny:          ny,
		nz:          nz,
		brickSize:   p.Header.BrickSize,
		dataSource:  p.DataSource,
		emptyTest:   p.EmptyTest,
		onSnapshot:  p.OnSnapshot,
		storageLock: p.StorageLock,
		table:       p.Table,
		pageMeta:    make([]pagetable.PageMeta, maxBricks),
		staging:     p.DataSource.AllocateBrickBuffer(),
		log:         logging.OrNop(p.Log),
	}
	for i := range a.pageMeta {
		a.pageMeta[i] = pagetable.PageMeta{PageID: uint32(i), BrickID: -1}
	}

	a.Texture, err = a.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "VolumeAtlasTexture",
		Size: wgpu.Extent3D{
			Width:              nx * a.brickSize,
			Height:             ny * a.brickSize,
			DepthOrArrayLayers: nz * a.brickSize,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension3D,
		Format:        format,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("atlas: failed to create atlas texture: %w", err)
	}
	a.TextureView, err = a.Texture.CreateView(nil)
	if err != nil {
		return nil, fmt.Errorf("atlas: failed to create atlas texture view: %w", err)
	}

	statusSize := uint64(len(a.metas)) * 4
	if statusSize < 4 {
		statusSize = 4
	}
	a.StatusBuffer, err = a.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "VolumeAtlasStatusBuffer",
		Size:  statusSize,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("atlas: failed to create status buffer: %w", err)
	}
	a.uploadSubregion = a.writeSubregionToGPU

	if err := a.initCoarsestBrick(); err != nil {
		return nil, err
	}
	return a, nil
}

// newForTest builds a VolumeAtlas with no GPU resources, recording
// uploads into uploads instead of issuing WriteTexture calls. Exercises
// the paging algorithm independent of a real wgpu.Device.
func newForTest(
	metas []brickfile.BrickMeta,
	capacity uint32,
	ds datasource.DataSource,
	emptyTest func(brickfile.BrickMeta) bool,
	storageLock *sync.Mutex,
	table *pagetable.Table,
	uploads *[]uint32,
) (*VolumeAtlas, error) {
	a := &VolumeAtlas{
		metas:       metas,
		nx:          capacity,
		ny:          1,
		nz:          1,
		brickSize:   1,
		dataSource:  ds,
		emptyTest:   emptyTest,
		storageLock: storageLock,
		table:       table,
		pageMeta:    make([]pagetable.PageMeta, capacity),
		staging:     ds.AllocateBrickBuffer(),
		log:         logging.Nop(),
	}
	for i := range a.pageMeta {
		a.pageMeta[i] = pagetable.PageMeta{PageID: uint32(i), BrickID: -1}
	}
	a.uploadSubregion = func(page uint32, payload []byte) {
		if uploads != nil {
			*uploads = append(*uploads, page)
		}
	}
	if err := a.initCoarsestBrick(); err != nil {
		return nil, err
	}
	return a, nil
}

// initCoarsestBrick fetches the single coarsest brick synchronously and
// pins it at page 0.
func (a *VolumeAtlas) initCoarsestBrick() error {
	coarsest := brickfile.BrickID(len(a.metas) - 1)
	if err := a.dataSource.FirstBrick(a.staging); err != nil {
		return fmt.Errorf("atlas: fetch coarsest brick: %w", err)
	}

	a.storageLock.Lock()
	defer a.storageLock.Unlock()

	a.uploadSubregion(0, a.staging)
	a.pageMeta[0].BrickID = int64(coarsest)
	a.pageMeta[0].ArrivalIndex = pagetable.PinnedArrival
	a.table.BrickToPage[uint32(coarsest)] = 0
	a.table.Status[coarsest] = pagetable.Resident(0)
	a.resident = 1
	return nil
}

// PageIn runs one frame of the paging algorithm against the GPU-reported
// miss list.
func (a *VolumeAtlas) PageIn(ids []brickfile.BrickID) error {
	a.storageLock.Lock()
	defer a.storageLock.Unlock()

	capacity := len(a.pageMeta)
	sorted := make([]int, capacity)
	for i := range sorted {
		sorted[i] = i
	}
	sort.Slice(sorted, func(i, j int) bool {
		pi, pj := a.pageMeta[sorted[i]], a.pageMeta[sorted[j]]
		if pi.ArrivalIndex != pj.ArrivalIndex {
			return pi.ArrivalIndex < pj.ArrivalIndex
		}
		return pi.PreviousIndex < pj.PreviousIndex
	})

	insertionIndex := 0
	a.dataSource.NewRequest()
	overflow := false

	// pageFrame starts at 0 so it doubles as "never allocated" for an
	// untouched PageMeta; advance it before use so every real allocation
	// gets a nonzero, strictly increasing arrival stamp.
	a.pageFrame++
	frame := a.pageFrame

	for _, id := range ids {
		if uint32(id) >= uint32(len(a.metas)) {
			continue
		}
		if !a.table.Status[id].IsMissing() {
			continue
		}
		if a.emptyTest != nil && a.emptyTest(a.metas[id]) {
			a.table.Status[id] = pagetable.BIEmpty
			continue
		}
		if page, ok := a.table.BrickToPage[uint32(id)]; ok {
			pm := &a.pageMeta[page]
			if pm.BrickID == int64(id) {
				pm.Reactivate()
				a.table.Status[id] = pagetable.Resident(page)
				continue
			}
		}

		if err := a.dataSource.Brick(id, a.staging); err != nil {
			// NotYetAvailable or any other fetch error: skip without
			// consuming an eviction slot.
			continue
		}

		if insertionIndex >= capacity-1 {
			overflow = true
			break
		}
		victimIdx := sorted[insertionIndex]
		insertionIndex++
		victim := &a.pageMeta[victimIdx]

		if victim.BrickID >= 0 {
			a.table.Status[uint32(victim.BrickID)] = pagetable.BIMissing
			delete(a.table.BrickToPage, uint32(victim.BrickID))
		} else {
			a.resident++
		}

		a.uploadSubregion(victim.PageID, a.staging)
		victim.BrickID = int64(id)
		victim.ArrivalIndex = frame
		a.table.BrickToPage[uint32(id)] = victim.PageID
		a.table.Status[id] = pagetable.Resident(victim.PageID)
	}

	if a.onSnapshot != nil {
		a.onSnapshot()
	}

	if overflow {
		return ErrWorkingSetTooLarge
	}
	return nil
}

// Purge marks every resident page (except the pinned page 0) BI_MISSING
// and resets its PageMeta, for reload after a destructive TF/dataset
// switch.
func (a *VolumeAtlas) Purge() {
	a.storageLock.Lock()
	defer a.storageLock.Unlock()

	for i := 1; i < len(a.pageMeta); i++ {
		pm := &a.pageMeta[i]
		if pm.BrickID >= 0 {
			a.table.Status[uint32(pm.BrickID)] = pagetable.BIMissing
			delete(a.table.BrickToPage, uint32(pm.BrickID))
		}
		pm.BrickID = -1
		pm.ArrivalIndex = 0
		pm.PreviousIndex = 0
	}
	a.resident = 1
}

// writeSubregionToGPU uploads a decompressed brick payload into the
// atlas texture at the given page's voxel origin. Caller holds
// storageLock.
func (a *VolumeAtlas) writeSubregionToGPU(page uint32, payload []byte) {
	ax := (page % a.nx) * a.brickSize
	ay := ((page / a.nx) % a.ny) * a.brickSize
	az := (page / (a.nx * a.ny)) * a.brickSize

	bytesPerRow := a.brickSize * uint32(a.header.ComponentsPerVoxel) * uint32(a.header.BytesPerComponent)
	a.device.GetQueue().WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture: a.Texture,
			Origin:  wgpu.Origin3D{X: ax, Y: ay, Z: az},
			Aspect:  wgpu.TextureAspectAll,
		},
		payload,
		&wgpu.TextureDataLayout{
			BytesPerRow:  bytesPerRow,
			RowsPerImage: a.brickSize,
		},
		&wgpu.Extent3D{
			Width:              a.brickSize,
			Height:             a.brickSize,
			DepthOrArrayLayers: a.brickSize,
		},
	)
}

// UploadStatus writes the current status array to StatusBuffer. Called
// once per frame after PageIn/EmptinessUpdater changes, before bind().
func (a *VolumeAtlas) UploadStatus() {
	a.storageLock.Lock()
	buf := make([]byte, len(a.table.Status)*4)
	for i, s := range a.table.Status {
		le := uint32(s)
		buf[i*4+0] = byte(le)
		buf[i*4+1] = byte(le >> 8)
		buf[i*4+2] = byte(le >> 16)
		buf[i*4+3] = byte(le >> 24)
	}
	a.storageLock.Unlock()
	a.device.GetQueue().WriteBuffer(a.StatusBuffer, 0, buf)
}

// textureFormat selects the atlas texture's pixel format: unsigned
// integer formats when bytesPerComponent is 2 or 4, normalized formats
// when it is 1.
func textureFormat(components, bytesPerComponent uint8) (wgpu.TextureFormat, error) {
	if bytesPerComponent == 4 {
		switch components {
		case 1:
			return wgpu.TextureFormatR32Uint, nil
		case 2:
			return wgpu.TextureFormatRG32Uint, nil
		case 4:
			return wgpu.TextureFormatRGBA32Uint, nil
		}
	}
	if bytesPerComponent == 2 {
		switch components {
		case 1:
			return wgpu.TextureFormatR16Uint, nil
		case 2:
			return wgpu.TextureFormatRG16Uint, nil
		case 4:
			return wgpu.TextureFormatRGBA16Uint, nil
		}
	}
	if bytesPerComponent == 1 {
		switch components {
		case 1:
			return wgpu.TextureFormatR8Unorm, nil
		case 2:
			return wgpu.TextureFormatRG8Unorm, nil
		case 4:
			return wgpu.TextureFormatRGBA8Unorm, nil
		}
	}
	return 0, fmt.Errorf("unsupported voxel layout: %d components x %d bytes", components, bytesPerComponent)
}
