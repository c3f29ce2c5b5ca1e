package atlas

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gekko3d/borgvr/brickfile"
	"github.com/gekko3d/borgvr/datasource"
	"github.com/gekko3d/borgvr/pagetable"
)

// fakeSource is a datasource.DataSource over an in-memory brick array;
// bricks listed in missing are reported NotYetAvailable.
type fakeSource struct {
	header  brickfile.Header
	bricks  [][]byte
	missing map[uint32]bool
}

func newFakeSource(n int) *fakeSource {
	bricks := make([][]byte, n)
	for i := range bricks {
		bricks[i] = []byte{byte(i)}
	}
	return &fakeSource{
		header:  brickfile.Header{ComponentsPerVoxel: 1, BytesPerComponent: 1},
		bricks:  bricks,
		missing: map[uint32]bool{},
	}
}

func (f *fakeSource) Metadata() *brickfile.Header      { return &f.header }
func (f *fakeSource) BrickCount() uint32               { return uint32(len(f.bricks)) }
func (f *fakeSource) AllocateBrickBuffer() []byte      { return make([]byte, 1) }
func (f *fakeSource) NewRequest()                      {}
func (f *fakeSource) FirstBrick(out []byte) error {
	return f.Brick(brickfile.BrickID(len(f.bricks)-1), out)
}
func (f *fakeSource) Brick(id brickfile.BrickID, out []byte) error {
	if f.missing[uint32(id)] {
		return datasource.NotYetAvailable(id)
	}
	copy(out, f.bricks[id])
	return nil
}

func TestAtlasDimsCubicGrowth(t *testing.T) {
	nx, ny, nz, maxBricks := AtlasDims(64*1<<20, 32, 1, 1_000_000)
	require.EqualValues(t, 2048, maxBricks) // 64MiB / 32768 bytes per brick
	require.GreaterOrEqual(t, nx*ny*nz, maxBricks)
	require.LessOrEqual(t, nx-nz, uint32(1))
}

func TestAtlasDimsClampedByBrickCount(t *testing.T) {
	_, _, _, maxBricks := AtlasDims(1<<30, 8, 1, 10)
	require.EqualValues(t, 10, maxBricks)
}

func TestNewPinsCoarsestAtPageZero(t *testing.T) {
	metas := make([]brickfile.BrickMeta, 5)
	src := newFakeSource(5)
	var lock sync.Mutex
	table := pagetable.New(5)

	a, err := newForTest(metas, 3, src, nil, &lock, table, nil)
	require.NoError(t, err)

	page, ok := table.Status[4].Page()
	require.True(t, ok)
	require.EqualValues(t, 0, page)
	require.EqualValues(t, pagetable.PinnedArrival, a.pageMeta[0].ArrivalIndex)
}

func TestPageInFetchesAndEvictsLRU(t *testing.T) {
	metas := make([]brickfile.BrickMeta, 6)
	src := newFakeSource(6)
	var lock sync.Mutex
	table := pagetable.New(6)

	// capacity 3: page 0 pinned to coarsest brick (id 5), leaving 2
	// free pages for requests.
	a, err := newForTest(metas, 3, src, nil, &lock, table, nil)
	require.NoError(t, err)

	require.NoError(t, a.PageIn([]brickfile.BrickID{0}))
	page, ok := table.Status[0].Page()
	require.True(t, ok)
	require.NotZero(t, page)

	require.NoError(t, a.PageIn([]brickfile.BrickID{1}))
	_, ok = table.Status[1].Page()
	require.True(t, ok)

	// Both non-pinned pages are now occupied by 0 and 1. Requesting a
	// third distinct brick evicts the LRU one (brick 0, paged in first).
	require.NoError(t, a.PageIn([]brickfile.BrickID{2}))
	require.True(t, table.Status[0].IsMissing())
	_, ok = table.Status[2].Page()
	require.True(t, ok)
	_, ok = table.Status[1].Page()
	require.True(t, ok, "brick 1 was paged in more recently than brick 0 and should survive")
}

func TestPageInSkipsInvalidAndResidentIDs(t *testing.T) {
	metas := make([]brickfile.BrickMeta, 3)
	src := newFakeSource(3)
	var lock sync.Mutex
	table := pagetable.New(3)

	a, err := newForTest(metas, 2, src, nil, &lock, table, nil)
	require.NoError(t, err)

	require.NoError(t, a.PageIn([]brickfile.BrickID{99, 2}))
	require.True(t, table.Status[2].IsResident())
}

func TestPageInHonorsEmptyTest(t *testing.T) {
	metas := make([]brickfile.BrickMeta, 3)
	src := newFakeSource(3)
	var lock sync.Mutex
	table := pagetable.New(3)

	alwaysEmpty := func(brickfile.BrickMeta) bool { return true }
	a, err := newForTest(metas, 2, src, alwaysEmpty, &lock, table, nil)
	require.NoError(t, err)

	require.NoError(t, a.PageIn([]brickfile.BrickID{0}))
	require.True(t, table.Status[0].IsEmpty())
}

func TestPageInSkipsNotYetAvailableWithoutConsumingSlot(t *testing.T) {
	metas := make([]brickfile.BrickMeta, 4)
	src := newFakeSource(4)
	src.missing[1] = true
	var lock sync.Mutex
	table := pagetable.New(4)

	a, err := newForTest(metas, 2, src, nil, &lock, table, nil)
	require.NoError(t, err)

	require.NoError(t, a.PageIn([]brickfile.BrickID{1, 0}))
	require.True(t, table.Status[1].IsMissing())
	require.True(t, table.Status[0].IsResident())
}

func TestPageInReportsWorkingSetTooLarge(t *testing.T) {
	metas := make([]brickfile.BrickMeta, 6)
	src := newFakeSource(6)
	var lock sync.Mutex
	table := pagetable.New(6)

	// capacity 2: page 0 pinned, leaving exactly 1 free slot.
	a, err := newForTest(metas, 2, src, nil, &lock, table, nil)
	require.NoError(t, err)

	err = a.PageIn([]brickfile.BrickID{0, 1, 2})
	require.ErrorIs(t, err, ErrWorkingSetTooLarge)
}

func TestPurgeResetsNonPinnedPages(t *testing.T) {
	metas := make([]brickfile.BrickMeta, 4)
	src := newFakeSource(4)
	var lock sync.Mutex
	table := pagetable.New(4)

	a, err := newForTest(metas, 3, src, nil, &lock, table, nil)
	require.NoError(t, err)
	require.NoError(t, a.PageIn([]brickfile.BrickID{0, 1}))

	a.Purge()

	require.True(t, table.Status[0].IsMissing())
	require.True(t, table.Status[1].IsMissing())
	// Pinned coarsest brick survives the purge.
	_, ok := table.Status[3].Page()
	require.True(t, ok)
}

func TestPageInReactivatesSalvageablePage(t *testing.T) {
	metas := make([]brickfile.BrickMeta, 4)
	src := newFakeSource(4)
	var lock sync.Mutex
	table := pagetable.New(4)

	a, err := newForTest(metas, 3, src, nil, &lock, table, nil)
	require.NoError(t, err)
	require.NoError(t, a.PageIn([]brickfile.BrickID{0}))

	page, _ := table.Status[0].Page()
	table.Status[0] = pagetable.BIMissing // simulate EmptinessUpdater having flagged it missing-visible
	a.pageMeta[page].BrickID = 0          // texture data for brick 0 is still resident at this page

	require.NoError(t, a.PageIn([]brickfile.BrickID{0}))
	gotPage, ok := table.Status[0].Page()
	require.True(t, ok)
	require.Equal(t, page, gotPage)
}
