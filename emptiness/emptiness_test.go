package emptiness

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gekko3d/borgvr/brickfile"
	"github.com/gekko3d/borgvr/pagetable"
)

// A tiny two-level hierarchy: brick 0 is the sole child of brick 1.
func twoLevelFixture() (metas []brickfile.BrickMeta, childrenOf func(brickfile.BrickID) []brickfile.BrickID) {
	metas = []brickfile.BrickMeta{
		{Min: 100, Max: 150}, // brick 0: finest
		{Min: 100, Max: 150}, // brick 1: coarsest, parent of 0
	}
	childrenOf = func(id brickfile.BrickID) []brickfile.BrickID {
		if id == 1 {
			return []brickfile.BrickID{0}
		}
		return nil
	}
	return
}

func TestEmptyTestTransferFunctionAllZeroIsAllEmpty(t *testing.T) {
	var tf TransferFunction
	m := brickfile.BrickMeta{Min: 0, Max: 255}
	require.True(t, emptyTest(ModeTransferFunction, tf, 0, 255, m))
}

func TestEmptyTestTransferFunctionBias(t *testing.T) {
	var tf TransferFunction
	tf.Alpha[100] = 255
	tf.Alpha[200] = 255
	// bias = maxValue/(255) = 255/255 = 1
	inside := brickfile.BrickMeta{Min: 150, Max: 180}
	outsideHigh := brickfile.BrickMeta{Min: 150, Max: 250}
	outsideLow := brickfile.BrickMeta{Min: 10, Max: 180}
	require.False(t, emptyTest(ModeTransferFunction, tf, 0, 255, inside))
	require.True(t, emptyTest(ModeTransferFunction, tf, 0, 255, outsideHigh))
	require.True(t, emptyTest(ModeTransferFunction, tf, 0, 255, outsideLow))
}

func TestEmptyTestIsovalue(t *testing.T) {
	m := brickfile.BrickMeta{Min: 0, Max: 100}
	require.True(t, emptyTest(ModeIsovalue, TransferFunction{}, 150, 255, m))
	require.False(t, emptyTest(ModeIsovalue, TransferFunction{}, 50, 255, m))
}

func TestUpdaterMarksEmptyAndPropagatesChildEmpty(t *testing.T) {
	metas, childrenOf := twoLevelFixture()
	classifier := NewClassifier(255)

	var storageLock sync.Mutex
	table := pagetable.New(uint32(len(metas)))
	pageMeta := make([]pagetable.PageMeta, 1)
	table.Status[0] = pagetable.Resident(0)
	table.BrickToPage[0] = 0
	pageMeta[0] = pagetable.PageMeta{PageID: 0, BrickID: 0, ArrivalIndex: 5}

	u := New(classifier, metas, childrenOf, &storageLock, table, pageMeta, nil)
	u.Start()
	defer u.Stop()

	// All-zero TF: everything is empty. Brick 0 (finest, resident)
	// should flag its page empty and become BI_EMPTY; its parent, brick
	// 1, has an all-empty subtree and becomes BI_CHILD_EMPTY.
	u.Notify()

	require.Eventually(t, func() bool {
		storageLock.Lock()
		defer storageLock.Unlock()
		return table.Status[0] == pagetable.BIEmpty || table.Status[0] == pagetable.BIChildEmpty
	}, time.Second, time.Millisecond)

	storageLock.Lock()
	require.Equal(t, pagetable.BIEmpty, table.Status[0])
	require.Equal(t, pagetable.BIChildEmpty, table.Status[1])
	require.Zero(t, pageMeta[0].ArrivalIndex)
	require.EqualValues(t, 5, pageMeta[0].PreviousIndex)
	storageLock.Unlock()
}

func TestUpdaterReactivatesOnBecomingVisible(t *testing.T) {
	metas, childrenOf := twoLevelFixture()
	classifier := NewClassifier(255)

	var storageLock sync.Mutex
	table := pagetable.New(uint32(len(metas)))
	pageMeta := make([]pagetable.PageMeta, 1)
	table.Status[0] = pagetable.BIEmpty
	table.BrickToPage[0] = 0
	pageMeta[0] = pagetable.PageMeta{PageID: 0, BrickID: 0, ArrivalIndex: 0, PreviousIndex: 7}

	u := New(classifier, metas, childrenOf, &storageLock, table, pageMeta, nil)
	u.lastEmpty = []bool{true, true}
	u.Start()
	defer u.Stop()

	var tf TransferFunction
	tf.Alpha[100] = 255
	tf.Alpha[200] = 255
	u.SetTransferFunction(tf)

	require.Eventually(t, func() bool {
		storageLock.Lock()
		defer storageLock.Unlock()
		return table.Status[0].IsResident()
	}, time.Second, time.Millisecond)

	storageLock.Lock()
	page, ok := table.Status[0].Page()
	require.True(t, ok)
	require.EqualValues(t, 0, page)
	require.EqualValues(t, 7, pageMeta[0].ArrivalIndex)
	storageLock.Unlock()
}
