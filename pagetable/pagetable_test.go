package pagetable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusEncoding(t *testing.T) {
	require.True(t, BIMissing.IsMissing())
	require.True(t, BIEmpty.IsEmpty())
	require.True(t, BIChildEmpty.IsChildEmpty())

	s := Resident(7)
	page, ok := s.Page()
	require.True(t, ok)
	require.EqualValues(t, 7, page)
	require.True(t, s.IsResident())
}

func TestFlagEmptyAndReactivate(t *testing.T) {
	pm := &PageMeta{ArrivalIndex: 42}
	pm.FlagEmpty()
	require.EqualValues(t, 0, pm.ArrivalIndex)
	require.EqualValues(t, 42, pm.PreviousIndex)

	pm.Reactivate()
	require.EqualValues(t, 42, pm.ArrivalIndex)
}

func TestPinnedArrivalExceedsAnyRealFrame(t *testing.T) {
	require.Greater(t, PinnedArrival, uint64(1<<40))
}

func TestNewTable(t *testing.T) {
	tbl := New(10)
	require.Len(t, tbl.Status, 10)
	for _, s := range tbl.Status {
		require.True(t, s.IsMissing())
	}
}
