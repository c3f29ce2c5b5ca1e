// Package pagetable implements the per-brick status array and per-atlas
// slot page metadata shared by VolumeAtlas and EmptinessUpdater.
package pagetable

import "math"

// BIFlagCount is the number of reserved sentinel values below which
// Status encodes a non-resident state; any value >= BIFlagCount encodes
// "resident, atlas page index = status - BIFlagCount". This keeps the
// wire representation a flat uint32 instead of a tagged union.
const BIFlagCount uint32 = 3

// Status is the tagged per-brick state the shader reads each frame. The
// wire representation stays a raw uint32 (so []Status is a drop-in
// status buffer); this newtype only adds typed constructors/accessors on
// the CPU side.
type Status uint32

const (
	// BIMissing: not resident, not known empty.
	BIMissing Status = 0
	// BIEmpty: transparent under the current TF/iso; do not fetch.
	BIEmpty Status = 1
	// BIChildEmpty: this brick and all finer-level descendants are
	// empty; the shader may skip the subtree.
	BIChildEmpty Status = 2
)

// Resident builds the Status for a brick occupying atlas page `page`.
func Resident(page uint32) Status { return Status(BIFlagCount + page) }

// Page returns (atlas page index, true) if s encodes a resident brick.
func (s Status) Page() (uint32, bool) {
	if uint32(s) < BIFlagCount {
		return 0, false
	}
	return uint32(s) - BIFlagCount, true
}

func (s Status) IsMissing() bool    { return s == BIMissing }
func (s Status) IsEmpty() bool      { return s == BIEmpty }
func (s Status) IsChildEmpty() bool { return s == BIChildEmpty }
func (s Status) IsResident() bool   { _, ok := s.Page(); return ok }

// PinnedArrival is the arrival_index assigned to the permanently-pinned
// coarsest brick: math.MaxUint64-1, excluded from the LRU sort by being
// larger than anything a real frame counter can reach.
const PinnedArrival uint64 = math.MaxUint64 - 1

// PageMeta is the per-atlas-slot bookkeeping record.
type PageMeta struct {
	PageID        uint32 // stable slot index
	BrickID       int64  // current tenant, or -1
	ArrivalIndex  uint64 // monotonic frame counter; 0 = evicted/empty
	PreviousIndex uint64 // arrival_index saved before eviction, for reactivation
}

// FlagEmpty records this page's brick having become empty: saves
// ArrivalIndex into PreviousIndex and zeroes ArrivalIndex, without
// touching BrickID (the atlas texture data is left intact in case the
// brick becomes visible again).
func (p *PageMeta) FlagEmpty() {
	p.PreviousIndex = p.ArrivalIndex
	p.ArrivalIndex = 0
}

// Reactivate restores ArrivalIndex from PreviousIndex, the counterpart
// of FlagEmpty, used both by EmptinessUpdater (a brick became visible
// again) and by VolumeAtlas.PageIn (salvaging a still-valid page for a
// re-requested brick).
func (p *PageMeta) Reactivate() {
	p.ArrivalIndex = p.PreviousIndex
}

// Table holds the full per-brick Status array plus the brick->page
// reverse index, under the single storage lock both VolumeAtlas and
// EmptinessUpdater share. Table itself does not lock; callers
// (atlas.VolumeAtlas, emptiness.Updater) hold a shared mutex around
// all access.
type Table struct {
	Status      []Status
	BrickToPage map[uint32]uint32
}

// New allocates a Table with all bricks initially BIMissing.
func New(brickCount uint32) *Table {
	return &Table{
		Status:      make([]Status, brickCount),
		BrickToPage: make(map[uint32]uint32),
	}
}
