// Package emptiness implements the background task that classifies
// bricks as empty under the current transfer function or isovalue and
// propagates BI_CHILD_EMPTY up the brick hierarchy.
package emptiness

import (
	"sync"

	"github.com/gekko3d/borgvr/brickfile"
	"github.com/gekko3d/borgvr/logging"
	"github.com/gekko3d/borgvr/pagetable"
)

// TFSize is the number of entries in a transfer function lookup table.
const TFSize = 256

// TransferFunction holds the alpha channel of a 256-entry transfer
// function lookup table, the only part the transfer-function emptiness
// test reads; bounds derives its lowest and highest non-zero-alpha
// indices.
type TransferFunction struct {
	Alpha [TFSize]uint8
}

// bounds returns (minIndex, maxIndex, anyVisible) of the lowest/highest
// non-zero-alpha entries.
func (tf *TransferFunction) bounds() (min, max int, any bool) {
	min, max = TFSize, -1
	for i, a := range tf.Alpha {
		if a != 0 {
			if i < min {
				min = i
			}
			if i > max {
				max = i
			}
			any = true
		}
	}
	return
}

// Mode selects which emptiness test the Updater applies.
type Mode int

const (
	ModeTransferFunction Mode = iota
	ModeIsovalue
)

// Classifier owns the mutable TF/iso state the Updater reads. Callers
// mutate it through SetTransferFunction/SetIsovalue, which also wake
// the Updater.
type Classifier struct {
	mu       sync.Mutex
	mode     Mode
	tf       TransferFunction
	iso      int64
	maxValue int64
}

// NewClassifier builds a Classifier in transfer-function mode with an
// all-zero TF (everything empty) and the given voxel max value (used
// to compute the TF bias).
func NewClassifier(maxValue int64) *Classifier {
	return &Classifier{mode: ModeTransferFunction, maxValue: maxValue}
}

func (c *Classifier) snapshot() (Mode, TransferFunction, int64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode, c.tf, c.iso, c.maxValue
}

// IsEmpty applies the current TF/iso classification to a single brick,
// for use as atlas.Params.EmptyTest so PageIn skips fetching bricks the
// Updater would immediately flag empty anyway.
func (c *Classifier) IsEmpty(m brickfile.BrickMeta) bool {
	mode, tf, iso, maxValue := c.snapshot()
	return emptyTest(mode, tf, iso, maxValue, m)
}

// emptyTest reports whether brick meta m is empty under the snapshot
// (mode, tf, iso, maxValue).
func emptyTest(mode Mode, tf TransferFunction, iso, maxValue int64, m brickfile.BrickMeta) bool {
	switch mode {
	case ModeIsovalue:
		return iso > m.Max
	default:
		minIdx, maxIdx, any := tf.bounds()
		if !any {
			return true
		}
		bias := float64(maxValue) / float64(TFSize-1)
		upper := int64(ceilF(float64(maxIdx) * bias))
		lower := int64(floorF(float64(minIdx) * bias))
		return m.Max > upper || m.Min < lower
	}
}

func ceilF(v float64) float64 {
	i := float64(int64(v))
	if v > i {
		return i + 1
	}
	return i
}

func floorF(v float64) float64 {
	i := float64(int64(v))
	if v < i {
		return i - 1
	}
	return i
}

// Updater is the background task that wakes on TF/iso changes or new
// atlas metadata snapshots, recomputes emptiness for every brick, and
// updates Table.Status/PageMeta under storageLock.
type Updater struct {
	classifier *Classifier
	metas      []brickfile.BrickMeta
	childrenOf func(id brickfile.BrickID) []brickfile.BrickID

	storageLock *sync.Mutex
	table       *pagetable.Table
	pageMeta    []pagetable.PageMeta

	mu            sync.Mutex
	cond          *sync.Cond
	dirty         bool
	shouldRestart bool
	stop          bool
	done          chan struct{}

	lastEmpty []bool
	changed   chan struct{}

	log logging.Logger
}

// New builds an Updater. childrenOf must return the (up to 8) finer
// children of a brick id, or nil for finest-level bricks (grounded on
// brickfile.Reader.ChildrenOf).
func New(
	classifier *Classifier,
	metas []brickfile.BrickMeta,
	childrenOf func(id brickfile.BrickID) []brickfile.BrickID,
	storageLock *sync.Mutex,
	table *pagetable.Table,
	pageMeta []pagetable.PageMeta,
	log logging.Logger,
) *Updater {
	u := &Updater{
		classifier:  classifier,
		metas:       metas,
		childrenOf:  childrenOf,
		storageLock: storageLock,
		table:       table,
		pageMeta:    pageMeta,
		done:        make(chan struct{}),
		lastEmpty:   make([]bool, len(metas)),
		changed:     make(chan struct{}, 1),
		log:         logging.OrNop(log),
	}
	u.cond = sync.NewCond(&u.mu)
	return u
}

// Notify wakes the Updater to recompute, used after SetTransferFunction,
// SetIsovalue, or a new VolumeAtlas metadata snapshot.
func (u *Updater) Notify() {
	u.mu.Lock()
	u.dirty = true
	u.shouldRestart = true
	u.cond.Signal()
	u.mu.Unlock()
}

// SetTransferFunction installs a new TF in transfer-function mode and
// wakes the Updater.
func (u *Updater) SetTransferFunction(tf TransferFunction) {
	u.classifier.mu.Lock()
	u.classifier.mode = ModeTransferFunction
	u.classifier.tf = tf
	u.classifier.mu.Unlock()
	u.Notify()
}

// SetIsovalue switches to isovalue mode with the given threshold and
// wakes the Updater.
func (u *Updater) SetIsovalue(iso int64) {
	u.classifier.mu.Lock()
	u.classifier.mode = ModeIsovalue
	u.classifier.iso = iso
	u.classifier.mu.Unlock()
	u.Notify()
}

// Changed returns a channel that receives a value whenever the status
// buffer was modified, so the frame loop knows to re-upload it.
func (u *Updater) Changed() <-chan struct{} { return u.changed }

// Start launches the background goroutine. Stop must be called to join
// it.
func (u *Updater) Start() {
	go u.run()
}

func (u *Updater) run() {
	defer close(u.done)
	for {
		u.mu.Lock()
		for !u.dirty && !u.stop {
			u.cond.Wait()
		}
		if u.stop {
			u.mu.Unlock()
			return
		}
		u.dirty = false
		u.shouldRestart = false
		u.mu.Unlock()

		u.runOnce()
	}
}

// runOnce performs one classify-and-propagate pass over every brick.
// If should_restart fires mid-pass (a newer TF/iso update arrived), it
// abandons this pass and the outer loop immediately starts another.
func (u *Updater) runOnce() {
	mode, tf, iso, maxValue := u.classifier.snapshot()

	current := make([]bool, len(u.metas))
	for i, m := range u.metas {
		if u.restarting() {
			return
		}
		current[i] = emptyTest(mode, tf, iso, maxValue, m)
	}

	u.mu.Lock()
	same := len(current) == len(u.lastEmpty)
	if same {
		for i := range current {
			if current[i] != u.lastEmpty[i] {
				same = false
				break
			}
		}
	}
	u.mu.Unlock()
	if same {
		return
	}

	u.storageLock.Lock()
	defer u.storageLock.Unlock()

	for id := range current {
		if u.restarting() {
			break
		}
		newlyEmpty := current[id] && !u.lastEmpty[id]
		newlyVisible := !current[id] && u.lastEmpty[id]

		if newlyEmpty {
			if page, ok := u.table.BrickToPage[uint32(id)]; ok {
				u.pageMeta[page].FlagEmpty()
			}
		}

		switch {
		case current[id]:
			if u.allChildrenEmpty(brickfile.BrickID(id), current) {
				u.table.Status[id] = pagetable.BIChildEmpty
			} else {
				u.table.Status[id] = pagetable.BIEmpty
			}
		case newlyVisible:
			if page, ok := u.table.BrickToPage[uint32(id)]; ok && int(u.pageMeta[page].BrickID) == id {
				u.pageMeta[page].Reactivate()
				u.table.Status[id] = pagetable.Resident(page)
			} else {
				u.table.Status[id] = pagetable.BIMissing
			}
		}

		// Record each brick as applied only once its status is written,
		// so a pass cut short by a restart leaves the rest still marked
		// as changed for the next pass.
		u.mu.Lock()
		u.lastEmpty[id] = current[id]
		u.mu.Unlock()
	}

	select {
	case u.changed <- struct{}{}:
	default:
	}
}

// allChildrenEmpty reports whether the whole subtree below id is empty:
// every child is either already flagged BI_CHILD_EMPTY, or is itself a
// finest-level brick (no children) that is empty in current. Finest-level
// bricks have no children, so they are marked BI_EMPTY, never
// BI_CHILD_EMPTY.
func (u *Updater) allChildrenEmpty(id brickfile.BrickID, current []bool) bool {
	children := u.childrenOf(id)
	if len(children) == 0 {
		return false
	}
	for _, c := range children {
		if u.table.Status[c] == pagetable.BIChildEmpty {
			continue
		}
		if current[c] && len(u.childrenOf(c)) == 0 {
			continue
		}
		return false
	}
	return true
}

func (u *Updater) restarting() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.shouldRestart
}

// Stop signals the background goroutine to exit and waits for it.
func (u *Updater) Stop() {
	u.mu.Lock()
	u.stop = true
	u.cond.Signal()
	u.mu.Unlock()
	<-u.done
}
