package datasource

import (
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"

	"github.com/gekko3d/borgvr/brickfile"
	"github.com/gekko3d/borgvr/logging"
)

// CachingRemoteDataSource wraps a RemoteDataSource with a local mirror
// file and a single background worker that fills it in brick by brick,
// serving already-resident bricks synchronously and returning
// ErrNotYetAvailable for the rest.
type CachingRemoteDataSource struct {
	remote *RemoteDataSource
	header brickfile.Header
	metas  []brickfile.BrickMeta

	path       string
	cacheMap   *CacheMap
	f          *os.File
	mm         mmap.MMap
	complete   bool

	mu       sync.Mutex
	cond     *sync.Cond
	priority []brickfile.BrickID
	stop     bool
	done     chan struct{}

	log logging.Logger
}

// OpenCaching dials addr, selects datasetID, and mirrors it to
// localPath (plus localPath+".incomplete" and localPath+".cachemap"
// while the mirror is still being filled in).
func OpenCaching(addr string, datasetID int, localPath string, log logging.Logger) (*CachingRemoteDataSource, error) {
	log = logging.OrNop(log)
	remote, err := Dial(addr, datasetID)
	if err != nil {
		return nil, err
	}

	s := &CachingRemoteDataSource{
		remote: remote,
		header: *remote.Metadata(),
		metas:  remote.metas,
		path:   localPath,
		done:   make(chan struct{}),
		log:    log,
	}
	s.cond = sync.NewCond(&s.mu)

	if fi, err := os.Stat(localPath); err == nil && fi.Size() > 0 {
		if err := s.openComplete(localPath); err != nil {
			return nil, err
		}
		s.complete = true
		close(s.done)
		return s, nil
	}

	if err := s.openIncomplete(); err != nil {
		return nil, err
	}
	go s.runWorker()
	return s, nil
}

func (s *CachingRemoteDataSource) incompletePath() string { return s.path + ".incomplete" }
func (s *CachingRemoteDataSource) cacheMapPath() string   { return s.path + ".cachemap" }

func (s *CachingRemoteDataSource) openComplete(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("datasource: open mirror %s: %w", path, err)
	}
	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return fmt.Errorf("datasource: mmap mirror %s: %w", path, err)
	}
	s.f, s.mm = f, mm
	s.cacheMap = NewCacheMap(uint32(len(s.metas)))
	for i := range s.metas {
		s.cacheMap.Set(uint32(i))
	}
	return nil
}

func (s *CachingRemoteDataSource) openIncomplete() error {
	size := int64(0)
	if len(s.metas) > 0 {
		last := s.metas[len(s.metas)-1]
		size = int64(last.Offset + last.Size)
	}

	if cm, err := LoadCacheMap(s.cacheMapPath()); err == nil && int(cm.n) == len(s.metas) {
		s.cacheMap = cm
	} else {
		s.cacheMap = NewCacheMap(uint32(len(s.metas)))
	}

	f, err := os.OpenFile(s.incompletePath(), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("datasource: create mirror %s: %w", s.incompletePath(), err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return fmt.Errorf("datasource: truncate mirror: %w", err)
	}
	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return fmt.Errorf("datasource: mmap mirror: %w", err)
	}
	s.f, s.mm = f, mm
	return nil
}

func (s *CachingRemoteDataSource) Metadata() *brickfile.Header { return &s.header }
func (s *CachingRemoteDataSource) BrickCount() uint32          { return uint32(len(s.metas)) }
func (s *CachingRemoteDataSource) AllocateBrickBuffer() []byte {
	return make([]byte, s.header.FullBrickBytes())
}

func (s *CachingRemoteDataSource) FirstBrick(out []byte) error {
	id := brickfile.BrickID(s.BrickCount() - 1)
	for !s.cacheMap.IsSet(uint32(id)) {
		// The coarsest brick must always be available promptly: fetch
		// synchronously rather than waiting on the background worker.
		if err := s.fetchInto(id); err != nil {
			return err
		}
	}
	return s.readResident(id, out)
}

// Brick returns the decompressed payload for id if resident, or queues
// it as a priority request and returns ErrNotYetAvailable otherwise.
func (s *CachingRemoteDataSource) Brick(id brickfile.BrickID, out []byte) error {
	if int(id) < 0 || int(id) >= len(s.metas) {
		return fmt.Errorf("datasource: %w: %d", brickfile.ErrBrickIDOutOfRange, id)
	}
	if s.cacheMap.IsSet(uint32(id)) {
		return s.readResident(id, out)
	}
	s.mu.Lock()
	s.priority = append(s.priority, id)
	s.cond.Signal()
	s.mu.Unlock()
	return NotYetAvailable(id)
}

// NewRequest discards any priority requests not yet served, resetting
// the queue once per frame.
func (s *CachingRemoteDataSource) NewRequest() {
	s.mu.Lock()
	s.priority = s.priority[:0]
	s.mu.Unlock()
}

func (s *CachingRemoteDataSource) readResident(id brickfile.BrickID, out []byte) error {
	m := s.metas[id]
	if m.Offset+m.Size > uint64(len(s.mm)) {
		return fmt.Errorf("datasource: %w", brickfile.ErrTruncated)
	}
	raw := s.mm[m.Offset : m.Offset+m.Size]
	return brickfile.Decompress(&s.header, raw, out)
}

// fetchInto pulls brick id from the remote source into the local mirror
// and marks it resident. A no-op if already resident.
func (s *CachingRemoteDataSource) fetchInto(id brickfile.BrickID) error {
	if s.cacheMap.IsSet(uint32(id)) {
		return nil
	}
	raw, err := s.remote.client.GetBrick(uint32(id))
	if err != nil {
		return fmt.Errorf("datasource: prefetch brick %d: %w", id, err)
	}
	m := s.metas[id]
	if m.Offset+uint64(len(raw)) > uint64(len(s.mm)) {
		return fmt.Errorf("datasource: prefetch brick %d: %w", id, brickfile.ErrTruncated)
	}
	copy(s.mm[m.Offset:m.Offset+uint64(len(raw))], raw)
	s.cacheMap.Set(uint32(id))
	return nil
}

// runWorker is the single background thread driving the mirror to
// completion: drain priority requests first, then backfill from the
// highest unset index, renaming the mirror into place once every
// brick is resident.
func (s *CachingRemoteDataSource) runWorker() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.priority) == 0 && !s.stop {
			if id, ok := s.cacheMap.LastUnsetIndex(); ok {
				s.mu.Unlock()
				if err := s.fetchInto(brickfile.BrickID(id)); err != nil {
					s.log.Warnf("cache worker: prefetch %d: %v", id, err)
				}
				s.mu.Lock()
				continue
			}
			break
		}
		if s.stop {
			s.mu.Unlock()
			s.persistIncomplete()
			return
		}
		if len(s.priority) == 0 {
			if s.cacheMap.Complete() {
				s.mu.Unlock()
				s.finalize()
				return
			}
			s.cond.Wait()
			s.mu.Unlock()
			continue
		}
		id := s.priority[0]
		s.priority = s.priority[1:]
		s.mu.Unlock()

		if err := s.fetchInto(id); err != nil {
			s.log.Warnf("cache worker: fetch %d: %v", id, err)
		}
	}
}

func (s *CachingRemoteDataSource) finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.complete {
		return
	}
	// Every payload byte must reach disk before the rename, since
	// OpenCaching treats any non-empty file at the mirror path as a
	// complete mirror. The renamed file holds the brick payloads only; no
	// metadata block is written into it.
	if err := unix.Msync(s.mm, unix.MS_SYNC); err != nil {
		s.log.Errorf("cache worker: msync: %v", err)
	}
	if err := s.mm.Unmap(); err != nil {
		s.log.Errorf("cache worker: unmap: %v", err)
	}
	s.f.Close()
	if err := os.Rename(s.incompletePath(), s.path); err != nil {
		s.log.Errorf("cache worker: rename mirror into place: %v", err)
		return
	}
	os.Remove(s.cacheMapPath())
	if err := s.openComplete(s.path); err != nil {
		s.log.Errorf("cache worker: reopen completed mirror: %v", err)
		return
	}
	s.complete = true
}

func (s *CachingRemoteDataSource) persistIncomplete() {
	if err := s.cacheMap.Persist(s.cacheMapPath()); err != nil {
		s.log.Errorf("cache worker: persist cache map on shutdown: %v", err)
	}
}

// Close signals the worker to stop, waits for it to exit, and releases
// the underlying connection and mmap.
func (s *CachingRemoteDataSource) Close() error {
	s.mu.Lock()
	s.stop = true
	s.cond.Signal()
	s.mu.Unlock()
	<-s.done
	if s.mm != nil {
		s.mm.Unmap()
	}
	if s.f != nil {
		s.f.Close()
	}
	return s.remote.Close()
}
