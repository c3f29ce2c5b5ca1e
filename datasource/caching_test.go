package datasource

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gekko3d/borgvr/bricker"
	"github.com/gekko3d/borgvr/brickfile"
	"github.com/gekko3d/borgvr/volumereader"
	"github.com/gekko3d/borgvr/wireproto"
)

func buildTestFile(t *testing.T, value func(x, y, z int) uint8) string {
	t.Helper()
	reader := &volumereader.Procedural{
		Width: 16, Height: 16, Depth: 16, Components: 1, BytesPer: 1,
		Fn: func(x, y, z int) []uint64 { return []uint64{uint64(value(x, y, z))} },
	}
	out := filepath.Join(t.TempDir(), "vol.borgvr")
	err := bricker.Run(reader, out, bricker.Params{
		BrickSize: 8, Overlap: 0, Extension: bricker.ExtendClamp, Compression: brickfile.CompressionNone,
	})
	require.NoError(t, err)
	return out
}

func startTestServer(t *testing.T, path string) string {
	t.Helper()
	r, err := brickfile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	srv := wireproto.NewServer([]wireproto.Dataset{&ServerDataset{Reader: r}}, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.Serve(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestCachingRemoteDataSourceFirstBrickAndFill(t *testing.T) {
	value := func(x, y, z int) uint8 { return uint8((x*7 + y*13 + z*31) % 251) }
	path := buildTestFile(t, value)
	addr := startTestServer(t, path)

	mirror := filepath.Join(t.TempDir(), "mirror.borgvr")
	ds, err := OpenCaching(addr, 0, mirror, nil)
	require.NoError(t, err)
	defer ds.Close()

	buf := ds.AllocateBrickBuffer()
	require.NoError(t, ds.FirstBrick(buf))

	require.Eventually(t, func() bool {
		return ds.cacheMap.Complete()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCachingRemoteDataSourceNotYetAvailableThenResident(t *testing.T) {
	value := func(x, y, z int) uint8 { return uint8(x + y + z) }
	path := buildTestFile(t, value)
	addr := startTestServer(t, path)

	mirror := filepath.Join(t.TempDir(), "mirror.borgvr")
	ds, err := OpenCaching(addr, 0, mirror, nil)
	require.NoError(t, err)
	defer ds.Close()

	buf := ds.AllocateBrickBuffer()
	id := brickfile.BrickID(0)

	err = ds.Brick(id, buf)
	if err != nil {
		require.ErrorIs(t, err, ErrNotYetAvailable)
	}

	require.Eventually(t, func() bool {
		return ds.Brick(id, buf) == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCacheMapLastUnsetIndexPrefersHighestIndex(t *testing.T) {
	cm := NewCacheMap(10)
	for i := uint32(0); i < 7; i++ {
		cm.Set(i)
	}
	idx, ok := cm.LastUnsetIndex()
	require.True(t, ok)
	require.EqualValues(t, 9, idx)

	cm.Set(9)
	idx, ok = cm.LastUnsetIndex()
	require.True(t, ok)
	require.EqualValues(t, 8, idx)
}

func TestCacheMapCompleteAndPersistRoundTrip(t *testing.T) {
	cm := NewCacheMap(130)
	for i := uint32(0); i < 130; i++ {
		cm.Set(i)
	}
	require.True(t, cm.Complete())

	path := filepath.Join(t.TempDir(), "cm.bin")
	require.NoError(t, cm.Persist(path))

	loaded, err := LoadCacheMap(path)
	require.NoError(t, err)
	require.True(t, loaded.Complete())
	require.True(t, loaded.IsSet(0))
	require.True(t, loaded.IsSet(129))
}

func TestCachingRemoteDataSourceReopensCompleteMirror(t *testing.T) {
	value := func(x, y, z int) uint8 { return uint8(x * y * z % 251) }
	path := buildTestFile(t, value)
	addr := startTestServer(t, path)

	mirror := filepath.Join(t.TempDir(), "mirror.borgvr")
	ds, err := OpenCaching(addr, 0, mirror, nil)
	require.NoError(t, err)

	buf := ds.AllocateBrickBuffer()
	require.NoError(t, ds.FirstBrick(buf))
	require.Eventually(t, func() bool { return ds.cacheMap.Complete() }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, ds.Close())

	addr2 := startTestServer(t, path)
	ds2, err := OpenCaching(addr2, 0, mirror, nil)
	require.NoError(t, err)
	defer ds2.Close()

	require.True(t, ds2.complete)
	buf2 := ds2.AllocateBrickBuffer()
	require.NoError(t, ds2.Brick(brickfile.BrickID(0), buf2))
}
