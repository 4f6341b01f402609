package leveldbstore_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/jcalabro/gloomtier"
	"github.com/jcalabro/gloomtier/leveldbstore"
)

var (
	_ gloomtier.BitStore  = (*leveldbstore.Store)(nil)
	_ gloomtier.BitDumper = (*leveldbstore.Store)(nil)
)

func openMemStore(t *testing.T) *leveldbstore.Store {
	t.Helper()
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	s := leveldbstore.New(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetBit(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	// Offsets on the first page, a page boundary, and a far page.
	offsets := []uint64{0, 5, leveldbstore.PageBytes*8 - 1, leveldbstore.PageBytes * 8, 10_000_000}
	for _, off := range offsets {
		set, err := s.GetBit(ctx, "bf", off)
		require.NoError(t, err)
		require.False(t, set)

		require.NoError(t, s.SetBit(ctx, "bf", off))
		require.NoError(t, s.SetBit(ctx, "bf", off))

		set, err = s.GetBit(ctx, "bf", off)
		require.NoError(t, err)
		require.True(t, set, "offset %d", off)
	}

	set, err := s.GetBit(ctx, "bf", 6)
	require.NoError(t, err)
	require.False(t, set)

	set, err = s.GetBit(ctx, "other", 5)
	require.NoError(t, err)
	require.False(t, set)
}

func TestDumpMerge(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	data, err := s.Dump(ctx, "bf")
	require.NoError(t, err)
	require.Empty(t, data)

	require.NoError(t, s.SetBit(ctx, "bf", 0))
	require.NoError(t, s.SetBit(ctx, "bf", 9))
	require.NoError(t, s.SetBit(ctx, "bf", leveldbstore.PageBytes*8+7))

	data, err = s.Dump(ctx, "bf")
	require.NoError(t, err)
	require.Len(t, data, 2*leveldbstore.PageBytes)
	require.Equal(t, byte(0x80), data[0])
	require.Equal(t, byte(0x40), data[1])
	require.Equal(t, byte(0x01), data[leveldbstore.PageBytes])

	require.NoError(t, s.Merge(ctx, "bf", []byte{0x00, 0x20}))

	data, err = s.Dump(ctx, "bf")
	require.NoError(t, err)
	require.Len(t, data, 2*leveldbstore.PageBytes)
	require.Equal(t, []byte{0x80, 0x60}, data[:2])

	// Merge only adds bits: the second page is untouched.
	for _, off := range []uint64{0, 9, 10, leveldbstore.PageBytes*8 + 7} {
		set, err := s.GetBit(ctx, "bf", off)
		require.NoError(t, err)
		require.True(t, set, "offset %d", off)
	}
}

func TestMergeSkipsEmptyPages(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	data := make([]byte, 3*leveldbstore.PageBytes)
	data[2*leveldbstore.PageBytes] = 0x80
	require.NoError(t, s.Merge(ctx, "bf", data))

	dumped, err := s.Dump(ctx, "bf")
	require.NoError(t, err)
	require.Equal(t, data, dumped)
}

func TestMergeKeepsConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	const size = 4 * leveldbstore.PageBytes * 8
	// One bit per page so every merge rewrites every page.
	marker := make([]byte, size/8)
	for p := range 4 {
		marker[p*leveldbstore.PageBytes+leveldbstore.PageBytes-1] = 0x01
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for off := uint64(0); off < size; off += 97 {
			if err := s.SetBit(ctx, "bf", off); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for range 50 {
			if err := s.Merge(ctx, "bf", marker); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	wg.Wait()

	for off := uint64(0); off < size; off += 97 {
		set, err := s.GetBit(ctx, "bf", off)
		require.NoError(t, err)
		require.True(t, set, "offset %d lost", off)
	}
}

func TestRejectsNulKeys(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	// With a NUL separator this key's pages would collide with those of "a".
	key := "a\x00\x00\x00\x00\x00\x00\x00"
	require.ErrorIs(t, s.SetBit(ctx, key, 1), leveldbstore.ErrInvalidKey)
	_, err := s.GetBit(ctx, key, 1)
	require.ErrorIs(t, err, leveldbstore.ErrInvalidKey)
	_, err = s.Dump(ctx, key)
	require.ErrorIs(t, err, leveldbstore.ErrInvalidKey)
	require.ErrorIs(t, s.Merge(ctx, key, []byte{0x80}), leveldbstore.ErrInvalidKey)
}

func TestFilterSizeBound(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	// LevelDB addresses any page, but a filter cannot be sized so that its
	// stats would need more than MaxSizeBits bits of memory.
	_, err := gloomtier.NewFilter(gloomtier.FilterConfig{SizeBits: 1 << 62, HashCount: 3, Key: "bf"}, s)
	require.ErrorIs(t, err, gloomtier.ErrInvalidConfig)

	f, err := gloomtier.NewFilter(gloomtier.FilterConfig{SizeBits: 1 << 20, HashCount: 3, Key: "bf"}, s)
	require.NoError(t, err)
	require.NoError(t, f.Add(ctx, "alice"))
	st, err := f.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), st.SetBits)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bits")

	s, err := leveldbstore.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetBit(ctx, "bf", 12345))
	require.NoError(t, s.Close())

	s, err = leveldbstore.Open(path)
	require.NoError(t, err)
	defer s.Close()

	set, err := s.GetBit(ctx, "bf", 12345)
	require.NoError(t, err)
	require.True(t, set)
}

func TestClosedStoreErrors(t *testing.T) {
	ctx := context.Background()
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	s := leveldbstore.New(db)
	require.NoError(t, s.Close())

	require.Error(t, s.SetBit(ctx, "bf", 1))
	_, err = s.GetBit(ctx, "bf", 1)
	require.ErrorIs(t, err, leveldb.ErrClosed)
}

func TestConcurrentSetBitSamePage(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	const numGoroutines = 8
	const perGoroutine = 512

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for g := range numGoroutines {
		go func(id int) {
			defer wg.Done()
			// Interleaved offsets on a single page force read-modify-write
			// contention.
			for i := range perGoroutine {
				off := uint64(i*numGoroutines + id)
				if err := s.SetBit(ctx, "bf", off); err != nil {
					t.Error(err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	for off := uint64(0); off < numGoroutines*perGoroutine; off++ {
		set, err := s.GetBit(ctx, "bf", off)
		require.NoError(t, err)
		require.True(t, set, "lost update at offset %d", off)
	}
}
