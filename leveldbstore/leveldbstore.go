// Package leveldbstore keeps bit arrays in a local LevelDB database.
//
// Each array is split into fixed-size pages stored under
//
//	key || 0x00 || pageIndex (big-endian uint64)
//
// so a prefix scan returns the pages of one array in offset order. Keys must
// not contain a NUL byte. LevelDB has
// no atomic bit operations; SetBit is a read-modify-write of one page under a
// striped mutex, which makes it atomic for every caller sharing the Store.
// Only one process may open a database at a time.
package leveldbstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/zeebo/xxh3"
)

const (
	// PageBytes is the size of one stored page.
	PageBytes = 4096
	// pageBits is the number of bits per page.
	pageBits = PageBytes * 8

	// numStripes is the number of page locks. Pages hash onto stripes, so
	// writes to different pages rarely contend.
	numStripes = 256
)

// ErrInvalidKey is returned for keys that contain a NUL byte, which would make
// page keys ambiguous.
var ErrInvalidKey = errors.New("leveldbstore: key contains a NUL byte")

// Store is a BitStore backed by LevelDB. It is safe for concurrent use.
type Store struct {
	db      *leveldb.DB
	stripes [numStripes]sync.Mutex
	wo      *opt.WriteOptions
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	opts := opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.SnappyCompression,
		Filter:      filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(path, &opts)
	if err != nil {
		return nil, fmt.Errorf("leveldbstore: open %s: %w", path, err)
	}
	log.Infof("Opened bit store at %s", path)
	return New(db), nil
}

// New wraps an open database. Close closes db.
func New(db *leveldb.DB) *Store {
	return &Store{db: db, wo: &opt.WriteOptions{}}
}

// pagePrefix returns the key prefix shared by all pages of key.
func pagePrefix(key string) []byte {
	prefix := make([]byte, len(key)+1)
	copy(prefix, key)
	return prefix
}

func checkKey(key string) error {
	if strings.IndexByte(key, 0) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func pageKey(key string, page uint64) []byte {
	return binary.BigEndian.AppendUint64(pagePrefix(key), page)
}

func locate(offset uint64) (page uint64, byteIdx int, mask byte) {
	page = offset / pageBits
	inPage := offset % pageBits
	return page, int(inPage / 8), byte(0x80) >> (inPage % 8)
}

func (s *Store) stripe(pk []byte) *sync.Mutex {
	return &s.stripes[xxh3.Hash(pk)%numStripes]
}

// readPage returns a writable copy of the page, or nil if it does not exist.
func (s *Store) readPage(pk []byte) ([]byte, error) {
	data, err := s.db.Get(pk, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	page := make([]byte, PageBytes)
	copy(page, data)
	return page, nil
}

// SetBit sets the bit at offset of key.
func (s *Store) SetBit(ctx context.Context, key string, offset uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return err
	}
	page, byteIdx, mask := locate(offset)
	pk := pageKey(key, page)

	mtx := s.stripe(pk)
	mtx.Lock()
	defer mtx.Unlock()

	data, err := s.readPage(pk)
	if err != nil {
		return err
	}
	if data == nil {
		data = make([]byte, PageBytes)
	}
	if data[byteIdx]&mask != 0 {
		return nil
	}
	data[byteIdx] |= mask
	return s.db.Put(pk, data, s.wo)
}

// GetBit reports whether the bit at offset of key is set.
func (s *Store) GetBit(ctx context.Context, key string, offset uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := checkKey(key); err != nil {
		return false, err
	}
	page, byteIdx, mask := locate(offset)
	data, err := s.db.Get(pageKey(key, page), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return byteIdx < len(data) && data[byteIdx]&mask != 0, nil
}

// Dump returns the bit array of key up to the end of its last stored page.
// Pages that were never written read as zero.
func (s *Store) Dump(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	prefix := pagePrefix(key)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var out []byte
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		k := iter.Key()
		if len(k) != len(prefix)+8 {
			continue
		}
		page := binary.BigEndian.Uint64(k[len(prefix):])
		start := page * PageBytes
		if need := start + PageBytes; uint64(len(out)) < need {
			out = append(out, make([]byte, need-uint64(len(out)))...)
		}
		copy(out[start:], iter.Value())
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// Merge ORs data into the bit array of key. Each page is read, merged and
// written back under its stripe lock, so a concurrent SetBit on the same page
// either lands before the read or waits for the write. All-zero pages of data
// are skipped.
func (s *Store) Merge(ctx context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	for page := uint64(0); page*PageBytes < uint64(len(data)); page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := page * PageBytes
		chunk := data[start:min(start+PageBytes, uint64(len(data)))]
		if allZero(chunk) {
			continue
		}
		if err := s.mergePage(pageKey(key, page), chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) mergePage(pk, chunk []byte) error {
	mtx := s.stripe(pk)
	mtx.Lock()
	defer mtx.Unlock()

	cur, err := s.readPage(pk)
	if err != nil {
		return err
	}
	if cur == nil {
		cur = make([]byte, PageBytes)
	}
	changed := false
	for i, b := range chunk {
		if cur[i]|b != cur[i] {
			cur[i] |= b
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.db.Put(pk, cur, s.wo)
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
