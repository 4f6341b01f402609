// Package memstore provides an in-process bit-array store.
//
// Bits are kept in cache-line aligned atomic words, so SetBit and GetBit are
// lock-free and safe for concurrent use. Nothing is persisted: the store is
// meant for tests, development, and single-process deployments that reseed on
// start.
package memstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// cacheLineSize is the size of a CPU cache line in bytes.
const cacheLineSize = 64

// MaxBits is the largest array size New accepts.
const MaxBits = uint64(1) << 32

// ErrOffsetRange is returned for offsets at or beyond the store's size.
var ErrOffsetRange = errors.New("memstore: offset out of range")

// Store holds one fixed-size bit array per key. Arrays are allocated on first
// use.
type Store struct {
	sizeBits uint64

	mtx    sync.RWMutex
	arrays map[string]*bitArray
}

// New returns a store whose arrays hold sizeBits bits each. It panics if
// sizeBits exceeds MaxBits.
func New(sizeBits uint64) *Store {
	if sizeBits > MaxBits {
		panic(fmt.Sprintf("memstore: size %d bits exceeds %d", sizeBits, MaxBits))
	}
	return &Store{
		sizeBits: sizeBits,
		arrays:   make(map[string]*bitArray),
	}
}

// bitArray stores bits most-significant first within big-endian words, so
// that offset o is bit 7-o%8 of byte o/8 once the words are serialized.
type bitArray struct {
	raw   []byte          // Raw allocation to keep aligned memory alive for GC
	words []atomic.Uint64 // cache-line aligned
}

func newBitArray(sizeBits uint64) *bitArray {
	raw, words := makeAlignedAtomicUint64Slice(int((sizeBits + 63) / 64))
	return &bitArray{raw: raw, words: words}
}

// makeAlignedAtomicUint64Slice allocates a cache-line aligned slice of
// atomic.Uint64. Returns the raw byte slice (to keep alive for GC) and the
// aligned atomic slice.
func makeAlignedAtomicUint64Slice(n int) ([]byte, []atomic.Uint64) {
	// atomic.Uint64 is the same size as uint64 (8 bytes)
	const atomicSize = 8
	raw := make([]byte, n*atomicSize+cacheLineSize-1)
	addr := uintptr(unsafe.Pointer(&raw[0]))
	offset := (cacheLineSize - int(addr%cacheLineSize)) % cacheLineSize
	aligned := unsafe.Slice((*atomic.Uint64)(unsafe.Pointer(&raw[offset])), n)
	return raw, aligned
}

func wordMask(offset uint64) (word uint64, mask uint64) {
	return offset / 64, uint64(1) << (63 - offset%64)
}

// array returns the array for key, allocating it if create is set. It
// returns nil when the array does not exist and create is false.
func (s *Store) array(key string, create bool) *bitArray {
	s.mtx.RLock()
	arr := s.arrays[key]
	s.mtx.RUnlock()
	if arr != nil || !create {
		return arr
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	if arr = s.arrays[key]; arr == nil {
		arr = newBitArray(s.sizeBits)
		s.arrays[key] = arr
	}
	return arr
}

func (s *Store) checkOffset(offset uint64) error {
	if offset >= s.sizeBits {
		return fmt.Errorf("%w: %d >= %d", ErrOffsetRange, offset, s.sizeBits)
	}
	return nil
}

// SetBit sets the bit at offset of key.
func (s *Store) SetBit(ctx context.Context, key string, offset uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkOffset(offset); err != nil {
		return err
	}
	word, mask := wordMask(offset)
	s.array(key, true).words[word].Or(mask)
	return nil
}

// GetBit reports whether the bit at offset of key is set.
func (s *Store) GetBit(ctx context.Context, key string, offset uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.checkOffset(offset); err != nil {
		return false, err
	}
	arr := s.array(key, false)
	if arr == nil {
		return false, nil
	}
	word, mask := wordMask(offset)
	return arr.words[word].Load()&mask != 0, nil
}

// Dump returns the bit array of key. A key that was never written dumps as an
// empty slice.
func (s *Store) Dump(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	arr := s.array(key, false)
	if arr == nil {
		return []byte{}, nil
	}
	out := make([]byte, 0, len(arr.words)*8)
	for i := range arr.words {
		out = binary.BigEndian.AppendUint64(out, arr.words[i].Load())
	}
	return out[:(s.sizeBits+7)/8], nil
}

// Merge ORs data into the bit array of key one word at a time. Bytes beyond
// the store's size are ignored.
func (s *Store) Merge(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	arr := s.array(key, true)
	var buf [8]byte
	for i := range arr.words {
		start := i * 8
		if start >= len(data) {
			break
		}
		clear(buf[:])
		copy(buf[:], data[start:])
		w := binary.BigEndian.Uint64(buf[:])
		if i == len(arr.words)-1 {
			if tail := s.sizeBits % 64; tail != 0 {
				w &^= ^uint64(0) >> tail
			}
		}
		if w != 0 {
			arr.words[i].Or(w)
		}
	}
	return nil
}

// SizeBits returns the size of every array in the store.
func (s *Store) SizeBits() uint64 {
	return s.sizeBits
}
