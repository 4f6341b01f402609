package gloomtier

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/xxh3"
)

// Serialization constants and errors.
const (
	// serializeVersion is the current snapshot format version.
	serializeVersion byte = 1

	// headerSize is the size of the snapshot header in bytes.
	// Version (1) + K (4) + SizeBits (8) = 13 bytes
	headerSize = 13

	// checksumSize is the size of the trailing xxh3 checksum.
	checksumSize = 8

	// maxSnapshotBits bounds SizeBits so the byte length fits an int on every
	// platform.
	maxSnapshotBits = MaxSizeBits
)

var (
	// ErrInvalidSnapshot is returned when serialized snapshot data is invalid
	// or corrupted.
	ErrInvalidSnapshot = errors.New("gloomtier: invalid snapshot data")

	// ErrUnsupportedVersion is returned when the snapshot version is not
	// supported.
	ErrUnsupportedVersion = errors.New("gloomtier: unsupported snapshot version")

	// ErrParamsMismatch is returned when a snapshot's m or k differ from the
	// filter it is restored into.
	ErrParamsMismatch = errors.New("gloomtier: snapshot parameters do not match filter")
)

// Snapshot is a point-in-time copy of a bit array together with the
// parameters needed to interpret it.
type Snapshot struct {
	SizeBits  uint64
	HashCount uint32
	Bits      []byte // MSB-first, exactly (SizeBits+7)/8 bytes
}

// Snapshot copies the filter's bit array out of the store.
func (f *Filter) Snapshot(ctx context.Context) (*Snapshot, error) {
	data, err := f.dump(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		SizeBits:  f.cfg.SizeBits,
		HashCount: f.cfg.HashCount,
		Bits:      data,
	}, nil
}

// Restore merges s into the filter's bit array. The store ORs the snapshot
// into the live array, so bits already set stay set, including bits set by
// writers running concurrently with the restore.
func (f *Filter) Restore(ctx context.Context, s *Snapshot) error {
	if s.SizeBits != f.cfg.SizeBits || s.HashCount != f.cfg.HashCount {
		return fmt.Errorf("%w: snapshot m=%d k=%d, filter m=%d k=%d", ErrParamsMismatch,
			s.SizeBits, s.HashCount, f.cfg.SizeBits, f.cfg.HashCount)
	}
	dumper, ok := f.store.(BitDumper)
	if !ok {
		return ErrDumpUnsupported
	}

	incoming := normalizeBits(s.Bits, s.SizeBits)
	if err := dumper.Merge(ctx, f.cfg.Key, incoming); err != nil {
		return fmt.Errorf("%w: merge into %q: %w", ErrStoreUnavailable, f.cfg.Key, err)
	}
	log.Infof("Restored snapshot into %q (m=%d, k=%d)", f.cfg.Key, s.SizeBits, s.HashCount)
	return nil
}

// Stats reports the occupancy of the snapshot.
func (s *Snapshot) Stats() FilterStats {
	cfg := FilterConfig{SizeBits: s.SizeBits, HashCount: s.HashCount}
	return computeStats(cfg, normalizeBits(s.Bits, s.SizeBits))
}

// MarshalBinary serializes the snapshot to a byte slice.
// The serialized format is:
//   - Version (1 byte): serialization format version
//   - K (4 bytes): number of hash positions (little-endian uint32)
//   - SizeBits (8 bytes): m (little-endian uint64)
//   - Bits ((SizeBits+7)/8 bytes): the bit array, MSB-first
//   - Checksum (8 bytes): xxh3 of everything before it (little-endian uint64)
func (s *Snapshot) MarshalBinary() ([]byte, error) {
	if s.SizeBits == 0 || s.SizeBits > maxSnapshotBits {
		return nil, fmt.Errorf("%w: size %d bits out of range", ErrInvalidSnapshot, s.SizeBits)
	}

	data := normalizeBits(s.Bits, s.SizeBits)
	buf := make([]byte, headerSize, headerSize+len(data)+checksumSize)

	buf[0] = serializeVersion
	binary.LittleEndian.PutUint32(buf[1:5], s.HashCount)
	binary.LittleEndian.PutUint64(buf[5:13], s.SizeBits)
	buf = append(buf, data...)
	buf = binary.LittleEndian.AppendUint64(buf, xxh3.Hash(buf))

	return buf, nil
}

// UnmarshalSnapshot deserializes a snapshot from a byte slice.
// Returns an error if the data is invalid or corrupted.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	if len(data) < headerSize+checksumSize {
		return nil, fmt.Errorf("%w: data too short (got %d bytes, need at least %d)",
			ErrInvalidSnapshot, len(data), headerSize+checksumSize)
	}

	version := data[0]
	if version != serializeVersion {
		return nil, fmt.Errorf("%w: got version %d, expected %d", ErrUnsupportedVersion, version, serializeVersion)
	}

	k := binary.LittleEndian.Uint32(data[1:5])
	sizeBits := binary.LittleEndian.Uint64(data[5:13])
	if k == 0 || k > maxHashCount {
		return nil, fmt.Errorf("%w: k=%d out of range", ErrInvalidSnapshot, k)
	}
	if sizeBits == 0 || sizeBits > maxSnapshotBits {
		return nil, fmt.Errorf("%w: size %d bits out of range", ErrInvalidSnapshot, sizeBits)
	}

	// Safe from overflow now that sizeBits is bounded.
	expectedTotalLen := uint64(headerSize) + (sizeBits+7)/8 + checksumSize
	if uint64(len(data)) != expectedTotalLen {
		return nil, fmt.Errorf("%w: data length mismatch (got %d bytes, expected %d)",
			ErrInvalidSnapshot, len(data), expectedTotalLen)
	}

	body := data[:len(data)-checksumSize]
	want := binary.LittleEndian.Uint64(data[len(data)-checksumSize:])
	if got := xxh3.Hash(body); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidSnapshot)
	}

	bits := make([]byte, len(body)-headerSize)
	copy(bits, body[headerSize:])

	return &Snapshot{
		SizeBits:  sizeBits,
		HashCount: k,
		Bits:      bits,
	}, nil
}
