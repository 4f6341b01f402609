package gloomtier

import (
	"context"
	"errors"
)

var (
	// ErrStoreUnavailable wraps any failure of the bit-array store or the
	// authoritative store. A failed read is never interpreted as a bit value.
	ErrStoreUnavailable = errors.New("gloomtier: store unavailable")

	// ErrConflict is returned by an AuthoritativeStore when the value is
	// already present.
	ErrConflict = errors.New("gloomtier: value already exists")

	// ErrDumpUnsupported is returned when an operation needs the whole bit
	// array but the store only supports single-bit access.
	ErrDumpUnsupported = errors.New("gloomtier: store cannot dump bit arrays")
)

// BitStore is a remote, persistent bit vector addressed by key and offset.
//
// Implementations must be safe for concurrent use. SetBit on one offset must
// be atomic with respect to concurrent callers and idempotent, and a failed
// call must return an error rather than a bit value.
type BitStore interface {
	SetBit(ctx context.Context, key string, offset uint64) error
	GetBit(ctx context.Context, key string, offset uint64) (bool, error)
}

// BitDumper is implemented by stores that can read and write a whole bit
// array at once. The layout is most-significant-bit first: offset o lives in
// bit 7-o%8 of byte o/8. Dump may return fewer bytes than the array holds;
// missing trailing bytes are zero.
//
// Merge ORs data into the array of key. It never clears a bit, and a SetBit
// that runs concurrently with Merge must not be lost.
type BitDumper interface {
	Dump(ctx context.Context, key string) ([]byte, error)
	Merge(ctx context.Context, key string, data []byte) error
}

// Metadata is the non-key part of an authoritative record.
type Metadata struct {
	Email *string
}

// Record is one entry of the authoritative set, as seeded and registered.
type Record struct {
	Username string  `json:"username" yaml:"username"`
	Email    *string `json:"email,omitempty" yaml:"email,omitempty"`
}

// Metadata returns the record's metadata.
func (r Record) Metadata() Metadata {
	return Metadata{Email: r.Email}
}

// AuthoritativeStore is the exact, expensive source of truth.
//
// Insert returns an error wrapping ErrConflict when key is already present.
// Initialize prepares the store's schema and is safe to call repeatedly.
type AuthoritativeStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Insert(ctx context.Context, key string, meta Metadata) error
	Initialize(ctx context.Context) error
}
