package gloomtier

import (
	"context"
	"fmt"
	"math"
	"math/bits"
)

// Filter is a Bloom filter whose bits live in a BitStore.
//
// The filter holds no bits and no per-call state, so one Filter can be shared
// by any number of goroutines as long as its store is safe for concurrent use.
// Values can be added but never removed.
type Filter struct {
	cfg    FilterConfig
	scheme *HashScheme
	store  BitStore
}

// NewFilter returns a filter over the bit array cfg.Key in store.
func NewFilter(cfg FilterConfig, store BitStore) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: bit store is required", ErrInvalidConfig)
	}

	return &Filter{
		cfg:    cfg,
		scheme: NewHashScheme(cfg.SizeBits, cfg.HashCount),
		store:  store,
	}, nil
}

// Add sets the k bits of value.
//
// The k writes are not atomic as a group. If Add fails part way, value may be
// partially registered; retrying Add is always safe because setting a bit is
// idempotent.
func (f *Filter) Add(ctx context.Context, value string) error {
	for _, pos := range f.scheme.Positions(value) {
		if err := f.store.SetBit(ctx, f.cfg.Key, pos); err != nil {
			return fmt.Errorf("%w: set bit %d of %q: %w", ErrStoreUnavailable, pos, f.cfg.Key, err)
		}
	}
	return nil
}

// MightContain reports whether value might have been added.
//
// A false result is conclusive: value was never successfully added. A true
// result may be a false positive. Bits are read one at a time and the first
// zero bit ends the check.
func (f *Filter) MightContain(ctx context.Context, value string) (bool, error) {
	for _, pos := range f.scheme.Positions(value) {
		set, err := f.store.GetBit(ctx, f.cfg.Key, pos)
		if err != nil {
			return false, fmt.Errorf("%w: get bit %d of %q: %w", ErrStoreUnavailable, pos, f.cfg.Key, err)
		}
		if !set {
			return false, nil
		}
	}
	return true, nil
}

// Positions returns the offsets Add and MightContain use for value.
func (f *Filter) Positions(value string) []uint64 {
	return f.scheme.Positions(value)
}

// Config returns the filter's configuration.
func (f *Filter) Config() FilterConfig {
	return f.cfg
}

// Cap returns the capacity of the filter in bits.
func (f *Filter) Cap() uint64 {
	return f.cfg.SizeBits
}

// K returns the number of hash positions per value.
func (f *Filter) K() uint32 {
	return f.cfg.HashCount
}

// FilterStats summarizes the occupancy of a bit array.
type FilterStats struct {
	SizeBits                   uint64  `json:"sizeBits"`
	HashCount                  uint32  `json:"hashCount"`
	SetBits                    uint64  `json:"setBits"`
	FillRatio                  float64 `json:"fillRatio"`
	EstimatedItems             float64 `json:"estimatedItems"`
	EstimatedFalsePositiveRate float64 `json:"estimatedFalsePositiveRate"`

	// Saturated is set when every bit is one. EstimatedItems is then
	// meaningless and reported as SizeBits.
	Saturated bool `json:"saturated"`
}

// Stats reads the whole bit array and reports its fill ratio together with
// the number of items and false positive rate it implies. The store must
// implement BitDumper.
func (f *Filter) Stats(ctx context.Context) (FilterStats, error) {
	data, err := f.dump(ctx)
	if err != nil {
		return FilterStats{}, err
	}
	return computeStats(f.cfg, data), nil
}

// dump returns the bit array trimmed or zero-padded to exactly ByteLen bytes.
func (f *Filter) dump(ctx context.Context) ([]byte, error) {
	dumper, ok := f.store.(BitDumper)
	if !ok {
		return nil, ErrDumpUnsupported
	}
	data, err := dumper.Dump(ctx, f.cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: dump %q: %w", ErrStoreUnavailable, f.cfg.Key, err)
	}
	return normalizeBits(data, f.cfg.SizeBits), nil
}

// normalizeBits returns data resized to hold exactly sizeBits bits, with any
// bits at or beyond sizeBits cleared.
func normalizeBits(data []byte, sizeBits uint64) []byte {
	n := (sizeBits + 7) / 8
	out := make([]byte, n)
	copy(out, data)
	if tail := sizeBits % 8; tail != 0 {
		out[n-1] &= byte(0xFF << (8 - tail))
	}
	return out
}

func computeStats(cfg FilterConfig, data []byte) FilterStats {
	var setBits uint64
	for _, b := range data {
		setBits += uint64(bits.OnesCount8(b))
	}

	fill := float64(setBits) / float64(cfg.SizeBits)
	items := EstimateItems(cfg.SizeBits, cfg.HashCount, setBits)
	saturated := math.IsInf(items, 1)
	if saturated {
		items = float64(cfg.SizeBits)
	}
	return FilterStats{
		SizeBits:                   cfg.SizeBits,
		HashCount:                  cfg.HashCount,
		SetBits:                    setBits,
		FillRatio:                  fill,
		EstimatedItems:             items,
		EstimatedFalsePositiveRate: math.Pow(fill, float64(cfg.HashCount)),
		Saturated:                  saturated,
	}
}
