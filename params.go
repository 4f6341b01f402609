package gloomtier

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	// DefaultSizeBits is the default bit-array size (m).
	DefaultSizeBits = 10_000_000
	// DefaultHashCount is the default number of hash positions (k).
	DefaultHashCount = 7
	// DefaultKey is the default namespace of the bit array in the store.
	DefaultKey = "username_bloom_filter"

	// ln2 is the natural logarithm of 2.
	ln2 = 0.6931471805599453
	// ln2Squared is ln(2)^2.
	ln2Squared = 0.4804530139182014

	// maxHashCount bounds k. Every position costs one store round trip, so
	// anything beyond this is a configuration mistake rather than a tuning
	// choice.
	maxHashCount = 64

	// MaxSizeBits bounds m. It is the largest bitmap Redis can hold, and
	// keeps a dumped array within 512 MiB on every store.
	MaxSizeBits = uint64(1) << 32
)

// ErrInvalidConfig is returned when a FilterConfig cannot describe a usable
// bit array.
var ErrInvalidConfig = errors.New("gloomtier: invalid filter config")

// FilterConfig describes one bit array. SizeBits (m) and HashCount (k) are
// fixed for the lifetime of the array: changing either without rebuilding the
// array from scratch changes the meaning of every bit already set.
type FilterConfig struct {
	SizeBits  uint64 // m
	HashCount uint32 // k
	Key       string // namespace of the bit array in the store
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() FilterConfig {
	return FilterConfig{
		SizeBits:  DefaultSizeBits,
		HashCount: DefaultHashCount,
		Key:       DefaultKey,
	}
}

// Validate reports whether the configuration is usable.
func (c FilterConfig) Validate() error {
	if c.SizeBits == 0 {
		return fmt.Errorf("%w: size must be at least one bit", ErrInvalidConfig)
	}
	if c.SizeBits > MaxSizeBits {
		return fmt.Errorf("%w: size %d bits exceeds %d", ErrInvalidConfig, c.SizeBits, MaxSizeBits)
	}
	if c.HashCount == 0 {
		return fmt.Errorf("%w: hash count must be at least 1", ErrInvalidConfig)
	}
	if c.HashCount > maxHashCount {
		return fmt.Errorf("%w: hash count %d exceeds %d", ErrInvalidConfig, c.HashCount, maxHashCount)
	}
	if c.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidConfig)
	}
	if strings.IndexByte(c.Key, 0) >= 0 {
		return fmt.Errorf("%w: key %q contains a NUL byte", ErrInvalidConfig, c.Key)
	}
	return nil
}

// ByteLen returns the number of bytes needed to hold SizeBits bits.
func (c FilterConfig) ByteLen() uint64 {
	return (c.SizeBits + 7) / 8
}

// OptimalParams calculates the bit-array size and number of hash positions
// for the expected number of items and desired false positive rate.
// Returns m, k and the bits spent per item.
func OptimalParams(expectedItems uint64, fpRate float64) (sizeBits uint64, k uint32, bitsPerItem float64) {
	if expectedItems == 0 {
		expectedItems = 1
	}
	if fpRate <= 0 {
		fpRate = 0.0001 // default to 0.01%
	}
	if fpRate >= 1 {
		fpRate = 0.99
	}

	// Optimal bits per item: -ln(fpRate) / ln(2)^2
	bitsPerItem = -math.Log(fpRate) / ln2Squared
	sizeBits = uint64(math.Ceil(float64(expectedItems) * bitsPerItem))

	// Optimal k: (m/n) * ln(2)
	k = uint32(math.Round(float64(sizeBits) / float64(expectedItems) * ln2))
	k = max(k, 1)
	k = min(k, maxHashCount)

	return sizeBits, k, bitsPerItem
}

// EstimateFalsePositiveRate estimates the false positive rate after
// itemsAdded distinct values have been added.
// Formula: (1 - e^(-kn/m))^k
func EstimateFalsePositiveRate(sizeBits uint64, k uint32, itemsAdded uint64) float64 {
	m := float64(sizeBits)
	n := float64(itemsAdded)
	kf := float64(k)

	if m == 0 || n == 0 {
		return 0
	}

	return math.Pow(1-math.Exp(-kf*n/m), kf)
}

// EstimateItems estimates how many distinct values produced setBits ones in
// an array of sizeBits bits (Swamidass & Baldi):
//
//	n ≈ -(m/k) * ln(1 - X/m)
//
// A saturated array returns +Inf.
func EstimateItems(sizeBits uint64, k uint32, setBits uint64) float64 {
	if sizeBits == 0 || k == 0 || setBits == 0 {
		return 0
	}
	if setBits >= sizeBits {
		return math.Inf(1)
	}
	m := float64(sizeBits)
	return -(m / float64(k)) * math.Log(1-float64(setBits)/m)
}
