package gloomtier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/decred/dcrd/container/lru"
)

// ErrInvalidInput is returned for identifiers that are empty after trimming
// surrounding whitespace. No store is touched for such input.
var ErrInvalidInput = errors.New("gloomtier: identifier is required")

// Resolution identifies which tier produced an availability answer.
type Resolution uint8

const (
	// FastPath means the filter proved the value absent.
	FastPath Resolution = iota
	// SlowPath means the authoritative store was consulted.
	SlowPath
	// CachePath means the value was recently confirmed taken and neither
	// store was asked beyond the filter.
	CachePath
)

// String returns the lowercase name of the resolution.
func (r Resolution) String() string {
	switch r {
	case FastPath:
		return "fast"
	case SlowPath:
		return "slow"
	case CachePath:
		return "cache"
	}
	return fmt.Sprintf("Resolution(%d)", uint8(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Result is the outcome of an availability check.
type Result struct {
	Value      string
	Available  bool
	ResolvedBy Resolution

	// FalsePositive is set when the filter claimed the value might be
	// present and the authoritative store disagreed.
	FalsePositive bool
}

// CheckerStats counts how checks were resolved since the Checker was built.
type CheckerStats struct {
	FastPath       uint64 `json:"fastPath"`
	SlowPath       uint64 `json:"slowPath"`
	CachePath      uint64 `json:"cachePath"`
	FalsePositives uint64 `json:"falsePositives"`
	Registered     uint64 `json:"registered"`
	Conflicts      uint64 `json:"conflicts"`
	Errors         uint64 `json:"errors"`
}

// Checker answers availability questions with the filter as the fast path and
// the authoritative store as the slow path.
//
// Checker is safe for concurrent use. It takes no lock across store calls, so
// concurrent checks and registrations never wait on each other.
type Checker struct {
	filter *Filter
	auth   AuthoritativeStore

	// taken remembers values the slow path confirmed as present. Values are
	// never deleted from the authoritative store, so an entry never goes
	// stale.
	taken *lru.Set[string]

	fast, slow, cached, falsePositives atomic.Uint64
	registered, conflicts, errs        atomic.Uint64
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithTakenCache keeps up to limit recently confirmed values in memory so
// repeated checks of popular taken values skip the authoritative store. A
// limit of zero disables the cache.
func WithTakenCache(limit uint32) CheckerOption {
	return func(c *Checker) {
		if limit == 0 {
			c.taken = nil
			return
		}
		c.taken = lru.NewSet[string](limit)
	}
}

// NewChecker returns a Checker over filter and auth.
func NewChecker(filter *Filter, auth AuthoritativeStore, opts ...CheckerOption) (*Checker, error) {
	if filter == nil || auth == nil {
		return nil, fmt.Errorf("%w: filter and authoritative store are required", ErrInvalidConfig)
	}
	c := &Checker{filter: filter, auth: auth}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Filter returns the checker's filter.
func (c *Checker) Filter() *Filter {
	return c.filter
}

// normalize trims value and rejects it if nothing is left.
func normalize(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrInvalidInput
	}
	return value, nil
}

// CheckAvailability reports whether value is free to register.
//
// When the filter proves value absent the answer is returned without touching
// the authoritative store. Otherwise the authoritative store decides, and
// Result.FalsePositive records whether the filter was wrong.
func (c *Checker) CheckAvailability(ctx context.Context, value string) (Result, error) {
	value, err := normalize(value)
	if err != nil {
		return Result{Available: true}, err
	}

	maybe, err := c.filter.MightContain(ctx, value)
	if err != nil {
		c.errs.Add(1)
		return Result{}, err
	}
	if !maybe {
		c.fast.Add(1)
		return Result{Value: value, Available: true, ResolvedBy: FastPath}, nil
	}

	if c.taken != nil && c.taken.Contains(value) {
		c.cached.Add(1)
		return Result{Value: value, Available: false, ResolvedBy: CachePath}, nil
	}

	exists, err := c.auth.Exists(ctx, value)
	if err != nil {
		c.errs.Add(1)
		return Result{}, fmt.Errorf("%w: exists %q: %w", ErrStoreUnavailable, value, err)
	}
	c.slow.Add(1)
	if exists {
		c.remember(value)
	} else {
		c.falsePositives.Add(1)
		log.Debugf("Filter false positive for %q resolved by authoritative store", value)
	}

	return Result{
		Value:         value,
		Available:     !exists,
		ResolvedBy:    SlowPath,
		FalsePositive: !exists,
	}, nil
}

// RegisterValue records value as taken. The filter is written before the
// authoritative store, so a failure between the two leaves the filter
// reporting a value the authoritative store lacks; the slow path resolves
// that. The authoritative store must never hold a value the filter reports
// as definitely absent.
//
// created is false when the authoritative store already had value; that is
// not an error.
func (c *Checker) RegisterValue(ctx context.Context, value string, meta Metadata) (created bool, err error) {
	value, err = normalize(value)
	if err != nil {
		return false, err
	}

	if err := c.filter.Add(ctx, value); err != nil {
		c.errs.Add(1)
		return false, err
	}

	err = c.auth.Insert(ctx, value, meta)
	switch {
	case err == nil:
		c.registered.Add(1)
		c.remember(value)
		return true, nil

	case errors.Is(err, ErrConflict):
		c.conflicts.Add(1)
		c.remember(value)
		return false, nil

	default:
		c.errs.Add(1)
		return false, fmt.Errorf("%w: insert %q: %w", ErrStoreUnavailable, value, err)
	}
}

func (c *Checker) remember(value string) {
	if c.taken != nil {
		c.taken.Put(value)
	}
}

// Stats returns a snapshot of the resolution counters.
func (c *Checker) Stats() CheckerStats {
	return CheckerStats{
		FastPath:       c.fast.Load(),
		SlowPath:       c.slow.Load(),
		CachePath:      c.cached.Load(),
		FalsePositives: c.falsePositives.Load(),
		Registered:     c.registered.Load(),
		Conflicts:      c.conflicts.Load(),
		Errors:         c.errs.Load(),
	}
}
