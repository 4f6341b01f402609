package gloomtier_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"testing"

	"github.com/jcalabro/gloomtier"
	"github.com/jcalabro/gloomtier/memstore"
)

func TestFilterBasic(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(1000)
	f := newFilter(1000, 3, store)

	if err := f.Add(ctx, "alice"); err != nil {
		t.Fatal(err)
	}

	for _, off := range []uint64{893, 821, 380} {
		set, err := store.GetBit(ctx, "bf", off)
		if err != nil {
			t.Fatal(err)
		}
		if !set {
			t.Errorf("bit %d not set after adding alice", off)
		}
	}

	if ok, err := f.MightContain(ctx, "alice"); err != nil || !ok {
		t.Errorf("alice: got %v, %v", ok, err)
	}
	// bob hashes to 458, 39 and 433, none of which alice set.
	if ok, err := f.MightContain(ctx, "bob"); err != nil || ok {
		t.Errorf("bob: got %v, %v", ok, err)
	}

	if !slices.Equal(f.Positions("alice"), []uint64{893, 821, 380}) {
		t.Errorf("positions: %v", f.Positions("alice"))
	}
	if f.Cap() != 1000 || f.K() != 3 || f.Config().Key != "bf" {
		t.Errorf("accessors: cap=%d k=%d cfg=%+v", f.Cap(), f.K(), f.Config())
	}
}

func TestFilterNoFalseNegatives(t *testing.T) {
	ctx := context.Background()
	m, k, _ := gloomtier.OptimalParams(2000, 0.01)
	f := newFilter(m, k, memstore.New(m))

	for i := range 2000 {
		if err := f.Add(ctx, fmt.Sprintf("user-%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	for i := range 2000 {
		ok, err := f.MightContain(ctx, fmt.Sprintf("user-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("user-%d: false negative", i)
		}
	}
}

func TestFilterFalsePositiveRate(t *testing.T) {
	ctx := context.Background()
	expectedItems := uint64(5000)
	targetFPRate := 0.01 // 1%

	m, k, _ := gloomtier.OptimalParams(expectedItems, targetFPRate)
	f := newFilter(m, k, memstore.New(m))

	for i := range expectedItems {
		if err := f.Add(ctx, fmt.Sprintf("item-%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	// Test with items not in the filter
	testItems := 10000
	var falsePositives int
	for i := range testItems {
		ok, err := f.MightContain(ctx, fmt.Sprintf("notitem-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			falsePositives++
		}
	}

	actualFPRate := float64(falsePositives) / float64(testItems)

	// Allow 2x margin for statistical variance
	if actualFPRate > targetFPRate*2 {
		t.Errorf("false positive rate too high: got %.4f, want <= %.4f", actualFPRate, targetFPRate*2)
	}

	t.Logf("FP rate: %.4f (target: %.4f, k=%d, m=%d)", actualFPRate, targetFPRate, k, m)
}

func TestFilterAddIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(1000)
	f := newFilter(1000, 3, store)

	if err := f.Add(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	before, err := store.Dump(ctx, "bf")
	if err != nil {
		t.Fatal(err)
	}

	for range 3 {
		if err := f.Add(ctx, "alice"); err != nil {
			t.Fatal(err)
		}
	}
	after, err := store.Dump(ctx, "bf")
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(before, after) {
		t.Error("adding the same value again changed the bit array")
	}
}

func TestFilterShortCircuit(t *testing.T) {
	ctx := context.Background()
	store := newCountingBits(1000)
	f := newFilter(1000, 3, store)

	// On an empty array the first position already reads zero.
	ok, err := f.MightContain(ctx, "bob")
	if err != nil || ok {
		t.Fatalf("got %v, %v", ok, err)
	}
	if n := store.gets.Load(); n != 1 {
		t.Errorf("expected 1 GetBit call, got %d", n)
	}

	if err := f.Add(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if n := store.sets.Load(); n != 3 {
		t.Errorf("expected 3 SetBit calls, got %d", n)
	}

	store.gets.Store(0)
	if ok, _ := f.MightContain(ctx, "alice"); !ok {
		t.Fatal("alice missing")
	}
	if n := store.gets.Load(); n != 3 {
		t.Errorf("expected 3 GetBit calls for a present value, got %d", n)
	}
}

func TestFilterStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	store := newCountingBits(1000)
	store.broken.Store(true)
	f := newFilter(1000, 3, store)

	err := f.Add(ctx, "alice")
	if !errors.Is(err, gloomtier.ErrStoreUnavailable) || !errors.Is(err, errBroken) {
		t.Errorf("Add: expected ErrStoreUnavailable wrapping the cause, got %v", err)
	}

	ok, err := f.MightContain(ctx, "alice")
	if !errors.Is(err, gloomtier.ErrStoreUnavailable) || !errors.Is(err, errBroken) {
		t.Errorf("MightContain: expected ErrStoreUnavailable wrapping the cause, got %v", err)
	}
	if ok {
		t.Error("MightContain reported presence on error")
	}
}

func TestNewFilterInvalid(t *testing.T) {
	if _, err := gloomtier.NewFilter(gloomtier.DefaultConfig(), nil); !errors.Is(err, gloomtier.ErrInvalidConfig) {
		t.Errorf("nil store: %v", err)
	}
	cfg := gloomtier.FilterConfig{SizeBits: 0, HashCount: 3, Key: "bf"}
	if _, err := gloomtier.NewFilter(cfg, memstore.New(8)); !errors.Is(err, gloomtier.ErrInvalidConfig) {
		t.Errorf("zero size: %v", err)
	}
	cfg = gloomtier.FilterConfig{SizeBits: 1 << 62, HashCount: 3, Key: "bf"}
	if _, err := gloomtier.NewFilter(cfg, bitsOnly{memstore.New(8)}); !errors.Is(err, gloomtier.ErrInvalidConfig) {
		t.Errorf("oversized: %v", err)
	}
}

func TestFilterStats(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(1000)
	f := newFilter(1000, 3, store)

	st, err := f.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.SetBits != 0 || st.FillRatio != 0 || st.EstimatedItems != 0 || st.Saturated {
		t.Errorf("empty filter: %+v", st)
	}

	if err := f.Add(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	st, err = f.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.SizeBits != 1000 || st.HashCount != 3 || st.SetBits != 3 {
		t.Errorf("after alice: %+v", st)
	}
	if math.Abs(st.FillRatio-0.003) > 1e-12 {
		t.Errorf("fill ratio %f", st.FillRatio)
	}
	if math.Abs(st.EstimatedItems-1) > 0.01 {
		t.Errorf("estimated items %f", st.EstimatedItems)
	}
	if math.Abs(st.EstimatedFalsePositiveRate-math.Pow(0.003, 3)) > 1e-15 {
		t.Errorf("estimated fp %g", st.EstimatedFalsePositiveRate)
	}

	if err := store.Merge(ctx, "bf", bytes.Repeat([]byte{0xFF}, 125)); err != nil {
		t.Fatal(err)
	}
	st, err = f.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Saturated || st.EstimatedItems != 1000 || st.FillRatio != 1 {
		t.Errorf("saturated filter: %+v", st)
	}
}

func TestFilterStatsUnsupported(t *testing.T) {
	f := newFilter(1000, 3, bitsOnly{memstore.New(1000)})
	if _, err := f.Stats(context.Background()); !errors.Is(err, gloomtier.ErrDumpUnsupported) {
		t.Errorf("expected ErrDumpUnsupported, got %v", err)
	}
}

func TestFilterConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newFilter(100_000, 5, memstore.New(100_000))

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 250 {
				v := fmt.Sprintf("g%d-%d", g, i)
				if err := f.Add(ctx, v); err != nil {
					t.Error(err)
					return
				}
				if ok, err := f.MightContain(ctx, v); err != nil || !ok {
					t.Errorf("%s: got %v, %v", v, ok, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for g := range 8 {
		for i := range 250 {
			if ok, _ := f.MightContain(ctx, fmt.Sprintf("g%d-%d", g, i)); !ok {
				t.Fatalf("g%d-%d lost", g, i)
			}
		}
	}
}
