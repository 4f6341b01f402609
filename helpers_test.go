package gloomtier_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/jcalabro/gloomtier"
	"github.com/jcalabro/gloomtier/memstore"
)

var errBroken = errors.New("connection refused")

// mapAuth is an in-memory AuthoritativeStore that counts calls and can be
// told to fail.
type mapAuth struct {
	mtx   sync.Mutex
	users map[string]gloomtier.Metadata

	existsCalls, insertCalls atomic.Int64

	// failInsert makes Insert fail for the named values.
	failInsert map[string]bool
	failExists bool
}

func newMapAuth() *mapAuth {
	return &mapAuth{users: make(map[string]gloomtier.Metadata)}
}

func (a *mapAuth) Initialize(context.Context) error { return nil }

func (a *mapAuth) Exists(_ context.Context, key string) (bool, error) {
	a.existsCalls.Add(1)
	if a.failExists {
		return false, errBroken
	}
	a.mtx.Lock()
	defer a.mtx.Unlock()
	_, ok := a.users[key]
	return ok, nil
}

func (a *mapAuth) Insert(_ context.Context, key string, meta gloomtier.Metadata) error {
	a.insertCalls.Add(1)
	if a.failInsert[key] {
		return errBroken
	}
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if _, ok := a.users[key]; ok {
		return gloomtier.ErrConflict
	}
	a.users[key] = meta
	return nil
}

func (a *mapAuth) len() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return len(a.users)
}

// countingBits wraps a memstore and counts single-bit calls. It can be told
// to fail every call.
type countingBits struct {
	*memstore.Store
	sets, gets atomic.Int64
	broken     atomic.Bool
}

func newCountingBits(sizeBits uint64) *countingBits {
	return &countingBits{Store: memstore.New(sizeBits)}
}

func (c *countingBits) SetBit(ctx context.Context, key string, offset uint64) error {
	c.sets.Add(1)
	if c.broken.Load() {
		return errBroken
	}
	return c.Store.SetBit(ctx, key, offset)
}

func (c *countingBits) GetBit(ctx context.Context, key string, offset uint64) (bool, error) {
	c.gets.Add(1)
	if c.broken.Load() {
		return false, errBroken
	}
	return c.Store.GetBit(ctx, key, offset)
}

// bitsOnly hides the BitDumper methods of a store.
type bitsOnly struct {
	gloomtier.BitStore
}

func newFilter(m uint64, k uint32, store gloomtier.BitStore) *gloomtier.Filter {
	f, err := gloomtier.NewFilter(gloomtier.FilterConfig{SizeBits: m, HashCount: k, Key: "bf"}, store)
	if err != nil {
		panic(err)
	}
	return f
}
