package gloomtier_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jcalabro/gloomtier"
	"github.com/jcalabro/gloomtier/memstore"
	"github.com/jcalabro/gloomtier/userstore"
)

// This example demonstrates basic filter usage over an in-process bit store.
func Example() {
	ctx := context.Background()

	cfg := gloomtier.FilterConfig{SizeBits: 1000, HashCount: 3, Key: "username_bloom_filter"}
	f, err := gloomtier.NewFilter(cfg, memstore.New(cfg.SizeBits))
	if err != nil {
		panic(err)
	}

	if err := f.Add(ctx, "alice"); err != nil {
		panic(err)
	}

	alice, _ := f.MightContain(ctx, "alice")
	bob, _ := f.MightContain(ctx, "bob")
	fmt.Println("alice positions:", f.Positions("alice"))
	fmt.Println("alice:", alice) // true (added)
	fmt.Println("bob:", bob)     // false (never added)

	// Output:
	// alice positions: [893 821 380]
	// alice: true
	// bob: false
}

// This example answers availability questions with the filter in front of a
// SQLite user table.
func Example_tiered() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "gloomtier-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	users, err := userstore.Open(userstore.PoolConfig{Path: filepath.Join(dir, "users.db")})
	if err != nil {
		panic(err)
	}
	defer users.Close()
	if err := users.Initialize(ctx); err != nil {
		panic(err)
	}

	f, err := gloomtier.NewFilter(gloomtier.DefaultConfig(), memstore.New(gloomtier.DefaultSizeBits))
	if err != nil {
		panic(err)
	}
	checker, err := gloomtier.NewChecker(f, users)
	if err != nil {
		panic(err)
	}

	res, _ := checker.CheckAvailability(ctx, "bob")
	fmt.Printf("bob available=%v via %s\n", res.Available, res.ResolvedBy)

	created, _ := checker.RegisterValue(ctx, "bob", gloomtier.Metadata{})
	fmt.Println("registered bob:", created)

	res, _ = checker.CheckAvailability(ctx, "bob")
	fmt.Printf("bob available=%v via %s\n", res.Available, res.ResolvedBy)

	created, _ = checker.RegisterValue(ctx, "bob", gloomtier.Metadata{})
	fmt.Println("registered bob again:", created)

	// Output:
	// bob available=true via fast
	// registered bob: true
	// bob available=false via slow
	// registered bob again: false
}

// This example loads a dataset before serving.
func ExampleSeeder_LoadAll() {
	ctx := context.Background()

	f, err := gloomtier.NewFilter(gloomtier.FilterConfig{SizeBits: 1000, HashCount: 3, Key: "bf"}, memstore.New(1000))
	if err != nil {
		panic(err)
	}
	checker, err := gloomtier.NewChecker(f, newMapAuth())
	if err != nil {
		panic(err)
	}

	email := "alice@example.com"
	records := []gloomtier.Record{
		{Username: "alice", Email: &email},
		{Username: "bob"},
		{Username: ""}, // skipped
		{Username: "alice"},
	}

	report, err := gloomtier.NewSeeder(checker).LoadAll(ctx, records)
	if err != nil {
		panic(err)
	}
	fmt.Printf("registered=%d existing=%d skipped=%d failed=%d\n",
		report.Registered, report.Existing, report.Skipped, report.Failed)

	// Output:
	// registered=2 existing=1 skipped=1 failed=0
}

// This example sizes a filter for an expected number of usernames.
func ExampleOptimalParams() {
	m, k, bitsPerItem := gloomtier.OptimalParams(1_000_000, 0.01)
	fmt.Printf("m=%d k=%d bits/item=%.2f\n", m, k, bitsPerItem)

	fp := gloomtier.EstimateFalsePositiveRate(gloomtier.DefaultSizeBits, gloomtier.DefaultHashCount, 1_000_000)
	fmt.Printf("default filter at 1M usernames: %.4f%%\n", fp*100)

	// Output:
	// m=9585059 k=7 bits/item=9.59
	// default filter at 1M usernames: 0.8194%
}
