// Command gloomstat inspects and moves the bit array behind a gloomtier
// filter.
//
//	gloomstat [options] stats             fill ratio and false positive estimate
//	gloomstat [options] export FILE       write a compressed snapshot
//	gloomstat [options] import FILE       merge a snapshot into the store
//	gloomstat params --items N --fp P     size a filter for N items
//
// The bit store is selected with the same options and environment variables
// as gloomtierd.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/decred/slog"
	flags "github.com/jessevdk/go-flags"

	"github.com/jcalabro/gloomtier"
	"github.com/jcalabro/gloomtier/internal/backend"
	"github.com/jcalabro/gloomtier/leveldbstore"
	"github.com/jcalabro/gloomtier/redisstore"
)

type options struct {
	Size       uint64          `long:"bloom.size" env:"BLOOM_FILTER_SIZE" default:"10000000" description:"Number of bits in the filter (m)"`
	Hashes     uint32          `long:"bloom.hashes" env:"BLOOM_FILTER_HASH_COUNT" default:"7" description:"Number of hash positions per value (k)"`
	Key        string          `long:"bloom.key" env:"BLOOM_FILTER_KEY" default:"username_bloom_filter" description:"Key of the bit array in the bit store"`
	DebugLevel string          `short:"d" long:"loglevel" default:"warn" description:"Logging level {trace, debug, info, warn, error, critical}"`
	BitStore   backend.Options `group:"Bit store"`
}

var (
	opts options
	out  io.Writer = os.Stdout
	log            = slog.NewBackend(os.Stderr).Logger("STAT")
)

// openFilter opens the configured store and the filter over it.
func openFilter(ctx context.Context) (*gloomtier.Filter, io.Closer, error) {
	cfg := gloomtier.FilterConfig{SizeBits: opts.Size, HashCount: opts.Hashes, Key: opts.Key}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	store, closer, err := backend.Open(ctx, &opts.BitStore, cfg.SizeBits)
	if err != nil {
		return nil, nil, err
	}
	f, err := gloomtier.NewFilter(cfg, store)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return f, closer, nil
}

type statsCmd struct {
	JSON bool `long:"json" description:"Print the statistics as JSON"`
}

func (c *statsCmd) Execute([]string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	f, closer, err := openFilter(ctx)
	if err != nil {
		return err
	}
	defer closer.Close()

	stats, err := f.Stats(ctx)
	if err != nil {
		return err
	}
	return printStats(out, stats, c.JSON)
}

func printStats(w io.Writer, s gloomtier.FilterStats, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	fmt.Fprintf(w, "size:            %d bits (%d bytes)\n", s.SizeBits, (s.SizeBits+7)/8)
	fmt.Fprintf(w, "hash positions:  %d\n", s.HashCount)
	fmt.Fprintf(w, "bits set:        %d (%.4f%%)\n", s.SetBits, s.FillRatio*100)
	if s.Saturated {
		fmt.Fprintf(w, "estimated items: saturated\n")
	} else {
		fmt.Fprintf(w, "estimated items: %.0f\n", s.EstimatedItems)
	}
	_, err := fmt.Fprintf(w, "false positives: %.6f%%\n", s.EstimatedFalsePositiveRate*100)
	return err
}

type exportCmd struct {
	Args struct {
		File string `positional-arg-name:"FILE" required:"yes"`
	} `positional-args:"yes"`
}

func (c *exportCmd) Execute([]string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	f, closer, err := openFilter(ctx)
	if err != nil {
		return err
	}
	defer closer.Close()

	s, err := f.Snapshot(ctx)
	if err != nil {
		return err
	}
	n, err := writeSnapshotFile(c.Args.File, s)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%d bytes, %d bits set)\n", c.Args.File, n, s.Stats().SetBits)
	return nil
}

type importCmd struct {
	Args struct {
		File string `positional-arg-name:"FILE" required:"yes"`
	} `positional-args:"yes"`
}

func (c *importCmd) Execute([]string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := readSnapshotFile(c.Args.File)
	if err != nil {
		return err
	}

	f, closer, err := openFilter(ctx)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := f.Restore(ctx, s); err != nil {
		return err
	}
	fmt.Fprintf(out, "merged %s into %q\n", c.Args.File, opts.Key)
	return nil
}

type paramsCmd struct {
	Items uint64  `long:"items" required:"yes" description:"Expected number of values"`
	FP    float64 `long:"fp" default:"0.01" description:"Target false positive rate"`
}

func (c *paramsCmd) Execute([]string) error {
	m, k, perItem := gloomtier.OptimalParams(c.Items, c.FP)
	refM, refK := bloom.EstimateParameters(uint(c.Items), c.FP)

	fmt.Fprintf(out, "m=%d bits (%.2f MiB) k=%d bits/item=%.2f\n",
		m, float64(m)/8/(1<<20), k, perItem)
	fmt.Fprintf(out, "estimated false positive rate at %d items: %.6f%%\n",
		c.Items, gloomtier.EstimateFalsePositiveRate(m, k, c.Items)*100)
	fmt.Fprintf(out, "bits-and-blooms/bloom suggests m=%d k=%d\n", refM, refK)
	return nil
}

func newParser() *flags.Parser {
	parser := flags.NewParser(&opts, flags.Default)
	parser.AddCommand("stats", "Show filter occupancy",
		"Reads the whole bit array and reports its fill ratio, the number of values it implies, and the false positive rate.",
		&statsCmd{})
	parser.AddCommand("export", "Write a compressed snapshot",
		"Copies the bit array and its parameters into a zstd-compressed snapshot file.",
		&exportCmd{})
	parser.AddCommand("import", "Merge a snapshot into the store",
		"Ors the bits of a snapshot file into the bit array. Parameters must match.",
		&importCmd{})
	parser.AddCommand("params", "Size a filter",
		"Computes m and k for an expected number of values and false positive rate.",
		&paramsCmd{})
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		level, ok := slog.LevelFromString(opts.DebugLevel)
		if !ok {
			return fmt.Errorf("the specified debug level [%v] is invalid", opts.DebugLevel)
		}
		log.SetLevel(level)
		return cmd.Execute(args)
	}
	return parser
}

func init() {
	gloomtier.UseLogger(log)
	redisstore.UseLogger(log)
	leveldbstore.UseLogger(log)
}

func main() {
	if _, err := newParser().Parse(); err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		// The parser has already printed err.
		os.Exit(1)
	}
}
