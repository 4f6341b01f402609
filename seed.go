package gloomtier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"
)

// ErrPartialSeed is returned by LoadAll when at least one record could not be
// registered. The accompanying SeedReport says how many.
var ErrPartialSeed = errors.New("gloomtier: partial seed failure")

// maxSeedErrors caps how many individual record errors LoadAll carries in
// its returned error.
const maxSeedErrors = 5

// SeedReport summarizes one LoadAll run.
type SeedReport struct {
	Total      int // records offered
	Registered int // newly inserted into the authoritative store
	Existing   int // already present in the authoritative store
	Skipped    int // records without an identifier
	Failed     int // records whose registration returned an error
}

// Processed returns the number of records that reached a final state
// without error.
func (r SeedReport) Processed() int {
	return r.Registered + r.Existing + r.Skipped
}

// Seeder bulk-loads a known dataset into both the filter and the
// authoritative store of a Checker.
//
// LoadAll must finish before the Checker serves traffic: until every existing
// value has been added, the filter can wrongly report taken values as
// definitely absent.
type Seeder struct {
	checker  *Checker
	workers  int
	progress *seedProgress
}

// SeederOption configures a Seeder.
type SeederOption func(*Seeder)

// WithSeedWorkers sets how many records are registered concurrently. Values
// below 1 mean 1, which registers records strictly in order.
func WithSeedWorkers(n int) SeederOption {
	return func(s *Seeder) {
		s.workers = max(n, 1)
	}
}

// WithSeedLogger sets the logger that receives periodic progress messages.
func WithSeedLogger(logger slog.Logger) SeederOption {
	return func(s *Seeder) {
		s.progress = newSeedProgress(logger)
	}
}

// NewSeeder returns a Seeder that registers values through checker.
func NewSeeder(checker *Checker, opts ...SeederOption) *Seeder {
	s := &Seeder{
		checker:  checker,
		workers:  1,
		progress: newSeedProgress(log),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadAll registers every record with a non-empty identifier.
//
// A failing record does not stop the rest of the batch. When any record
// fails, the returned error wraps ErrPartialSeed and the first few record
// errors; the report is always complete. Running LoadAll again with the same
// records is safe and leaves both stores unchanged.
//
// Cancelling ctx stops dispatching new records; records not dispatched are
// counted as failed.
func (s *Seeder) LoadAll(ctx context.Context, records []Record) (SeedReport, error) {
	var (
		registered, existing, skipped, failed atomic.Int64

		errMtx  sync.Mutex
		errList []error
	)
	recordErr := func(err error) {
		failed.Add(1)
		errMtx.Lock()
		if len(errList) < maxSeedErrors {
			errList = append(errList, err)
		}
		errMtx.Unlock()
	}

	start := time.Now()
	g := new(errgroup.Group)
	g.SetLimit(s.workers)

	dispatched := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		dispatched++

		if rec.Username == "" {
			skipped.Add(1)
			continue
		}

		g.Go(func() error {
			created, err := s.checker.RegisterValue(ctx, rec.Username, rec.Metadata())
			switch {
			case errors.Is(err, ErrInvalidInput):
				skipped.Add(1)
			case err != nil:
				recordErr(fmt.Errorf("seed %q: %w", rec.Username, err))
			case created:
				registered.Add(1)
			default:
				existing.Add(1)
			}
			s.progress.logProgress(err == nil, false)
			return nil
		})
	}
	_ = g.Wait()

	if undispatched := len(records) - dispatched; undispatched > 0 {
		failed.Add(int64(undispatched))
		errList = append(errList, fmt.Errorf("seed aborted with %d records remaining: %w",
			undispatched, ctx.Err()))
	}
	s.progress.logProgress(true, true)

	report := SeedReport{
		Total:      len(records),
		Registered: int(registered.Load()),
		Existing:   int(existing.Load()),
		Skipped:    int(skipped.Load()),
		Failed:     int(failed.Load()),
	}
	log.Infof("Seeded %d %s in %v (%d new, %d existing, %d skipped, %d failed)",
		report.Total, pickNoun(uint64(report.Total), "record", "records"),
		time.Since(start).Truncate(time.Millisecond),
		report.Registered, report.Existing, report.Skipped, report.Failed)

	if report.Failed > 0 {
		return report, fmt.Errorf("%w: %d of %d records failed: %w", ErrPartialSeed,
			report.Failed, report.Total, errors.Join(errList...))
	}
	return report, nil
}

// pickNoun returns the singular or plural form of a noun depending on the
// provided count.
func pickNoun(n uint64, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

// seedProgress provides periodic logging of seeding progress.
type seedProgress struct {
	sync.Mutex
	logger slog.Logger

	// lastLogTime tracks the last time a log statement was shown.
	lastLogTime time.Time

	// These fields accumulate between log statements.
	ok, failed uint64
}

func newSeedProgress(logger slog.Logger) *seedProgress {
	return &seedProgress{
		logger:      logger,
		lastLogTime: time.Now(),
	}
}

// logProgress accumulates one record and logs an information message every
// 10 seconds. The force flag logs whatever has accumulated immediately.
func (p *seedProgress) logProgress(ok, force bool) {
	p.Lock()
	defer p.Unlock()

	if !force {
		if ok {
			p.ok++
		} else {
			p.failed++
		}
	}
	now := time.Now()
	duration := now.Sub(p.lastLogTime)
	if !force && duration < time.Second*10 {
		return
	}
	if p.ok == 0 && p.failed == 0 {
		return
	}

	p.logger.Infof("Seeded %d %s in the last %0.2fs (%d failed)", p.ok,
		pickNoun(p.ok, "record", "records"), duration.Seconds(), p.failed)

	p.ok = 0
	p.failed = 0
	p.lastLogTime = now
}
