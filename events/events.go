// Package events produces the demo activity stream served next to the
// membership checker. It shares no state with the checker.
package events

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// DefaultInterval is the delay between events.
const DefaultInterval = 2 * time.Second

var (
	topics  = []string{"Global Metrics", "User Activity", "Security Audit", "System Health"}
	sources = []string{"Node-A", "Node-B", "Edge-1"}
)

// Event is one timestamped record of the stream.
type Event struct {
	ID      uuid.UUID `json:"id"`
	Time    time.Time `json:"time"`
	Topic   string    `json:"topic"`
	Message string    `json:"message"`
	Value   int       `json:"value"`
}

// Producer generates events at a fixed interval.
type Producer struct {
	Interval time.Duration

	// Rand is the source of topics and values. Nil uses the global source.
	Rand *rand.Rand

	// Now returns the event time. Nil uses time.Now.
	Now func() time.Time
}

func (p *Producer) intN(n int) int {
	if p.Rand != nil {
		return p.Rand.IntN(n)
	}
	return rand.IntN(n)
}

func (p *Producer) next() Event {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return Event{
		ID:      uuid.New(),
		Time:    now(),
		Topic:   topics[p.intN(len(topics))],
		Message: fmt.Sprintf("New update received from %s", sources[p.intN(len(sources))]),
		Value:   10 + p.intN(91),
	}
}

// Run sends an event to out immediately and then once per interval until ctx
// is done. Run closes out before returning and returns ctx.Err().
func (p *Producer) Run(ctx context.Context, out chan<- Event) error {
	defer close(out)

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case out <- p.next():
		case <-ctx.Done():
			return ctx.Err()
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
