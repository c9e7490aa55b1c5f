package downloader

import (
	"math"
	"sync/atomic"

	"blog_vault/internal/domain"
)

const postTypeCount = int(domain.TypeAudioMeta) + 1

// CounterSet tracks one counter per post type plus the aggregate and
// the derived completion percentage. Every update is atomic so any
// number of workers may increment concurrently; the aggregate always
// equals the sum of the typed counters once the workers are done.
type CounterSet struct {
	typed         [postTypeCount]atomic.Int64
	aggregate     atomic.Int64
	percent       atomic.Int64
	totalExpected int64
}

func NewCounterSet(totalExpected int64) *CounterSet {
	return &CounterSet{totalExpected: totalExpected}
}

// Increment bumps the typed counter, then the aggregate, then
// recomputes the percentage.
func (c *CounterSet) Increment(t domain.PostType) {
	c.typed[t].Add(1)
	agg := c.aggregate.Add(1)
	c.percent.Store(percentOf(agg, c.totalExpected))
}

func (c *CounterSet) Count(t domain.PostType) int64 {
	return c.typed[t].Load()
}

func (c *CounterSet) Aggregate() int64 {
	return c.aggregate.Load()
}

// Percent returns the completion percentage, 0 when the expected
// total is unknown.
func (c *CounterSet) Percent() int64 {
	return c.percent.Load()
}

// Snapshot returns a consistent-enough copy for observers; individual
// values are read atomically.
func (c *CounterSet) Snapshot() map[domain.PostType]int64 {
	snap := make(map[domain.PostType]int64, postTypeCount)
	for i := 0; i < postTypeCount; i++ {
		snap[domain.PostType(i)] = c.typed[i].Load()
	}
	return snap
}

func percentOf(done, total int64) int64 {
	if total <= 0 {
		return 0
	}
	return int64(math.Round(float64(done) / float64(total) * 100))
}
