// Package downloader implements the per-blog content download engine:
// it pulls post descriptors off a bounded queue, fetches or appends
// each item under a fixed concurrency budget, deduplicates against
// prior runs and reports progress, while honoring the pause and cancel
// signals shared by all active blog jobs.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"blog_vault/internal/control"
	"blog_vault/internal/domain"
	"blog_vault/internal/index"
	"blog_vault/internal/transfer"
)

// Options fixes the per-run knobs taken from global settings at job
// start.
type Options struct {
	// GlobalParallel is the parallel-download budget shared by every
	// active blog job; ActiveJobs is how many jobs share it. The
	// resulting per-job slot count stays fixed for the whole run.
	GlobalParallel int
	ActiveJobs     int

	// Preview enables the last-downloaded photo/video pointers.
	Preview bool

	// TotalExpected is the item count the discovery side computed for
	// this blog; zero leaves the percentage at zero.
	TotalExpected int64
}

// Coordinator owns one blog job for the duration of one run.
type Coordinator struct {
	blog     domain.Blog
	opts     Options
	transfer Transferer
	store    IndexStore
	appender Appender
	sink     Sink
	ctrl     *control.Control
	logger   *slog.Logger

	idx      *index.Index
	counters *CounterSet
	skipped  atomic.Int64
	errored  atomic.Int64
	faulted  atomic.Bool

	lastPhoto atomic.Pointer[string]
	lastVideo atomic.Pointer[string]
}

func NewCoordinator(
	blog domain.Blog,
	opts Options,
	transferer Transferer,
	store IndexStore,
	appender Appender,
	sink Sink,
	ctrl *control.Control,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		blog:     blog,
		opts:     opts,
		transfer: transferer,
		store:    store,
		appender: appender,
		sink:     sink,
		ctrl:     ctrl,
		logger:   logger.With("blog", blog.Name),
		counters: NewCounterSet(opts.TotalExpected),
	}
}

// slotCount is the static fair share of the global budget.
func (c *Coordinator) slotCount() int {
	jobs := c.opts.ActiveJobs
	if jobs < 1 {
		jobs = 1
	}
	slots := c.opts.GlobalParallel / jobs
	if slots < 1 {
		slots = 1
	}
	return slots
}

// Run drains the descriptor queue until the producer closes it,
// dispatching each item under the slot budget. It reports false when
// an unexpected fault occurred during any item or the index could not
// be loaded or saved; classified item failures are swallowed. The
// dedup index is saved on every exit path, cancellation included.
func (c *Coordinator) Run(ctx context.Context, posts <-chan domain.Post) bool {
	start := time.Now()

	keys, err := c.store.Load(ctx, c.blog.Name)
	if err != nil {
		c.logger.Error("load dedup index", "error", err)
		// Unblock the producer so it can observe the closed run.
		go func() {
			for range posts {
			}
		}()
		return false
	}
	c.idx = index.FromKeys(keys)

	c.logger.Info("job started",
		"known_keys", c.idx.Len(),
		"slots", c.slotCount(),
		"total_expected", c.opts.TotalExpected,
	)

	sem := make(chan struct{}, c.slotCount())
	var wg sync.WaitGroup

	for post := range posts {
		sem <- struct{}{}

		if c.ctrl.Cancelled() {
			<-sem
			break
		}
		if err := c.ctrl.WaitIfPaused(ctx); err != nil {
			<-sem
			break
		}

		wg.Add(1)
		go func(p domain.Post) {
			defer func() {
				if r := recover(); r != nil {
					c.faulted.Store(true)
					c.logger.Error("item fault", "panic", r)
				}
				<-sem
				wg.Done()
			}()
			c.process(ctx, p)
		}(post)
	}

	// After a cancelled exit the producer may still hold descriptors;
	// drain them so it never blocks on a full queue.
	go func() {
		for range posts {
		}
	}()

	wg.Wait()

	c.lastPhoto.Store(nil)
	c.lastVideo.Store(nil)

	// The save must happen even when ctx is already cancelled.
	if err := c.store.Save(context.WithoutCancel(ctx), c.blog.Name, c.idx.Keys()); err != nil {
		c.logger.Error("save dedup index", "error", err)
		c.faulted.Store(true)
	}

	ok := !c.faulted.Load() && !c.ctrl.Fatal()
	c.logger.Info("job finished",
		"downloaded", c.counters.Aggregate(),
		"skipped", c.skipped.Load(),
		"percent", c.counters.Percent(),
		"success", ok,
		"duration", time.Since(start),
	)
	return ok
}

// process handles one descriptor: dedup check, payload action, counter
// and index updates, progress notification. Item failures are
// classified here and never escape, except disk exhaustion which stops
// every active job.
func (c *Coordinator) process(ctx context.Context, post domain.Post) {
	spec, ok := handlers[post.Type]
	if !ok {
		c.logger.Warn("unknown post type", "type", post.Type, "id", post.ID)
		return
	}

	if !post.HasAnyTag(c.blog.Tags) {
		c.skipped.Add(1)
		return
	}

	key := spec.key(post)
	if c.idx.Contains(key) {
		c.skipped.Add(1)
		return
	}

	if spec.binary && c.blog.CheckDirectory && fileExists(targetPath(c.blog, key)) {
		c.skipped.Add(1)
		return
	}

	c.sink.Publish(fmt.Sprintf("%s: downloading %s %s", c.blog.Name, post.Type, key))

	if spec.binary && !c.blog.URLListOnly {
		if !c.fetchBinary(ctx, post, key) {
			return
		}
	} else {
		if !c.appendText(post, spec) {
			return
		}
	}

	// TryInsert decides the winner when two workers raced past the
	// dedup check; only the winner accounts the item.
	if c.idx.TryInsert(key) {
		c.counters.Increment(post.Type)
	}
}

func (c *Coordinator) fetchBinary(ctx context.Context, post domain.Post, key string) bool {
	target := targetPath(c.blog, key)

	err := c.transfer.Fetch(ctx, post.URL, target)
	switch {
	case err == nil:

	case errors.Is(err, transfer.ErrFileBusy):
		// A concurrent worker owns the target and will account for it.
		c.logger.Debug("target busy, assuming concurrent download", "target", target)
		return false

	case errors.Is(err, transfer.ErrDiskFull):
		c.errored.Add(1)
		c.logger.Error("storage exhausted", "target", target, "error", err)
		c.ctrl.StopAll(fmt.Sprintf("disk full while downloading %s for %s", key, c.blog.Name))
		return false

	case errors.Is(err, transfer.ErrRemote):
		c.errored.Add(1)
		c.logger.Debug("remote rejected item", "url", post.URL, "error", err)
		return false

	default:
		c.errored.Add(1)
		c.logger.Warn("transient item failure", "url", post.URL, "error", err)
		return false
	}

	published := post.PublishedAt()
	if err := os.Chtimes(target, published, published); err != nil {
		c.logger.Warn("set file time", "target", target, "error", err)
	}

	c.updatePreview(post.Type, key, target)
	return true
}

func (c *Coordinator) appendText(post domain.Post, spec handlerSpec) bool {
	category := spec.category
	if spec.binary {
		// URL-list mode: binary URLs go into the manifest instead of
		// being transferred.
		category = urlListManifest
	}

	if err := c.appender.AppendLine(categoryPath(c.blog, category), post.URL); err != nil {
		c.errored.Add(1)
		c.logger.Warn("append failed", "category", category, "error", err)
		return false
	}
	return true
}

// updatePreview maintains the most-recently-downloaded pointers. An
// animated image counts as a video preview.
func (c *Coordinator) updatePreview(t domain.PostType, fileName, target string) {
	if !c.opts.Preview {
		return
	}
	switch {
	case t == domain.TypePhoto && isAnimated(fileName):
		c.lastVideo.Store(&target)
	case t == domain.TypePhoto:
		c.lastPhoto.Store(&target)
	case t == domain.TypeVideo:
		c.lastVideo.Store(&target)
	}
}

// LastPhoto returns the path of the most recently downloaded photo, if
// preview is enabled and one completed during the run.
func (c *Coordinator) LastPhoto() (string, bool) {
	p := c.lastPhoto.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

func (c *Coordinator) LastVideo() (string, bool) {
	p := c.lastVideo.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// Counters exposes the run's counter set to observers.
func (c *Coordinator) Counters() *CounterSet {
	return c.counters
}

// Stats summarizes the finished run.
func (c *Coordinator) Stats(succeeded bool, duration time.Duration) domain.CrawlStats {
	return domain.CrawlStats{
		BlogName:   c.blog.Name,
		Downloaded: c.counters.Aggregate(),
		Skipped:    c.skipped.Load(),
		Errors:     c.errored.Load(),
		Succeeded:  succeeded,
		Duration:   duration,
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
