package downloader

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"blog_vault/internal/control"
	"blog_vault/internal/domain"
)

// RunnerConfig carries the global settings one multi-blog run needs.
type RunnerConfig struct {
	GlobalParallel int
	Preview        bool
	QueueSize      int
}

// Runner starts one Coordinator per blog. All jobs share the control
// signals and split the global download budget evenly.
type Runner struct {
	cfg      RunnerConfig
	src      Source
	transfer Transferer
	store    IndexStore
	states   CrawlStates
	appender Appender
	sink     Sink
	ctrl     *control.Control
	logger   *slog.Logger
}

func NewRunner(
	cfg RunnerConfig,
	src Source,
	transferer Transferer,
	store IndexStore,
	states CrawlStates,
	appender Appender,
	sink Sink,
	ctrl *control.Control,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		cfg:      cfg,
		src:      src,
		transfer: transferer,
		store:    store,
		states:   states,
		appender: appender,
		sink:     sink,
		ctrl:     ctrl,
		logger:   logger,
	}
}

// Run backs up every blog concurrently and reports whether all jobs
// succeeded.
func (r *Runner) Run(ctx context.Context, blogs []domain.Blog) bool {
	if len(blogs) == 0 {
		return true
	}

	allOK := atomic.Bool{}
	allOK.Store(true)

	var wg sync.WaitGroup
	for _, blog := range blogs {
		wg.Add(1)
		go func(blog domain.Blog) {
			defer wg.Done()
			if !r.runBlog(ctx, blog, len(blogs)) {
				allOK.Store(false)
			}
		}(blog)
	}
	wg.Wait()

	return allOK.Load()
}

func (r *Runner) runBlog(ctx context.Context, blog domain.Blog, activeJobs int) bool {
	total, err := r.src.TotalExpected(ctx, blog)
	if err != nil {
		r.logger.Error("query expected item count", "blog", blog.Name, "error", err)
		return false
	}

	coord := NewCoordinator(blog, Options{
		GlobalParallel: r.cfg.GlobalParallel,
		ActiveJobs:     activeJobs,
		Preview:        r.cfg.Preview,
		TotalExpected:  total,
	}, r.transfer, r.store, r.appender, r.sink, r.ctrl, r.logger)

	posts := make(chan domain.Post, r.cfg.QueueSize)
	go func() {
		defer close(posts)
		if err := r.src.Stream(ctx, blog, posts); err != nil {
			r.logger.Error("post source stopped early", "blog", blog.Name, "error", err)
		}
	}()

	start := time.Now()
	ok := coord.Run(ctx, posts)
	r.recordState(ctx, blog, coord)

	stats := coord.Stats(ok, time.Since(start))
	r.logger.Info("blog run finished",
		"blog", stats.BlogName,
		"downloaded", stats.Downloaded,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
		"success", stats.Succeeded,
		"duration", stats.Duration,
	)
	return ok
}

func (r *Runner) recordState(ctx context.Context, blog domain.Blog, coord *Coordinator) {
	// Persist statistics even when the run was cancelled.
	ctx = context.WithoutCancel(ctx)

	state, err := r.states.Get(ctx, blog.Name)
	if err != nil {
		r.logger.Warn("load crawl state", "blog", blog.Name, "error", err)
		return
	}

	state.LastCrawledAt = time.Now().UTC()
	state.TotalDownloaded += coord.Counters().Aggregate()

	if err := r.states.Update(ctx, state); err != nil {
		r.logger.Warn("update crawl state", "blog", blog.Name, "error", err)
	}
}
