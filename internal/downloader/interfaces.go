package downloader

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"blog_vault/internal/domain"
)

// Transferer performs one resumable binary download.
type Transferer interface {
	Fetch(ctx context.Context, url, target string) error
}

// IndexStore persists a blog's dedup keys across runs.
type IndexStore interface {
	Load(ctx context.Context, blogName string) ([]string, error)
	Save(ctx context.Context, blogName string, keys []string) error
}

// Appender writes one line to a per-category text file.
type Appender interface {
	AppendLine(path, line string) error
}

// Sink receives formatted progress events. Implementations never
// block and never fail the caller.
type Sink interface {
	Publish(event string)
}

// Source is the discovery boundary: it streams post descriptors for
// one blog into the given channel and reports the expected item count
// up front. The runner closes the channel once Stream returns.
type Source interface {
	TotalExpected(ctx context.Context, blog domain.Blog) (int64, error)
	Stream(ctx context.Context, blog domain.Blog, out chan<- domain.Post) error
}

// CrawlStates records per-blog run statistics.
type CrawlStates interface {
	Get(ctx context.Context, blogName string) (*domain.CrawlState, error)
	Update(ctx context.Context, state *domain.CrawlState) error
}
