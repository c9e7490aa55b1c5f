package domain

import "time"

// Blog holds the static per-blog configuration for one backup run.
type Blog struct {
	Name string
	URL  string
	Dir  string

	// URLListOnly writes discovered URLs to a manifest instead of
	// downloading binary payloads.
	URLListOnly bool

	// CheckDirectory treats a file already present in the download
	// directory as downloaded, independently of the dedup index.
	CheckDirectory bool

	// Tags restricts the run to posts carrying at least one of these
	// tags. Empty means no filtering.
	Tags []string
}

// CrawlState is the persisted per-blog record updated after every run.
type CrawlState struct {
	ID              int64     `db:"id"`
	BlogName        string    `db:"blog_name"`
	LastCrawledAt   time.Time `db:"last_crawled_at"`
	TotalDownloaded int64     `db:"total_downloaded"`
}
