package domain

import "time"

// CrawlStats summarizes one blog run.
type CrawlStats struct {
	BlogName   string
	Downloaded int64
	Skipped    int64
	Errors     int64
	Succeeded  bool
	Duration   time.Duration
}
