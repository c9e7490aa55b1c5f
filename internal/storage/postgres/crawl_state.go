package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"blog_vault/internal/domain"
)

type CrawlStateStore struct {
	db *sqlx.DB
}

func NewCrawlStateStore(db *sqlx.DB) *CrawlStateStore {
	return &CrawlStateStore{db: db}
}

func (s *CrawlStateStore) Get(ctx context.Context, blogName string) (*domain.CrawlState, error) {
	var state domain.CrawlState
	query := `
		SELECT id, blog_name, last_crawled_at, total_downloaded
		FROM crawl_state
		WHERE blog_name = $1`

	err := s.db.GetContext(ctx, &state, query, blogName)
	if errors.Is(err, sql.ErrNoRows) {
		// Return empty state for blogs never crawled before
		return &domain.CrawlState{
			BlogName:      blogName,
			LastCrawledAt: time.Time{},
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *CrawlStateStore) Update(ctx context.Context, state *domain.CrawlState) error {
	query := `
		INSERT INTO crawl_state (blog_name, last_crawled_at, total_downloaded)
		VALUES ($1, $2, $3)
		ON CONFLICT (blog_name) DO UPDATE SET
			last_crawled_at = EXCLUDED.last_crawled_at,
			total_downloaded = EXCLUDED.total_downloaded`

	_, err := s.db.ExecContext(ctx, query,
		state.BlogName,
		state.LastCrawledAt,
		state.TotalDownloaded,
	)
	return err
}
