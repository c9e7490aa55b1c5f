// Package source implements the discovery boundary: it pages a blog's
// JSON feed and turns entries into post descriptors for the download
// engine. Parsing here is deliberately thin; the engine does not care
// where descriptors come from.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"blog_vault/internal/domain"
)

type Config struct {
	PageSize  int
	Timeout   time.Duration
	UserAgent string
}

type Client struct {
	httpClient *http.Client
	pageSize   int
	userAgent  string
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		pageSize:   cfg.PageSize,
		userAgent:  cfg.UserAgent,
		logger:     logger.With("component", "source"),
	}
}

// TotalExpected asks the feed for the blog's total post count.
func (c *Client) TotalExpected(ctx context.Context, blog domain.Blog) (int64, error) {
	resp, err := c.fetchPage(ctx, blog, 0, 1)
	if err != nil {
		return 0, fmt.Errorf("fetch post count: %w", err)
	}
	return resp.TotalPosts, nil
}

// Stream pages through the feed and sends every descriptor to out.
// The caller owns the channel and closes it after Stream returns.
func (c *Client) Stream(ctx context.Context, blog domain.Blog, out chan<- domain.Post) error {
	for start := 0; ; start += c.pageSize {
		resp, err := c.fetchPage(ctx, blog, start, c.pageSize)
		if err != nil {
			return fmt.Errorf("fetch page at %d: %w", start, err)
		}
		if len(resp.Posts) == 0 {
			return nil
		}

		c.logger.Debug("fetched page",
			"blog", blog.Name,
			"start", start,
			"posts", len(resp.Posts),
		)

		for _, p := range resp.Posts {
			post, ok := transform(p)
			if !ok {
				c.logger.Debug("unsupported post type", "type", p.Type, "id", p.ID)
				continue
			}
			select {
			case out <- post:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if int64(start+len(resp.Posts)) >= resp.TotalPosts {
			return nil
		}
	}
}

func (c *Client) fetchPage(ctx context.Context, blog domain.Blog, start, num int) (*apiResponse, error) {
	url := fmt.Sprintf("%s/api/read/json?start=%d&num=%d", blog.URL, start, num)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &apiResp, nil
}

var typeByName = map[string]domain.PostType{
	"photo":        domain.TypePhoto,
	"video":        domain.TypeVideo,
	"audio":        domain.TypeAudio,
	"regular":      domain.TypeText,
	"quote":        domain.TypeQuote,
	"link":         domain.TypeLink,
	"conversation": domain.TypeConversation,
	"answer":       domain.TypeAnswer,
}

func transform(p apiPost) (domain.Post, bool) {
	t, ok := typeByName[p.Type]
	if !ok {
		return domain.Post{}, false
	}

	url := p.URL
	switch t {
	case domain.TypePhoto:
		url = p.PhotoURL
	case domain.TypeVideo:
		if p.VideoURL != "" {
			url = p.VideoURL
		}
	case domain.TypeAudio:
		if p.AudioURL != "" {
			url = p.AudioURL
		}
	}

	return domain.Post{
		ID:        p.ID,
		URL:       url,
		Timestamp: p.UnixTimestamp,
		Type:      t,
		Tags:      p.Tags,
	}, true
}
