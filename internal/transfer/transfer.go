// Package transfer performs single binary downloads. Interrupted
// transfers resume from the size already on disk instead of starting
// over, and failures are classified into the taxonomy the download
// engine acts on.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrDiskFull means the local volume ran out of space. This is the
	// only failure that escalates beyond a single item.
	ErrDiskFull = errors.New("disk full")

	// ErrFileBusy means another worker already holds the target open.
	// Callers treat it as success on the assumption the concurrent
	// writer produces the artifact.
	ErrFileBusy = errors.New("target file busy")

	// ErrRemote means the server rejected the request permanently
	// (status 400-599). The partial file has already been removed.
	ErrRemote = errors.New("remote rejected request")
)

type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Client downloads one URL to one target path at a time per target.
type Client struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		userAgent:  cfg.UserAgent,
		logger:     logger.With("component", "transfer"),
		inflight:   make(map[string]struct{}),
	}
}

// Fetch downloads url into target, appending to a partial file left by
// an earlier attempt. On success the file size equals the size reported
// by the server. Errors match the package sentinels where classifiable;
// anything else is transient.
func (c *Client) Fetch(ctx context.Context, url, target string) error {
	if !c.claim(target) {
		return fmt.Errorf("%s: %w", target, ErrFileBusy)
	}
	defer c.release(target)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return classifyWrite(err)
	}

	offset := existingSize(target)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http fetch: %w", err)
	}
	defer resp.Body.Close()

	return c.consume(resp, target, offset)
}

func (c *Client) consume(resp *http.Response, target string, offset int64) error {
	var total int64 = -1

	switch {
	case resp.StatusCode == http.StatusOK:
		// Server ignored the range request; start over.
		offset = 0
		total = resp.ContentLength

	case resp.StatusCode == http.StatusPartialContent:
		total = contentRangeTotal(resp.Header.Get("Content-Range"))

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// The partial file already covers the full entity.
		c.logger.Debug("file already complete", "target", target, "size", offset)
		return nil

	case resp.StatusCode >= 400 && resp.StatusCode <= 599:
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("remove partial file", "target", target, "error", err)
		}
		return fmt.Errorf("status %d: %w", resp.StatusCode, ErrRemote)

	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	written, err := appendBody(target, resp.Body, offset)
	if err != nil {
		return classifyWrite(err)
	}

	size := offset + written
	if total >= 0 && size != total {
		return fmt.Errorf("short transfer: have %d of %d bytes", size, total)
	}

	c.logger.Debug("transfer complete", "target", target, "bytes", size)
	return nil
}

func appendBody(target string, body io.Reader, offset int64) (int64, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if offset == 0 {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	f, err := os.OpenFile(target, flags, 0o644)
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return written, err
}

func existingSize(target string) int64 {
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		return 0
	}
	return info.Size()
}

// contentRangeTotal parses the total length out of a Content-Range
// header like "bytes 100-999/1000". Unknown totals yield -1.
func contentRangeTotal(header string) int64 {
	i := strings.LastIndexByte(header, '/')
	if i < 0 {
		return -1
	}
	total, err := strconv.ParseInt(header[i+1:], 10, 64)
	if err != nil {
		return -1
	}
	return total
}

func classifyWrite(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%v: %w", err, ErrDiskFull)
	}
	return err
}

func (c *Client) claim(target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[target]; busy {
		return false
	}
	c.inflight[target] = struct{}{}
	return true
}

func (c *Client) release(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, target)
}
