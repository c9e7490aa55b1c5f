// Package textfile appends single lines to per-category files. Text
// posts and URL manifests share it. A lock per target file keeps each
// append atomic without serializing unrelated categories.
package textfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Appender struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAppender() *Appender {
	return &Appender{locks: make(map[string]*sync.Mutex)}
}

func (a *Appender) lockFor(path string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[path]
	if !ok {
		l = &sync.Mutex{}
		a.locks[path] = l
	}
	return l
}

// AppendLine writes one line to path, creating the file and its
// directory as needed.
func (a *Appender) AppendLine(path, line string) error {
	l := a.lockFor(path)
	l.Lock()
	defer l.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	_, err = f.WriteString(line)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return nil
}
