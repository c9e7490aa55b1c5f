// Package index holds the per-blog set of already-downloaded keys.
// Keys are derived filenames for binary posts and post ids for text
// posts. The set is sharded so concurrent workers touching unrelated
// keys never contend on one lock.
package index

import (
	"hash/fnv"
	"sync"
)

const shardCount = 16

type shard struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// Index is a concurrency-safe set of dedup keys.
type Index struct {
	shards [shardCount]*shard
}

func New() *Index {
	idx := &Index{}
	for i := range idx.shards {
		idx.shards[i] = &shard{keys: make(map[string]struct{})}
	}
	return idx
}

// FromKeys builds an index pre-populated with keys from a prior run.
func FromKeys(keys []string) *Index {
	idx := New()
	for _, k := range keys {
		idx.Insert(k)
	}
	return idx
}

func (idx *Index) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return idx.shards[h.Sum32()%shardCount]
}

func (idx *Index) Contains(key string) bool {
	s := idx.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok
}

func (idx *Index) Insert(key string) {
	s := idx.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = struct{}{}
}

// TryInsert inserts the key and reports whether it was absent. Check
// and insert happen under one lock, so exactly one of any number of
// concurrent callers wins for a given key.
func (idx *Index) TryInsert(key string) bool {
	s := idx.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

func (idx *Index) Len() int {
	n := 0
	for _, s := range idx.shards {
		s.mu.RLock()
		n += len(s.keys)
		s.mu.RUnlock()
	}
	return n
}

// Keys returns a snapshot of all keys, in no particular order.
func (idx *Index) Keys() []string {
	out := make([]string, 0, idx.Len())
	for _, s := range idx.shards {
		s.mu.RLock()
		for k := range s.keys {
			out = append(out, k)
		}
		s.mu.RUnlock()
	}
	return out
}
