// Package index stores embedded project data and answers similarity
// queries. The core index is a brute-force cosine scan, which is exact
// and fast enough for the expected project sizes; an optional hybrid
// layer adds BM25 text search on top.
package index

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"github.com/contexhq/contex/pkg/embedding"
)

// Entry is one indexed item.
type Entry struct {
	Key      string
	Vector   []float32
	Payload  any
	Sequence int64
}

// Result is a single search hit.
type Result struct {
	Key        string
	Similarity float64
	Payload    any
	Sequence   int64
}

// Index holds the entries of one project.
type Index struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty index.
func New() *Index {
	return &Index{entries: make(map[string]Entry)}
}

// Upsert stores an entry, replacing any prior entry with the same key.
func (ix *Index) Upsert(key string, vector []float32, payload any, seq int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[key] = Entry{Key: key, Vector: vector, Payload: payload, Sequence: seq}
}

// Get returns the entry for key.
func (ix *Index) Get(key string) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[key]
	return e, ok
}

// Delete removes key and reports whether it was present.
func (ix *Index) Delete(key string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.entries[key]
	delete(ix.entries, key)
	return ok
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Reset drops all entries.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = make(map[string]Entry)
}

// All returns every entry ordered by key.
func (ix *Index) All() []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entries := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.Key, b.Key)
	})
	return entries
}

// Search returns the k entries most similar to query, ordered by
// descending cosine similarity. Equal scores are ordered by key so
// results are stable across runs.
func (ix *Index) Search(query []float32, k int) []Result {
	if k <= 0 {
		return nil
	}

	ix.mu.RLock()
	results := make([]Result, 0, len(ix.entries))
	for _, e := range ix.entries {
		results = append(results, Result{
			Key:        e.Key,
			Similarity: embedding.Cosine(query, e.Vector),
			Payload:    e.Payload,
			Sequence:   e.Sequence,
		})
	}
	ix.mu.RUnlock()

	slices.SortFunc(results, func(a, b Result) int {
		return cmp.Or(
			cmp.Compare(b.Similarity, a.Similarity),
			strings.Compare(a.Key, b.Key),
		)
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}
