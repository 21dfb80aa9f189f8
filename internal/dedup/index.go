// Package dedup maintains the first-seen posting index for a run.
package dedup

import (
	"sync"

	"github.com/hireworks/jobsift/internal/jobs"
)

// Index collapses postings by dedup key. The first instance of a key wins
// and later duplicates are discarded whole; there is no field merging.
// Add is serialized by a mutex, so concurrent producers resolve every key
// to exactly one winner.
type Index struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []jobs.Posting
}

// NewIndex builds an empty index.
func NewIndex() *Index {
	return &Index{seen: make(map[string]struct{})}
}

// Add inserts p if its key is unseen and reports whether it was added.
func (i *Index) Add(p jobs.Posting) bool {
	key := p.DedupKey()
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, dup := i.seen[key]; dup {
		return false
	}
	i.seen[key] = struct{}{}
	i.order = append(i.order, p)
	return true
}

// Has reports whether the key is already present.
func (i *Index) Has(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.seen[key]
	return ok
}

// Len returns the number of unique postings.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.order)
}

// Postings returns an insertion-ordered snapshot.
func (i *Index) Postings() []jobs.Posting {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]jobs.Posting, len(i.order))
	copy(out, i.order)
	return out
}
