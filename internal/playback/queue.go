package playback

import (
	"path/filepath"
	"sort"
	"sync"
)

// Queue holds discovered files ordered by file name, independent of the
// order in which they were discovered.
type Queue struct {
	mu      sync.Mutex
	entries []string
	pending map[string]struct{}
}

func NewQueue() *Queue {
	return &Queue{pending: make(map[string]struct{})}
}

func less(a, b string) bool {
	na, nb := filepath.Base(a), filepath.Base(b)
	if na != nb {
		return na < nb
	}
	return a < b
}

// Push inserts path in sorted position. A path that is already pending is
// ignored and Push returns false.
func (q *Queue) Push(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[path]; ok {
		return false
	}
	i := sort.Search(len(q.entries), func(i int) bool { return !less(q.entries[i], path) })
	q.entries = append(q.entries, "")
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = path
	q.pending[path] = struct{}{}
	return true
}

// Pop removes and returns the smallest pending path.
func (q *Queue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return "", false
	}
	path := q.entries[0]
	q.entries[0] = ""
	q.entries = q.entries[1:]
	delete(q.pending, path)
	return path, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
