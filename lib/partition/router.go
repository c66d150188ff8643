package partition

import (
	"bytes"
	"sync"

	"github.com/zhangyunhao116/skipmap"
)

// Router maps keys to the partitions hosted on this node. Partitions are indexed by start key in a
// concurrent skip list, so lookups run without locks while partitions are added or replaced.
// Writers are serialized.
type Router struct {
	mu      sync.Mutex
	byStart *skipmap.FuncMap[[]byte, Meta]
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		byStart: skipmap.NewFunc[[]byte, Meta](func(a, b []byte) bool {
			return bytes.Compare(a, b) < 0
		}),
	}
}

// Update inserts or replaces the partition. The new entry is stored before any other entry with the
// same id is removed, so a lookup running concurrently never misses a key the partition owns
// before and after the update.
func (r *Router) Update(m Meta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m = m.Clone()
	r.byStart.Store(m.StartKey, m)
	for _, start := range r.startsOf(m.ID) {
		if !bytes.Equal(start, m.StartKey) {
			r.byStart.Delete(start)
		}
	}
}

// Remove drops the partition with the given id.
func (r *Router) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, start := range r.startsOf(id) {
		r.byStart.Delete(start)
	}
}

func (r *Router) startsOf(id uint64) [][]byte {
	var starts [][]byte
	r.byStart.Range(func(start []byte, m Meta) bool {
		if m.ID == id {
			starts = append(starts, start)
		}
		return true
	})
	return starts
}

// Locate returns the partition whose range contains key.
func (r *Router) Locate(key []byte) (Meta, bool) {
	var (
		found Meta
		ok    bool
	)
	r.byStart.Range(func(start []byte, m Meta) bool {
		if bytes.Compare(start, key) > 0 {
			return false
		}
		if m.Contains(key) {
			found, ok = m, true
			return false
		}
		return true
	})
	return found, ok
}

// Get returns the partition with the given id.
func (r *Router) Get(id uint64) (Meta, bool) {
	var (
		found Meta
		ok    bool
	)
	r.byStart.Range(func(_ []byte, m Meta) bool {
		if m.ID == id {
			found, ok = m, true
			return false
		}
		return true
	})
	return found, ok
}

// All returns every partition ordered by start key.
func (r *Router) All() []Meta {
	metas := make([]Meta, 0, r.byStart.Len())
	r.byStart.Range(func(_ []byte, m Meta) bool {
		metas = append(metas, m)
		return true
	})
	return metas
}
