package cache

import "container/heap"

// lruItem tracks one local-tier key in the eviction order.
type lruItem struct {
	key          string
	accessCount  int64
	lastAccessed int64
	index        int
}

// lruIndex is a min-heap on (accessCount, lastAccessed), so the next entry to
// evict is always at the root. Ties fall back to the key for a stable order.
type lruIndex struct {
	items []*lruItem
	byKey map[string]*lruItem
}

func newLRUIndex() *lruIndex {
	return &lruIndex{byKey: make(map[string]*lruItem)}
}

func (x *lruIndex) Len() int { return len(x.items) }

func (x *lruIndex) Less(i, j int) bool {
	a, b := x.items[i], x.items[j]
	if a.accessCount != b.accessCount {
		return a.accessCount < b.accessCount
	}
	if a.lastAccessed != b.lastAccessed {
		return a.lastAccessed < b.lastAccessed
	}
	return a.key < b.key
}

func (x *lruIndex) Swap(i, j int) {
	x.items[i], x.items[j] = x.items[j], x.items[i]
	x.items[i].index = i
	x.items[j].index = j
}

func (x *lruIndex) Push(v any) {
	item := v.(*lruItem)
	item.index = len(x.items)
	x.items = append(x.items, item)
}

func (x *lruIndex) Pop() any {
	n := len(x.items)
	item := x.items[n-1]
	x.items[n-1] = nil
	x.items = x.items[:n-1]
	item.index = -1
	return item
}

// upsert records key with the given access metadata.
func (x *lruIndex) upsert(key string, accessCount, lastAccessed int64) {
	if item, ok := x.byKey[key]; ok {
		item.accessCount = accessCount
		item.lastAccessed = lastAccessed
		heap.Fix(x, item.index)
		return
	}
	item := &lruItem{key: key, accessCount: accessCount, lastAccessed: lastAccessed}
	x.byKey[key] = item
	heap.Push(x, item)
}

func (x *lruIndex) remove(key string) {
	if item, ok := x.byKey[key]; ok {
		heap.Remove(x, item.index)
		delete(x.byKey, key)
	}
}

func (x *lruIndex) has(key string) bool {
	_, ok := x.byKey[key]
	return ok
}

// popLeast removes and returns the least valuable key.
func (x *lruIndex) popLeast() (string, bool) {
	if len(x.items) == 0 {
		return "", false
	}
	item := heap.Pop(x).(*lruItem)
	delete(x.byKey, item.key)
	return item.key, true
}

func (x *lruIndex) reset() {
	x.items = nil
	x.byKey = make(map[string]*lruItem)
}
