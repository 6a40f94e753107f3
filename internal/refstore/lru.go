package refstore

import "container/list"

// lru is a least-recently-used map. It is not safe for concurrent use; the
// store guards it with its own mutex.
type lru[K comparable, V any] struct {
	items    map[K]*list.Element
	order    *list.List
	capacity int
	onEvict  func(K, V)
}

type lruEntry[K comparable, V any] struct {
	key K
	val V
}

// newLRU creates a cache holding at most capacity entries (minimum 1).
func newLRU[K comparable, V any](capacity int, onEvict func(K, V)) *lru[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &lru[K, V]{
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
		onEvict:  onEvict,
	}
}

// get returns the value for key and marks it as recently used.
func (l *lru[K, V]) get(key K) (V, bool) {
	if elem, ok := l.items[key]; ok {
		l.order.MoveToFront(elem)
		return elem.Value.(*lruEntry[K, V]).val, true
	}
	var zero V
	return zero, false
}

// put adds or replaces the value for key, evicting the oldest entry when
// the cache is full.
func (l *lru[K, V]) put(key K, val V) {
	if elem, ok := l.items[key]; ok {
		elem.Value.(*lruEntry[K, V]).val = val
		l.order.MoveToFront(elem)
		return
	}
	for l.order.Len() >= l.capacity {
		l.removeElement(l.order.Back(), true)
	}
	l.items[key] = l.order.PushFront(&lruEntry[K, V]{key: key, val: val})
}

// remove drops key. It reports whether the key was present.
func (l *lru[K, V]) remove(key K) bool {
	elem, ok := l.items[key]
	if ok {
		l.removeElement(elem, false)
	}
	return ok
}

// removeFunc drops every entry matching pred and returns how many went.
func (l *lru[K, V]) removeFunc(pred func(K, V) bool) int {
	var doomed []*list.Element
	for e := l.order.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*lruEntry[K, V])
		if pred(entry.key, entry.val) {
			doomed = append(doomed, e)
		}
	}
	for _, e := range doomed {
		l.removeElement(e, false)
	}
	return len(doomed)
}

func (l *lru[K, V]) len() int { return l.order.Len() }

func (l *lru[K, V]) removeElement(elem *list.Element, evicted bool) {
	entry := elem.Value.(*lruEntry[K, V])
	l.order.Remove(elem)
	delete(l.items, entry.key)
	if evicted && l.onEvict != nil {
		l.onEvict(entry.key, entry.val)
	}
}
