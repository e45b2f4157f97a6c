// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import "container/list"

// DefaultCacheWindow is the default number of frames an unused
// CacheMap entry survives before eviction (spec.md §4.4: "a
// frame-window of N frames (configurable, default 4)").
const DefaultCacheWindow = 4

// cacheNode is the payload stored in each window's intrusive list.
type cacheNode[K comparable, V any] struct {
	key   K
	value V
}

// CacheMap is a generic frame-windowed recency cache (GLOSSARY
// "CacheMap"): entries untouched for N frames are evicted and their
// payloads handed to onEvict for destruction. It backs the
// descriptor-set allocators (C4), the pipeline cache (C5) and the
// render-pass/framebuffer cache (C6).
//
// Grounded on original_source's util/temporary_map.rs TemporaryMap: N
// doubly-linked lists, one per frame-window slot, plus a hash map from
// key to list node; touching an entry (via Get or Put) unlinks its
// node and relinks it at the front of the current frame's list, so
// NewFrame only has to drain whichever list is now N frames stale.
type CacheMap[K comparable, V any] struct {
	windows []*list.List
	nodes   map[K]*list.Element
	current int
	onEvict func(K, V)
}

// NewCacheMap creates a CacheMap with the given window size (use
// DefaultCacheWindow unless the caller has a reason to differ).
// onEvict, if non-nil, is called for every entry an eviction removes,
// so the caller can release the underlying GPU object (typically via
// Device.Deleter().Enqueue).
func NewCacheMap[K comparable, V any](window int, onEvict func(K, V)) *CacheMap[K, V] {
	invariant(window > 0, "cache map window must be positive, got %d", window)
	c := &CacheMap[K, V]{
		windows: make([]*list.List, window),
		nodes:   make(map[K]*list.Element),
		onEvict: onEvict,
	}
	for i := range c.windows {
		c.windows[i] = list.New()
	}
	return c
}

// Get returns the cached value for key, touching it if present.
func (c *CacheMap[K, V]) Get(key K) (V, bool) {
	if elem, ok := c.nodes[key]; ok {
		node := elem.Value.(*cacheNode[K, V])
		c.relink(elem)
		return node.value, true
	}
	var zero V
	return zero, false
}

// relink moves elem out of whatever list currently holds it (if any)
// into the front of the current frame's list.
func (c *CacheMap[K, V]) relink(elem *list.Element) {
	for _, w := range c.windows {
		w.Remove(elem)
	}
	c.windows[c.current].PushFront(elem.Value)
	c.nodes[elem.Value.(*cacheNode[K, V]).key] = c.windows[c.current].Front()
}

// Put inserts or updates the value for key and touches it.
func (c *CacheMap[K, V]) Put(key K, value V) {
	if elem, ok := c.nodes[key]; ok {
		elem.Value.(*cacheNode[K, V]).value = value
		c.relink(c.nodes[key])
		return
	}
	elem := c.windows[c.current].PushFront(&cacheNode[K, V]{key: key, value: value})
	c.nodes[key] = elem
}

// GetOrCreate returns the cached value for key, calling create and
// caching its result if key is not already present. This is the
// shape every C4/C5/C6 "get(state)" lookup takes.
func (c *CacheMap[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Put(key, v)
	return v, nil
}

// NewFrame rotates the current frame-window slot and evicts every
// entry in the slot that is now a full window (the size passed to
// NewCacheMap) of frames stale
// (spec.md §4.4 "On frame rollover, the oldest frame's list is
// drained"). It must be called once per executed frame.
func (c *CacheMap[K, V]) NewFrame() {
	c.current = (c.current + 1) % len(c.windows)
	stale := c.windows[c.current]
	for e := stale.Front(); e != nil; {
		next := e.Next()
		node := e.Value.(*cacheNode[K, V])
		delete(c.nodes, node.key)
		if c.onEvict != nil {
			c.onEvict(node.key, node.value)
		}
		e = next
	}
	stale.Init()
}

// Len returns the number of live entries across every window.
func (c *CacheMap[K, V]) Len() int { return len(c.nodes) }

// Range calls fn for every live entry, in no particular order,
// stopping early if fn returns false. Used when an allocator backed
// by a CacheMap needs to rebuild external state (e.g. growing a
// descriptor heap) from everything currently cached.
func (c *CacheMap[K, V]) Range(fn func(K, V) bool) {
	for key, elem := range c.nodes {
		node := elem.Value.(*cacheNode[K, V])
		if !fn(key, node.value) {
			return
		}
	}
}
