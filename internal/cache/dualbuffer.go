// Package cache implements the write-behind buffers that sit between the
// extraction pipeline and the persistent store.
package cache

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const DefaultMaxSize = 10000

type deltaEntry[V any] struct {
	value V
	seq   uint64
}

// Batch is a snapshot of the delta buffer handed to the persister.
type Batch[K comparable, V any] struct {
	Entries map[K]V
	seqs    map[K]uint64
}

func (b Batch[K, V]) Len() int { return len(b.Entries) }

// DualBuffer keeps a bounded primary snapshot and an unbounded delta of
// entries changed since the last confirmed flush.
type DualBuffer[K comparable, V any] struct {
	mu      sync.Mutex
	maxSize int
	primary *simplelru.LRU[K, V]
	delta   map[K]deltaEntry[V]
	seq     uint64
}

func NewDualBuffer[K comparable, V any](maxSize int) *DualBuffer[K, V] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	primary, err := simplelru.NewLRU[K, V](maxSize, nil)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &DualBuffer[K, V]{
		maxSize: maxSize,
		primary: primary,
		delta:   make(map[K]deltaEntry[V]),
	}
}

// Set writes value to both buffers. The oldest primary entry is evicted once
// the primary grows past maxSize; the delta keeps it until it is flushed.
func (b *DualBuffer[K, V]) Set(key K, value V) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.primary.Add(key, value)
	b.seq++
	b.delta[key] = deltaEntry[V]{value: value, seq: b.seq}
}

// Seed loads value into the primary buffer only. Used for data that is
// already durable, such as hydration from the store.
func (b *DualBuffer[K, V]) Seed(key K, value V) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.primary.Add(key, value)
}

func (b *DualBuffer[K, V]) Get(key K) (V, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.primary.Peek(key); ok {
		return v, true
	}
	if e, ok := b.delta[key]; ok {
		return e.value, true
	}
	var zero V
	return zero, false
}

func (b *DualBuffer[K, V]) Delete(key K) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.primary.Remove(key)
	delete(b.delta, key)
}

func (b *DualBuffer[K, V]) IsDirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.delta) > 0
}

// GetNewData returns a copy of the delta. The delta itself is left intact
// until ClearNewBuffer is called with the returned batch.
func (b *DualBuffer[K, V]) GetNewData() Batch[K, V] {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := Batch[K, V]{
		Entries: make(map[K]V, len(b.delta)),
		seqs:    make(map[K]uint64, len(b.delta)),
	}
	for k, e := range b.delta {
		batch.Entries[k] = e.value
		batch.seqs[k] = e.seq
	}
	return batch
}

// ClearNewBuffer drops the delta entries contained in a persisted batch.
// Entries overwritten after the snapshot was taken stay dirty.
func (b *DualBuffer[K, V]) ClearNewBuffer(batch Batch[K, V]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, seq := range batch.seqs {
		if e, ok := b.delta[k]; ok && e.seq == seq {
			delete(b.delta, k)
		}
	}
}

// Entries returns the union of primary and delta.
func (b *DualBuffer[K, V]) Entries() map[K]V {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[K]V, b.primary.Len()+len(b.delta))
	for _, k := range b.primary.Keys() {
		if v, ok := b.primary.Peek(k); ok {
			out[k] = v
		}
	}
	for k, e := range b.delta {
		out[k] = e.value
	}
	return out
}

// Len is the size of the primary buffer.
func (b *DualBuffer[K, V]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.primary.Len()
}

func (b *DualBuffer[K, V]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.primary.Purge()
	b.delta = make(map[K]deltaEntry[V])
}
