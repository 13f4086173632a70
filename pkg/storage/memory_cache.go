package storage

import (
	"container/list"
	"context"
	"sync"
	"time"

	"keyword-enricher/pkg/keyword"
)

// cacheItem is one record in the LRU list
type cacheItem struct {
	key     string
	record  *keyword.Record
	element *list.Element
}

// MemoryStore is a size-bounded LRU RecordStore
type MemoryStore struct {
	maxSize int
	items   map[string]*cacheItem
	lruList *list.List
	mu      sync.Mutex
}

// NewMemoryStore creates an LRU store holding at most maxSize records; zero means unbounded
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{
		maxSize: maxSize,
		items:   make(map[string]*cacheItem),
		lruList: list.New(),
	}
}

func (ms *MemoryStore) Get(ctx context.Context, key Key) (*keyword.Record, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	item, exists := ms.items[key.String()]
	if !exists {
		return nil, ErrCacheMiss
	}
	ms.lruList.MoveToFront(item.element)
	return item.record.Clone(), nil
}

func (ms *MemoryStore) Put(ctx context.Context, key Key, rec *keyword.Record) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	stored := rec.Clone()
	stored.CacheAgeDays = nil

	k := key.String()
	if item, exists := ms.items[k]; exists {
		item.record = stored
		ms.lruList.MoveToFront(item.element)
		return nil
	}

	item := &cacheItem{key: k, record: stored}
	item.element = ms.lruList.PushFront(item)
	ms.items[k] = item

	if ms.maxSize > 0 && len(ms.items) > ms.maxSize {
		ms.evictOldest()
	}
	return nil
}

func (ms *MemoryStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var expired []*cacheItem
	for _, item := range ms.items {
		if item.record.FetchedAt.Before(cutoff) {
			expired = append(expired, item)
		}
	}
	for _, item := range expired {
		ms.deleteItem(item)
	}
	return int64(len(expired)), nil
}

// Size returns the number of stored records
func (ms *MemoryStore) Size() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.items)
}

func (ms *MemoryStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.items = make(map[string]*cacheItem)
	ms.lruList = list.New()
	return nil
}

// evictOldest removes the least recently used record
func (ms *MemoryStore) evictOldest() {
	if element := ms.lruList.Back(); element != nil {
		ms.deleteItem(element.Value.(*cacheItem))
	}
}

func (ms *MemoryStore) deleteItem(item *cacheItem) {
	delete(ms.items, item.key)
	ms.lruList.Remove(item.element)
}
