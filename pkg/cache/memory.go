package cache

import (
	"container/list"
	"context"
	"fmt"
	"path"
	"sync"
	"time"
)

const defaultMemoryTTL = 24 * time.Hour

type memEntry struct {
	key      string
	data     []byte
	deadline time.Time
}

// MemoryCache is a bounded in-process LRU. Entries hold encoded bytes, so a
// caller reading back a struct gets a fresh copy rather than a shared pointer.
type MemoryCache struct {
	mu         sync.Mutex
	order      *list.List // front is most recently used
	items      map[string]*list.Element
	maxSize    int
	sweepEvery time.Duration
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache starts a cache with a background sweeper; call Close to stop it.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	m := &MemoryCache{
		order:      list.New(),
		items:      make(map[string]*list.Element),
		maxSize:    1000,
		sweepEvery: 5 * time.Minute,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweep()
	return m
}

func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}
	deadline := m.now().Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		e := el.Value.(*memEntry)
		e.data, e.deadline = data, deadline
		m.order.MoveToFront(el)
		return nil
	}
	for m.order.Len() >= m.maxSize {
		m.removeElement(m.order.Back())
	}
	m.items[key] = m.order.PushFront(&memEntry{key: key, data: data, deadline: deadline})
	return nil
}

func (m *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	el, ok := m.items[key]
	if !ok {
		m.mu.Unlock()
		return ErrCacheMiss
	}
	e := el.Value.(*memEntry)
	if !m.now().Before(e.deadline) {
		m.removeElement(el)
		m.mu.Unlock()
		return ErrCacheMiss
	}
	m.order.MoveToFront(el)
	data := e.data
	m.mu.Unlock()

	return decode(data, dest)
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if el, ok := m.items[k]; ok {
			m.removeElement(el)
		}
	}
	return nil
}

// DeleteByPattern uses path.Match globbing, which agrees with Redis SCAN MATCH
// for the '*' and '?' patterns the builder emits.
func (m *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("cache: pattern %q: %w", pattern, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, el := range m.items {
		if ok, _ := path.Match(pattern, k); ok {
			m.removeElement(el)
		}
	}
	return nil
}

// Len reports live and not yet swept entries.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *MemoryCache) removeElement(el *list.Element) {
	if el == nil {
		return
	}
	m.order.Remove(el)
	delete(m.items, el.Value.(*memEntry).key)
}

func (m *MemoryCache) sweep() {
	t := time.NewTicker(m.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.purgeExpired()
		}
	}
}

func (m *MemoryCache) purgeExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for el := m.order.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*memEntry).deadline) {
			m.removeElement(el)
		}
		el = prev
	}
}

// Close stops the sweeper. Safe to call more than once.
func (m *MemoryCache) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}
