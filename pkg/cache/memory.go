package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// entries without an expiration still age out eventually
const memoryMaxTTL = 7 * 24 * time.Hour

type memoryEntry struct {
	key     string
	data    []byte
	expires time.Time
}

// MemoryCache implements Service in process. The list keeps entries in
// recency order, most recent at the front.
type MemoryCache struct {
	mu      sync.Mutex
	max     int
	index   map[string]*list.Element
	recency *list.List

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache creates an in-memory cache and starts its sweeper.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := memoryConfig{maxEntries: 256, sweepEvery: 5 * time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}
	mc := &MemoryCache{
		max:     cfg.maxEntries,
		index:   make(map[string]*list.Element, cfg.maxEntries),
		recency: list.New(),
		stop:    make(chan struct{}),
	}
	go mc.sweep(cfg.sweepEvery)
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if expiration <= 0 || expiration > memoryMaxTTL {
		expiration = memoryMaxTTL
	}
	mc.mu.Lock()
	mc.put(key, data, time.Now().Add(expiration))
	mc.mu.Unlock()
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	e := mc.live(key, time.Now())
	if e == nil {
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	mc.recency.MoveToFront(mc.index[key])
	data := e.data
	mc.mu.Unlock()
	return decode(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		mc.remove(k)
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := time.Now()
	for _, k := range keys {
		if mc.live(k, now) != nil {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := time.Now()
	if mc.live(key, now) != nil {
		return false, nil
	}
	mc.put(key, []byte("locked"), now.Add(ttl))
	return true, nil
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

// Len reports the number of stored entries, expired ones included.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.recency.Len()
}

// Close stops the sweeper.
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stop) })
	return nil
}

// put stores or replaces key, evicting from the back when full. Callers
// hold mu.
func (mc *MemoryCache) put(key string, data []byte, expires time.Time) {
	if el, ok := mc.index[key]; ok {
		e := el.Value.(*memoryEntry)
		e.data, e.expires = data, expires
		mc.recency.MoveToFront(el)
		return
	}
	for mc.recency.Len() >= mc.max {
		oldest := mc.recency.Back()
		mc.remove(oldest.Value.(*memoryEntry).key)
	}
	mc.index[key] = mc.recency.PushFront(&memoryEntry{key: key, data: data, expires: expires})
}

// live returns the unexpired entry for key, dropping it if expired.
func (mc *MemoryCache) live(key string, now time.Time) *memoryEntry {
	el, ok := mc.index[key]
	if !ok {
		return nil
	}
	e := el.Value.(*memoryEntry)
	if now.After(e.expires) {
		mc.remove(key)
		return nil
	}
	return e
}

func (mc *MemoryCache) remove(key string) {
	if el, ok := mc.index[key]; ok {
		mc.recency.Remove(el)
		delete(mc.index, key)
	}
}

func (mc *MemoryCache) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case now := <-t.C:
			mc.mu.Lock()
			for el := mc.recency.Back(); el != nil; {
				prev := el.Prev()
				if e := el.Value.(*memoryEntry); now.After(e.expires) {
					mc.remove(e.key)
				}
				el = prev
			}
			mc.mu.Unlock()
		}
	}
}
