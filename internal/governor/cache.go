// Package governor is the resource-governance layer every outward call goes
// through: a TTL+LRU cache with fixed namespaces, per-resource rate budgets,
// and a governed call path that combines the two.
package governor

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quorumlabs/committee/internal/metrics"
)

// Namespace identifies one of the fixed cache partitions.
type Namespace string

const (
	NamespaceEmbeddings  Namespace = "embeddings"
	NamespaceExternalAPI Namespace = "external_api"
	NamespaceAnalysis    Namespace = "analysis"
	NamespaceRetrieval   Namespace = "retrieval"
)

// NamespaceConfig fixes a namespace's capacity and default TTL.
type NamespaceConfig struct {
	Capacity   int           `yaml:"capacity"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// DefaultNamespaces returns the four fixed namespaces with their standard
// capacity and TTL settings.
func DefaultNamespaces() map[Namespace]NamespaceConfig {
	return map[Namespace]NamespaceConfig{
		NamespaceEmbeddings:  {Capacity: 5000, DefaultTTL: 24 * time.Hour},
		NamespaceExternalAPI: {Capacity: 1000, DefaultTTL: time.Hour},
		NamespaceAnalysis:    {Capacity: 500, DefaultTTL: 2 * time.Hour},
		NamespaceRetrieval:   {Capacity: 2000, DefaultTTL: 12 * time.Hour},
	}
}

// cacheEntry is a single cached value plus its expiry bookkeeping.
type cacheEntry struct {
	key      string
	value    interface{}
	storedAt time.Time
	ttl      time.Duration
}

func (e *cacheEntry) expiresAt() time.Time {
	return e.storedAt.Add(e.ttl)
}

// nsCache is one namespace: an LRU list (front = most recently used) plus a
// key index. All access goes through the mutex; LRU touches on Get mutate
// shared state, so reads lock exclusively too.
type nsCache struct {
	mu      sync.Mutex
	cfg     NamespaceConfig
	order   *list.List
	entries map[string]*list.Element
	hits    uint64
	misses  uint64
}

func newNSCache(cfg NamespaceConfig) *nsCache {
	return &nsCache{
		cfg:     cfg,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// CacheStats is a point-in-time snapshot of one namespace.
type CacheStats struct {
	Size     int     `json:"size"`
	Capacity int     `json:"capacity"`
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
}

// Cache is the multi-namespace TTL+LRU cache. It is process-wide, shared by
// all concurrent requests, and lives for the process lifetime.
type Cache struct {
	namespaces map[Namespace]*nsCache
	l2         *RedisTier
	collector  *metrics.Collector
	log        *logrus.Entry

	sweepInterval time.Duration
	now           func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// CacheOption customizes cache construction.
type CacheOption func(*Cache)

// WithRedisTier attaches an optional Redis L2 consulted on L1 misses for
// byte-valued entries. L2 errors degrade to a miss, never a failure.
func WithRedisTier(tier *RedisTier) CacheOption {
	return func(c *Cache) { c.l2 = tier }
}

// WithCacheCollector mirrors hit/miss/size accounting into the collector.
func WithCacheCollector(col *metrics.Collector) CacheOption {
	return func(c *Cache) { c.collector = col }
}

// WithSweepInterval overrides the periodic expiry sweep cadence.
func WithSweepInterval(d time.Duration) CacheOption {
	return func(c *Cache) { c.sweepInterval = d }
}

func withCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache builds a cache over the given namespaces. Pass nil to use
// DefaultNamespaces. Call Start to run the background expiry sweep and Close
// to stop it.
func NewCache(namespaces map[Namespace]NamespaceConfig, log *logrus.Logger, opts ...CacheOption) *Cache {
	if namespaces == nil {
		namespaces = DefaultNamespaces()
	}
	if log == nil {
		log = logrus.New()
	}

	c := &Cache{
		namespaces:    make(map[Namespace]*nsCache, len(namespaces)),
		log:           log.WithField("component", "governor.cache"),
		sweepInterval: time.Minute,
		now:           time.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for ns, cfg := range namespaces {
		c.namespaces[ns] = newNSCache(cfg)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the periodic sweep that removes TTL-expired entries
// regardless of capacity pressure.
func (c *Cache) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed := c.Sweep()
				if removed > 0 {
					c.log.WithField("removed", removed).Debug("expiry sweep")
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
}

// Get returns the cached value for key. An expired-but-not-yet-swept entry
// reports a miss and is evicted lazily. A hit moves the entry to the front
// of the LRU order.
func (c *Cache) Get(ctx context.Context, ns Namespace, key string) (interface{}, bool) {
	nc, ok := c.namespaces[ns]
	if !ok {
		return nil, false
	}

	nc.mu.Lock()
	var value interface{}
	hit := false
	if elem, found := nc.entries[key]; found {
		entry := elem.Value.(*cacheEntry)
		if c.now().After(entry.expiresAt()) {
			nc.order.Remove(elem)
			delete(nc.entries, key)
		} else {
			nc.order.MoveToFront(elem)
			value = entry.value
			hit = true
		}
	}
	if hit {
		nc.hits++
	} else {
		nc.misses++
	}
	size := len(nc.entries)
	nc.mu.Unlock()

	if c.collector != nil {
		c.collector.TrackCacheAccess(string(ns), hit)
		c.collector.TrackCacheSize(string(ns), size)
	}
	if hit {
		return value, true
	}

	// L1 miss: consult the backing tier for byte-valued entries.
	if c.l2 != nil {
		if data, ttl, found := c.l2.get(ctx, ns, key); found {
			c.Set(ctx, ns, key, data, ttl)
			return data, true
		}
	}
	return nil, false
}

// Set stores value under key. A zero or negative ttl uses the namespace
// default. When the namespace is at capacity the least-recently-used entry
// is evicted first.
func (c *Cache) Set(ctx context.Context, ns Namespace, key string, value interface{}, ttl time.Duration) {
	nc, ok := c.namespaces[ns]
	if !ok {
		return
	}
	if ttl <= 0 {
		ttl = nc.cfg.DefaultTTL
	}

	nc.mu.Lock()
	if elem, found := nc.entries[key]; found {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.storedAt = c.now()
		entry.ttl = ttl
		nc.order.MoveToFront(elem)
	} else {
		for len(nc.entries) >= nc.cfg.Capacity {
			oldest := nc.order.Back()
			if oldest == nil {
				break
			}
			nc.order.Remove(oldest)
			delete(nc.entries, oldest.Value.(*cacheEntry).key)
		}
		entry := &cacheEntry{key: key, value: value, storedAt: c.now(), ttl: ttl}
		nc.entries[key] = nc.order.PushFront(entry)
	}
	size := len(nc.entries)
	nc.mu.Unlock()

	if c.collector != nil {
		c.collector.TrackCacheSize(string(ns), size)
	}

	if c.l2 != nil {
		if data, isBytes := value.([]byte); isBytes {
			c.l2.set(ctx, ns, key, data, ttl)
		}
	}
}

// Invalidate removes key from the namespace. The key "*" purges the whole
// namespace.
func (c *Cache) Invalidate(ctx context.Context, ns Namespace, key string) {
	nc, ok := c.namespaces[ns]
	if !ok {
		return
	}

	nc.mu.Lock()
	if key == "*" {
		nc.order.Init()
		nc.entries = make(map[string]*list.Element)
	} else if elem, found := nc.entries[key]; found {
		nc.order.Remove(elem)
		delete(nc.entries, key)
	}
	size := len(nc.entries)
	nc.mu.Unlock()

	if c.collector != nil {
		c.collector.TrackCacheSize(string(ns), size)
	}
	if c.l2 != nil {
		c.l2.invalidate(ctx, ns, key)
	}
}

// Sweep removes TTL-expired entries from every namespace and returns the
// number removed.
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0
	for ns, nc := range c.namespaces {
		nc.mu.Lock()
		for key, elem := range nc.entries {
			if now.After(elem.Value.(*cacheEntry).expiresAt()) {
				nc.order.Remove(elem)
				delete(nc.entries, key)
				removed++
			}
		}
		size := len(nc.entries)
		nc.mu.Unlock()
		if c.collector != nil {
			c.collector.TrackCacheSize(string(ns), size)
		}
	}
	return removed
}

// Stats returns the hit/miss/size snapshot for one namespace.
func (c *Cache) Stats(ns Namespace) CacheStats {
	nc, ok := c.namespaces[ns]
	if !ok {
		return CacheStats{}
	}
	nc.mu.Lock()
	defer nc.mu.Unlock()

	total := nc.hits + nc.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(nc.hits) / float64(total)
	}
	return CacheStats{
		Size:     len(nc.entries),
		Capacity: nc.cfg.Capacity,
		Hits:     nc.hits,
		Misses:   nc.misses,
		HitRate:  hitRate,
	}
}

// AllStats returns the snapshot for every namespace.
func (c *Cache) AllStats() map[Namespace]CacheStats {
	out := make(map[Namespace]CacheStats, len(c.namespaces))
	for ns := range c.namespaces {
		out[ns] = c.Stats(ns)
	}
	return out
}
