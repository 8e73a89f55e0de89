// Package cache maps (session, selector) pairs to previously resolved DOM
// node identifiers so callers can skip redundant remote lookups.
//
// A cache hit never guarantees the identifier is still valid server-side:
// the page may have mutated at any time. The cache saves a lookup, not
// liveness — callers must validate before trusting a hit.
package cache

import (
	"container/list"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/entrhq/pilot/pkg/errs"
	"github.com/entrhq/pilot/pkg/logging"
)

// Tagged is the identity surface a session must expose for caching. The
// cache depends only on the tag, never on session internals; sessions must
// be explicitly invalidated on disposal via InvalidateSession.
type Tagged interface {
	Tag() string
}

// Outcome is the tagged result of a Get, so callers branch on kind instead
// of catching error types.
type Outcome int

const (
	// Miss means no entry exists for the key.
	Miss Outcome = iota

	// Hit means a live entry was found.
	Hit

	// Expired means an entry existed but its TTL had elapsed; it has been
	// removed. Counted as a miss in the statistics.
	Expired

	// Invalid means the session or selector failed validation. Counted as a
	// miss in the statistics.
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Expired:
		return "expired"
	case Invalid:
		return "invalid"
	default:
		return "miss"
	}
}

// Default TTL tiers and capacity.
const (
	DefaultMaxSize    = 1000
	DefaultDynamicTTL = 5 * time.Second
	DefaultStaticTTL  = 30 * time.Second
)

// Options configures insertion behavior. Changes apply to subsequent
// insertions only, never retroactively.
type Options struct {
	MaxSize    int
	DynamicTTL time.Duration
	StaticTTL  time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.DynamicTTL <= 0 {
		o.DynamicTTL = DefaultDynamicTTL
	}
	if o.StaticTTL <= 0 {
		o.StaticTTL = DefaultStaticTTL
	}
}

// Entry is one cached resolution. The TTL is fixed at insertion time from
// the heuristic result and never re-evaluated.
type Entry struct {
	NodeID     int
	InsertedAt time.Time
	TTL        time.Duration
	Dynamic    bool
	Selector   string
	SessionTag string
}

func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) >= e.TTL
}

// Stats is an observability snapshot of the cache.
type Stats struct {
	Size         int
	DynamicCount int
	StaticCount  int
	Hits         uint64
	Misses       uint64
	HitRate      float64
}

// QueryCache is the process-wide element cache. Safe for concurrent use.
type QueryCache struct {
	mu    sync.Mutex
	opts  Options
	order *list.List               // front = oldest, back = most recently used
	items map[string]*list.Element // composite key -> element holding *Entry

	hits   uint64
	misses uint64

	log *logging.Logger
}

// New creates a query cache. Construct and inject explicitly; there is no
// package-level default instance.
func New(opts Options, log *logging.Logger) *QueryCache {
	opts.applyDefaults()
	if log == nil {
		log = logging.Discard("cache")
	}
	return &QueryCache{
		opts:  opts,
		order: list.New(),
		items: make(map[string]*list.Element),
		log:   log,
	}
}

// Configure replaces the insertion options. Existing entries keep the TTL
// they were inserted with.
func (c *QueryCache) Configure(opts Options) {
	opts.applyDefaults()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts = opts
}

func key(sessionTag, selector string) string {
	return sessionTag + ":" + selector
}

// Get returns the cached node identifier for (session, selector) and the
// outcome kind. Anything but Hit records a miss. Expiry compares against the
// TTL recorded at insertion time, never the current heuristic result.
func (c *QueryCache) Get(session Tagged, selector string) (int, Outcome) {
	if session == nil || selector == "" {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return 0, Invalid
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key(session.Tag(), selector)]
	if !ok {
		c.misses++
		return 0, Miss
	}

	entry := elem.Value.(*Entry)
	if entry.expired(time.Now()) {
		c.removeElement(elem)
		c.misses++
		return 0, Expired
	}

	// Re-insertion on hit keeps access order approximate-LRU.
	c.order.MoveToBack(elem)
	c.hits++
	return entry.NodeID, Hit
}

// Set caches a resolved node identifier. The selector is classified dynamic
// or static once, here, and the matching TTL is fixed on the entry. The size
// invariant holds after every insertion: len <= MaxSize.
func (c *QueryCache) Set(session Tagged, selector string, nodeID int) error {
	if session == nil {
		return errs.Validation("session is required", nil)
	}
	if selector == "" {
		return errs.Validation("selector is empty", nil)
	}
	if nodeID <= 0 {
		return errs.InvalidCacheValue("node identifier must be a positive integer", map[string]any{
			"selector": selector,
			"nodeId":   nodeID,
		})
	}

	dynamic, rule := classify(selector)
	ttl := c.ttlFor(dynamic)

	c.mu.Lock()
	defer c.mu.Unlock()

	tag := session.Tag()
	k := key(tag, selector)

	entry := &Entry{
		NodeID:     nodeID,
		InsertedAt: time.Now(),
		TTL:        ttl,
		Dynamic:    dynamic,
		Selector:   selector,
		SessionTag: tag,
	}

	if elem, ok := c.items[k]; ok {
		elem.Value = entry
		c.order.MoveToBack(elem)
		return nil
	}

	// Opportunistic sweep once occupancy passes 80% of capacity, then evict
	// the single oldest entry if still full.
	if c.order.Len() >= c.opts.MaxSize*8/10 {
		c.sweepExpired()
	}
	if c.order.Len() >= c.opts.MaxSize {
		c.evictOldest()
	}

	c.items[k] = c.order.PushBack(entry)

	if dynamic {
		c.log.Debugf("cached %s as dynamic (%s), ttl=%s", selector, rule, ttl)
	}
	return nil
}

func (c *QueryCache) ttlFor(dynamic bool) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dynamic {
		return c.opts.DynamicTTL
	}
	return c.opts.StaticTTL
}

// Invalidate removes one selector's entry for the given session.
func (c *QueryCache) Invalidate(session Tagged, selector string) {
	if session == nil || selector == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key(session.Tag(), selector)]; ok {
		c.removeElement(elem)
	}
}

// InvalidateByPattern removes every entry of the given session whose
// selector matches the pattern. Other sessions' entries are never touched.
func (c *QueryCache) InvalidateByPattern(session Tagged, pattern *regexp.Regexp) {
	if session == nil || pattern == nil {
		return
	}
	tag := session.Tag()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, elem := range c.matching(tag, func(e *Entry) bool { return pattern.MatchString(e.Selector) }) {
		c.removeElement(elem)
	}
}

// InvalidateSession removes every entry belonging to the session. Call this
// when a session is discarded so its tag does not pin entries until expiry.
func (c *QueryCache) InvalidateSession(session Tagged) {
	if session == nil {
		return
	}
	tag := session.Tag()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, elem := range c.matching(tag, func(*Entry) bool { return true }) {
		c.removeElement(elem)
	}
}

// matching collects the session's elements satisfying pred. Caller holds mu.
func (c *QueryCache) matching(tag string, pred func(*Entry) bool) []*list.Element {
	var out []*list.Element
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*Entry)
		if entry.SessionTag == tag && pred(entry) {
			out = append(out, elem)
		}
	}
	return out
}

// Stats returns counters and occupancy for observability and TTL tuning.
func (c *QueryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:   c.order.Len(),
		Hits:   c.hits,
		Misses: c.misses,
	}
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		if elem.Value.(*Entry).Dynamic {
			s.DynamicCount++
		} else {
			s.StaticCount++
		}
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// String renders a short one-line summary, handy in logs.
func (s Stats) String() string {
	return fmt.Sprintf("size=%d dynamic=%d static=%d hits=%d misses=%d hitRate=%.1f%%",
		s.Size, s.DynamicCount, s.StaticCount, s.Hits, s.Misses, s.HitRate*100)
}

// sweepExpired removes all expired entries. Caller holds mu.
func (c *QueryCache) sweepExpired() {
	now := time.Now()
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*Entry).expired(now) {
			c.removeElement(elem)
		}
		elem = next
	}
}

// evictOldest removes the entry at the least-recently-used end. Caller holds mu.
func (c *QueryCache) evictOldest() {
	if front := c.order.Front(); front != nil {
		c.removeElement(front)
	}
}

func (c *QueryCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*Entry)
	delete(c.items, key(entry.SessionTag, entry.Selector))
	c.order.Remove(elem)
}
