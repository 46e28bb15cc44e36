// Package sigcache caches signing results by request fingerprint so
// identical outbound requests inside a TTL window do not pay for a second
// signature. Capacity is bounded: inserting past it evicts the least
// recently used entry.
package sigcache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/perimetra/sigil/sigmsg"
)

// Defaults applied when New receives non-positive arguments.
const (
	DefaultCapacity = 256
	DefaultTTL      = 5 * time.Minute
)

// Cache is a mutex-guarded LRU map from request fingerprints to the wire
// headers a previous signing produced. Entries expire after their TTL;
// expired entries are treated as absent and purged lazily on access.
type Cache struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	entries    map[string]*list.Element
	order      *list.List // front is most recently used

	now func() time.Time
}

type entry struct {
	key     string
	headers map[string]string
	expires time.Time
}

// New returns a cache holding at most capacity entries whose Put entries
// live for defaultTTL. Non-positive arguments fall back to the package
// defaults.
func New(capacity int, defaultTTL time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	return &Cache{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
}

// Get returns the cached headers for a fingerprint. An entry read past its
// TTL is removed and reported as absent. Hits refresh recency and return a
// copy of the stored headers.
func (c *Cache) Get(fingerprint string) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}

	ent := elem.Value.(*entry)
	if c.now().After(ent.expires) {
		c.removeLocked(elem)
		return nil, false
	}

	c.order.MoveToFront(elem)

	return copyHeaders(ent.headers), true
}

// Put stores headers under a fingerprint with the default TTL.
func (c *Cache) Put(fingerprint string, headers map[string]string) {
	c.PutTTL(fingerprint, headers, c.defaultTTL)
}

// PutTTL stores headers under a fingerprint with an explicit TTL. Storing
// an existing fingerprint replaces its headers and refreshes both TTL and
// recency. Inserting past capacity evicts the least recently used entry.
func (c *Cache) PutTTL(fingerprint string, headers map[string]string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(ttl)

	if elem, ok := c.entries[fingerprint]; ok {
		ent := elem.Value.(*entry)
		ent.headers = copyHeaders(headers)
		ent.expires = expires
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&entry{
		key:     fingerprint,
		headers: copyHeaders(headers),
		expires: expires,
	})
	c.entries[fingerprint] = elem

	for len(c.entries) > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
}

// Len returns the number of stored entries, expired ones included until
// they are purged by access.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

func (c *Cache) removeLocked(elem *list.Element) {
	ent := elem.Value.(*entry)
	delete(c.entries, ent.key)
	c.order.Remove(elem)
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Fingerprint derives the deterministic cache key for a message: a SHA-256
// over the method, URL, stably-sorted headers, and body.
func Fingerprint(msg *sigmsg.Message) string {
	h := sha256.New()

	h.Write([]byte(msg.Method()))
	h.Write([]byte{'\n'})
	h.Write([]byte(msg.URL()))
	h.Write([]byte{'\n'})

	headers := msg.Headers()
	for _, name := range msg.HeaderNames() {
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(headers[name]))
		h.Write([]byte{'\n'})
	}

	h.Write([]byte{'\n'})
	h.Write(msg.Body())

	return hex.EncodeToString(h.Sum(nil))
}
