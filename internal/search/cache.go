package search

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultResultTTL is how long a cached response stays fresh when the
// corpus does not change underneath it.
const DefaultResultTTL = 30 * time.Second

type cachedResponse struct {
	resp       Response
	generation uint64
	storedAt   time.Time
}

// resultCache memoizes query responses. Any corpus mutation bumps the
// generation counter, which invalidates every cached response at once;
// a TTL bounds staleness for responses whose generation still matches.
type resultCache struct {
	ttl time.Duration
	now func() time.Time

	mu         sync.Mutex
	generation uint64
	responses  map[string]cachedResponse
}

func newResultCache(ttl time.Duration) *resultCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &resultCache{
		ttl:       ttl,
		now:       time.Now,
		responses: make(map[string]cachedResponse),
	}
}

// invalidate marks every cached response stale.
func (c *resultCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.responses = make(map[string]cachedResponse)
}

func (c *resultCache) get(key string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cr, ok := c.responses[key]
	if !ok {
		return Response{}, false
	}
	if cr.generation != c.generation || c.now().Sub(cr.storedAt) > c.ttl {
		delete(c.responses, key)
		return Response{}, false
	}
	return cloneResponse(cr.resp), true
}

func (c *resultCache) put(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[key] = cachedResponse{
		resp:       cloneResponse(resp),
		generation: c.generation,
		storedAt:   c.now(),
	}
}

// cloneResponse copies the result slice so callers can reorder or
// truncate their response without corrupting later hits on the same key.
func cloneResponse(resp Response) Response {
	resp.Results = append([]Result(nil), resp.Results...)
	return resp
}

// queryKey derives a stable cache key from every field that affects the
// response.
func queryKey(q Query) string {
	h := sha256.New()
	h.Write([]byte(q.Text))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(q.Limit)))
	h.Write([]byte{0})
	h.Write([]byte(q.Filters.Category))
	h.Write([]byte{0})
	h.Write([]byte(q.Filters.ContentType))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(q.Filters.Tags, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}
