package middleware

// The in-memory cache keeps rendered charts for windows fully pinned by the
// caller and already in the past. golang-lru evicts the least recently used
// image first.

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

type cachedResponse struct {
	contentType string
	body        []byte
}

// Cache stores successful responses of idempotent GET requests whose start
// and end query parameters are both valid epoch seconds, with end before
// now. Windows reaching now or the future can still gain rows and are never
// cached.
type Cache struct {
	entries *lru.Cache
	now     func() time.Time
}

// NewCache sets up an in-memory LRU cache holding size responses. now
// defaults to time.Now.
func NewCache(size int, now func() time.Time) (*Cache, error) {
	entries, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{entries: entries, now: now}, nil
}

// Middleware serves cached bodies and fills the cache on misses.
func (c *Cache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.cacheable(r) {
			next.ServeHTTP(w, r)
			return
		}

		key := generateCacheKey(r)
		if v, ok := c.entries.Get(key); ok {
			resp := v.(cachedResponse)
			w.Header().Set("Content-Type", resp.contentType)
			w.Header().Set("X-Cache", "hit")
			_, _ = w.Write(resp.body)
			return
		}

		rec := &bufferingRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Only store successful responses.
		if rec.status == http.StatusOK {
			c.entries.Add(key, cachedResponse{
				contentType: w.Header().Get("Content-Type"),
				body:        append([]byte(nil), rec.body.Bytes()...),
			})
		}
	})
}

// Len returns the number of cached responses.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) cacheable(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	q := r.URL.Query()
	if _, err := strconv.ParseInt(q.Get("start"), 10, 64); err != nil {
		return false
	}
	end, err := strconv.ParseInt(q.Get("end"), 10, 64)
	if err != nil {
		return false
	}
	return end < c.now().Unix()
}

// generateCacheKey builds the key from the path and the sorted query.
func generateCacheKey(r *http.Request) string {
	return r.URL.Path + "?" + r.URL.Query().Encode()
}

// bufferingRecorder copies the body while passing it through.
type bufferingRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *bufferingRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *bufferingRecorder) Write(p []byte) (int, error) {
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
