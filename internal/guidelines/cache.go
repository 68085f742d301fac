package guidelines

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yourorg/policy-scan-worker/internal/apperr"
	"github.com/yourorg/policy-scan-worker/internal/metrics"
)

const DefaultWindow = 24 * time.Hour

const flightKey = "guidelines"

type entry struct {
	doc       *Document
	fetchedAt time.Time
}

// Lookup is a document plus how it was obtained.
type Lookup struct {
	Document *Document
	// Cached is false only when this call's fetch produced the document.
	Cached bool
	// Stale means the entry is past the freshness window and a refresh failed.
	Stale bool
	// Fallback means the document is the built-in set; it is never cached.
	Fallback bool
	Age      time.Duration
}

// Cache holds at most one guideline document. Fresh reads are lock-free;
// misses and forced refreshes share a single in-flight fetch, and a new
// entry replaces the old one with one atomic store.
type Cache struct {
	fetcher Fetcher
	window  time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	cur   atomic.Pointer[entry]
	group singleflight.Group
}

func NewCache(f Fetcher, window time.Duration, m *metrics.Metrics) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Cache{fetcher: f, window: window, metrics: m, now: time.Now}
}

func (c *Cache) Window() time.Duration { return c.window }

// Get returns the cached document while it is fresh, refetches otherwise, and
// falls back to the expired entry if the refetch fails. It fails with
// KindUpstreamUnavailable only when there is nothing to fall back to.
func (c *Cache) Get(ctx context.Context) (Lookup, error) {
	if e := c.cur.Load(); e != nil {
		if age := c.now().Sub(e.fetchedAt); age < c.window {
			c.metrics.CacheLookup("fresh")
			return Lookup{Document: e.doc, Cached: true, Age: age}, nil
		}
	}

	e, err := c.refresh(ctx)
	if err == nil {
		c.metrics.CacheLookup("refreshed")
		return Lookup{Document: e.doc, Age: c.age(e)}, nil
	}

	// A concurrent refresh may have landed while ours failed.
	if e := c.cur.Load(); e != nil {
		age := c.age(e)
		stale := age >= c.window
		if stale {
			log.Printf("guidelines: serving stale copy (age=%s): %v", age.Round(time.Second), err)
			c.metrics.CacheLookup("stale")
		} else {
			c.metrics.CacheLookup("fresh")
		}
		return Lookup{Document: e.doc, Cached: true, Stale: stale, Age: age}, nil
	}

	if fp, ok := c.fetcher.(FallbackProvider); ok {
		if doc := fp.Fallback(c.now()); doc != nil {
			log.Printf("guidelines: source unavailable, using built-in set: %v", err)
			c.metrics.CacheLookup("fallback")
			return Lookup{Document: doc, Fallback: true}, nil
		}
	}

	c.metrics.CacheLookup("unavailable")
	return Lookup{}, apperr.Wrap(apperr.KindUpstreamUnavailable, "guidelines.Get", err)
}

// ForceRefresh always fetches and reports failure instead of serving stale
// data.
func (c *Cache) ForceRefresh(ctx context.Context) (Lookup, error) {
	e, err := c.refresh(ctx)
	if err != nil {
		c.metrics.CacheLookup("unavailable")
		return Lookup{}, apperr.Wrap(apperr.KindUpstreamUnavailable, "guidelines.ForceRefresh", err)
	}
	c.metrics.CacheLookup("refreshed")
	return Lookup{Document: e.doc, Age: c.age(e)}, nil
}

// Peek returns the current entry without fetching.
func (c *Cache) Peek() (Lookup, bool) {
	e := c.cur.Load()
	if e == nil {
		return Lookup{}, false
	}
	age := c.age(e)
	return Lookup{Document: e.doc, Cached: true, Stale: age >= c.window, Age: age}, true
}

func (c *Cache) age(e *entry) time.Duration {
	age := c.now().Sub(e.fetchedAt)
	if age < 0 {
		return 0
	}
	return age
}

// refresh joins or starts the single in-flight fetch. The fetch runs detached
// from ctx so one caller giving up does not fail the others; ctx only bounds
// how long this caller waits.
func (c *Cache) refresh(ctx context.Context) (*entry, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.fetch(fetchCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*entry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) fetch(ctx context.Context) (*entry, error) {
	start := time.Now()
	doc, err := c.fetcher.Fetch(ctx, c.now())
	if err == nil && (doc == nil || len(doc.Sections) == 0) {
		err = errNoSections
	}
	if err != nil {
		c.metrics.Fetch("error", time.Since(start).Seconds())
		log.Printf("guidelines: fetch failed: %v", err)
		return nil, err
	}
	c.metrics.Fetch("ok", time.Since(start).Seconds())

	fetchedAt := doc.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = c.now()
	}
	for {
		old := c.cur.Load()
		at := fetchedAt
		if old != nil && at.Before(old.fetchedAt) {
			at = old.fetchedAt
		}
		next := &entry{doc: doc, fetchedAt: at}
		if c.cur.CompareAndSwap(old, next) {
			return next, nil
		}
	}
}

// IsUnavailable reports whether err means no guideline document could be had.
func IsUnavailable(err error) bool {
	return errors.Is(err, &apperr.Error{Kind: apperr.KindUpstreamUnavailable})
}
