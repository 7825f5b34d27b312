package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/marketplace-dispatch/internal/geo"
	"github.com/example/marketplace-dispatch/internal/models"
)

// ErrNoRoute is the explicit no-route condition from the routing oracle.
var ErrNoRoute = errors.New("routing: no route")

// Route is the oracle's answer for an origin/destination pair.
type Route struct {
	DistanceMeters           float64
	DurationSeconds          float64
	DurationInTrafficSeconds float64
}

// Oracle computes distance and travel time between two points. Failures abort
// ETA/fare computation for the request at hand and nothing else.
type Oracle interface {
	Route(ctx context.Context, from, to models.Coord) (Route, error)
}

// Estimator is the haversine fallback oracle: straight-line distance over an
// assumed city speed. Used when no maps API key is configured and whenever
// the real oracle is down.
type Estimator struct {
	SpeedMps float64
}

func (e Estimator) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	speed := e.SpeedMps
	if speed <= 0 {
		speed = 8.0 // ~29 km/h city default
	}
	d := geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon)
	return Route{DistanceMeters: d, DurationSeconds: d / speed}, nil
}

// Cache is a small TTL cache in front of an Oracle, keyed by the coord pair.
type Cache struct {
	inner Oracle
	ttl   time.Duration

	mu    sync.RWMutex
	store map[string]cacheEntry
}

type cacheEntry struct {
	r  Route
	ts time.Time
}

func NewCache(inner Oracle, ttl time.Duration) *Cache {
	return &Cache{inner: inner, ttl: ttl, store: make(map[string]cacheEntry)}
}

func (c *Cache) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	k := keyFor(from, to)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if ok && time.Since(e.ts) <= c.ttl {
		return e.r, nil
	}
	r, err := c.inner.Route(ctx, from, to)
	if err != nil {
		return Route{}, err
	}
	c.mu.Lock()
	c.store[k] = cacheEntry{r: r, ts: time.Now()}
	c.mu.Unlock()
	return r, nil
}

func keyFor(a, b models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", a.Lat, a.Lon, b.Lat, b.Lon)
}
