package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/marketplace-dispatch/internal/models"
)

// Filter narrows a spatial query to eligible providers.
type Filter struct {
	Capability string
}

// Geo is the spatial index over provider locations.
//
// Search returns available, idle providers matching the filter within
// radiusMeters of origin, nearest first. An empty result is not an error;
// an error means the index itself was unreachable.
type Geo interface {
	Search(ctx context.Context, origin models.Coord, radiusMeters float64, f Filter) ([]models.Provider, error)
	Upsert(ctx context.Context, p models.Provider) error
}

// Index is the in-memory fallback used when Redis is not configured, and in
// tests. A linear haversine scan is fine at this scale.
type Index struct {
	mu        sync.RWMutex
	providers map[string]models.Provider
}

func NewIndex() *Index {
	return &Index{providers: make(map[string]models.Provider)}
}

func (g *Index) Upsert(ctx context.Context, p models.Provider) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p.LastSeen = time.Now()
	g.providers[p.ID] = p
	return nil
}

func (g *Index) Search(ctx context.Context, origin models.Coord, radiusMeters float64, f Filter) ([]models.Provider, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type scored struct {
		p    models.Provider
		dist float64
	}
	matched := make([]scored, 0, len(g.providers))
	for _, p := range g.providers {
		if !eligible(p, f) {
			continue
		}
		dist := Haversine(origin.Lat, origin.Lon, p.Loc.Lat, p.Loc.Lon)
		if dist > radiusMeters {
			continue
		}
		matched = append(matched, scored{p, dist})
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].dist < matched[j].dist })
	out := make([]models.Provider, 0, len(matched))
	for _, s := range matched {
		out = append(out, s.p)
	}
	return out, nil
}

func eligible(p models.Provider, f Filter) bool {
	if !p.Available || p.State == models.ProviderAssigned {
		return false
	}
	if f.Capability != "" && p.Capability != f.Capability {
		return false
	}
	return true
}

// Haversine distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
