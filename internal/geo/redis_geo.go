package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/marketplace-dispatch/internal/models"
)

// RedisGeo implements Geo on Redis GEO commands. Locations live in one geo set
// per capability so a radius query only ever sees matching vehicles; the rest
// of the provider record lives in a meta hash keyed by id.
type RedisGeo struct {
	client *redis.Client
	prefix string
}

func NewRedisGeo(addr, password, prefix string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, prefix: prefix}
}

// NewRedisGeoFromClient wraps an existing client, for shared connections.
func NewRedisGeoFromClient(c *redis.Client, prefix string) *RedisGeo {
	return &RedisGeo{client: c, prefix: prefix}
}

func (r *RedisGeo) Upsert(ctx context.Context, p models.Provider) error {
	if _, err := r.client.GeoAdd(ctx, r.geoKey(p.Capability), &redis.GeoLocation{
		Longitude: p.Loc.Lon,
		Latitude:  p.Loc.Lat,
		Name:      p.ID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, r.metaKey(p.ID), map[string]interface{}{
		"name":       p.Name,
		"capability": p.Capability,
		"available":  strconv.FormatBool(p.Available),
		"state":      string(p.State),
		"rating":     fmt.Sprintf("%f", p.Rating),
		"last_seen":  time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Search(ctx context.Context, origin models.Coord, radiusMeters float64, f Filter) ([]models.Provider, error) {
	res, err := r.client.GeoRadius(ctx, r.geoKey(f.Capability), origin.Lon, origin.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Provider, 0, len(res))
	for _, g := range res {
		p := models.Provider{ID: g.Name, Capability: f.Capability}
		p.Loc.Lat = g.Latitude
		p.Loc.Lon = g.Longitude
		m, err := r.client.HGetAll(ctx, r.metaKey(g.Name)).Result()
		if err != nil {
			return nil, err
		}
		p.Name = m["name"]
		p.Available = m["available"] == "true"
		p.State = models.ProviderState(m["state"])
		if v, ok := m["rating"]; ok {
			if rt, err := strconv.ParseFloat(v, 64); err == nil {
				p.Rating = rt
			}
		}
		if !eligible(p, f) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *RedisGeo) geoKey(capability string) string { return r.prefix + ":geo:" + capability }
func (r *RedisGeo) metaKey(id string) string        { return r.prefix + ":meta:" + id }
