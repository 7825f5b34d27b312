package routing

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/example/marketplace-dispatch/internal/models"
)

// GoogleOracle answers route queries from the Distance Matrix API, including
// the in-traffic duration when the API returns one.
type GoogleOracle struct {
	client *maps.Client
}

func NewGoogleOracle(apiKey string) (*GoogleOracle, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GoogleOracle{client: c}, nil
}

func (g *GoogleOracle) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	resp, err := g.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:       []string{coordString(from)},
		Destinations:  []string{coordString(to)},
		Mode:          maps.TravelModeDriving,
		Units:         maps.UnitsMetric,
		DepartureTime: "now",
	})
	if err != nil {
		return Route{}, err
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return Route{}, ErrNoRoute
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return Route{}, ErrNoRoute
	}
	r := Route{
		DistanceMeters:  float64(el.Distance.Meters),
		DurationSeconds: el.Duration.Seconds(),
	}
	if el.DurationInTraffic > 0 {
		r.DurationInTrafficSeconds = el.DurationInTraffic.Seconds()
	}
	return r, nil
}

func coordString(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}
