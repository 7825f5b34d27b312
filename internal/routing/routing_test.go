package routing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/marketplace-dispatch/internal/models"
	"github.com/example/marketplace-dispatch/internal/routing"
)

type countingOracle struct {
	calls int
	route routing.Route
	err   error
}

func (o *countingOracle) Route(ctx context.Context, from, to models.Coord) (routing.Route, error) {
	o.calls++
	return o.route, o.err
}

func TestEstimator(t *testing.T) {
	e := routing.Estimator{SpeedMps: 10}
	// One degree of latitude, ~111.2km.
	r, err := e.Route(context.Background(), models.Coord{Lat: 28.0, Lon: 77.0}, models.Coord{Lat: 29.0, Lon: 77.0})
	require.NoError(t, err)
	assert.InDelta(t, 111200, r.DistanceMeters, 500)
	assert.InDelta(t, 11120, r.DurationSeconds, 50)
	assert.Zero(t, r.DurationInTrafficSeconds, "the fallback knows nothing about traffic")
}

func TestEstimator_DefaultSpeed(t *testing.T) {
	r, err := routing.Estimator{}.Route(context.Background(), models.Coord{Lat: 28.0, Lon: 77.0}, models.Coord{Lat: 28.01, Lon: 77.0})
	require.NoError(t, err)
	assert.Greater(t, r.DurationSeconds, 0.0)
	assert.InDelta(t, r.DistanceMeters/8.0, r.DurationSeconds, 1)
}

func TestCache_Hit(t *testing.T) {
	inner := &countingOracle{route: routing.Route{DistanceMeters: 1000, DurationSeconds: 120}}
	c := routing.NewCache(inner, time.Minute)
	from, to := models.Coord{Lat: 28.0, Lon: 77.0}, models.Coord{Lat: 28.1, Lon: 77.1}

	for i := 0; i < 3; i++ {
		r, err := c.Route(context.Background(), from, to)
		require.NoError(t, err)
		assert.Equal(t, 1000.0, r.DistanceMeters)
	}
	assert.Equal(t, 1, inner.calls)

	// A different pair is a different key.
	_, err := c.Route(context.Background(), to, from)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCache_Expiry(t *testing.T) {
	inner := &countingOracle{route: routing.Route{DistanceMeters: 1000}}
	c := routing.NewCache(inner, 10*time.Millisecond)
	from, to := models.Coord{Lat: 28.0, Lon: 77.0}, models.Coord{Lat: 28.1, Lon: 77.1}

	_, err := c.Route(context.Background(), from, to)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = c.Route(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCache_ErrorNotCached(t *testing.T) {
	inner := &countingOracle{err: routing.ErrNoRoute}
	c := routing.NewCache(inner, time.Minute)
	from, to := models.Coord{Lat: 28.0, Lon: 77.0}, models.Coord{Lat: 28.1, Lon: 77.1}

	_, err := c.Route(context.Background(), from, to)
	assert.ErrorIs(t, err, routing.ErrNoRoute)
	_, err = c.Route(context.Background(), from, to)
	assert.ErrorIs(t, err, routing.ErrNoRoute)
	assert.Equal(t, 2, inner.calls, "failures must fall through to the oracle every time")
}
