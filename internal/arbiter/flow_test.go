package arbiter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/marketplace-dispatch/internal/arbiter"
	"github.com/example/marketplace-dispatch/internal/directory"
	"github.com/example/marketplace-dispatch/internal/dispatch"
	"github.com/example/marketplace-dispatch/internal/geo"
	"github.com/example/marketplace-dispatch/internal/models"
	"github.com/example/marketplace-dispatch/internal/storage"
)

// wsConn records envelopes written to one fake channel.
type wsConn struct {
	mu     sync.Mutex
	frames []map[string]any
}

func (c *wsConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, v.(map[string]any))
	return nil
}

func (c *wsConn) Close() error { return nil }

func (c *wsConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f["event"].(string))
	}
	return out
}

// TestDispatchAcceptFlow drives the whole path with real components: a
// request is created, dispatched through the expanding-radius search, three
// nearby providers are offered it over their channels, one accepts, the
// others are retracted.
func TestDispatchAcceptFlow(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	gidx := geo.NewIndex()
	dir := directory.New()
	offers := dispatch.NewOfferLog()

	policy := dispatch.RetryPolicy{
		RadiiMeters: []float64{2000, 4000, 6000},
		NewBackOff:  func() backoff.BackOff { return backoff.NewConstantBackOff(0) },
	}
	engine := dispatch.NewEngine(gidx, dir, offers, policy, discardLogger())
	arb := &arbiter.Arbiter{
		Requests:  store,
		Providers: store,
		Offers:    offers,
		Channels:  dir,
		Logger:    discardLogger(),
	}

	origin := models.Coord{Lat: 28.0, Lon: 77.0}
	// Roughly 0.01 deg latitude is ~1100m, so all three sit inside 2000m.
	providers := map[string]models.Coord{
		"prov-a": {Lat: 28.005, Lon: 77.0},
		"prov-b": {Lat: 28.008, Lon: 77.0},
		"prov-c": {Lat: 27.995, Lon: 77.0},
	}
	conns := make(map[string]*wsConn)
	for id, loc := range providers {
		p := models.Provider{ID: id, Capability: "bike", Available: true, State: models.ProviderIdle, Loc: loc}
		require.NoError(t, store.CreateProvider(ctx, &p))
		require.NoError(t, gidx.Upsert(ctx, p))
		conns[id] = &wsConn{}
		dir.Register(id, conns[id])
	}
	requesterConn := &wsConn{}
	dir.Register("user-1", requesterConn)

	req := &models.ServiceRequest{
		ID: "req-1", RequesterID: "user-1", Kind: "ride", Capability: "bike",
		Origin: origin, Status: models.StatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateRequest(ctx, req))

	out, err := engine.Dispatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeNotified, out.Status)
	assert.Equal(t, 1, out.Attempts, "all three are inside the first ring")
	assert.Len(t, offers.Notified("req-1"), 3)
	for id, c := range conns {
		assert.Contains(t, c.events(), models.EventRequestNotify, "provider %s must be offered the request", id)
	}

	res, err := arb.Accept(ctx, "req-1", "prov-b")
	require.NoError(t, err)
	require.Equal(t, arbiter.ResultWon, res)

	got, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
	assert.Equal(t, "prov-b", got.ProviderID)

	winner, err := store.GetProvider(ctx, "prov-b")
	require.NoError(t, err)
	assert.False(t, winner.Available)
	assert.Equal(t, models.ProviderAssigned, winner.State)
	assert.Equal(t, "req-1", winner.AssignedRequestID)

	assert.Contains(t, requesterConn.events(), models.EventRequestAssigned)
	assert.Contains(t, conns["prov-a"].events(), models.EventRequestRetract)
	assert.Contains(t, conns["prov-c"].events(), models.EventRequestRetract)
	assert.NotContains(t, conns["prov-b"].events(), models.EventRequestRetract)

	// A straggler accept after the assignment loses cleanly.
	res, err = arb.Accept(ctx, "req-1", "prov-a")
	require.NoError(t, err)
	assert.Equal(t, arbiter.ResultAlreadyAssigned, res)
	loser, err := store.GetProvider(ctx, "prov-a")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderIdle, loser.State)
}

// TestDispatchNoProvidersAnywhere exhausts every ring without a single
// candidate; the request stays pending for the caller to time out.
func TestDispatchNoProvidersAnywhere(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	gidx := geo.NewIndex()
	dir := directory.New()
	offers := dispatch.NewOfferLog()

	// One provider with the wrong capability well inside range.
	p := models.Provider{
		ID: "prov-truck", Capability: "truck", Available: true,
		State: models.ProviderIdle, Loc: models.Coord{Lat: 28.001, Lon: 77.0},
	}
	require.NoError(t, store.CreateProvider(ctx, &p))
	require.NoError(t, gidx.Upsert(ctx, p))

	policy := dispatch.RetryPolicy{
		RadiiMeters: []float64{2000, 4000, 6000},
		NewBackOff:  func() backoff.BackOff { return backoff.NewConstantBackOff(0) },
	}
	engine := dispatch.NewEngine(gidx, dir, offers, policy, discardLogger())

	req := &models.ServiceRequest{
		ID: "req-2", RequesterID: "user-2", Kind: "ride", Capability: "bike",
		Origin: models.Coord{Lat: 28.0, Lon: 77.0}, Status: models.StatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateRequest(ctx, req))

	out, err := engine.Dispatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeNoCandidates, out.Status)
	assert.Equal(t, 3, out.Attempts)
	assert.Empty(t, offers.Notified("req-2"))

	got, err := store.GetRequest(ctx, "req-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status, "exhausted dispatch must not close the request")
}
