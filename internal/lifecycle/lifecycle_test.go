package lifecycle_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/marketplace-dispatch/internal/dispatch"
	"github.com/example/marketplace-dispatch/internal/lifecycle"
	"github.com/example/marketplace-dispatch/internal/models"
	"github.com/example/marketplace-dispatch/internal/storage"
)

type pushRecorder struct {
	mu     sync.Mutex
	events map[string][]string
}

func (r *pushRecorder) Push(id, event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string][]string)
	}
	r.events[id] = append(r.events[id], event)
	return nil
}

func (r *pushRecorder) eventsFor(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events[id]...)
}

type fakeSettler struct {
	captured  []string
	cancelled []string
}

func (s *fakeSettler) Capture(_ context.Context, ref string) error {
	s.captured = append(s.captured, ref)
	return nil
}

func (s *fakeSettler) Cancel(_ context.Context, ref string) error {
	s.cancelled = append(s.cancelled, ref)
	return nil
}

type fakeMessenger struct {
	sent map[string][]string
}

func (m *fakeMessenger) Send(_ context.Context, targetID, message string) {
	if m.sent == nil {
		m.sent = make(map[string][]string)
	}
	m.sent[targetID] = append(m.sent[targetID], message)
}

type harness struct {
	store     *storage.MemoryStore
	channels  *pushRecorder
	settler   *fakeSettler
	messenger *fakeMessenger
	offers    *dispatch.OfferLog
	mgr       *lifecycle.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     storage.NewMemoryStore(),
		channels:  &pushRecorder{},
		settler:   &fakeSettler{},
		messenger: &fakeMessenger{},
		offers:    dispatch.NewOfferLog(),
	}
	h.mgr = &lifecycle.Manager{
		Requests:  h.store,
		Providers: h.store,
		Channels:  h.channels,
		Messages:  h.messenger,
		Payments:  h.settler,
		Offers:    h.offers,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return h
}

// seedAccepted creates a request already claimed by the given provider.
func (h *harness) seedAccepted(t *testing.T, requestID, providerID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.CreateProvider(ctx, &models.Provider{
		ID: providerID, Capability: "bike", Available: true, State: models.ProviderIdle,
	}))
	require.NoError(t, h.store.CreateRequest(ctx, &models.ServiceRequest{
		ID: requestID, RequesterID: "u1", Kind: "ride", Capability: "bike",
		Status: models.StatusPending, PaymentRef: "pi_123", FareEstimate: 180,
		CreatedAt: time.Now(),
	}))
	ok, err := h.store.AssignProvider(ctx, providerID, requestID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = h.store.ClaimRequest(ctx, requestID, providerID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to models.RequestStatus
		ok       bool
	}{
		{models.StatusPending, models.StatusAccepted, true},
		{models.StatusPending, models.StatusCancelled, true},
		{models.StatusPending, models.StatusNoProvider, true},
		{models.StatusAccepted, models.StatusInProgress, true},
		{models.StatusAccepted, models.StatusCancelled, true},
		{models.StatusInProgress, models.StatusCompleted, true},
		{models.StatusPending, models.StatusInProgress, false},
		{models.StatusPending, models.StatusCompleted, false},
		{models.StatusInProgress, models.StatusCancelled, false},
		{models.StatusCompleted, models.StatusCancelled, false},
		{models.StatusCancelled, models.StatusAccepted, false},
		{models.StatusNoProvider, models.StatusAccepted, false},
		{models.StatusCompleted, models.StatusPending, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, lifecycle.CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestStart(t *testing.T) {
	h := newHarness(t)
	h.seedAccepted(t, "r1", "p1")
	ctx := context.Background()

	require.NoError(t, h.mgr.Start(ctx, "r1", "p1"))

	req, err := h.store.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, req.Status)
	assert.Contains(t, h.channels.eventsFor("u1"), models.EventRequestStatus)
}

func TestStart_WrongProvider(t *testing.T) {
	h := newHarness(t)
	h.seedAccepted(t, "r1", "p1")

	err := h.mgr.Start(context.Background(), "r1", "p2")
	assert.ErrorIs(t, err, lifecycle.ErrNotAssignedProvider)

	req, gerr := h.store.GetRequest(context.Background(), "r1")
	require.NoError(t, gerr)
	assert.Equal(t, models.StatusAccepted, req.Status)
}

func TestStart_FromPendingRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.CreateRequest(ctx, &models.ServiceRequest{
		ID: "r1", RequesterID: "u1", Status: models.StatusPending, CreatedAt: time.Now(),
	}))

	err := h.mgr.Start(ctx, "r1", "p1")
	assert.ErrorIs(t, err, lifecycle.ErrNotAssignedProvider)
}

func TestComplete(t *testing.T) {
	h := newHarness(t)
	h.seedAccepted(t, "r1", "p1")
	ctx := context.Background()
	require.NoError(t, h.mgr.Start(ctx, "r1", "p1"))

	require.NoError(t, h.mgr.Complete(ctx, "r1", "p1"))

	req, err := h.store.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, req.Status)
	assert.False(t, req.ClosedAt.IsZero())

	p, err := h.store.GetProvider(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderIdle, p.State, "completed provider returns to the pool")
	assert.True(t, p.Available)

	assert.Equal(t, []string{"pi_123"}, h.settler.captured)
	assert.Contains(t, h.channels.eventsFor("u1"), models.EventRequestCompleted)
	assert.NotEmpty(t, h.messenger.sent["u1"])
}

func TestComplete_BeforeStartRejected(t *testing.T) {
	h := newHarness(t)
	h.seedAccepted(t, "r1", "p1")

	err := h.mgr.Complete(context.Background(), "r1", "p1")
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
	assert.Empty(t, h.settler.captured)
}

func TestCancel_PendingByRequester(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.CreateRequest(ctx, &models.ServiceRequest{
		ID: "r1", RequesterID: "u1", Kind: "ride", Status: models.StatusPending,
		PaymentRef: "pi_123", CreatedAt: time.Now(),
	}))
	h.offers.Record("r1", []string{"p1", "p2"})

	require.NoError(t, h.mgr.Cancel(ctx, "r1", lifecycle.ByRequester))

	req, err := h.store.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, req.Status)
	assert.Equal(t, []string{"pi_123"}, h.settler.cancelled)
	assert.Contains(t, h.channels.eventsFor("p1"), models.EventRequestRetract)
	assert.Contains(t, h.channels.eventsFor("p2"), models.EventRequestRetract)
	assert.Empty(t, h.offers.Notified("r1"))
}

func TestCancel_AcceptedNotifiesOtherParty(t *testing.T) {
	h := newHarness(t)
	h.seedAccepted(t, "r1", "p1")
	ctx := context.Background()

	require.NoError(t, h.mgr.Cancel(ctx, "r1", lifecycle.ByRequester))

	assert.Contains(t, h.channels.eventsFor("p1"), models.EventRequestCancelled)
	assert.NotContains(t, h.channels.eventsFor("u1"), models.EventRequestCancelled)

	p, err := h.store.GetProvider(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderIdle, p.State, "cancel must free the assigned provider")
	assert.NotEmpty(t, h.messenger.sent["p1"])
}

func TestCancel_ByProviderNotifiesRequester(t *testing.T) {
	h := newHarness(t)
	h.seedAccepted(t, "r1", "p1")

	require.NoError(t, h.mgr.Cancel(context.Background(), "r1", lifecycle.ByProvider))

	assert.Contains(t, h.channels.eventsFor("u1"), models.EventRequestCancelled)
	assert.NotEmpty(t, h.messenger.sent["u1"])
}

func TestCancel_InProgressRejected(t *testing.T) {
	h := newHarness(t)
	h.seedAccepted(t, "r1", "p1")
	ctx := context.Background()
	require.NoError(t, h.mgr.Start(ctx, "r1", "p1"))

	err := h.mgr.Cancel(ctx, "r1", lifecycle.ByRequester)
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)

	req, gerr := h.store.GetRequest(ctx, "r1")
	require.NoError(t, gerr)
	assert.Equal(t, models.StatusInProgress, req.Status)
}

func TestCancel_CompletedRejected(t *testing.T) {
	h := newHarness(t)
	h.seedAccepted(t, "r1", "p1")
	ctx := context.Background()
	require.NoError(t, h.mgr.Start(ctx, "r1", "p1"))
	require.NoError(t, h.mgr.Complete(ctx, "r1", "p1"))

	err := h.mgr.Cancel(ctx, "r1", lifecycle.ByRequester)
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
	assert.Empty(t, h.settler.cancelled, "no hold release after capture")
}

func TestCancel_MissingRequest(t *testing.T) {
	h := newHarness(t)
	err := h.mgr.Cancel(context.Background(), "nope", lifecycle.ByRequester)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestExpireIfUnclaimed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.CreateRequest(ctx, &models.ServiceRequest{
		ID: "r1", RequesterID: "u1", Status: models.StatusPending, CreatedAt: time.Now(),
	}))
	h.offers.Record("r1", []string{"p1"})

	h.mgr.ExpireIfUnclaimed(ctx, "r1")

	req, err := h.store.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNoProvider, req.Status)
	assert.Contains(t, h.channels.eventsFor("u1"), models.EventRequestNoProviders)
	assert.Empty(t, h.offers.Notified("r1"))
}

func TestExpireIfUnclaimed_LosesToAccept(t *testing.T) {
	h := newHarness(t)
	h.seedAccepted(t, "r1", "p1")
	ctx := context.Background()

	h.mgr.ExpireIfUnclaimed(ctx, "r1")

	req, err := h.store.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, req.Status, "an accepted request never expires")
	assert.NotContains(t, h.channels.eventsFor("u1"), models.EventRequestNoProviders)
}
