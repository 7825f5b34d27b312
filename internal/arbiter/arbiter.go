// Package arbiter resolves the accept race: of all concurrent provider
// responses to one request, exactly one wins the assignment.
package arbiter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/marketplace-dispatch/internal/directory"
	"github.com/example/marketplace-dispatch/internal/models"
	"github.com/example/marketplace-dispatch/internal/observability"
	"github.com/example/marketplace-dispatch/internal/routing"
	"github.com/example/marketplace-dispatch/internal/storage"
)

// Result classifies an accept attempt. Lost races are outcomes, not errors:
// under load they are frequent and expected.
type Result string

const (
	ResultWon              Result = "won"
	ResultAlreadyAssigned  Result = "already-assigned"
	ResultRequestClosed    Result = "request-closed"
	ResultRequestNotFound  Result = "request-not-found"
	ResultProviderNotFound Result = "provider-not-found"
	ResultProviderBusy     Result = "provider-busy"
)

// OfferLookup exposes the dispatch engine's notified set so losers can be
// told to retract.
type OfferLookup interface {
	Notified(requestID string) []string
	Clear(requestID string)
}

// Channels pushes events to connected entities; a missing channel surfaces
// directory.ErrNoSession and is never fatal here.
type Channels interface {
	Push(id, event string, data any) error
}

// EventPublisher records lifecycle transitions on the events topic.
// Publishing is best effort.
type EventPublisher interface {
	PublishRequestEvent(ctx context.Context, ev models.RequestEvent) error
}

// Arbiter serializes accept attempts through the store's conditional update.
// There is deliberately no in-process lock around the race: correctness rests
// entirely on ClaimRequest being atomic at the store.
type Arbiter struct {
	Requests  storage.RequestStore
	Providers storage.ProviderStore
	Offers    OfferLookup
	Channels  Channels
	Oracle    routing.Oracle  // optional: ETA on the assignment notice
	Events    EventPublisher  // optional
	Logger    *slog.Logger
}

// Accept attempts to bind providerID to requestID. The provider slot is taken
// first (a provider already on a job must not win a second one), then the
// request is claimed; if the claim loses, the provider slot is handed back.
func (a *Arbiter) Accept(ctx context.Context, requestID, providerID string) (Result, error) {
	providerID = directory.CanonicalID(providerID)

	prov, err := a.Providers.GetProvider(ctx, providerID)
	if errors.Is(err, storage.ErrNotFound) {
		return ResultProviderNotFound, nil
	}
	if err != nil {
		return "", err
	}

	req, err := a.Requests.GetRequest(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return ResultRequestNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if req.Status.Terminal() {
		return ResultRequestClosed, nil
	}

	ok, err := a.Providers.AssignProvider(ctx, providerID, requestID)
	if err != nil {
		return "", err
	}
	if !ok {
		return ResultProviderBusy, nil
	}

	won, err := a.Requests.ClaimRequest(ctx, requestID, providerID)
	if err != nil {
		// The provider slot must not leak when the claim itself failed.
		if rerr := a.Providers.ReleaseProvider(ctx, providerID); rerr != nil {
			a.Logger.Error("release after failed claim", "provider_id", providerID, "error", rerr)
		}
		return "", err
	}
	if !won {
		if rerr := a.Providers.ReleaseProvider(ctx, providerID); rerr != nil {
			a.Logger.Error("release after lost race", "provider_id", providerID, "error", rerr)
		}
		observability.AssignmentsLost.Inc()
		// Re-read to tell a lost race apart from a closed request.
		cur, err := a.Requests.GetRequest(ctx, requestID)
		if err == nil && cur.Status.Terminal() {
			return ResultRequestClosed, nil
		}
		return ResultAlreadyAssigned, nil
	}

	observability.AssignmentsWon.Inc()
	a.Logger.Info("assignment won", "request_id", requestID, "provider_id", providerID)
	a.afterWin(ctx, req, prov)
	return ResultWon, nil
}

// afterWin delivers the side effects of a won assignment: requester notice,
// loser retractions, lifecycle event. All of it is best effort; the
// assignment is already durable.
func (a *Arbiter) afterWin(ctx context.Context, req *models.ServiceRequest, winner *models.Provider) {
	notice := models.AssignmentNotice{RequestID: req.ID, Provider: winner.Brief()}
	if a.Oracle != nil {
		if r, err := a.Oracle.Route(ctx, winner.Loc, req.Origin); err == nil {
			notice.ETASeconds = r.DurationSeconds
			if r.DurationInTrafficSeconds > 0 {
				notice.ETASeconds = r.DurationInTrafficSeconds
			}
		} else {
			a.Logger.Warn("eta lookup failed", "request_id", req.ID, "error", err)
		}
	}
	if err := a.Channels.Push(req.RequesterID, models.EventRequestAssigned, notice); err != nil && !errors.Is(err, directory.ErrNoSession) {
		observability.NotifySendFailures.Inc()
		a.Logger.Warn("requester notify failed", "request_id", req.ID, "error", err)
	}

	for _, id := range a.Offers.Notified(req.ID) {
		if id == winner.ID {
			continue
		}
		if err := a.Channels.Push(id, models.EventRequestRetract, map[string]string{"request_id": req.ID}); err != nil && !errors.Is(err, directory.ErrNoSession) {
			a.Logger.Warn("retract failed", "request_id", req.ID, "provider_id", id, "error", err)
		}
	}
	a.Offers.Clear(req.ID)

	if a.Events != nil {
		ev := models.RequestEvent{RequestID: req.ID, Status: models.StatusAccepted, ProviderID: winner.ID, At: time.Now()}
		if err := a.Events.PublishRequestEvent(ctx, ev); err != nil {
			a.Logger.Warn("event publish failed", "request_id", req.ID, "error", err)
		}
	}
}
