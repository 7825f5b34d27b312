// Package dispatch implements the expanding-radius provider search and the
// notification fan-out for new service requests.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/example/marketplace-dispatch/internal/directory"
	"github.com/example/marketplace-dispatch/internal/geo"
	"github.com/example/marketplace-dispatch/internal/models"
	"github.com/example/marketplace-dispatch/internal/observability"
)

// Candidates is the slice of the geo index the engine needs.
type Candidates interface {
	Search(ctx context.Context, origin models.Coord, radiusMeters float64, f geo.Filter) ([]models.Provider, error)
}

// Notifier pushes one event to a provider's channel. It returns
// directory.ErrNoSession when the provider has no open connection; any error
// means the provider was not notified.
type Notifier interface {
	Push(id, event string, data any) error
}

// OutcomeStatus classifies how a dispatch ended.
type OutcomeStatus string

const (
	// OutcomeNotified means at least one connected candidate received the
	// request.
	OutcomeNotified OutcomeStatus = "notified"
	// OutcomeNoCandidates means every radius was exhausted without a single
	// notifiable candidate.
	OutcomeNoCandidates OutcomeStatus = "no-candidates"
)

// Outcome reports a finished dispatch.
type Outcome struct {
	Status       OutcomeStatus
	Attempts     int
	RadiusMeters float64  // radius of the final attempt
	Notified     []string // provider ids that actually received the event
}

// Engine fans a request out to nearby eligible providers.
type Engine struct {
	Geo    Candidates
	Notify Notifier
	Offers *OfferLog
	Policy RetryPolicy
	Logger *slog.Logger
}

func NewEngine(g Candidates, n Notifier, offers *OfferLog, policy RetryPolicy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Geo: g, Notify: n, Offers: offers, Policy: policy, Logger: logger}
}

// Dispatch runs the expanding-radius search for req and notifies every
// connected candidate it finds. Notification is fire-and-forget: accepts
// arrive later through the arbiter. A candidate with no open channel is
// skipped and never counted as notified; if a whole attempt yields zero
// notifiable candidates the search keeps expanding, because an offer nobody
// heard is no offer at all.
func (e *Engine) Dispatch(ctx context.Context, req *models.ServiceRequest) (Outcome, error) {
	out := Outcome{Status: OutcomeNoCandidates}
	bo := e.Policy.NewBackOff()
	summary := models.RequestSummary{
		RequestID:    req.ID,
		Kind:         req.Kind,
		Origin:       req.Origin,
		Destination:  req.Destination,
		Capability:   req.Capability,
		FareEstimate: req.FareEstimate,
	}

	for i, radius := range e.Policy.RadiiMeters {
		if i > 0 {
			if err := e.wait(ctx, bo); err != nil {
				return out, err
			}
		}
		out.Attempts = i + 1
		out.RadiusMeters = radius
		observability.DispatchAttempts.Inc()

		cands, err := e.Geo.Search(ctx, req.Origin, radius, geo.Filter{Capability: req.Capability})
		if err != nil {
			return out, err
		}
		e.Logger.Debug("dispatch attempt",
			"request_id", req.ID, "attempt", out.Attempts, "radius_m", radius, "candidates", len(cands))
		if len(cands) == 0 {
			continue
		}

		notified := e.fanOut(req.ID, cands, summary)
		if len(notified) == 0 {
			continue
		}
		e.Offers.Record(req.ID, notified)
		out.Status = OutcomeNotified
		out.Notified = notified
		e.Logger.Info("request dispatched",
			"request_id", req.ID, "radius_m", radius, "notified", len(notified))
		return out, nil
	}

	observability.DispatchExhausted.Inc()
	e.Logger.Info("dispatch exhausted", "request_id", req.ID, "attempts", out.Attempts)
	return out, nil
}

// fanOut pushes the request summary to every candidate with a live channel.
// One bad session must not starve the rest, so send errors only skip that
// candidate.
func (e *Engine) fanOut(requestID string, cands []models.Provider, summary models.RequestSummary) []string {
	notified := make([]string, 0, len(cands))
	for _, c := range cands {
		err := e.Notify.Push(c.ID, models.EventRequestNotify, summary)
		switch {
		case err == nil:
			notified = append(notified, c.ID)
			observability.ProvidersNotified.Inc()
		case errors.Is(err, directory.ErrNoSession):
			// Not connected: expected, not even worth a warning.
			e.Logger.Debug("candidate not connected", "request_id", requestID, "provider_id", c.ID)
		default:
			observability.NotifySendFailures.Inc()
			e.Logger.Warn("notify failed", "request_id", requestID, "provider_id", c.ID, "error", err)
		}
	}
	return notified
}

func (e *Engine) wait(ctx context.Context, bo backoff.BackOff) error {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
