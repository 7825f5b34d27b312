// Package lifecycle drives a service request through its states after
// assignment, and owns the side effects each transition fires.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/marketplace-dispatch/internal/directory"
	"github.com/example/marketplace-dispatch/internal/models"
	"github.com/example/marketplace-dispatch/internal/storage"
)

// CancelledBy identifies which party initiated a cancellation, so the other
// one gets told.
type CancelledBy string

const (
	ByRequester CancelledBy = "requester"
	ByProvider  CancelledBy = "provider"
)

var (
	// ErrNotAssignedProvider rejects lifecycle calls from a provider that
	// does not hold the assignment.
	ErrNotAssignedProvider = errors.New("lifecycle: provider does not hold this request")
)

// Channels pushes real-time events; Messenger sends outbound messages
// (WhatsApp/SMS-equivalent); Settler is the payment-gateway slice used for
// settlement bookkeeping. All three are best effort from this package's
// point of view.
type Channels interface {
	Push(id, event string, data any) error
}

type Messenger interface {
	Send(ctx context.Context, targetID, message string)
}

type Settler interface {
	Capture(ctx context.Context, paymentRef string) error
	Cancel(ctx context.Context, paymentRef string) error
}

type EventPublisher interface {
	PublishRequestEvent(ctx context.Context, ev models.RequestEvent) error
}

type Offers interface {
	Notified(requestID string) []string
	Clear(requestID string)
}

// Manager applies lifecycle operations. Every transition goes through the
// store's conditional update so a concurrent accept or cancel can never be
// half-applied.
type Manager struct {
	Requests  storage.RequestStore
	Providers storage.ProviderStore
	Channels  Channels
	Messages  Messenger      // optional
	Payments  Settler        // optional
	Events    EventPublisher // optional
	Offers    Offers
	Logger    *slog.Logger
}

// Start moves accepted → in_progress when the assigned provider confirms
// pickup.
func (m *Manager) Start(ctx context.Context, requestID, providerID string) error {
	req, err := m.Requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ProviderID != directory.CanonicalID(providerID) {
		return ErrNotAssignedProvider
	}
	if !CanTransition(req.Status, models.StatusInProgress) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, req.Status, models.StatusInProgress)
	}
	ok, err := m.Requests.TransitionRequest(ctx, requestID, models.StatusAccepted, models.StatusInProgress)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, req.Status, models.StatusInProgress)
	}
	m.push(req.RequesterID, models.EventRequestStatus, map[string]string{"request_id": requestID, "status": string(models.StatusInProgress)})
	m.publish(ctx, requestID, models.StatusInProgress, req.ProviderID)
	return nil
}

// Complete moves in_progress → completed and runs settlement bookkeeping:
// the provider goes back to the pool, the payment hold is captured, the
// requester gets the receipt notification.
func (m *Manager) Complete(ctx context.Context, requestID, providerID string) error {
	req, err := m.Requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ProviderID != directory.CanonicalID(providerID) {
		return ErrNotAssignedProvider
	}
	if !CanTransition(req.Status, models.StatusCompleted) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, req.Status, models.StatusCompleted)
	}
	ok, err := m.Requests.TransitionRequest(ctx, requestID, models.StatusInProgress, models.StatusCompleted)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, req.Status, models.StatusCompleted)
	}

	if err := m.Providers.ReleaseProvider(ctx, req.ProviderID); err != nil {
		m.Logger.Error("provider release failed", "provider_id", req.ProviderID, "error", err)
	}
	if m.Payments != nil && req.PaymentRef != "" {
		if err := m.Payments.Capture(ctx, req.PaymentRef); err != nil {
			m.Logger.Error("settlement capture failed", "request_id", requestID, "payment_ref", req.PaymentRef, "error", err)
		}
	}
	m.push(req.RequesterID, models.EventRequestCompleted, map[string]any{"request_id": requestID, "fare": req.FareEstimate})
	if m.Messages != nil {
		m.Messages.Send(ctx, req.RequesterID, fmt.Sprintf("Your %s request %s is complete.", req.Kind, requestID))
	}
	m.publish(ctx, requestID, models.StatusCompleted, req.ProviderID)
	m.Logger.Info("request completed", "request_id", requestID, "provider_id", req.ProviderID)
	return nil
}

// Cancel ends a pending or accepted request. The conditional transition is
// the same gate the arbiter claims through, so a cancel racing an accept
// resolves to exactly one of the two.
func (m *Manager) Cancel(ctx context.Context, requestID string, by CancelledBy) error {
	req, err := m.Requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}

	ok, err := m.Requests.TransitionRequest(ctx, requestID, models.StatusPending, models.StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		// Not pending anymore: either a provider won an accept in the
		// meantime (cancel from accepted is still legal) or the request is
		// closed.
		ok, err = m.Requests.TransitionRequest(ctx, requestID, models.StatusAccepted, models.StatusCancelled)
		if err != nil {
			return err
		}
	}
	if !ok {
		cur, gerr := m.Requests.GetRequest(ctx, requestID)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cur.Status, models.StatusCancelled)
	}

	// Re-read for the post-claim provider binding, if any.
	cur, err := m.Requests.GetRequest(ctx, requestID)
	if err == nil {
		req = cur
	}
	if req.ProviderID != "" {
		if err := m.Providers.ReleaseProvider(ctx, req.ProviderID); err != nil {
			m.Logger.Error("provider release failed", "provider_id", req.ProviderID, "error", err)
		}
	}
	if m.Payments != nil && req.PaymentRef != "" {
		if err := m.Payments.Cancel(ctx, req.PaymentRef); err != nil {
			m.Logger.Error("payment hold release failed", "request_id", requestID, "error", err)
		}
	}

	// Retract the offer from anyone still holding it.
	for _, id := range m.Offers.Notified(requestID) {
		m.push(id, models.EventRequestRetract, map[string]string{"request_id": requestID})
	}
	m.Offers.Clear(requestID)

	// Tell whichever party did not initiate.
	payload := map[string]string{"request_id": requestID, "cancelled_by": string(by)}
	switch by {
	case ByProvider:
		m.push(req.RequesterID, models.EventRequestCancelled, payload)
		if m.Messages != nil {
			m.Messages.Send(ctx, req.RequesterID, fmt.Sprintf("Your %s request %s was cancelled by the provider.", req.Kind, requestID))
		}
	default:
		if req.ProviderID != "" {
			m.push(req.ProviderID, models.EventRequestCancelled, payload)
			if m.Messages != nil {
				m.Messages.Send(ctx, req.ProviderID, fmt.Sprintf("Request %s was cancelled by the requester.", requestID))
			}
		}
	}
	m.publish(ctx, requestID, models.StatusCancelled, req.ProviderID)
	m.Logger.Info("request cancelled", "request_id", requestID, "by", string(by))
	return nil
}

// ExpireIfUnclaimed moves a still-pending request to no_provider once the
// acceptance window has passed. Called from a timer after dispatch; losing
// the conditional update here just means someone accepted or cancelled first.
func (m *Manager) ExpireIfUnclaimed(ctx context.Context, requestID string) {
	ok, err := m.Requests.TransitionRequest(ctx, requestID, models.StatusPending, models.StatusNoProvider)
	if err != nil {
		m.Logger.Error("expire failed", "request_id", requestID, "error", err)
		return
	}
	if !ok {
		return
	}
	m.Offers.Clear(requestID)
	req, err := m.Requests.GetRequest(ctx, requestID)
	if err != nil {
		return
	}
	m.push(req.RequesterID, models.EventRequestNoProviders, map[string]string{"request_id": requestID})
	m.publish(ctx, requestID, models.StatusNoProvider, "")
	m.Logger.Info("request expired unclaimed", "request_id", requestID)
}

func (m *Manager) push(id, event string, data any) {
	if err := m.Channels.Push(id, event, data); err != nil && !errors.Is(err, directory.ErrNoSession) {
		m.Logger.Warn("channel push failed", "target", id, "event", event, "error", err)
	}
}

func (m *Manager) publish(ctx context.Context, requestID string, status models.RequestStatus, providerID string) {
	if m.Events == nil {
		return
	}
	ev := models.RequestEvent{RequestID: requestID, Status: status, ProviderID: providerID, At: time.Now()}
	if err := m.Events.PublishRequestEvent(ctx, ev); err != nil {
		m.Logger.Warn("event publish failed", "request_id", requestID, "error", err)
	}
}
