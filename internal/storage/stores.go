package storage

import (
	"context"
	"errors"

	"github.com/example/marketplace-dispatch/internal/models"
)

// ErrNotFound is returned for unknown request or provider ids.
var ErrNotFound = errors.New("storage: not found")

// RequestStore defines persistence operations for service requests.
//
// ClaimRequest and TransitionRequest are conditional writes: they apply only
// when the stored status matches the expected prior value and report whether
// they did. They are the sole serialization point for accept/cancel races, so
// implementations must make the check-and-set indivisible.
type RequestStore interface {
	CreateRequest(ctx context.Context, r *models.ServiceRequest) error
	GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error)
	// ClaimRequest moves a pending request to accepted and binds providerID.
	// Returns false without mutating when the request is no longer pending.
	ClaimRequest(ctx context.Context, id, providerID string) (bool, error)
	// TransitionRequest moves the request from one status to another,
	// returning false when the stored status is not `from`.
	TransitionRequest(ctx context.Context, id string, from, to models.RequestStatus) (bool, error)
}

// ProviderStore defines persistence operations for providers.
type ProviderStore interface {
	CreateProvider(ctx context.Context, p *models.Provider) error
	GetProvider(ctx context.Context, id string) (*models.Provider, error)
	// AssignProvider binds the provider to a request unless it is already
	// assigned. Returns false without mutating when the provider is busy.
	AssignProvider(ctx context.Context, id, requestID string) (bool, error)
	// ReleaseProvider returns an assigned provider to idle and available.
	ReleaseProvider(ctx context.Context, id string) error
	SetAvailability(ctx context.Context, id string, available bool) error
	UpdateLocation(ctx context.Context, id string, loc models.Coord) error
}
