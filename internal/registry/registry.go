// Package registry is the provider-facing surface: registration, location
// updates, availability toggles and release back to the pool. It keeps the
// durable record (store) and the spatial index (geo) in step.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/marketplace-dispatch/internal/directory"
	"github.com/example/marketplace-dispatch/internal/geo"
	"github.com/example/marketplace-dispatch/internal/models"
	"github.com/example/marketplace-dispatch/internal/storage"
)

var ErrMissingCapability = errors.New("registry: capability is required")

// LocationPublisher pushes location samples onto the ingest topic. Optional;
// absence means locations only land in the index directly.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, p models.Provider) error
}

type Registry struct {
	Store     storage.ProviderStore
	Geo       geo.Geo
	Locations LocationPublisher // optional
	Logger    *slog.Logger
}

// Register creates a provider record. Ids are normalized once here so every
// later lookup — store, geo, directory — matches exactly.
func (r *Registry) Register(ctx context.Context, p *models.Provider) error {
	if p.Capability == "" {
		return ErrMissingCapability
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.ID = directory.CanonicalID(p.ID)
	p.State = models.ProviderIdle
	p.LastSeen = time.Now()
	if p.Rating == 0 {
		p.Rating = 5
	}
	if err := r.Store.CreateProvider(ctx, p); err != nil {
		return err
	}
	return r.Geo.Upsert(ctx, *p)
}

func (r *Registry) Get(ctx context.Context, id string) (*models.Provider, error) {
	return r.Store.GetProvider(ctx, directory.CanonicalID(id))
}

// UpdateLocation records a periodic location sample: durable record, spatial
// index, and the ingest topic when one is wired.
func (r *Registry) UpdateLocation(ctx context.Context, id string, loc models.Coord) error {
	id = directory.CanonicalID(id)
	if err := r.Store.UpdateLocation(ctx, id, loc); err != nil {
		return err
	}
	p, err := r.Store.GetProvider(ctx, id)
	if err != nil {
		return err
	}
	if err := r.Geo.Upsert(ctx, *p); err != nil {
		return err
	}
	if r.Locations != nil {
		if err := r.Locations.PublishLocation(ctx, *p); err != nil {
			r.Logger.Warn("location publish failed", "provider_id", id, "error", err)
		}
	}
	return nil
}

// SetAvailability flips the provider's availability flag in both stores.
func (r *Registry) SetAvailability(ctx context.Context, id string, available bool) error {
	id = directory.CanonicalID(id)
	if err := r.Store.SetAvailability(ctx, id, available); err != nil {
		return err
	}
	p, err := r.Store.GetProvider(ctx, id)
	if err != nil {
		return err
	}
	return r.Geo.Upsert(ctx, *p)
}

// Release returns an assigned provider to idle and available, and refreshes
// the index so it becomes a candidate again.
func (r *Registry) Release(ctx context.Context, id string) error {
	id = directory.CanonicalID(id)
	if err := r.Store.ReleaseProvider(ctx, id); err != nil {
		return err
	}
	p, err := r.Store.GetProvider(ctx, id)
	if err != nil {
		return err
	}
	return r.Geo.Upsert(ctx, *p)
}
