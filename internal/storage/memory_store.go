package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/marketplace-dispatch/internal/models"
)

// MemoryStore keeps requests and providers in process memory. The conditional
// writes hold the mutex across check and set, which gives the same atomicity
// the Postgres store gets from single-statement conditional updates.
type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[string]*models.ServiceRequest
	providers map[string]*models.Provider
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]*models.ServiceRequest),
		providers: make(map[string]*models.Provider),
	}
}

func (m *MemoryStore) CreateRequest(ctx context.Context, r *models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ClaimRequest(ctx context.Context, id, providerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != models.StatusPending {
		return false, nil
	}
	r.Status = models.StatusAccepted
	r.ProviderID = providerID
	return true, nil
}

func (m *MemoryStore) TransitionRequest(ctx context.Context, id string, from, to models.RequestStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	if to.Terminal() {
		r.ClosedAt = time.Now()
	}
	return true, nil
}

func (m *MemoryStore) CreateProvider(ctx context.Context, p *models.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.providers[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetProvider(ctx context.Context, id string) (*models.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) AssignProvider(ctx context.Context, id, requestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return false, ErrNotFound
	}
	if p.State == models.ProviderAssigned {
		return false, nil
	}
	p.State = models.ProviderAssigned
	p.Available = false
	p.AssignedRequestID = requestID
	return true, nil
}

func (m *MemoryStore) ReleaseProvider(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return ErrNotFound
	}
	p.State = models.ProviderIdle
	p.Available = true
	p.AssignedRequestID = ""
	return nil
}

func (m *MemoryStore) SetAvailability(ctx context.Context, id string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return ErrNotFound
	}
	p.Available = available
	return nil
}

func (m *MemoryStore) UpdateLocation(ctx context.Context, id string, loc models.Coord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return ErrNotFound
	}
	p.Loc = loc
	p.LastSeen = time.Now()
	return nil
}
