package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/marketplace-dispatch/internal/models"
)

func pendingRequest(id string) *models.ServiceRequest {
	return &models.ServiceRequest{
		ID:          id,
		RequesterID: "u1",
		Kind:        "ride",
		Capability:  "bike",
		Status:      models.StatusPending,
		CreatedAt:   time.Now(),
	}
}

func TestClaimRequest_ExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.CreateRequest(ctx, pendingRequest("r1")); err != nil {
		t.Fatal(err)
	}

	const n = 50
	var wg sync.WaitGroup
	wins := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pid := fmt.Sprintf("p%d", i)
			ok, err := m.ClaimRequest(ctx, "r1", pid)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				wins <- pid
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", len(winners))
	}
	r, err := m.GetRequest(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != models.StatusAccepted || r.ProviderID != winners[0] {
		t.Fatalf("stored winner mismatch: status=%s provider=%s want %s", r.Status, r.ProviderID, winners[0])
	}
}

func TestClaimRequest_UnknownID(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.ClaimRequest(context.Background(), "nope", "p1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionRequest_TerminalGuard(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := pendingRequest("r1")
	r.Status = models.StatusCompleted
	if err := m.CreateRequest(ctx, r); err != nil {
		t.Fatal(err)
	}
	ok, err := m.ClaimRequest(ctx, "r1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("completed request must never be claimable")
	}
	ok, err = m.TransitionRequest(ctx, "r1", models.StatusPending, models.StatusCancelled)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("completed request must not transition to cancelled")
	}
}

// Cancel racing accept: exactly one of {cancelled, accepted} must stick.
func TestCancelVsAcceptRace(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		m := NewMemoryStore()
		if err := m.CreateRequest(ctx, pendingRequest("r1")); err != nil {
			t.Fatal(err)
		}
		var wg sync.WaitGroup
		var claimOK, cancelOK bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			claimOK, _ = m.ClaimRequest(ctx, "r1", "p1")
		}()
		go func() {
			defer wg.Done()
			cancelOK, _ = m.TransitionRequest(ctx, "r1", models.StatusPending, models.StatusCancelled)
		}()
		wg.Wait()

		if claimOK == cancelOK {
			t.Fatalf("iteration %d: claim=%v cancel=%v, want exactly one", i, claimOK, cancelOK)
		}
		r, err := m.GetRequest(ctx, "r1")
		if err != nil {
			t.Fatal(err)
		}
		if claimOK && r.Status != models.StatusAccepted {
			t.Fatalf("winner was claim but status=%s", r.Status)
		}
		if cancelOK && r.Status != models.StatusCancelled {
			t.Fatalf("winner was cancel but status=%s", r.Status)
		}
	}
}

func TestAssignProvider_BusyGuard(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.CreateProvider(ctx, &models.Provider{ID: "p1", Capability: "bike", State: models.ProviderIdle, Available: true}); err != nil {
		t.Fatal(err)
	}
	ok, err := m.AssignProvider(ctx, "p1", "r1")
	if err != nil || !ok {
		t.Fatalf("first assign: ok=%v err=%v", ok, err)
	}
	ok, err = m.AssignProvider(ctx, "p1", "r2")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("assigned provider must not take a second request")
	}
	if err := m.ReleaseProvider(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	p, err := m.GetProvider(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if p.State != models.ProviderIdle || !p.Available || p.AssignedRequestID != "" {
		t.Fatalf("release left provider %+v", p)
	}
}
