package lifecycle

import (
	"errors"

	"github.com/example/marketplace-dispatch/internal/models"
)

// ErrIllegalTransition marks an operation attempted from the wrong state.
var ErrIllegalTransition = errors.New("lifecycle: illegal transition")

// transitions is the full legal-move table for a service request. Terminal
// states have no outgoing edges.
var transitions = map[models.RequestStatus][]models.RequestStatus{
	models.StatusPending:    {models.StatusAccepted, models.StatusCancelled, models.StatusNoProvider},
	models.StatusAccepted:   {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress: {models.StatusCompleted},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to models.RequestStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
