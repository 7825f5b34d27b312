package dispatch

import "sync"

// OfferLog records which providers were actually notified for each in-flight
// request, so the arbiter can retract the offer from the losers. Entries are
// ephemeral: they live only until the request reaches a terminal state or is
// assigned, and are never persisted.
type OfferLog struct {
	mu     sync.Mutex
	offers map[string][]string
}

func NewOfferLog() *OfferLog {
	return &OfferLog{offers: make(map[string][]string)}
}

// Record appends providerIDs to the notified set for requestID.
func (o *OfferLog) Record(requestID string, providerIDs []string) {
	if len(providerIDs) == 0 {
		return
	}
	o.mu.Lock()
	o.offers[requestID] = append(o.offers[requestID], providerIDs...)
	o.mu.Unlock()
}

// Notified returns a copy of the notified set for requestID.
func (o *OfferLog) Notified(requestID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := o.offers[requestID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Clear drops the entry for requestID.
func (o *OfferLog) Clear(requestID string) {
	o.mu.Lock()
	delete(o.offers, requestID)
	o.mu.Unlock()
}
