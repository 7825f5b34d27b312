package models

import "encoding/json"

// Real-time channel event names.
const (
	EventRequestNotify      = "request.notify"
	EventRequestAccept      = "request.accept"
	EventRequestAssigned    = "request.assigned"
	EventRequestRetract     = "request.retract"
	EventRequestCancelled   = "request.cancelled"
	EventRequestCompleted   = "request.completed"
	EventRequestNoProviders = "request.no_providers"
	EventRequestStatus      = "request.status"
	EventLocationUpdate     = "location.update"
	EventPing               = "ping"
	EventPong               = "pong"
	EventError              = "error"
)

// Envelope frames every message on the real-time channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AcceptEvent is the inbound payload for request.accept.
type AcceptEvent struct {
	RequestID  string `json:"request_id"`
	ProviderID string `json:"provider_id"`
}

// LocationEvent is the inbound payload for location.update.
type LocationEvent struct {
	Loc Coord `json:"loc"`
}
