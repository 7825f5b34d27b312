package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RequestStatus is the lifecycle state of a ServiceRequest.
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusAccepted   RequestStatus = "accepted"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	StatusCancelled  RequestStatus = "cancelled"
	StatusNoProvider RequestStatus = "no_provider"
)

// Terminal reports whether no further transition is legal from s.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoProvider:
		return true
	}
	return false
}

// ProviderState tracks where a provider sits in the dispatch cycle.
type ProviderState string

const (
	ProviderIdle     ProviderState = "idle"
	ProviderNotified ProviderState = "notified"
	ProviderAssigned ProviderState = "assigned"
)

// ServiceRequest is a ride or parcel request. ProviderID is non-empty iff
// Status is accepted, in_progress or completed.
type ServiceRequest struct {
	ID           string        `json:"id"`
	RequesterID  string        `json:"requester_id"`
	Kind         string        `json:"kind"` // "ride" or "parcel"
	Origin       Coord         `json:"origin"`
	Destination  Coord         `json:"destination"`
	Capability   string        `json:"capability"` // e.g. "bike", "auto", "truck"
	Status       RequestStatus `json:"status"`
	ProviderID   string        `json:"provider_id,omitempty"`
	FareEstimate float64       `json:"fare_estimate,omitempty"`
	PaymentRef   string        `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	ClosedAt     time.Time     `json:"closed_at,omitempty"`
}

type Provider struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Loc               Coord         `json:"loc"`
	Capability        string        `json:"capability"`
	Available         bool          `json:"available"`
	State             ProviderState `json:"state"`
	AssignedRequestID string        `json:"assigned_request_id,omitempty"`
	Rating            float64       `json:"rating"` // 0..5
	LastSeen          time.Time     `json:"last_seen"`
}

// Brief is the provider identity shared with a requester on assignment.
func (p Provider) Brief() ProviderBrief {
	return ProviderBrief{ID: p.ID, Name: p.Name, Rating: p.Rating, Loc: p.Loc}
}

type ProviderBrief struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Rating float64 `json:"rating"`
	Loc    Coord   `json:"loc"`
}

// RequestSummary is what candidate providers see in a request.notify event.
type RequestSummary struct {
	RequestID    string  `json:"request_id"`
	Kind         string  `json:"kind"`
	Origin       Coord   `json:"origin"`
	Destination  Coord   `json:"destination"`
	Capability   string  `json:"capability"`
	FareEstimate float64 `json:"fare_estimate,omitempty"`
}

// AssignmentNotice is pushed to the requester when a provider wins the request.
type AssignmentNotice struct {
	RequestID  string        `json:"request_id"`
	Provider   ProviderBrief `json:"provider"`
	ETASeconds float64       `json:"eta_seconds,omitempty"`
}

// RequestEvent is the lifecycle record published to the events topic.
type RequestEvent struct {
	RequestID  string        `json:"request_id"`
	Status     RequestStatus `json:"status"`
	ProviderID string        `json:"provider_id,omitempty"`
	At         time.Time     `json:"at"`
}
