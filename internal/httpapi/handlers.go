package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/example/marketplace-dispatch/internal/arbiter"
	"github.com/example/marketplace-dispatch/internal/directory"
	"github.com/example/marketplace-dispatch/internal/dispatch"
	"github.com/example/marketplace-dispatch/internal/lifecycle"
	"github.com/example/marketplace-dispatch/internal/models"
	"github.com/example/marketplace-dispatch/internal/observability"
	"github.com/example/marketplace-dispatch/internal/registry"
	"github.com/example/marketplace-dispatch/internal/storage"
)

type createRequestBody struct {
	RequesterID string       `json:"requester_id"`
	Kind        string       `json:"kind"`
	Origin      models.Coord `json:"origin"`
	Destination models.Coord `json:"destination"`
	Capability  string       `json:"capability"`
}

func (b createRequestBody) validate() error {
	switch {
	case b.RequesterID == "":
		return errors.New("requester_id is required")
	case b.Capability == "":
		return errors.New("capability is required")
	case b.Kind != "ride" && b.Kind != "parcel":
		return errors.New("kind must be ride or parcel")
	}
	return nil
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := body.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := &models.ServiceRequest{
		ID:          uuid.NewString(),
		RequesterID: directory.CanonicalID(body.RequesterID),
		Kind:        body.Kind,
		Origin:      body.Origin,
		Destination: body.Destination,
		Capability:  body.Capability,
		Status:      models.StatusPending,
		CreatedAt:   time.Now(),
	}

	// Fare is an estimate for the offer; an oracle failure only costs us the
	// number, never the request.
	if route, err := s.Oracle.Route(r.Context(), req.Origin, req.Destination); err == nil {
		req.FareEstimate = fareFor(route.DistanceMeters)
	} else {
		s.logger.Warn("fare estimate skipped", "request_id", req.ID, "error", err)
	}

	if s.Payments.Enabled() && req.FareEstimate > 0 {
		ref, err := s.Payments.Hold(r.Context(), int64(req.FareEstimate*100), "inr", "")
		if err != nil {
			s.logger.Warn("payment hold failed", "request_id", req.ID, "error", err)
		} else {
			req.PaymentRef = ref
		}
	}

	if err := s.Requests.CreateRequest(r.Context(), req); err != nil {
		s.logger.Error("create request failed", "error", err)
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	observability.RequestsCreated.Inc()

	// Dispatch runs detached: the expanding-radius search sleeps between
	// attempts and must not hold the HTTP request open.
	go s.runDispatch(req)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id":    req.ID,
		"status":        req.Status,
		"fare_estimate": req.FareEstimate,
	})
}

func (s *Server) runDispatch(req *models.ServiceRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AcceptWindow)
	defer cancel()

	out, err := s.Engine.Dispatch(ctx, req)
	if err != nil {
		s.logger.Error("dispatch failed", "request_id", req.ID, "error", err)
	}
	if out.Status == dispatch.OutcomeNoCandidates {
		// The request stays pending so the requester can retry later; the
		// acceptance-window timer below decides when it becomes no_provider.
		if perr := s.Directory.Push(req.RequesterID, models.EventRequestNoProviders,
			map[string]string{"request_id": req.ID}); perr != nil && !errors.Is(perr, directory.ErrNoSession) {
			s.logger.Warn("no-providers notice failed", "request_id", req.ID, "error", perr)
		}
	}

	time.AfterFunc(s.cfg.AcceptWindow, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Lifecycle.ExpireIfUnclaimed(ctx, req.ID)
	})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, err := s.Requests.GetRequest(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "request not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		ProviderID string `json:"provider_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ProviderID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}
	res, err := s.Arbiter.Accept(r.Context(), id, body.ProviderID)
	if err != nil {
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, statusForResult(res), map[string]string{"result": string(res)})
}

// statusForResult maps arbitration outcomes onto HTTP codes. Lost races get
// 409: the caller did nothing wrong, someone else was just faster.
func statusForResult(res arbiter.Result) int {
	switch res {
	case arbiter.ResultWon:
		return http.StatusOK
	case arbiter.ResultAlreadyAssigned, arbiter.ResultProviderBusy:
		return http.StatusConflict
	case arbiter.ResultRequestClosed:
		return http.StatusGone
	case arbiter.ResultRequestNotFound, arbiter.ResultProviderNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		By string `json:"by"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	by := lifecycle.ByRequester
	if body.By == string(lifecycle.ByProvider) {
		by = lifecycle.ByProvider
	}
	err := s.Lifecycle.Cancel(r.Context(), id, by)
	s.respondLifecycle(w, err)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.Lifecycle.Start)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.Lifecycle.Complete)
}

func (s *Server) lifecycleOp(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string) error) {
	id := mux.Vars(r)["id"]
	var body struct {
		ProviderID string `json:"provider_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ProviderID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}
	s.respondLifecycle(w, op(r.Context(), id, body.ProviderID))
}

func (s *Server) respondLifecycle(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, lifecycle.ErrNotAssignedProvider):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		s.logger.Error("lifecycle operation failed", "error", err)
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
	}
}

func (s *Server) handleRegisterProvider(w http.ResponseWriter, r *http.Request) {
	var p models.Provider
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Registry.Register(r.Context(), &p); err != nil {
		s.respondRegistry(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": p.ID})
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Registry.SetAvailability(r.Context(), id, body.Available); err != nil {
		s.respondRegistry(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProviderLocation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProviderID string       `json:"provider_id"`
		Loc        models.Coord `json:"loc"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ProviderID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}
	if err := s.Registry.UpdateLocation(r.Context(), body.ProviderID, body.Loc); err != nil {
		s.respondRegistry(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondRegistry(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "provider not found", http.StatusNotFound)
	case errors.Is(err, registry.ErrMissingCapability):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("registry operation failed", "error", err)
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
	}
}

// fareFor is a placeholder tariff: base fare plus a per-km rate. Real fare
// rules live outside the dispatch core.
func fareFor(distanceMeters float64) float64 {
	return 30 + 12*(distanceMeters/1000)
}
