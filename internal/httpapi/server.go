// Package httpapi is the thin HTTP and websocket surface over the dispatch
// core: request creation, lifecycle operations, provider registration and
// the real-time channel endpoint.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/marketplace-dispatch/internal/arbiter"
	"github.com/example/marketplace-dispatch/internal/config"
	"github.com/example/marketplace-dispatch/internal/directory"
	"github.com/example/marketplace-dispatch/internal/dispatch"
	"github.com/example/marketplace-dispatch/internal/geo"
	"github.com/example/marketplace-dispatch/internal/ingest"
	"github.com/example/marketplace-dispatch/internal/lifecycle"
	"github.com/example/marketplace-dispatch/internal/logging"
	"github.com/example/marketplace-dispatch/internal/notify"
	"github.com/example/marketplace-dispatch/internal/payments"
	"github.com/example/marketplace-dispatch/internal/registry"
	"github.com/example/marketplace-dispatch/internal/routing"
	"github.com/example/marketplace-dispatch/internal/storage"
)

type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger

	Requests  storage.RequestStore
	Registry  *registry.Registry
	Directory *directory.Directory
	Offers    *dispatch.OfferLog
	Engine    *dispatch.Engine
	Arbiter   *arbiter.Arbiter
	Lifecycle *lifecycle.Manager
	Payments  *payments.Client
	Oracle    routing.Oracle

	mux *mux.Router
}

// NewServerFromConfig wires the whole service from configuration: Postgres or
// memory storage, Redis or in-memory geo index, optional Kafka producers,
// optional maps/stripe/messenger clients.
func NewServerFromConfig(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var store interface {
		storage.RequestStore
		storage.ProviderStore
	}
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}

	var gidx geo.Geo
	if cfg.RedisAddr != "" {
		gidx = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix)
	} else {
		gidx = geo.NewIndex()
	}

	var oracle routing.Oracle = routing.Estimator{SpeedMps: cfg.DefaultSpeedMps}
	if cfg.GoogleMapsAPIKey != "" {
		g, err := routing.NewGoogleOracle(cfg.GoogleMapsAPIKey)
		if err != nil {
			return nil, err
		}
		oracle = routing.NewCache(g, cfg.DispatchRetryWait*10)
	}

	var locations registry.LocationPublisher
	var events *ingest.EventProducer
	if len(cfg.KafkaBrokers) > 0 {
		locations = ingest.NewLocationProducer(cfg.KafkaBrokers, cfg.KafkaLocationsTopic)
		events = ingest.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
	}

	dir := directory.New()
	offers := dispatch.NewOfferLog()

	reg := &registry.Registry{
		Store:     store,
		Geo:       gidx,
		Locations: locations,
		Logger:    logging.Component(logger, "registry"),
	}

	engine := dispatch.NewEngine(
		gidx, dir, offers,
		dispatch.PolicyFor(cfg.DispatchBaseRadiusM, cfg.DispatchMaxAttempts, cfg.DispatchRetryWait),
		logging.Component(logger, "dispatch"),
	)

	arb := &arbiter.Arbiter{
		Requests:  store,
		Providers: store,
		Offers:    offers,
		Channels:  dir,
		Oracle:    oracle,
		Logger:    logging.Component(logger, "arbiter"),
	}

	pay := payments.NewClient(cfg.StripeAPIKey)
	lc := &lifecycle.Manager{
		Requests:  store,
		Providers: store,
		Channels:  dir,
		Messages:  notify.NewMessenger(cfg.MessengerEndpoint, cfg.MessengerToken, logger),
		Payments:  pay,
		Offers:    offers,
		Logger:    logging.Component(logger, "lifecycle"),
	}
	if events != nil {
		arb.Events = events
		lc.Events = events
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		Requests:  store,
		Registry:  reg,
		Directory: dir,
		Offers:    offers,
		Engine:    engine,
		Arbiter:   arb,
		Lifecycle: lc,
		Payments:  pay,
		Oracle:    oracle,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/requests", s.handleCreateRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}", s.handleGetRequest).Methods("GET")
	s.mux.HandleFunc("/api/v1/requests/{id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/start", s.handleStart).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/complete", s.handleComplete).Methods("POST")

	s.mux.HandleFunc("/api/v1/providers", s.handleRegisterProvider).Methods("POST")
	s.mux.HandleFunc("/api/v1/providers/{id}/availability", s.handleAvailability).Methods("PUT")
	s.mux.HandleFunc("/internal/provider/locations", s.handleProviderLocation).Methods("POST")

	s.mux.HandleFunc("/ws/{role}/{id}", s.handleWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
