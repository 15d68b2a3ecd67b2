package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/skywatch/internal/observability"
)

// RouterOptions configures NewRouter. A nil Limiter disables rate limiting;
// a zero RequestTimeout disables the /api deadline.
type RouterOptions struct {
	Logger         *zap.Logger
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
	InFlight       *InFlightTracker
}

// NewRouter wires the handler into the local dashboard routes.
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	inflight := opts.InFlight
	if inflight == nil {
		inflight = &InFlightTracker{}
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware(inflight))
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler())

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(opts.Limiter, h.outcomes))
	if opts.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(opts.RequestTimeout))
	}
	api.HandleFunc("/login", h.PostLogin).Methods(http.MethodPost)
	api.HandleFunc("/register", h.PostRegister).Methods(http.MethodPost)
	api.HandleFunc("/logout", h.PostLogout).Methods(http.MethodPost)
	api.HandleFunc("/session", h.GetSession).Methods(http.MethodGet)
	api.HandleFunc("/overview", h.GetOverview).Methods(http.MethodGet)
	api.HandleFunc("/track", h.PostTrack).Methods(http.MethodPost)
	api.HandleFunc("/history", h.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/{id}", h.GetRecord).Methods(http.MethodGet)
	api.HandleFunc("/history/{id}", h.PutRecord).Methods(http.MethodPut)
	api.HandleFunc("/history/{id}", h.DeleteRecord).Methods(http.MethodDelete)
	api.HandleFunc("/latest/{city}", h.GetLatest).Methods(http.MethodGet)
	api.HandleFunc("/chart", h.GetChart).Methods(http.MethodGet)
	return router
}
