package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/skywatch/internal/client"
	"github.com/kjstillabower/skywatch/internal/dashboard"
	"github.com/kjstillabower/skywatch/internal/lifecycle"
	"github.com/kjstillabower/skywatch/internal/models"
	"github.com/kjstillabower/skywatch/internal/traffic"
)

// DashboardService is the set of dashboard flows the server exposes.
type DashboardService interface {
	Login(ctx context.Context, email, password string) error
	Register(ctx context.Context, email, password string) error
	Logout() error
	Status(now time.Time) dashboard.SessionStatus
	Track(ctx context.Context, city, country string) (dashboard.TrackResult, error)
	Overview(ctx context.Context) (dashboard.Overview, error)
	History(ctx context.Context, term string) ([]models.WeatherRecord, error)
	Edit(ctx context.Context, id, city, country string) ([]models.WeatherRecord, error)
	Remove(ctx context.Context, id string, current []models.WeatherRecord) ([]models.WeatherRecord, error)
	Latest(ctx context.Context, city string) (models.WeatherRecord, error)
	Get(ctx context.Context, id string) (models.WeatherRecord, error)
}

var _ DashboardService = (*dashboard.Dashboard)(nil)

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// SessionPing, when set, is called to check session backend reachability. Used when backend is memcached.
	SessionPing func() error
	Version     string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	dash             DashboardService
	outcomes         *traffic.Tracker
	state            *lifecycle.State
	healthConfig     *HealthConfig
	logger           *zap.Logger
	now              func() time.Time
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. outcomes is the tracker the API client
// records into; nil trackers and states are replaced with fresh ones.
func NewHandler(
	dash DashboardService,
	outcomes *traffic.Tracker,
	state *lifecycle.State,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if outcomes == nil {
		outcomes = &traffic.Tracker{}
	}
	if state == nil {
		state = &lifecycle.State{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		dash:         dash,
		outcomes:     outcomes,
		state:        state,
		healthConfig: healthConfig,
		logger:       logger,
		now:          time.Now,
	}
}

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type locationBody struct {
	CityName string `json:"cityName"`
	Country  string `json:"country"`
}

// PostLogin handles POST /api/login.
func (h *Handler) PostLogin(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.dash.Login(r.Context(), body.Email, body.Password); err != nil {
		writeClientError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.dash.Status(h.now()))
}

// PostRegister handles POST /api/register. It does not sign the user in.
func (h *Handler) PostRegister(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.dash.Register(r.Context(), body.Email, body.Password); err != nil {
		writeClientError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"registered": true})
}

// PostLogout handles POST /api/logout.
func (h *Handler) PostLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.dash.Logout(); err != nil {
		loggerFrom(r, h.logger).Error("logout failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "SESSION_ERROR", "Unable to clear session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSession handles GET /api/session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dash.Status(h.now()))
}

// GetOverview handles GET /api/overview.
func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.dash.Overview(r.Context())
	if err != nil {
		writeClientError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// PostTrack handles POST /api/track.
func (h *Handler) PostTrack(w http.ResponseWriter, r *http.Request) {
	var body locationBody
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := h.dash.Track(r.Context(), body.CityName, body.Country)
	if err != nil && res.Record.ID == "" {
		writeClientError(w, r, err)
		return
	}
	if err != nil {
		loggerFrom(r, h.logger).Warn("overview refresh failed after track", zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetHistory handles GET /api/history?q=term.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.dash.History(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeClientError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// GetRecord handles GET /api/history/{id}.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.dash.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeClientError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// PutRecord handles PUT /api/history/{id} and returns the re-read history.
func (h *Handler) PutRecord(w http.ResponseWriter, r *http.Request) {
	var body locationBody
	if !decodeBody(w, r, &body) {
		return
	}
	records, err := h.dash.Edit(r.Context(), mux.Vars(r)["id"], body.CityName, body.Country)
	if err != nil {
		writeClientError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// DeleteRecord handles DELETE /api/history/{id}.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	if _, err := h.dash.Remove(r.Context(), mux.Vars(r)["id"], nil); err != nil {
		writeClientError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetLatest handles GET /api/latest/{city}.
func (h *Handler) GetLatest(w http.ResponseWriter, r *http.Request) {
	rec, err := h.dash.Latest(r.Context(), mux.Vars(r)["city"])
	if err != nil {
		writeClientError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetChart handles GET /api/chart?width=N and renders the overview trend as text.
func (h *Handler) GetChart(w http.ResponseWriter, r *http.Request) {
	width, _ := strconv.Atoi(r.URL.Query().Get("width"))
	if width > 200 {
		width = 200
	}
	overview, err := h.dash.Overview(r.Context())
	if err != nil {
		writeClientError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = dashboard.RenderTrend(w, overview.Trend, width)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.reason == "error_rate_breach" {
		checks["skywatchApi"] = "unhealthy"
	} else {
		checks["skywatchApi"] = "healthy"
	}
	version := "dev"
	if h.healthConfig != nil {
		if h.healthConfig.SessionPing != nil {
			if h.healthConfig.SessionPing() == nil {
				checks["session"] = "healthy"
			} else {
				checks["session"] = "unhealthy"
			}
		}
		if h.healthConfig.Version != "" {
			version = h.healthConfig.Version
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "skywatch",
		"version":   version,
		"checks":    checks,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.state.ShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 &&
		h.outcomes.Degraded(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationIDFrom(r),
		},
	})
}

// writeClientError maps an API error kind to a response. Upstream failures
// are logged at DEBUG with the request's logger.
func writeClientError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		loggerFrom(r, nil).Debug("upstream error", zap.Error(err))
	}
	writeError(w, r, status, code, err.Error())
}

func statusForError(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT"
	}
	switch client.KindOf(err) {
	case client.KindAuthorization:
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case client.KindValidation:
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case client.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case client.KindNetwork:
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"
	default:
		return http.StatusBadGateway, "UPSTREAM_ERROR"
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "Request body must be a JSON object")
		return false
	}
	return true
}
