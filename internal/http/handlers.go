package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/wind-field-service/internal/circuitbreaker"
	"github.com/kjstillabower/wind-field-service/internal/client"
	"github.com/kjstillabower/wind-field-service/internal/lifecycle"
	"github.com/kjstillabower/wind-field-service/internal/models"
	"github.com/kjstillabower/wind-field-service/internal/observability"
	"github.com/kjstillabower/wind-field-service/internal/service"
	"github.com/kjstillabower/wind-field-service/internal/traffic"
	"github.com/kjstillabower/wind-field-service/internal/validation"
)

// maxBodyBytes caps POST bodies; a wind request is a handful of fields.
const maxBodyBytes = 1 << 16

// services lists the API groups reported by /api/health.
var services = []string{"gfs_data", "ebird_proxy", "weather_api"}

// WindObtainer serves wind documents for a target request.
type WindObtainer interface {
	Obtain(ctx context.Context, req models.TargetRequest) (models.WindDocuments, error)
}

// EBirdAPI is the eBird proxy surface used by the handlers.
type EBirdAPI interface {
	Configured() bool
	Proxy(ctx context.Context, endpoint string, query url.Values) (client.ProxyResponse, error)
	Checklist(ctx context.Context, id string) (models.Checklist, error)
}

// BreakerStater reports a circuit breaker's state.
type BreakerStater interface {
	State() circuitbreaker.State
}

// HealthConfig holds lifecycle thresholds and probes for the health handler.
type HealthConfig struct {
	lifecycle.Thresholds
	Version     string
	CORSOrigins []string
	// GridBreaker, when set, reports the grid source circuit state.
	GridBreaker BreakerStater
	// CachePing, when set, is called to check cache reachability.
	CachePing func() error
	// Counter defaults to traffic.Default().
	Counter lifecycle.Counter
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	wind             WindObtainer
	ebird            EBirdAPI
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. ebird and healthConfig may be nil.
func NewHandler(wind WindObtainer, ebird EBirdAPI, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if healthConfig == nil {
		healthConfig = &HealthConfig{}
	}
	if healthConfig.Counter == nil {
		healthConfig.Counter = traffic.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		wind:         wind,
		ebird:        ebird,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// PostGFSData handles POST /api/get_gfs_data.
func (h *Handler) PostGFSData(w http.ResponseWriter, r *http.Request) {
	var body validation.GFSDataRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be a JSON object")
		return
	}
	req, err := body.TargetRequest()
	if err != nil {
		writeValidationError(w, r, err)
		return
	}

	docs, err := h.wind.Obtain(r.Context(), req)
	if err != nil {
		traffic.RecordError()
		writeServiceError(w, r, err, "Failed to fetch GFS data")
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": docs,
	})
}

// GetWeather handles GET /api/weather?lat&lng&datetime&level.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	q, err := validation.ParseWeatherQuery(r.URL.Query())
	if err != nil {
		writeValidationError(w, r, err)
		return
	}
	req, err := q.TargetRequest()
	if err != nil {
		writeValidationError(w, r, err)
		return
	}

	docs, err := h.wind.Obtain(r.Context(), req)
	if err != nil {
		traffic.RecordError()
		writeServiceError(w, r, err, "Failed to fetch weather data")
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data":   docs,
		"metadata": map[string]interface{}{
			"lat":          *q.Lat,
			"lng":          *q.Lng,
			"datetime":     q.Datetime,
			"level":        req.Level,
			"processed_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// EBirdProxy handles GET /api/ebird/{endpoint}. Upstream responses are relayed; non-200
// statuses are wrapped in an error body carrying the upstream text.
func (h *Handler) EBirdProxy(w http.ResponseWriter, r *http.Request) {
	if h.ebird == nil || !h.ebird.Configured() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "eBird API key not configured"})
		return
	}
	resp, err := h.ebird.Proxy(r.Context(), mux.Vars(r)["endpoint"], r.URL.Query())
	if err != nil {
		h.writeEBirdError(w, r, err, "Proxy error")
		return
	}
	if resp.StatusCode != http.StatusOK {
		writeJSON(w, resp.StatusCode, map[string]string{
			"error":   (&client.StatusError{StatusCode: resp.StatusCode}).Error(),
			"message": string(resp.Body),
		})
		return
	}
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Body)
}

// GetChecklist handles GET /api/checklist/{id}.
func (h *Handler) GetChecklist(w http.ResponseWriter, r *http.Request) {
	if h.ebird == nil || !h.ebird.Configured() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "eBird API key not configured"})
		return
	}
	checklist, err := h.ebird.Checklist(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		var se *client.StatusError
		if errors.As(err, &se) {
			writeJSON(w, se.StatusCode, map[string]string{
				"error":   "Failed to fetch checklist: " + strconv.Itoa(se.StatusCode),
				"message": se.Body,
			})
			return
		}
		h.writeEBirdError(w, r, err, "Error fetching checklist")
		return
	}
	writeJSON(w, http.StatusOK, checklist)
}

func (h *Handler) writeEBirdError(w http.ResponseWriter, r *http.Request, err error, prefix string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, client.ErrInvalidEndpoint):
		status = http.StatusBadRequest
	case errors.Is(err, circuitbreaker.ErrOpen):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	observability.LoggerFromContext(r.Context(), h.logger).Warn("ebird request failed",
		zap.String("category", string(client.CategorizeError(err))),
		zap.Error(err))
	writeJSON(w, status, map[string]string{"error": prefix + ": " + err.Error()})
}

// GetHealth handles GET /api/health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.Status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.Status),
			zap.String("reason", result.Reason))
	}
	h.healthStatusPrev = result.Status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"gridSource": "healthy"}
	if hc := h.healthConfig; hc.GridBreaker != nil {
		if state := hc.GridBreaker.State(); state != circuitbreaker.StateClosed {
			checks["gridSource"] = state.String()
		}
	}
	if h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	version := h.healthConfig.Version
	if version == "" {
		version = "dev"
	}
	origins := h.healthConfig.CORSOrigins
	if origins == nil {
		origins = []string{}
	}
	resp := map[string]interface{}{
		"status":               result.Status,
		"service":              "wind-field-service",
		"version":              version,
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
		"ebird_api_configured": h.ebird != nil && h.ebird.Configured(),
		"services":             services,
		"cors_origins":         origins,
		"checks":               checks,
	}
	if result.Reason != "" {
		resp["reason"] = result.Reason
	}
	writeJSON(w, result.StatusCode, resp)
}

// computeHealthStatus evaluates the lifecycle thresholds against recent traffic.
func (h *Handler) computeHealthStatus() lifecycle.Result {
	open := false
	if h.healthConfig.GridBreaker != nil {
		open = h.healthConfig.GridBreaker.State() == circuitbreaker.StateOpen
	}
	return lifecycle.Evaluate(h.healthConfig.Thresholds, h.healthConfig.Counter, open, time.Now())
}

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with code, message, and the
// request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"status":    "error",
		"code":      code,
		"message":   message,
		"requestId": observability.CorrelationID(r.Context()),
	})
}

// writeValidationError maps request parsing failures to 400 responses.
func writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, validation.ErrMissingParams):
		writeError(w, r, http.StatusBadRequest, "MISSING_PARAMETERS", "Missing required parameters: lat, lng, datetime")
	case errors.Is(err, validation.ErrParse):
		writeError(w, r, http.StatusBadRequest, "INVALID_DATETIME", err.Error())
	default:
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}
}

// writeServiceError maps wind service failures to responses. The underlying error is
// logged, never returned to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, message string) {
	logger := observability.LoggerFromContext(r.Context(), nil)
	switch {
	case errors.Is(err, service.ErrDataUnavailable):
		logger.Warn("wind data unavailable", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "DATA_UNAVAILABLE", message)
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("wind request timed out", zap.Error(err))
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", message)
	case errors.Is(err, context.Canceled):
		logger.Debug("wind request cancelled", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "CANCELLED", message)
	default:
		logger.Error("wind request failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", message)
	}
}
