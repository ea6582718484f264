package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/wind-field-service/internal/observability"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Logger         *zap.Logger
	Limiter        *rate.Limiter // nil disables rate limiting
	RequestTimeout time.Duration // applied to the grid routes; 0 disables
	CORSOrigins    []string
}

// NewRouter wires the API routes and middleware chain:
// correlation ID, metrics, CORS on every route; rate limit on /api; timeout on grid routes.
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(opts.Logger))
	router.Use(MetricsMiddleware)
	router.Use(CORSMiddleware(opts.CORSOrigins))
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet, http.MethodOptions)

	limited := api.NewRoute().Subrouter()
	limited.Use(RateLimitMiddleware(opts.Limiter))
	limited.HandleFunc("/ebird/{endpoint:.*}", h.EBirdProxy).Methods(http.MethodGet, http.MethodOptions)
	limited.HandleFunc("/checklist/{id}", h.GetChecklist).Methods(http.MethodGet, http.MethodOptions)

	grid := limited.NewRoute().Subrouter()
	if opts.RequestTimeout > 0 {
		grid.Use(TimeoutMiddleware(opts.RequestTimeout))
	}
	grid.HandleFunc("/get_gfs_data", h.PostGFSData).Methods(http.MethodPost, http.MethodOptions)
	grid.HandleFunc("/weather", h.GetWeather).Methods(http.MethodGet, http.MethodOptions)
	return router
}
