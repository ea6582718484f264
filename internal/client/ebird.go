package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/wind-field-service/internal/circuitbreaker"
	"github.com/kjstillabower/wind-field-service/internal/models"
	"github.com/kjstillabower/wind-field-service/internal/observability"
)

// DefaultEBirdURL is the eBird API v2 root.
const DefaultEBirdURL = "https://api.ebird.org/v2"

// ErrInvalidEndpoint is returned for proxy paths that would escape the API root.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// StatusError carries a non-200 eBird response back to the caller.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("eBird API error: %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return ErrUpstreamFailure
}

// ProxyResponse is an eBird response relayed verbatim.
type ProxyResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// EBirdClient calls the eBird API with the server-held token.
type EBirdClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewEBirdClient returns an eBird client. An empty apiKey yields a client whose calls fail with ErrNotConfigured.
func NewEBirdClient(apiKey, baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *EBirdClient {
	if baseURL == "" {
		baseURL = DefaultEBirdURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EBirdClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// Configured reports whether an API token is set.
func (c *EBirdClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

// Proxy forwards GET {base}/{endpoint}?{query} with the API token. Non-2xx upstream
// responses are returned as a ProxyResponse, not an error.
func (c *EBirdClient) Proxy(ctx context.Context, endpoint string, query url.Values) (ProxyResponse, error) {
	if !c.Configured() {
		return ProxyResponse{}, fmt.Errorf("eBird API key %w", ErrNotConfigured)
	}
	endpoint = strings.TrimLeft(endpoint, "/")
	if endpoint == "" || strings.Contains(endpoint, "..") {
		return ProxyResponse{}, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}
	u := c.baseURL + "/" + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.do(ctx, u)
}

// ebirdChecklist is the slice of /product/checklist/view/{id} that Checklist reads.
type ebirdChecklist struct {
	Loc struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Name      string   `json:"name"`
	} `json:"loc"`
	ObsDt                *string  `json:"obsDt"`
	NumSpecies           int      `json:"numSpecies"`
	DurationHrs          *float64 `json:"durationHrs"`
	DistanceKms          *float64 `json:"distanceKms"`
	SubmissionMethodCode *string  `json:"submissionMethodCode"`
	CreationDt           *string  `json:"creationDt"`
	LastEditedDt         *string  `json:"lastEditedDt"`
}

// Checklist fetches one checklist and extracts its location and timing fields.
func (c *EBirdClient) Checklist(ctx context.Context, id string) (models.Checklist, error) {
	if !c.Configured() {
		return models.Checklist{}, fmt.Errorf("eBird API key %w", ErrNotConfigured)
	}
	if id == "" || strings.ContainsAny(id, "/?#") {
		return models.Checklist{}, fmt.Errorf("%w: checklist id %q", ErrInvalidEndpoint, id)
	}
	resp, err := c.do(ctx, c.baseURL+"/product/checklist/view/"+url.PathEscape(id))
	if err != nil {
		return models.Checklist{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return models.Checklist{}, &StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	var raw ebirdChecklist
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return models.Checklist{}, fmt.Errorf("parse checklist: %w", err)
	}
	location := raw.Loc.Name
	if location == "" {
		location = models.UnknownLocation
	}
	return models.Checklist{
		ChecklistID:          id,
		Lat:                  raw.Loc.Latitude,
		Lng:                  raw.Loc.Longitude,
		Location:             location,
		Datetime:             raw.ObsDt,
		NumSpecies:           raw.NumSpecies,
		DurationHrs:          raw.DurationHrs,
		DistanceKms:          raw.DistanceKms,
		SubmissionMethodCode: raw.SubmissionMethodCode,
		CreationDt:           raw.CreationDt,
		LastEditedDt:         raw.LastEditedDt,
	}, nil
}

// do issues one GET through the breaker. 5xx responses count against the breaker but
// are still handed back to the caller.
func (c *EBirdClient) do(ctx context.Context, u string) (ProxyResponse, error) {
	start := time.Now()
	var out ProxyResponse
	var got bool
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("X-eBirdApiToken", c.apiKey)
		req.Header.Set("Accept", "application/json")
		if corrID := extractCorrelationID(ctx); corrID != "" {
			req.Header.Set("X-Correlation-ID", corrID)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("http request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		out = ProxyResponse{StatusCode: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Body: body}
		got = true
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
		}
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call()
	}

	status := "error"
	if got {
		status = statusLabel(out.StatusCode)
	}
	observability.EBirdCallsTotal.WithLabelValues(status).Inc()
	observability.EBirdCallDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if got {
		return out, nil
	}
	return ProxyResponse{}, err
}
