package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/kjstillabower/wind-field-service/internal/circuitbreaker"
	"github.com/kjstillabower/wind-field-service/internal/models"
	"github.com/kjstillabower/wind-field-service/internal/observability"
)

// GridFetcher fetches one wind grid for a model cycle at a pressure level (hPa).
// The returned grid has longitudes normalized to [-180,180) and rows ordered north to south.
// A grid may carry only one component when the archive lacks the other.
type GridFetcher interface {
	FetchGrid(ctx context.Context, initTime time.Time, forecastHour, level int) (models.VectorGrid, error)
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrNotConfigured   = errors.New("not configured")
	ErrNotPublished    = errors.New("cycle not published")
	ErrRecordNotFound  = errors.New("record not found in inventory")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrDecode          = errors.New("decode failure")
	ErrUnknownProduct  = errors.New("unknown product")
)

// DefaultBaseURL is the NOAA GFS open-data bucket.
const DefaultBaseURL = "https://noaa-gfs-bdp-pds.s3.amazonaws.com"

// DefaultProduct is the 0.25 degree pressure-level product.
const DefaultProduct = "pgrb2.0p25"

// products maps a GFS product suffix to its grid resolution in degrees.
var products = map[string]float64{
	"pgrb2.0p25": 0.25,
	"pgrb2.0p50": 0.5,
	"pgrb2.1p00": 1.0,
}

// GFSOptions configures a GFSClient. Zero values take defaults.
type GFSOptions struct {
	BaseURL        string
	Product        string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Decoder        Decoder
	Breaker        *circuitbreaker.CircuitBreaker
	HTTPClient     *http.Client
}

// GFSClient fetches UGRD/VGRD records from the GFS archive using the .idx inventory
// and HTTP range requests, then decodes them with a Decoder.
type GFSClient struct {
	baseURL        string
	product        string
	resolution     float64
	timeout        time.Duration
	client         *http.Client
	decoder        Decoder
	breaker        *circuitbreaker.CircuitBreaker
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

// NewGFSClient returns a GFSClient for opts.
func NewGFSClient(opts GFSOptions) (*GFSClient, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Product == "" {
		opts.Product = DefaultProduct
	}
	res, ok := products[opts.Product]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, opts.Product)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 5 * time.Second
	}
	if opts.Decoder == nil {
		opts.Decoder = Wgrib2Decoder{}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return &GFSClient{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		product:        opts.Product,
		resolution:     res,
		timeout:        opts.Timeout,
		client:         opts.HTTPClient,
		decoder:        opts.Decoder,
		breaker:        opts.Breaker,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
	}, nil
}

// FileURL returns the archive URL of the GRIB2 file for a cycle.
func (c *GFSClient) FileURL(initTime time.Time, forecastHour int) string {
	init := initTime.UTC()
	hh := init.Format("15")
	return fmt.Sprintf("%s/gfs.%s/%s/atmos/gfs.t%sz.%s.f%03d",
		c.baseURL, init.Format("20060102"), hh, hh, c.product, forecastHour)
}

// Dims returns the global grid dimensions for the configured product.
func (c *GFSClient) Dims() (nx, ny int) {
	return int(math.Round(360 / c.resolution)), int(math.Round(180/c.resolution)) + 1
}

// FetchGrid implements GridFetcher.
func (c *GFSClient) FetchGrid(ctx context.Context, initTime time.Time, forecastHour, level int) (models.VectorGrid, error) {
	fileURL := c.FileURL(initTime, forecastHour)

	idx, err := c.get(ctx, fileURL+".idx", "")
	if err != nil {
		return models.VectorGrid{}, fmt.Errorf("fetch inventory: %w", err)
	}
	inv, err := ParseInventory(bytes.NewReader(idx))
	if err != nil {
		return models.VectorGrid{}, err
	}

	levelName := fmt.Sprintf("%d mb", level)
	var (
		names   []string
		payload bytes.Buffer
	)
	for _, want := range []struct{ variable, component string }{
		{"UGRD", models.ComponentU},
		{"VGRD", models.ComponentV},
	} {
		rec, ok := inv.Find(want.variable, levelName)
		if !ok {
			continue
		}
		body, err := c.get(ctx, fileURL, rec.RangeHeader())
		if err != nil {
			return models.VectorGrid{}, fmt.Errorf("fetch %s record: %w", want.variable, err)
		}
		payload.Write(body)
		names = append(names, want.component)
	}
	if len(names) == 0 {
		return models.VectorGrid{}, fmt.Errorf("%w: UGRD/VGRD at %s", ErrRecordNotFound, levelName)
	}

	vals, err := c.decoder.Decode(ctx, payload.Bytes())
	if err != nil {
		return models.VectorGrid{}, err
	}
	return c.buildGrid(vals, names)
}

// buildGrid splits decoded records into north-first fields on a normalized longitude axis.
func (c *GFSClient) buildGrid(vals []float32, names []string) (models.VectorGrid, error) {
	nx, ny := c.Dims()
	n := nx * ny
	if len(vals) != n*len(names) {
		return models.VectorGrid{}, fmt.Errorf("%w: got %d values, want %d records of %dx%d", ErrDecode, len(vals), len(names), nx, ny)
	}
	grid := models.VectorGrid{
		Lons:   make([]float64, nx),
		Lats:   make([]float64, ny),
		Fields: make(map[string][]float64, len(names)),
	}
	for i := range grid.Lons {
		grid.Lons[i] = float64(i) * c.resolution
	}
	for j := range grid.Lats {
		grid.Lats[j] = 90 - float64(j)*c.resolution
	}
	for k, name := range names {
		grid.Fields[name] = toNorthFirst(vals[k*n:(k+1)*n], nx, ny)
	}
	grid.NormalizeLongitude()
	return grid, nil
}

// get performs a GET with retries, optionally restricted to a byte range.
func (c *GFSClient) get(ctx context.Context, url, byteRange string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.GridFetchRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.callArchive(ctx, url, byteRange)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if !isRetryable(ctx, err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *GFSClient) callArchive(ctx context.Context, url, byteRange string) ([]byte, error) {
	var body []byte
	call := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if byteRange != "" {
			req.Header.Set("Range", byteRange)
		}
		if corrID := extractCorrelationID(ctx); corrID != "" {
			req.Header.Set("X-Correlation-ID", corrID)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return fmt.Errorf("request timeout: %w", err)
			}
			return fmt.Errorf("http request failed: %w", err)
		}
		defer resp.Body.Close()

		if err := handleArchiveResponse(resp, byteRange != ""); err != nil {
			return err
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call()
	}
	return body, err
}

// handleArchiveResponse maps archive status codes to sentinel errors. Ranged reads must be answered with 206.
func handleArchiveResponse(resp *http.Response, ranged bool) error {
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusForbidden:
		// S3 answers 403 for missing keys on anonymous reads.
		return fmt.Errorf("%w: HTTP %d", ErrNotPublished, resp.StatusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	if ranged && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("%w: expected partial content, got HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

// isRetryable reports whether a failed archive call may succeed on retry. Nothing is
// retried once the caller's context is done.
func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(err.Error(), "http request failed")
}

func (c *GFSClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

// CountsAgainstBreaker reports whether err indicates an unhealthy upstream. Unpublished
// cycles and absent records are normal lookups and must not open the circuit.
func CountsAgainstBreaker(err error) bool {
	return !errors.Is(err, ErrNotPublished) && !errors.Is(err, ErrRecordNotFound)
}

func extractCorrelationID(ctx context.Context) string {
	return observability.CorrelationID(ctx)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
