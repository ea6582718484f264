//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/wind-field-service/internal/cache"
	"github.com/kjstillabower/wind-field-service/internal/client"
	"github.com/kjstillabower/wind-field-service/internal/service"
)

// IntegrationTestConfig holds configuration for tests against the live GFS archive.
type IntegrationTestConfig struct {
	BaseURL      string
	Product      string
	Wgrib2Path   string
	CacheBackend string // "file" or "in_memory"
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless GFS_INTEGRATION is set and wgrib2 can be found.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	if os.Getenv("GFS_INTEGRATION") == "" {
		t.Skip("GFS_INTEGRATION not set, skipping integration test")
	}

	wgrib2 := os.Getenv("WGRIB2_PATH")
	if wgrib2 == "" {
		wgrib2 = "wgrib2"
	}
	path, err := exec.LookPath(wgrib2)
	if err != nil {
		t.Skipf("wgrib2 not available (%v), skipping integration test", err)
	}

	baseURL := os.Getenv("GFS_BASE_URL")
	if baseURL == "" {
		baseURL = client.DefaultBaseURL
	}
	product := os.Getenv("GFS_PRODUCT")
	if product == "" {
		// The 1 degree product keeps downloads small.
		product = "pgrb2.1p00"
	}

	return IntegrationTestConfig{
		BaseURL:      baseURL,
		Product:      product,
		Wgrib2Path:   path,
		CacheBackend: os.Getenv("INTEGRATION_CACHE_BACKEND"),
	}
}

// SetupIntegrationClient creates a GFS client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.GFSClient {
	t.Helper()
	c, err := client.NewGFSClient(client.GFSOptions{
		BaseURL: cfg.BaseURL,
		Product: cfg.Product,
		Timeout: 2 * time.Minute,
		Decoder: client.Wgrib2Decoder{Path: cfg.Wgrib2Path, TempDir: t.TempDir()},
	})
	if err != nil {
		t.Fatalf("NewGFSClient() error = %v", err)
	}
	return c
}

// SetupIntegrationService creates a fully configured service for integration tests.
// The file backend is rooted in a test temp dir.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WindService, cache.Cache) {
	t.Helper()
	var store cache.Cache
	if cfg.CacheBackend == "in_memory" {
		store = cache.NewInMemoryCache(cache.DefaultMaxAge, nil)
	} else {
		fc, err := cache.NewFileCache(t.TempDir(), cache.DefaultMaxAge, nil)
		if err != nil {
			t.Fatalf("NewFileCache() error = %v", err)
		}
		store = fc
		t.Logf("Using file cache at %s", fc.Dir())
	}

	svc := service.NewWindService(SetupIntegrationClient(t, cfg), store, service.Options{
		FetchTimeout: 2 * time.Minute,
		Logger:       zaptest.NewLogger(t),
	})
	return svc, store
}
