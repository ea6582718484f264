package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/wind-field-service/internal/config"
	"github.com/kjstillabower/wind-field-service/internal/lifecycle"
	"github.com/kjstillabower/wind-field-service/internal/traffic"
)

// loadTestConfig loads config from a scratch directory whose cache and archive point at test fixtures.
func loadTestConfig(t *testing.T, archiveURL, extraYAML string) (*config.Config, string) {
	t.Helper()
	for _, key := range []string{"ENV_NAME", "PORT", "EBIRD_API_KEY", "CACHE_BACKEND", "CACHE_DIR", "WGRIB2_PATH"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("GFS_BASE_URL", archiveURL)

	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "data")
	yaml := "cache:\n  dir: \"" + cacheDir + "\"\nreliability:\n  retry_base_delay: \"1ms\"\n  retry_max_delay: \"2ms\"\n" + extraYAML
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "dev.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg, cacheDir
}

// TestNewApp_ServesAPI verifies the wired router end to end against an archive that has no cycles.
func TestNewApp_ServesAPI(t *testing.T) {
	traffic.Reset()
	t.Cleanup(traffic.Reset)

	var archiveHits atomic.Int32
	archive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		archiveHits.Add(1)
		http.NotFound(w, r)
	}))
	defer archive.Close()

	cfg, cacheDir := loadTestConfig(t, archive.URL, "")
	a, err := newApp(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	if _, err := os.Stat(cacheDir); err != nil {
		t.Errorf("cache dir not created: %v", err)
	}

	t.Run("health", func(t *testing.T) {
		w := httptest.NewRecorder()
		a.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		var body struct {
			Status  string            `json:"status"`
			Service string            `json:"service"`
			EBird   bool              `json:"ebird_api_configured"`
			Checks  map[string]string `json:"checks"`
		}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Status != "healthy" || body.Service != serviceName || body.EBird {
			t.Errorf("health = %+v", body)
		}
		if body.Checks["cache"] != "healthy" || body.Checks["gridSource"] != "healthy" {
			t.Errorf("checks = %v", body.Checks)
		}
	})

	t.Run("weather unavailable", func(t *testing.T) {
		w := httptest.NewRecorder()
		target := time.Now().UTC().Add(-12 * time.Hour).Format(time.RFC3339)
		a.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/weather?lat=40.7&lng=-74&datetime="+target, nil))
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), "DATA_UNAVAILABLE") {
			t.Errorf("body = %s", w.Body.String())
		}
		// One inventory request per candidate forecast hour; 404s are not retried.
		if got := archiveHits.Load(); got != 5 {
			t.Errorf("archive hits = %d, want 5", got)
		}
	})

	t.Run("ebird unconfigured", func(t *testing.T) {
		w := httptest.NewRecorder()
		a.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/checklist/S123", nil))
		if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "eBird API key not configured") {
			t.Errorf("checklist = %d %s", w.Code, w.Body.String())
		}
	})
}

func TestNewApp_InMemoryBackend(t *testing.T) {
	cfg, cacheDir := loadTestConfig(t, "http://127.0.0.1:1", "")
	cfg.CacheBackend = "in_memory"

	a, err := newApp(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	if _, err := os.Stat(cacheDir); !os.IsNotExist(err) {
		t.Errorf("in_memory backend created %s (err = %v)", cacheDir, err)
	}
	if a.scheduler.Jobs() != 0 {
		t.Errorf("scheduled jobs = %d, want 0", a.scheduler.Jobs())
	}
}

func TestNewApp_UnknownProduct(t *testing.T) {
	cfg, _ := loadTestConfig(t, "http://127.0.0.1:1", "gfs:\n  product: \"pgrb2.9p99\"\n")
	if _, err := newApp(cfg, zap.NewNop()); err == nil || !strings.Contains(err.Error(), "gfs client") {
		t.Errorf("newApp() error = %v, want gfs client error", err)
	}
}

// TestApp_Shutdown verifies shutdown flips health to shutting-down and stops the background jobs.
func TestApp_Shutdown(t *testing.T) {
	t.Cleanup(func() { lifecycle.SetShuttingDown(false) })
	cfg, _ := loadTestConfig(t, "http://127.0.0.1:1", "")
	cfg.CacheRetention = 24 * time.Hour
	a, err := newApp(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	if err := a.scheduler.Start(); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}

	a.shutdown(cfg, zap.NewNop())

	if !lifecycle.IsShuttingDown() {
		t.Error("IsShuttingDown() = false after shutdown")
	}
	w := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health after shutdown = %d, want 503", w.Code)
	}
}
