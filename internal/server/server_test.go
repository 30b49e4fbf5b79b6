package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavel-fokin/grayavatar/internal/avatar"
	"github.com/pavel-fokin/grayavatar/internal/metrics"
)

func TestHealthz(t *testing.T) {
	req, err := http.NewRequest("GET", "/healthz", nil)
	assert.NoError(t, err)

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(healthz)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode int
	}{
		{"empty upload", avatar.ErrEmptyUpload, http.StatusBadRequest},
		{"too large", fmt.Errorf("wrapped: %w", avatar.ErrPayloadTooLarge), http.StatusRequestEntityTooLarge},
		{"invalid image", avatar.ErrInvalidImage, http.StatusUnsupportedMediaType},
		{"path traversal", avatar.ErrPathTraversal, http.StatusBadRequest},
		{"not found", avatar.ErrNotFound, http.StatusNotFound},
		{"rate limited", avatar.ErrRateLimited, http.StatusTooManyRequests},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, message := classify(tt.err)
			assert.Equal(t, tt.expectedCode, code)
			assert.NotEmpty(t, message)
		})
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		trustProxy bool
		expected   string
	}{
		{name: "remote address", remoteAddr: "10.0.0.1:5555", expected: "10.0.0.1"},
		{name: "ipv6 remote address", remoteAddr: "[::1]:5555", expected: "::1"},
		{name: "no port", remoteAddr: "10.0.0.1", expected: "10.0.0.1"},
		{name: "forwarded ignored by default", remoteAddr: "10.0.0.1:5555", xff: "1.2.3.4", expected: "10.0.0.1"},
		{name: "forwarded trusted", remoteAddr: "10.0.0.1:5555", xff: "1.2.3.4, 10.0.0.9", trustProxy: true, expected: "1.2.3.4"},
		{name: "empty forwarded", remoteAddr: "10.0.0.1:5555", xff: " ", trustProxy: true, expected: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/download", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.expected, clientKey(req, tt.trustProxy))
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := requestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFrom(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rr.Header().Get(headerRequestID))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(headerRequestID, "abc-123")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", rr.Header().Get(headerRequestID))
	})
}

func TestLoggingMiddlewareCapturesStatus(t *testing.T) {
	m := metrics.New()
	handler := loggingMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)

	metricsRR := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, metricsRR.Body.String(), `route="unmatched",status="418"`)
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Addr:          ":8080",
		MaxSize:       1 << 20,
		MaxPixels:     1 << 24,
		DefaultExt:    "jpg",
		RateLimit:     50,
		RateWindow:    24 * time.Hour,
		ArtifactTTL:   24 * time.Hour,
		SweepInterval: 10 * time.Minute,
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no address", func(c *Config) { c.Addr = "" }},
		{"zero max size", func(c *Config) { c.MaxSize = 0 }},
		{"zero max pixels", func(c *Config) { c.MaxPixels = 0 }},
		{"unsupported default extension", func(c *Config) { c.DefaultExt = "exe" }},
		{"negative rate limit", func(c *Config) { c.RateLimit = -1 }},
		{"tiny window", func(c *Config) { c.RateWindow = time.Millisecond }},
		{"no ttl", func(c *Config) { c.ArtifactTTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, filepath.Join(os.TempDir(), "avatar"), cfg.DataDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, ".index.db"), cfg.DBPath)

	cfg = Config{DataDir: "/srv/avatars"}.withDefaults()
	assert.Equal(t, filepath.Join("/srv/avatars", ".index.db"), cfg.DBPath)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(&Config{
		Addr:          ":0",
		DataDir:       filepath.Join(t.TempDir(), "avatar"),
		MaxSize:       1 << 20,
		MaxPixels:     1 << 24,
		DefaultExt:    "jpg",
		RateLimit:     50,
		RateWindow:    24 * time.Hour,
		ArtifactTTL:   24 * time.Hour,
		SweepInterval: time.Second,
	})
	require.NoError(t, err)
	return srv
}

func TestShutdownWaitsForSweepers(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.RunSweepers(ctx) }()
	time.Sleep(20 * time.Millisecond)

	// The sweepers are still running, so the index must stay open until the deadline.
	shutdownCtx, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	assert.ErrorIs(t, srv.Shutdown(shutdownCtx), context.DeadlineExceeded)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweepers did not stop")
	}
}

func TestShutdownAfterSweepersStop(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.RunSweepers(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.NoError(t, srv.Shutdown(context.Background()))
	assert.NoError(t, <-done)

	// Sweepers started after shutdown never touch the closed index.
	assert.NoError(t, srv.RunSweepers(context.Background()))
}
