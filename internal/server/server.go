package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/pavel-fokin/grayavatar/internal/avatar"
	"github.com/pavel-fokin/grayavatar/internal/fs"
	"github.com/pavel-fokin/grayavatar/internal/imaging"
	"github.com/pavel-fokin/grayavatar/internal/metrics"
	"github.com/pavel-fokin/grayavatar/internal/ratelimit"
	"github.com/pavel-fokin/grayavatar/internal/sqlite"
)

// Server wires the avatar services to HTTP and owns their resources
type Server struct {
	cfg     Config
	http    *http.Server
	store   *avatar.Store
	limiter *ratelimit.Limiter
	repo    *sqlite.Repository
	metrics *metrics.Metrics

	mu       sync.Mutex
	stopped  bool
	sweepers sync.WaitGroup
}

// Option tweaks how a Server is assembled
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock makes the limiter and the store use now instead of time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func New(cfg *Config, opts ...Option) (*Server, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	c := cfg.withDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Initialize structured logger with JSON handler
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: c.LogLevel,
	}))
	slog.SetDefault(logger)

	// Initialize storage and repository
	storage, err := fs.NewStorage(c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	repo, err := sqlite.NewRepository(c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	slog.Info("Avatar storage ready", "data_dir", c.DataDir, "db_path", c.DBPath)

	m := metrics.New()
	codec := imaging.NewCodec()
	store := avatar.NewStore(storage, repo, codec, c.ArtifactTTL,
		avatar.WithStoreClock(o.now),
		avatar.WithStoreRecorder(m),
	)
	limiter := ratelimit.New(c.RateLimit, c.RateWindow, ratelimit.WithClock(o.now))

	converter := avatar.NewConverter(store, codec, c.MaxSize, c.MaxPixels, c.DefaultExt, m)
	retriever := avatar.NewRetriever(limiter, store, m)

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(loggingMiddleware(m))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   c.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", headerRequestID},
		ExposedHeaders:   []string{headerRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthz)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Post("/convert", convert(c.MaxSize, converter))
	r.Get("/download", download(c.TrustProxy, retriever))

	return &Server{
		cfg: c,
		http: &http.Server{
			Addr:         c.Addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		store:   store,
		limiter: limiter,
		repo:    repo,
		metrics: m,
	}, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe serves HTTP until Shutdown is called
func (s *Server) ListenAndServe(ctx context.Context) error {
	slog.Info("Starting server", "address", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// RunSweepers periodically drops expired limiter counters and unclaimed
// artifacts until ctx is done. Once Shutdown has started it returns at once.
func (s *Server) RunSweepers(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.sweepers.Add(1)
	s.mu.Unlock()
	defer s.sweepers.Done()

	done := make(chan error, 1)
	go func() { done <- s.limiter.Run(ctx, s.cfg.SweepInterval) }()

	err := s.store.RunSweeper(ctx, s.cfg.SweepInterval)
	return errors.Join(err, <-done)
}

// Shutdown stops accepting requests, waits for in-flight ones and running
// sweeps, then closes the index
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Stopping server", "address", s.http.Addr)

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	httpErr := s.http.Shutdown(ctx)
	sweepErr := s.waitSweepers(ctx)
	repoErr := s.repo.Close()
	return errors.Join(httpErr, sweepErr, repoErr)
}

func (s *Server) waitSweepers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.sweepers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sweepers still running: %w", ctx.Err())
	}
}
