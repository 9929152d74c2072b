// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the planner over HTTP.
//
// One process serves one mode: NDJSON from a POST body, SSE from a query
// string, SSE with raw text from a POST body, or a synchronous JSON plan.
// The streaming modes share one handler and differ only in the
// stream.Renderer that frames the output.
package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/tripplanner/pkg/agent"
	"github.com/kadirpekel/tripplanner/pkg/config"
	"github.com/kadirpekel/tripplanner/pkg/model"
	"github.com/kadirpekel/tripplanner/pkg/observability"
	"github.com/kadirpekel/tripplanner/pkg/stream"
	"github.com/kadirpekel/tripplanner/pkg/tool/mcptoolset"
)

const (
	// RoutePlanStream serves the streaming modes.
	RoutePlanStream = "/travel-plan/stream"

	// RoutePlan serves the synchronous mode.
	RoutePlan = "/travel-plan"

	// RouteHealth reports liveness and pool occupancy.
	RouteHealth = "/health"
)

// Planner runs planning queries.
type Planner interface {
	Run(ctx context.Context, query string, mc model.Config) iter.Seq2[*agent.Event, error]
}

// PoolStats reports MCP pool occupancy.
type PoolStats interface {
	Stats() mcptoolset.Stats
}

// Server is the planner HTTP server.
type Server struct {
	cfg      config.ServerConfig
	planner  Planner
	renderer stream.Renderer
	obs      *observability.Manager
	pool     PoolStats

	handler http.Handler
}

// Option configures the server.
type Option func(*Server)

// WithObservability sets the observability manager for tracing and metrics.
func WithObservability(obs *observability.Manager) Option {
	return func(s *Server) {
		s.obs = obs
	}
}

// WithPoolStats reports pool occupancy on the health route.
func WithPoolStats(p PoolStats) Option {
	return func(s *Server) {
		s.pool = p
	}
}

// New creates a server for cfg.Mode.
func New(cfg config.ServerConfig, planner Planner, opts ...Option) (*Server, error) {
	if planner == nil {
		return nil, errors.New("planner is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	renderer, err := RendererFor(cfg.Mode)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		planner:  planner,
		renderer: renderer,
		obs:      observability.NoopManager(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.handler = s.setupRoutes()
	return s, nil
}

// RendererFor returns the stream renderer of a streaming mode, and nil for
// the synchronous mode.
func RendererFor(mode config.ServerMode) (stream.Renderer, error) {
	switch mode {
	case config.ModeNDJSON:
		return stream.NDJSON{}, nil
	case config.ModeSSEQuery:
		return stream.SSEJSON{}, nil
	case config.ModeSSEBody:
		return stream.SSEText{}, nil
	case config.ModeSync:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown server mode %q", mode)
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.cfg.Address()
}

func (s *Server) setupRoutes() http.Handler {
	r := chi.NewRouter()

	// Order: request id -> recover -> logging -> telemetry -> cors
	r.Use(requestID)
	r.Use(recoverer)
	r.Use(logging)
	r.Use(observability.HTTPMiddleware(s.obs.Tracer(), s.obs.Metrics()))
	r.Use(cors(s.cfg.CORS))

	r.Get(RouteHealth, s.handleHealth)

	if h := s.obs.MetricsHandler(); h != nil {
		r.Method(http.MethodGet, s.obs.MetricsPath(), h)
		slog.Info("Metrics endpoint enabled", "path", s.obs.MetricsPath())
	}

	switch s.cfg.Mode {
	case config.ModeSync:
		r.Post(RoutePlan, s.handleSync)
	case config.ModeSSEQuery:
		r.Get(RoutePlanStream, s.handleStream)
	default:
		r.Post(RoutePlanStream, s.handleStream)
	}
	return r
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully within
// the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	slog.Info("HTTP server starting", "address", ln.Addr().String(), "mode", s.cfg.Mode)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Streams still open past the deadline are cut.
		_ = srv.Close()
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}
