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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kadirpekel/tripplanner/pkg/agent"
	"github.com/kadirpekel/tripplanner/pkg/model"
	"github.com/kadirpekel/tripplanner/pkg/stream"
	"github.com/kadirpekel/tripplanner/pkg/tool/mcptoolset"
)

// maxBodyBytes bounds a planning request body.
const maxBodyBytes = 1 << 20

// PlanRequest is the body of a planning request. The model fields override
// the configured defaults for this request only.
type PlanRequest struct {
	Query   string `json:"query"`
	Model   string `json:"model,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
}

// ModelConfig returns the request's model overrides.
func (p PlanRequest) ModelConfig() model.Config {
	return model.Config{Model: p.Model, BaseURL: p.BaseURL, APIKey: p.APIKey}
}

// PlanResponse is the body of a synchronous plan.
type PlanResponse struct {
	Plan string `json:"plan"`
}

// ErrorResponse is the body of every JSON error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of the health route.
type HealthResponse struct {
	Status string            `json:"status"`
	Mode   string            `json:"mode"`
	MCP    *mcptoolset.Stats `json:"mcp,omitempty"`
}

// StatusError carries the HTTP status an error maps to.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// statusFor maps an error to an HTTP status: input errors are 400,
// everything else 500.
func statusFor(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	if errors.Is(err, agent.ErrEmptyQuery) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// readRequest extracts the planning request from the query string (GET) or
// the JSON body.
func readRequest(w http.ResponseWriter, r *http.Request) (PlanRequest, error) {
	if r.Method == http.MethodGet {
		return PlanRequest{Query: r.URL.Query().Get("query")}, nil
	}

	var req PlanRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return PlanRequest{}, &StatusError{
			Status: http.StatusBadRequest,
			Err:    fmt.Errorf("invalid request body: %w", err),
		}
	}
	return req, nil
}

// requestContext bounds the whole run by the configured request timeout.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout > 0 {
		return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	}
	return context.WithCancel(r.Context())
}

// handleStream serves the three streaming modes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, err := readRequest(w, r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	// Streaming clients read the body, not the status.
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusOK, agent.ErrEmptyQuery)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	metrics := s.obs.Metrics()
	metrics.AddActiveStreams(ctx, 1)
	defer metrics.AddActiveStreams(context.WithoutCancel(ctx), -1)

	frames := stream.Bridge(s.planner.Run(ctx, req.Query, req.ModelConfig()))
	if err := stream.Write(w, s.renderer, frames); err != nil {
		slog.Debug("Stream ended early",
			"request_id", RequestIDFromContext(r.Context()),
			"error", err,
		)
	}
}

// handleSync runs the plan to completion and returns it as one object.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	req, err := readRequest(w, r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, agent.ErrEmptyQuery)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	plan, err := stream.Collect(stream.Bridge(s.planner.Run(ctx, req.Query, req.ModelConfig())))
	if err != nil {
		status := statusFor(err)
		slog.Error("Planning failed",
			"request_id", RequestIDFromContext(r.Context()),
			"status", status,
			"error", err,
		)
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, PlanResponse{Plan: plan})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Mode: string(s.cfg.Mode)}
	if s.pool != nil {
		stats := s.pool.Stats()
		resp.MCP = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
