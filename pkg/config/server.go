// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"net/http"
	"time"

	"github.com/samber/lo"
)

// ServerMode selects the HTTP variant a process serves.
type ServerMode string

const (
	// ModeNDJSON streams newline-delimited JSON from a POST body query.
	ModeNDJSON ServerMode = "ndjson"

	// ModeSSEQuery streams SSE with JSON payloads from a query-string query.
	ModeSSEQuery ServerMode = "sse-query"

	// ModeSSEBody streams SSE with raw text payloads from a POST body query.
	ModeSSEBody ServerMode = "sse-body"

	// ModeSync returns the whole plan as one JSON object.
	ModeSync ServerMode = "sync"
)

// Modes lists the supported server modes.
var Modes = []ServerMode{ModeNDJSON, ModeSSEQuery, ModeSSEBody, ModeSync}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Host to bind to.
	Host string `yaml:"host,omitempty"`

	// Port to listen on.
	Port int `yaml:"port,omitempty"`

	// Mode selects the transport variant (ndjson, sse-query, sse-body, sync).
	// Default: ndjson
	Mode ServerMode `yaml:"mode,omitempty"`

	// RequestTimeout bounds a whole planning request.
	// Default: 10m
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10s
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// CORS configuration.
	CORS CORSConfig `yaml:"cors,omitempty"`
}

// CORSConfig configures CORS.
type CORSConfig struct {
	// AllowedOrigins is a list of allowed origins.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`

	// AllowedMethods is a list of allowed HTTP methods.
	AllowedMethods []string `yaml:"allowed_methods,omitempty"`

	// AllowedHeaders is a list of allowed headers.
	AllowedHeaders []string `yaml:"allowed_headers,omitempty"`

	// MaxAge is how long preflight results may be cached, in seconds.
	MaxAge int `yaml:"max_age,omitempty"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.Mode == "" {
		c.Mode = ModeNDJSON
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Minute
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	c.CORS.SetDefaults()
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if !lo.Contains(Modes, c.Mode) {
		return fmt.Errorf("invalid mode %q (valid: %v)", c.Mode, Modes)
	}
	if c.RequestTimeout < 0 || c.ReadHeaderTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// Address returns the listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SetDefaults allows everything, the public API posture of the planner.
func (c *CORSConfig) SetDefaults() {
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = []string{"*"}
	}
	if c.MaxAge == 0 {
		c.MaxAge = 600
	}
}
