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

// Package mcptoolset provides a pooled tool.Source backed by an MCP server.
//
// MCP (Model Context Protocol) allows connecting to external tool servers
// that expose tools via a standardized protocol.
//
// Every run checks out its own connection from the pool, so concurrent runs
// never share an MCP session. Connections are dialed lazily, reused after a
// clean run and closed after a failed one.
//
// Transport Support:
//   - sse: long-lived event stream (the AMAP endpoint)
//   - streamable-http: single endpoint with session header
//   - stdio: subprocess
package mcptoolset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/semaphore"

	"github.com/kadirpekel/tripplanner/pkg/tool"
)

// Supported transports.
const (
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
	TransportStdio          = "stdio"
)

const (
	defaultPoolSize       = 4
	defaultConnectTimeout = 15 * time.Second
	defaultToolsTTL       = 10 * time.Minute

	clientName    = "tripplanner"
	clientVersion = "1.0.0"

	toolsCacheKey = "tools"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("mcp pool closed")

// Config configures an MCP tool pool.
type Config struct {
	// Name identifies this toolset in logs.
	Name string

	// Transport specifies the MCP transport (sse, streamable-http, stdio).
	Transport string

	// URL is the MCP server URL (for HTTP transports).
	URL string

	// Headers are sent with every HTTP transport request.
	Headers map[string]string

	// Command for stdio transport.
	Command string

	// Args for stdio transport.
	Args []string

	// Env for stdio transport.
	Env map[string]string

	// PoolSize caps concurrently checked-out connections (default: 4).
	PoolSize int

	// ConnectTimeout bounds dial and initialize (default: 15s).
	ConnectTimeout time.Duration

	// ToolsTTL is how long a tool listing is reused (default: 10m).
	ToolsTTL time.Duration

	// Filter limits which tools are exposed. Empty exposes all.
	Filter []string
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "amap"
	}
	if c.Transport == "" {
		if c.Command != "" {
			c.Transport = TransportStdio
		} else {
			c.Transport = TransportSSE
		}
	}
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ToolsTTL <= 0 {
		c.ToolsTTL = defaultToolsTTL
	}
}

// Validate checks the transport settings.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportSSE, TransportStreamableHTTP:
		if c.URL == "" {
			return fmt.Errorf("mcp url is required for %s transport", c.Transport)
		}
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("mcp command is required for stdio transport")
		}
	default:
		return fmt.Errorf("unsupported mcp transport %q (use sse, streamable-http or stdio)", c.Transport)
	}
	return nil
}

// Dialer creates an unstarted MCP client.
type Dialer func() (*client.Client, error)

// Pool is a tool.Source handing out one MCP connection per run.
type Pool struct {
	cfg    Config
	dial   Dialer
	filter tool.Predicate

	sem   *semaphore.Weighted
	specs *cache.Cache

	// Connections outlive the request that dialed them, so the SSE stream
	// is bound to the pool's lifetime instead.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	idle   []*client.Client
	open   int
	closed bool
}

// New creates a pool dialing the configured transport.
func New(cfg Config) (*Pool, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewWithDialer(cfg, transportDialer(cfg)), nil
}

// NewWithDialer creates a pool using a custom dialer.
func NewWithDialer(cfg Config, dial Dialer) *Pool {
	cfg.SetDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:     cfg,
		dial:    dial,
		filter:  tool.StringPredicate(cfg.Filter),
		sem:     semaphore.NewWeighted(int64(cfg.PoolSize)),
		specs:   cache.New(cfg.ToolsTTL, 2*cfg.ToolsTTL),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

func transportDialer(cfg Config) Dialer {
	return func() (*client.Client, error) {
		switch cfg.Transport {
		case TransportStreamableHTTP:
			var opts []transport.StreamableHTTPCOption
			if len(cfg.Headers) > 0 {
				opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
			}
			return client.NewStreamableHttpClient(cfg.URL, opts...)
		case TransportStdio:
			return client.NewStdioMCPClient(cfg.Command, convertEnv(cfg.Env), cfg.Args...)
		default:
			var opts []transport.ClientOption
			if len(cfg.Headers) > 0 {
				opts = append(opts, transport.WithHeaders(cfg.Headers))
			}
			return client.NewSSEMCPClient(cfg.URL, opts...)
		}
	}
}

// Name returns the toolset name.
func (p *Pool) Name() string {
	return p.cfg.Name
}

// Acquire checks out a connection, dialing one when none is idle. It blocks
// while PoolSize connections are in use.
func (p *Pool) Acquire(ctx context.Context) (tool.Lease, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for mcp connection: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return &Conn{pool: p, client: c}, nil
	}
	p.mu.Unlock()

	c, err := p.connect(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}

	p.mu.Lock()
	p.open++
	p.mu.Unlock()
	return &Conn{pool: p, client: c}, nil
}

// connect dials, starts and initializes a new MCP session.
func (p *Pool) connect(ctx context.Context) (*client.Client, error) {
	c, err := p.dial()
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := c.Start(p.baseCtx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	if _, err := c.Initialize(initCtx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize MCP: %w", err)
	}

	slog.Info("Connected to MCP server",
		"name", p.cfg.Name,
		"transport", p.cfg.Transport,
	)
	return c, nil
}

// release returns a connection to the pool or closes it.
func (p *Pool) release(c *client.Client, broken bool) {
	defer p.sem.Release(1)

	p.mu.Lock()
	if broken || p.closed {
		p.open--
		p.mu.Unlock()
		if err := c.Close(); err != nil {
			slog.Debug("Closing MCP connection failed", "name", p.cfg.Name, "error", err)
		}
		if broken {
			// A broken session may have served a stale listing.
			p.specs.Delete(toolsCacheKey)
		}
		return
	}
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// Stats reports pool occupancy.
type Stats struct {
	Open int `json:"open"`
	Idle int `json:"idle"`
	Size int `json:"size"`
}

// Stats returns the current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Open: p.open, Idle: len(p.idle), Size: p.cfg.PoolSize}
}

// Close closes idle connections. Checked-out connections are closed when
// released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.open -= len(idle)
	p.mu.Unlock()

	var errs []error
	for _, c := range idle {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.cancel()
	return errors.Join(errs...)
}

// convertEnv converts map to slice of "KEY=VALUE".
func convertEnv(env map[string]string) []string {
	if env == nil {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}
