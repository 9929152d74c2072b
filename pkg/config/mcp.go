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

package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kadirpekel/tripplanner/pkg/tool/mcptoolset"
)

// MCPConfig configures the mapping tool server.
type MCPConfig struct {
	// Name identifies the toolset in logs.
	// Default: amap
	Name string `yaml:"name,omitempty"`

	// Transport is sse, streamable-http or stdio.
	// Default: sse (stdio when command is set)
	Transport string `yaml:"transport,omitempty"`

	// URL of the MCP server. Defaults to the hosted AMap endpoint keyed
	// by AMAP_KEY.
	URL string `yaml:"url,omitempty"`

	// Headers sent with HTTP transport requests.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Command, Args and Env start a stdio server.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// PoolSize caps concurrent MCP connections.
	// Default: 4
	PoolSize int `yaml:"pool_size,omitempty"`

	// ConnectTimeout bounds connection setup.
	// Default: 15s
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`

	// CallTimeout bounds each tool call.
	// Default: 30s
	CallTimeout time.Duration `yaml:"call_timeout,omitempty"`

	// ToolsTTL is how long the tool listing is cached.
	// Default: 10m
	ToolsTTL time.Duration `yaml:"tools_ttl,omitempty"`

	// Filter limits the tools shown to the model. Empty shows all.
	Filter []string `yaml:"filter,omitempty"`
}

// SetDefaults applies defaults, including the AMap endpoint.
func (c *MCPConfig) SetDefaults() {
	if c.Name == "" {
		c.Name = "amap"
	}
	if c.Transport == "" {
		if c.Command != "" {
			c.Transport = mcptoolset.TransportStdio
		} else {
			c.Transport = mcptoolset.TransportSSE
		}
	}
	if c.URL == "" && c.Transport == mcptoolset.TransportSSE {
		c.URL = amapSSEURL + url.QueryEscape(envOr("", EnvAMapKey))
	}
	if c.PoolSize == 0 {
		c.PoolSize = 4
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.ToolsTTL == 0 {
		c.ToolsTTL = 10 * time.Minute
	}
}

// Validate checks the MCP configuration.
func (c *MCPConfig) Validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1, got %d", c.PoolSize)
	}
	tc := c.ToolsetConfig()
	return tc.Validate()
}

// ToolsetConfig converts to the pool configuration.
func (c *MCPConfig) ToolsetConfig() mcptoolset.Config {
	return mcptoolset.Config{
		Name:           c.Name,
		Transport:      c.Transport,
		URL:            c.URL,
		Headers:        c.Headers,
		Command:        c.Command,
		Args:           c.Args,
		Env:            c.Env,
		PoolSize:       c.PoolSize,
		ConnectTimeout: c.ConnectTimeout,
		ToolsTTL:       c.ToolsTTL,
		Filter:         c.Filter,
	}
}
