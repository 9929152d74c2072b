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

package mcptoolset

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"github.com/xeipuuv/gojsonschema"

	"github.com/kadirpekel/tripplanner/pkg/tool"
)

// Conn is a checked-out MCP connection. It implements tool.Lease.
type Conn struct {
	pool   *Pool
	client *client.Client
	once   sync.Once
}

// Name returns the toolset name.
func (c *Conn) Name() string {
	return c.pool.cfg.Name
}

// Tools returns the server's tools bound to this connection. The listing is
// cached pool-wide for ToolsTTL.
func (c *Conn) Tools(ctx context.Context) ([]tool.Tool, error) {
	specs, err := c.specs(ctx)
	if err != nil {
		return nil, err
	}
	tools := lo.Map(specs, func(s *toolSpec, _ int) tool.Tool {
		return &mcpTool{spec: s, client: c.client}
	})
	return tool.Filter(tools, c.pool.filter), nil
}

// Release returns the connection to the pool. Only the first call counts.
func (c *Conn) Release(broken bool) {
	c.once.Do(func() {
		c.pool.release(c.client, broken)
	})
}

func (c *Conn) specs(ctx context.Context) ([]*toolSpec, error) {
	if cached, ok := c.pool.specs.Get(toolsCacheKey); ok {
		return cached.([]*toolSpec), nil
	}

	listResp, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	specs := make([]*toolSpec, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		specs = append(specs, newToolSpec(t))
	}
	c.pool.specs.Set(toolsCacheKey, specs, cache.DefaultExpiration)

	slog.Debug("Listed MCP tools", "name", c.pool.cfg.Name, "tools", len(specs))
	return specs, nil
}

// toolSpec is a listed tool with its compiled argument validator.
type toolSpec struct {
	name      string
	desc      string
	schema    map[string]any
	validator *gojsonschema.Schema
}

func newToolSpec(t mcp.Tool) *toolSpec {
	s := &toolSpec{
		name:   t.Name,
		desc:   t.Description,
		schema: convertSchema(t),
	}
	if s.schema == nil {
		return s
	}
	v, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(s.schema))
	if err != nil {
		// The model still sees the schema; only local validation is skipped.
		slog.Warn("MCP tool has an uncompilable input schema", "tool", t.Name, "error", err)
		return s
	}
	s.validator = v
	return s
}

// convertSchema extracts the JSON input schema of an MCP tool. Tool's own
// marshaller picks between the typed and the raw schema.
func convertSchema(t mcp.Tool) map[string]any {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	var decoded struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	return decoded.InputSchema
}

// mcpTool wraps an MCP tool as tool.Tool on a specific connection.
type mcpTool struct {
	spec   *toolSpec
	client *client.Client
}

func (t *mcpTool) Name() string {
	return t.spec.name
}

func (t *mcpTool) Description() string {
	return t.spec.desc
}

func (t *mcpTool) Schema() map[string]any {
	return t.spec.schema
}

// Call validates args against the input schema and invokes the tool.
func (t *mcpTool) Call(ctx context.Context, args map[string]any) (*tool.Result, error) {
	if err := t.validate(args); err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.spec.name
	req.Params.Arguments = args

	resp, err := t.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call %s failed: %w", t.spec.name, err)
	}
	return parseToolResponse(resp), nil
}

func (t *mcpTool) validate(args map[string]any) error {
	if t.spec.validator == nil {
		return nil
	}
	res, err := t.spec.validator.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", tool.ErrInvalidArguments, t.spec.name, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := lo.Map(res.Errors(), func(e gojsonschema.ResultError, _ int) string {
		return e.String()
	})
	return fmt.Errorf("%w: %s: %s", tool.ErrInvalidArguments, t.spec.name, strings.Join(msgs, "; "))
}

// parseToolResponse flattens MCP content into the text handed to the model.
func parseToolResponse(resp *mcp.CallToolResult) *tool.Result {
	var parts []string
	for _, content := range resp.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		default:
			if raw, err := json.Marshal(c); err == nil {
				parts = append(parts, string(raw))
			}
		}
	}

	text := strings.Join(parts, "\n")
	if resp.IsError && text == "" {
		text = "unknown error"
	}
	return &tool.Result{Text: text, IsError: resp.IsError}
}
