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

// Package tool defines the tool abstractions the planner hands to the model.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// ErrInvalidArguments reports tool-call arguments the model produced that
// cannot be parsed or do not match the tool's input schema.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// Tool is a capability the model can invoke.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description returns a human-readable description of what the tool does.
	// Used by LLMs to decide when to use this tool.
	Description() string

	// Schema returns the JSON schema for the tool's parameters.
	// Returns nil if the tool takes no parameters.
	Schema() map[string]any

	// Call executes the tool. A returned error means the call could not be
	// carried out; a tool that ran and failed reports it through Result.IsError.
	Call(ctx context.Context, args map[string]any) (*Result, error)
}

// Result is the outcome of a tool call.
type Result struct {
	// Text is the content handed back to the model.
	Text string

	// IsError marks a tool-level failure reported by the tool itself.
	IsError bool
}

// Toolset groups tools that share a backing connection.
type Toolset interface {
	Name() string

	Tools(ctx context.Context) ([]Tool, error)
}

// Lease is a toolset checked out for a single run.
type Lease interface {
	Toolset

	// Release returns the lease. broken marks the underlying connection as
	// unusable so it is closed instead of reused.
	Release(broken bool)
}

// Source hands out leases. Implementations must be safe for concurrent use.
type Source interface {
	Acquire(ctx context.Context) (Lease, error)
}

// Definition is the model-facing description of a tool.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Call is a tool invocation requested by the model.
type Call struct {
	ID        string
	Name      string
	Arguments string // raw JSON object
}

// Definitions converts tools to their model-facing definitions.
func Definitions(tools []Tool) []Definition {
	return lo.Map(tools, func(t Tool, _ int) Definition {
		params := t.Schema()
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		return Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		}
	})
}

// ParseArguments decodes the raw JSON arguments of a tool call.
// Empty arguments decode to an empty map.
func ParseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// Predicate decides whether a tool is exposed to the model.
type Predicate func(t Tool) bool

// StringPredicate allows only the named tools. An empty list allows all.
func StringPredicate(allowedTools []string) Predicate {
	if len(allowedTools) == 0 {
		return AllowAll()
	}
	allowed := lo.SliceToMap(allowedTools, func(name string) (string, bool) {
		return name, true
	})
	return func(t Tool) bool {
		return allowed[t.Name()]
	}
}

// AllowAll exposes every tool.
func AllowAll() Predicate {
	return func(Tool) bool {
		return true
	}
}

// Filter returns the tools matching p.
func Filter(tools []Tool, p Predicate) []Tool {
	return lo.Filter(tools, func(t Tool, _ int) bool {
		return p(t)
	})
}
