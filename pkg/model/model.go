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

// Package model defines the LLM interface used by the planner.
//
// Key design principles:
//   - A single streaming GenerateContent method returning iter.Seq2
//   - Partial responses carry text deltas for real-time display
//   - The last response is the aggregated turn (Partial=false) with tool calls
package model

import (
	"context"
	"fmt"
	"iter"

	"github.com/kadirpekel/tripplanner/pkg/tool"
)

// LLM is the interface for language models.
type LLM interface {
	// Name returns the model identifier.
	Name() string

	// GenerateContent streams one model turn.
	//
	// It yields zero or more partial Responses (Partial=true) carrying text
	// deltas, then exactly one aggregated Response (Partial=false) with the
	// full text and any tool calls. A provider failure is yielded as an error
	// and ends the sequence.
	GenerateContent(ctx context.Context, req *Request) iter.Seq2[*Response, error]
}

// Factory builds an LLM for one request.
type Factory func(cfg Config) (LLM, error)

// Config identifies the model endpoint for a request.
type Config struct {
	Model   string
	BaseURL string
	APIKey  string
}

// Resolve fills empty fields from defaults. Explicit fields win. Empty
// results are not rejected here; the provider reports them on first use.
func (c Config) Resolve(defaults Config) Config {
	if c.Model == "" {
		c.Model = defaults.Model
	}
	if c.BaseURL == "" {
		c.BaseURL = defaults.BaseURL
	}
	if c.APIKey == "" {
		c.APIKey = defaults.APIKey
	}
	return c
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role Role

	// Content is the message text.
	Content string

	// ToolCalls requested by an assistant message.
	ToolCalls []tool.Call

	// ToolCallID links a tool message to the call it answers.
	ToolCallID string
}

// Request contains the input for an LLM call.
type Request struct {
	// SystemInstruction is prepended to the conversation.
	SystemInstruction string

	// Messages is the conversation history.
	Messages []Message

	// Tools available for the model to call.
	Tools []tool.Definition

	// Config contains generation configuration.
	Config *GenerateConfig
}

// GenerateConfig contains configuration for generation.
type GenerateConfig struct {
	// Temperature controls randomness (0-2).
	Temperature *float64

	// MaxTokens limits the response length.
	MaxTokens *int
}

// Response contains the result of an LLM call.
type Response struct {
	// Text is the delta for partial responses and the full text otherwise.
	Text string

	// Partial indicates whether this is a streaming chunk (true) or the
	// aggregated turn (false).
	Partial bool

	// ToolCalls requested by the model. Only set on the aggregated turn.
	ToolCalls []tool.Call

	// Usage statistics, when the provider reports them.
	Usage *Usage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// HasToolCalls returns whether the response contains tool calls.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// ProviderError carries the HTTP status of a failed provider call.
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Type returns a short label for metrics and spans.
func (e *ProviderError) Type() string {
	return fmt.Sprintf("provider_%d", e.StatusCode)
}
