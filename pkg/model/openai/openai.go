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

// Package openai provides an LLM implementation for OpenAI-compatible
// Chat Completions endpoints.
//
// Any provider exposing /chat/completions with streaming (OpenAI, DashScope,
// DeepSeek, vLLM, ...) works by pointing BaseURL at it.
//   - Streams text deltas as partial responses
//   - Accumulates tool-call fragments into one aggregated response
package openai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kadirpekel/tripplanner/pkg/model"
	"github.com/kadirpekel/tripplanner/pkg/tool"
)

// ErrNoBaseURL is returned by New when no endpoint is configured. There is no
// fallback endpoint so a key is never sent to a provider it was not issued by.
var ErrNoBaseURL = errors.New("LLM base URL is not configured (set LLM_BASE_URL or llm.base_url)")

// Config configures the client.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature *float64
	MaxTokens   int

	// HTTPClient overrides the transport. Timeouts are driven by the
	// request context.
	HTTPClient *http.Client
}

// Client is an LLM backed by an OpenAI-compatible Chat Completions API.
type Client struct {
	client      sdk.Client
	modelName   string
	temperature *float64
	maxTokens   int
}

// New creates a new client. An empty API key or model is passed through so
// that a misconfigured deployment fails at call time with the provider's error.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("invalid base URL %q: must start with http:// or https://", cfg.BaseURL)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL + "/"),
		// One run is one attempt; retries would replay partial output.
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		client:      sdk.NewClient(opts...),
		modelName:   cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// NewFactory returns a model.Factory creating clients that share the given
// generation settings.
func NewFactory(temperature *float64, maxTokens int, httpClient *http.Client) model.Factory {
	return func(mc model.Config) (model.LLM, error) {
		return New(Config{
			APIKey:      mc.APIKey,
			Model:       mc.Model,
			BaseURL:     mc.BaseURL,
			Temperature: temperature,
			MaxTokens:   maxTokens,
			HTTPClient:  httpClient,
		})
	}
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.modelName
}

// GenerateContent streams one model turn.
//
// Text deltas are yielded as partial responses as they arrive. When the
// stream ends the accumulated turn is yielded with Partial=false.
func (c *Client) GenerateContent(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		params := c.buildParams(req)

		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		acc := sdk.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if !yield(&model.Response{Text: delta, Partial: true}, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			var apiErr *sdk.Error
			if errors.As(err, &apiErr) {
				err = &model.ProviderError{StatusCode: apiErr.StatusCode, Err: err}
			}
			yield(nil, fmt.Errorf("chat completion stream failed: %w", err))
			return
		}

		yield(c.aggregate(&acc), nil)
	}
}

// aggregate converts the accumulated completion into the final response.
func (c *Client) aggregate(acc *sdk.ChatCompletionAccumulator) *model.Response {
	resp := &model.Response{}

	if acc.Usage.TotalTokens > 0 {
		resp.Usage = &model.Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:      int(acc.Usage.TotalTokens),
		}
	}

	if len(acc.Choices) == 0 {
		slog.Debug("Chat completion returned no choices", "model", c.modelName)
		return resp
	}

	choice := acc.Choices[0]
	resp.Text = choice.Message.Content
	resp.FinishReason = choice.FinishReason
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, tool.Call{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp
}

func (c *Client) buildParams(req *model.Request) sdk.ChatCompletionNewParams {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.modelName),
		Messages: convertMessages(req),
		StreamOptions: sdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: sdk.Bool(true),
		},
	}

	temperature := c.temperature
	maxTokens := c.maxTokens
	if req.Config != nil {
		if req.Config.Temperature != nil {
			temperature = req.Config.Temperature
		}
		if req.Config.MaxTokens != nil {
			maxTokens = *req.Config.MaxTokens
		}
	}
	if temperature != nil {
		params.Temperature = sdk.Float(*temperature)
	}
	if maxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(maxTokens))
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params
}

func convertMessages(req *model.Request) []sdk.ChatCompletionMessageParamUnion {
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemInstruction != "" {
		messages = append(messages, sdk.SystemMessage(req.SystemInstruction))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case model.RoleUser:
			messages = append(messages, sdk.UserMessage(msg.Content))
		case model.RoleAssistant:
			messages = append(messages, assistantMessage(msg))
		case model.RoleTool:
			messages = append(messages, sdk.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			slog.Warn("Skipping message with unknown role", "role", msg.Role)
		}
	}
	return messages
}

func assistantMessage(msg model.Message) sdk.ChatCompletionMessageParamUnion {
	asst := sdk.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		asst.Content.OfString = sdk.String(msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		args := tc.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: sdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: args,
			},
		})
	}
	return sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

func convertTools(defs []tool.Definition) []sdk.ChatCompletionToolParam {
	tools := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		fn := sdk.FunctionDefinitionParam{
			Name:       def.Name,
			Parameters: sdk.FunctionParameters(def.Parameters),
		}
		if def.Description != "" {
			fn.Description = sdk.String(def.Description)
		}
		tools = append(tools, sdk.ChatCompletionToolParam{Function: fn})
	}
	return tools
}
