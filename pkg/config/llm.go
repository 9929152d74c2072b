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

	"github.com/kadirpekel/tripplanner/pkg/model"
)

// LLMConfig configures the OpenAI-compatible model endpoint. Empty
// values fall back to LLM_MODEL, LLM_BASE_URL and LLM_API_KEY.
type LLMConfig struct {
	// Model is the model identifier, e.g. "qwen-plus".
	Model string `yaml:"model,omitempty"`

	// BaseURL is the API base URL, e.g. "https://dashscope.aliyuncs.com/compatible-mode/v1".
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key,omitempty"`

	// Timeout bounds each model call.
	// Default: 120s
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Temperature controls randomness (0-2). Provider default when unset.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens limits each response. Provider default when 0.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Strict fails startup when model or mapping credentials are empty.
	Strict bool `yaml:"strict,omitempty"`
}

// SetDefaults applies environment fallbacks and defaults.
func (c *LLMConfig) SetDefaults() {
	c.Model = envOr(c.Model, EnvLLMModel)
	c.BaseURL = envOr(c.BaseURL, EnvLLMBaseURL)
	c.APIKey = envOr(c.APIKey, EnvLLMAPIKey)
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
}

// Validate checks the LLM configuration. Empty values are allowed.
func (c *LLMConfig) Validate() error {
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid base_url %q", c.BaseURL)
		}
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", *c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// ModelDefaults returns the per-request model fallbacks.
func (c *LLMConfig) ModelDefaults() model.Config {
	return model.Config{Model: c.Model, BaseURL: c.BaseURL, APIKey: c.APIKey}
}
