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

import "fmt"

// AgentConfig configures the planning loop.
type AgentConfig struct {
	// MaxSteps bounds tool rounds per run.
	// Default: 30
	MaxSteps int `yaml:"max_steps,omitempty"`

	// InstructionFile replaces the embedded system instruction.
	InstructionFile string `yaml:"instruction_file,omitempty"`

	// WatchInstruction reloads InstructionFile when it changes.
	WatchInstruction bool `yaml:"watch_instruction,omitempty"`
}

// SetDefaults applies default values.
func (c *AgentConfig) SetDefaults() {
	if c.MaxSteps == 0 {
		c.MaxSteps = 30
	}
}

// Validate checks the agent configuration.
func (c *AgentConfig) Validate() error {
	if c.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be at least 1, got %d", c.MaxSteps)
	}
	if c.WatchInstruction && c.InstructionFile == "" {
		return fmt.Errorf("watch_instruction requires instruction_file")
	}
	return nil
}
