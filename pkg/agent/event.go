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

package agent

import (
	"github.com/kadirpekel/tripplanner/pkg/model"
)

// EventKind discriminates Event payloads.
type EventKind string

const (
	// KindTokenDelta carries a fragment of model output in Text.
	KindTokenDelta EventKind = "token_delta"

	KindModelStart EventKind = "model_start"
	KindModelEnd   EventKind = "model_end"
	KindToolStart  EventKind = "tool_start"
	KindToolEnd    EventKind = "tool_end"
	KindAgentEnd   EventKind = "agent_end"
)

// Event is one observation from a planning run. Only token deltas are
// meant for end users; the other kinds describe the run's progress.
type Event struct {
	Kind EventKind

	// RunID identifies the run that produced the event.
	RunID string

	// Step is the zero-based model call index within the run.
	Step int

	// Text is the delta for KindTokenDelta and the full turn text for
	// KindModelEnd and KindAgentEnd.
	Text string

	// Tool fields are set on KindToolStart and KindToolEnd.
	ToolName   string
	ToolCallID string
	ToolArgs   string
	ToolResult string
	ToolError  bool

	// Usage is set on KindModelEnd when the provider reports it.
	Usage *model.Usage
}

// IsDelta reports whether the event carries user-visible text.
func (e *Event) IsDelta() bool {
	return e != nil && e.Kind == KindTokenDelta && e.Text != ""
}
