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

package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
)

// NoopManager returns a Manager with tracing and metrics disabled.
func NoopManager() *Manager {
	return &Manager{
		tracerProvider: noop.NewTracerProvider(),
		metrics:        NoopMetrics{},
	}
}

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

func (NoopMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration)  {}
func (NoopMetrics) RecordAgentRun(context.Context, string, string, int, time.Duration)     {}
func (NoopMetrics) RecordLLMCall(context.Context, string, string, time.Duration, int, int) {}
func (NoopMetrics) RecordToolCall(context.Context, string, string, time.Duration)          {}
func (NoopMetrics) AddActiveStreams(context.Context, int64)                                {}
