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

// Package stream turns planning events into client frames and renders them
// onto HTTP responses.
//
// Every frame sequence ends with exactly one terminal frame: complete when
// the run finished, error when it failed. Content frames carry the model's
// text deltas in arrival order.
package stream

import (
	"errors"
	"iter"
	"strings"

	"github.com/kadirpekel/tripplanner/pkg/agent"
)

// FrameKind discriminates frames.
type FrameKind string

const (
	FrameContent  FrameKind = "content"
	FrameComplete FrameKind = "complete"
	FrameError    FrameKind = "error"
)

// Frame is one unit written to the client.
type Frame struct {
	Kind FrameKind

	// Text is the delta for content frames and the message for error frames.
	Text string

	// Err is the cause of an error frame. It is never rendered.
	Err error
}

// Content returns a content frame.
func Content(text string) Frame {
	return Frame{Kind: FrameContent, Text: text}
}

// Complete returns the completion frame.
func Complete() Frame {
	return Frame{Kind: FrameComplete}
}

// Error returns an error frame for err.
func Error(err error) Frame {
	return Frame{Kind: FrameError, Text: err.Error(), Err: err}
}

// IsTerminal reports whether f ends a stream.
func (f Frame) IsTerminal() bool {
	return f.Kind == FrameComplete || f.Kind == FrameError
}

// Bridge filters events down to their text deltas. Non-delta events, nil
// events and empty deltas produce nothing. The first error becomes the
// terminal error frame; otherwise a complete frame follows the last event.
//
// Events are pulled one at a time, and pulling stops as soon as the
// consumer stops.
func Bridge(events iter.Seq2[*agent.Event, error]) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		for ev, err := range events {
			if err != nil {
				yield(Error(err))
				return
			}
			if !ev.IsDelta() {
				continue
			}
			if !yield(Content(ev.Text)) {
				return
			}
		}
		yield(Complete())
	}
}

// Collect concatenates content frames. It returns the text gathered so far
// and the cause of an error frame, if one arrives.
func Collect(frames iter.Seq[Frame]) (string, error) {
	var sb strings.Builder
	for f := range frames {
		switch f.Kind {
		case FrameContent:
			sb.WriteString(f.Text)
		case FrameError:
			if f.Err != nil {
				return sb.String(), f.Err
			}
			return sb.String(), errors.New(f.Text)
		case FrameComplete:
			return sb.String(), nil
		}
	}
	return sb.String(), nil
}
