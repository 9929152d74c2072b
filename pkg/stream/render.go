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

package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Renderer encodes frames for one wire format.
type Renderer interface {
	ContentType() string
	RenderContent(w io.Writer, text string) error
	RenderComplete(w io.Writer) error
	RenderError(w io.Writer, message string) error
}

// Render writes f with r.
func Render(w io.Writer, r Renderer, f Frame) error {
	switch f.Kind {
	case FrameContent:
		return r.RenderContent(w, f.Text)
	case FrameComplete:
		return r.RenderComplete(w)
	case FrameError:
		return r.RenderError(w, f.Text)
	default:
		return fmt.Errorf("unknown frame kind %q", f.Kind)
	}
}

// marshal encodes v as compact JSON without HTML escaping, so CJK text and
// punctuation reach the client verbatim.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// NDJSON renders one JSON object per line:
//
//	{"content":"..."}
//	{"status":"complete"}  or  {"error":"..."}
type NDJSON struct{}

func (NDJSON) ContentType() string {
	return "application/x-ndjson"
}

func (NDJSON) RenderContent(w io.Writer, text string) error {
	return writeLine(w, map[string]string{"content": text})
}

func (NDJSON) RenderComplete(w io.Writer) error {
	return writeLine(w, map[string]string{"status": "complete"})
}

func (NDJSON) RenderError(w io.Writer, message string) error {
	return writeLine(w, map[string]string{"error": message})
}

func writeLine(w io.Writer, v any) error {
	data, err := marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// SSEJSON renders Server-Sent Events with JSON payloads:
//
//	event: message / data: {"content":"..."}
//	event: complete / data: {}
//	event: error / data: {"error":"..."}
type SSEJSON struct{}

func (SSEJSON) ContentType() string {
	return "text/event-stream"
}

func (SSEJSON) RenderContent(w io.Writer, text string) error {
	data, err := marshal(map[string]string{"content": text})
	if err != nil {
		return err
	}
	return writeEvent(w, "message", string(data))
}

func (SSEJSON) RenderComplete(w io.Writer) error {
	return writeEvent(w, "complete", "{}")
}

func (SSEJSON) RenderError(w io.Writer, message string) error {
	data, err := marshal(map[string]string{"error": message})
	if err != nil {
		return err
	}
	return writeEvent(w, "error", string(data))
}

// SSEText renders Server-Sent Events with the raw text as payload. Multi-line
// text is split over several data lines, which clients join with newlines.
type SSEText struct{}

func (SSEText) ContentType() string {
	return "text/event-stream"
}

func (SSEText) RenderContent(w io.Writer, text string) error {
	return writeEvent(w, "message", text)
}

func (SSEText) RenderComplete(w io.Writer) error {
	return writeEvent(w, "complete", "")
}

func (SSEText) RenderError(w io.Writer, message string) error {
	return writeEvent(w, "error", message)
}

// writeEvent writes one SSE event. A data line must not contain a line
// break, so every line of data gets its own field.
func writeEvent(w io.Writer, event, data string) error {
	var sb strings.Builder
	sb.WriteString("event: ")
	sb.WriteString(event)
	sb.WriteByte('\n')

	data = strings.ReplaceAll(data, "\r\n", "\n")
	data = strings.ReplaceAll(data, "\r", "\n")
	for _, line := range strings.Split(data, "\n") {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')

	_, err := io.WriteString(w, sb.String())
	return err
}
