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
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
)

// ErrInternal is the message clients see when the stream panics.
var ErrInternal = errors.New("internal error")

// Write streams frames to w with r, flushing after every frame. It stops
// pulling frames at the first failed write, which is how a client
// disconnect propagates back to the run.
//
// A panic while producing frames is recovered and reported as an error
// frame; the panic value is logged, never sent.
func Write(w http.ResponseWriter, r Renderer, frames iter.Seq[Frame]) (err error) {
	h := w.Header()
	h.Set("Content-Type", r.ContentType())
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	terminated := false
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Stream panicked", "panic", rec)
			err = fmt.Errorf("stream panicked: %v", rec)
			if !terminated {
				_ = Render(w, r, Error(ErrInternal))
				flush()
			}
		}
	}()

	for f := range frames {
		if werr := Render(w, r, f); werr != nil {
			return fmt.Errorf("failed to write %s frame: %w", f.Kind, werr)
		}
		flush()
		if f.IsTerminal() {
			terminated = true
			return nil
		}
	}
	return nil
}
