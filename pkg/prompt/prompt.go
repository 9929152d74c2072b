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

// Package prompt holds the system instruction given to the travel planner.
//
// The default instruction is embedded in the binary. An instruction file can
// replace it at startup and, when watched, on every write to that file.
package prompt

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// DefaultVersion identifies the embedded instruction.
const DefaultVersion = "travel-planner/v1"

//go:embed travel_planner.md
var defaultText string

// Prompt is an immutable instruction snapshot.
type Prompt struct {
	// Version identifies the instruction text. Embedded prompts carry
	// DefaultVersion; file prompts carry a content hash.
	Version string

	// Text is the instruction sent as the system message.
	Text string

	// Source is "embedded" or the file path the text was read from.
	Source string
}

// Default returns the embedded travel planner instruction.
func Default() *Prompt {
	return &Prompt{
		Version: DefaultVersion,
		Text:    defaultText,
		Source:  "embedded",
	}
}

// Load reads an instruction from path.
func Load(path string) (*Prompt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read instruction file: %w", err)
	}

	text := string(data)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("instruction file %s is empty", path)
	}

	sum := sha256.Sum256(data)
	return &Prompt{
		Version: "file/" + hex.EncodeToString(sum[:])[:12],
		Text:    text,
		Source:  path,
	}, nil
}

// Store serves the current instruction to concurrent readers.
type Store struct {
	path    string
	current atomic.Pointer[Prompt]
}

// NewStore creates a store. An empty path serves the embedded instruction.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if path == "" {
		s.current.Store(Default())
		return s, nil
	}

	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(p)
	return s, nil
}

// Current returns the active instruction.
func (s *Store) Current() *Prompt {
	return s.current.Load()
}

// Reload re-reads the instruction file. The previous instruction stays
// active when the file cannot be read.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}

	p, err := Load(s.path)
	if err != nil {
		return err
	}

	prev := s.current.Swap(p)
	if prev == nil || prev.Version != p.Version {
		slog.Info("Instruction reloaded", "path", s.path, "version", p.Version)
	}
	return nil
}

// Watch reloads the instruction whenever the file changes. It blocks until
// ctx is done. Watching a store without a file returns immediately.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are still seen.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.Reload(); err != nil {
				slog.Warn("Instruction reload failed, keeping previous version", "path", s.path, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Instruction watcher error", "path", s.path, "error", err)
		}
	}
}
