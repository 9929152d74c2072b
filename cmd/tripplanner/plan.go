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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/tripplanner/pkg/runtime"
	"github.com/kadirpekel/tripplanner/pkg/stream"
)

type PlanCmd struct {
	ModelFlags `embed:""`

	Query  string `arg:"" help:"Travel request, e.g. \"three days in Hangzhou with kids\"."`
	Format string `short:"f" help:"Output format: text, ndjson, sse." default:"text" enum:"text,ndjson,sse"`
}

func (c *PlanCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, cleanup, err := cli.loadConfig(nil)
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := runtime.New(ctx, cfg, runtime.Options{Version: buildVersion()})
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer rt.Close(context.Background())

	frames := stream.Bridge(rt.Session().Run(ctx, c.Query, c.ModelFlags.config()))
	return printFrames(os.Stdout, c.Format, frames)
}

// printFrames writes frames to w. Text output prints content as it arrives
// and returns the error frame as an error.
func printFrames(w io.Writer, format string, frames iter.Seq[stream.Frame]) error {
	var renderer stream.Renderer
	switch format {
	case "ndjson":
		renderer = stream.NDJSON{}
	case "sse":
		renderer = stream.SSEText{}
	}

	for f := range frames {
		if renderer != nil {
			if err := stream.Render(w, renderer, f); err != nil {
				return err
			}
			continue
		}
		switch f.Kind {
		case stream.FrameContent:
			if _, err := io.WriteString(w, f.Text); err != nil {
				return err
			}
		case stream.FrameComplete:
			_, err := io.WriteString(w, "\n")
			return err
		case stream.FrameError:
			_, _ = io.WriteString(w, "\n")
			if f.Err != nil {
				return f.Err
			}
			return errors.New(f.Text)
		}
	}
	return nil
}
