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
	"fmt"
	"os"

	"github.com/kadirpekel/tripplanner/pkg/config"
	"github.com/kadirpekel/tripplanner/pkg/logger"
)

const DefaultLogFormat = logger.FormatSimple

// initLogger initializes the logger.
// Priority: CLI flags (or LOG_* env) > config file > defaults
func initLogger(cliLevel, cliFile, cliFormat string, cfg *config.LoggerConfig) (func(), error) {
	level, file, format := "info", "", DefaultLogFormat
	if cfg != nil {
		if cfg.Level != "" {
			level = cfg.Level
		}
		file = cfg.File
		if cfg.Format != "" {
			format = cfg.Format
		}
	}
	if cliLevel != "" {
		level = cliLevel
	}
	if cliFile != "" {
		file = cliFile
	}
	if cliFormat != "" {
		format = cliFormat
	}

	slogLevel, err := logger.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output := os.Stderr
	cleanup := func() {}
	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		cleanup = closeFn
	}

	logger.Init(slogLevel, output, format)
	return cleanup, nil
}
