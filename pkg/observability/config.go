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

package observability

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"
)

const defaultExportTimeout = 10 * time.Second

var (
	exporters      = []string{ExporterOTLP, ExporterStdout}
	namespaceRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Config is the observability section of the planner configuration. Tracing
// and metrics are independent and both start disabled.
type Config struct {
	Tracing TracingConfig `yaml:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig decides where planner run, model and tool spans are sent.
// Exporter is otlp (gRPC to Endpoint) or stdout. SamplingRate applies to root
// spans; a zero value means every run is sampled.
type TracingConfig struct {
	Enabled      bool          `yaml:"enabled,omitempty"`
	Exporter     string        `yaml:"exporter,omitempty"`
	Endpoint     string        `yaml:"endpoint,omitempty"`
	SamplingRate float64       `yaml:"sampling_rate,omitempty"`
	ServiceName  string        `yaml:"service_name,omitempty"`
	Insecure     *bool         `yaml:"insecure,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
}

// MetricsConfig mounts the Prometheus scrape route at Endpoint. Every
// instrument name is prefixed with Namespace.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}

// Validate reports every problem in the enabled sections at once. Disabled
// sections are not checked.
func (c *Config) Validate() error {
	var problems []string
	if c.Tracing.Enabled {
		problems = append(problems, c.Tracing.problems()...)
	}
	if c.Metrics.Enabled {
		problems = append(problems, c.Metrics.problems()...)
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(problems, "; "))
}

func (c *TracingConfig) SetDefaults() {
	c.Exporter = lo.CoalesceOrEmpty(c.Exporter, ExporterOTLP)
	c.Endpoint = lo.CoalesceOrEmpty(c.Endpoint, DefaultOTLPEndpoint)
	c.ServiceName = lo.CoalesceOrEmpty(c.ServiceName, DefaultServiceName)
	c.SamplingRate = lo.CoalesceOrEmpty(c.SamplingRate, DefaultSamplingRate)
	c.Timeout = lo.CoalesceOrEmpty(c.Timeout, defaultExportTimeout)
	if c.Insecure == nil {
		c.Insecure = lo.ToPtr(true)
	}
}

// Validate checks the section regardless of Enabled.
func (c *TracingConfig) Validate() error {
	if p := c.problems(); len(p) > 0 {
		return errors.New(strings.Join(p, "; "))
	}
	return nil
}

func (c *TracingConfig) problems() []string {
	var p []string
	if !lo.Contains(exporters, c.Exporter) {
		p = append(p, fmt.Sprintf("tracing.exporter %q is not one of %s", c.Exporter, strings.Join(exporters, ", ")))
	}
	if c.Exporter == ExporterOTLP && c.Endpoint == "" {
		p = append(p, "tracing.endpoint is required for otlp")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		p = append(p, fmt.Sprintf("tracing.sampling_rate %g is outside [0, 1]", c.SamplingRate))
	}
	if c.Timeout < 0 {
		p = append(p, "tracing.timeout must not be negative")
	}
	return p
}

// IsInsecure reports whether the OTLP connection skips TLS. Unset means yes.
func (c *TracingConfig) IsInsecure() bool {
	return c.Insecure == nil || *c.Insecure
}

func (c *MetricsConfig) SetDefaults() {
	c.Endpoint = lo.CoalesceOrEmpty(c.Endpoint, DefaultMetricsPath)
	c.Namespace = lo.CoalesceOrEmpty(c.Namespace, DefaultServiceName)
}

// Validate checks the section regardless of Enabled.
func (c *MetricsConfig) Validate() error {
	if p := c.problems(); len(p) > 0 {
		return errors.New(strings.Join(p, "; "))
	}
	return nil
}

func (c *MetricsConfig) problems() []string {
	var p []string
	if !strings.HasPrefix(c.Endpoint, "/") {
		p = append(p, fmt.Sprintf("metrics.endpoint %q must start with /", c.Endpoint))
	}
	if !namespaceRegex.MatchString(c.Namespace) {
		p = append(p, fmt.Sprintf("metrics.namespace %q is not a valid Prometheus name", c.Namespace))
	}
	return p
}
