/*
Copyright (c) 2025 Odd Kin <oddkin@oddkin.co>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package publish

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Status is the outcome of one package publish attempt
type Status string

// Statuses as printed in the operator-facing status lines.
const (
	StatusOK       Status = "OK"
	StatusDryRunOK Status = "DRY-RUN OK"
	StatusFailed   Status = "FAILED"
	StatusSkipped  Status = "SKIPPED"
)

// Result records one package of a publish run
type Result struct {
	Package  string        `yaml:"package"`
	Status   Status        `yaml:"status"`
	Error    string        `yaml:"error,omitempty"`
	Duration time.Duration `yaml:"duration"`
}

// Line renders the operator-facing status line.
func (r Result) Line() string {
	if r.Status == StatusSkipped {
		return fmt.Sprintf("  %s: %s (not found)", r.Package, r.Status)
	}
	return fmt.Sprintf("  %s: %s", r.Package, r.Status)
}

// Report aggregates a publish run
type Report struct {
	RunID      string    `yaml:"runID"`
	Platform   string    `yaml:"platform"`
	DryRun     bool      `yaml:"dryRun"`
	StartedAt  time.Time `yaml:"startedAt"`
	FinishedAt time.Time `yaml:"finishedAt"`
	Results    []Result  `yaml:"results"`
}

func newReport(platformKey string, dryRun bool) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Platform:  platformKey,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
}

// Succeeded reports whether every attempted package published. Skipped
// packages do not count as attempts.
func (r *Report) Succeeded() bool {
	return r.Failed() == 0
}

// Failed returns the number of failed packages.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			n++
		}
	}
	return n
}

// WriteFile writes the report as YAML to path.
func (r *Report) WriteFile(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}
