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

package steps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"github.com/s2005-m2/qa-memorize-mcp/internal/metrics"
)

// waitDelay bounds how long Run waits for output pipes after the step is
// killed
const waitDelay = 5 * time.Second

// ExecRunner implements Runner with local child processes. The child's
// output is streamed to the configured writers as it is produced.
type ExecRunner struct {
	stdout    io.Writer
	stderr    io.Writer
	policy    Policy
	metrics   metrics.MetricsRecorder
}

// Option configures an ExecRunner
type Option func(*ExecRunner)

// WithOutput sets where child stdout and stderr go
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *ExecRunner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// WithPolicy restricts the steps the runner will start
func WithPolicy(policy Policy) Option {
	return func(r *ExecRunner) {
		r.policy = policy
	}
}

// WithMetrics records a step duration per run
func WithMetrics(recorder metrics.MetricsRecorder) Option {
	return func(r *ExecRunner) {
		r.metrics = recorder
	}
}

// NewExecRunner creates a runner that inherits the process's stdout and stderr
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		policy:    AllowAll{},
		metrics:   metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the step and waits for it to exit
func (r *ExecRunner) Run(ctx context.Context, step Step) error {
	logger := logr.FromContextOrDiscard(ctx).WithValues("step", step.Name)

	if err := r.policy.Check(step); err != nil {
		return err
	}

	execCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, step.Command, step.Args...)
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	cmd.Dir = step.Dir
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	if len(step.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(step.Env)...)
	}

	logger.V(1).Info("Running step", "command", step.String(), "dir", step.Dir)
	start := time.Now()
	err := cmd.Run()
	r.metrics.RecordStep(step.Name, err == nil, time.Since(start))

	if err == nil {
		return nil
	}
	if ctxErr := execCtx.Err(); ctxErr != nil {
		return fmt.Errorf("%s step interrupted: %w", step.Name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Step: step.Name, ExitCode: exitErr.ExitCode()}
	}
	return fmt.Errorf("failed to start %s step (%s): %w", step.Name, step.Command, err)
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
