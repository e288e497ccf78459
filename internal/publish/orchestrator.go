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

// Package publish pushes the composed packages to the npm registry in a
// fixed order with scoped credentials.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"

	"github.com/s2005-m2/qa-memorize-mcp/internal/compose"
	"github.com/s2005-m2/qa-memorize-mcp/internal/credentials"
	"github.com/s2005-m2/qa-memorize-mcp/internal/fsutil"
	"github.com/s2005-m2/qa-memorize-mcp/internal/metrics"
	"github.com/s2005-m2/qa-memorize-mcp/internal/platform"
	"github.com/s2005-m2/qa-memorize-mcp/internal/steps"
)

// ErrPublishFailed is returned when at least one package failed to publish.
var ErrPublishFailed = errors.New("one or more packages failed to publish")

// Composer composes the active platform package. Satisfied by
// *compose.Composer.
type Composer interface {
	Compose(ctx context.Context, opts compose.Options) (*compose.Package, error)
}

// Options configures one publish run
type Options struct {
	Descriptor platform.Descriptor
	DryRun     bool

	// SkipBuild publishes the package directories as they are
	SkipBuild bool

	NpmRoot string
	EnvFile string

	// Compose is used to refresh the active platform package unless
	// SkipBuild is set
	Compose compose.Options
}

// Orchestrator runs publish runs
type Orchestrator struct {
	composer     Composer
	runner       steps.Runner
	publishStep  steps.Step
	registryHost string
	out          io.Writer
	metrics      metrics.MetricsRecorder
}

// NewOrchestrator creates an orchestrator. publishStep holds the publish
// command and fixed arguments; the working directory is set per package.
func NewOrchestrator(composer Composer, runner steps.Runner, publishStep steps.Step, registryHost string, out io.Writer, recorder metrics.MetricsRecorder) *Orchestrator {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Orchestrator{
		composer:     composer,
		runner:       runner,
		publishStep:  publishStep,
		registryHost: registryHost,
		out:          out,
		metrics:      recorder,
	}
}

// Publish publishes every package found under opts.NpmRoot. A failed
// package does not stop the run; the returned error wraps
// ErrPublishFailed when any package failed. Credential files written
// during the run are removed before Publish returns, including on panic.
func (o *Orchestrator) Publish(ctx context.Context, opts Options) (*Report, error) {
	logger := logr.FromContextOrDiscard(ctx).WithValues("platform", opts.Descriptor.Key, "dryRun", opts.DryRun)

	// Fails before any package directory is touched
	token, err := credentials.LoadToken(opts.EnvFile)
	if err != nil {
		return nil, err
	}

	if !opts.SkipBuild {
		composeOpts := opts.Compose
		composeOpts.Descriptor = opts.Descriptor
		composeOpts.SkipBuild = true
		if _, err := o.composer.Compose(ctx, composeOpts); err != nil {
			return nil, err
		}
	}

	report := newReport(opts.Descriptor.Key, opts.DryRun)
	defer func() {
		report.FinishedAt = time.Now().UTC()
	}()

	scope := credentials.NewScope(o.registryHost, token)
	defer func() {
		if err := scope.Release(); err != nil {
			logger.Error(err, "Failed to remove credential files")
		}
	}()

	if opts.DryRun {
		_, _ = fmt.Fprintln(o.out, "\nPublishing (dry-run) packages:")
	} else {
		_, _ = fmt.Fprintln(o.out, "\nPublishing packages:")
	}

	for _, name := range platform.PublishOrder(opts.Descriptor) {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("publish interrupted before %s: %w", name, err)
		}

		result := o.publishOne(ctx, scope, filepath.Join(opts.NpmRoot, name), name, opts.DryRun)
		report.Results = append(report.Results, result)
		_, _ = fmt.Fprintln(o.out, result.Line())
		if result.Status != StatusSkipped {
			o.metrics.RecordPublish(name, string(result.Status), result.Duration)
		}
		if result.Error != "" {
			logger.Info("Package publish failed", "package", name, "error", result.Error)
		}
	}

	if failed := report.Failed(); failed > 0 {
		return report, fmt.Errorf("%w: %d of %d", ErrPublishFailed, failed, len(report.Results))
	}
	return report, nil
}

func (o *Orchestrator) publishOne(ctx context.Context, scope *credentials.Scope, dir, name string, dryRun bool) Result {
	if !fsutil.IsDir(dir) {
		return Result{Package: name, Status: StatusSkipped}
	}

	start := time.Now()
	result := Result{Package: name}

	if _, err := scope.Acquire(dir); err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	step := o.publishStep
	step.Name = "publish"
	step.Dir = dir
	step.Args = append([]string{}, step.Args...)
	if dryRun {
		step.Args = append(step.Args, "--dry-run")
	}

	err := o.runner.Run(ctx, step)
	result.Duration = time.Since(start)
	switch {
	case err != nil:
		result.Status = StatusFailed
		result.Error = err.Error()
	case dryRun:
		result.Status = StatusDryRunOK
	default:
		result.Status = StatusOK
	}
	return result
}
