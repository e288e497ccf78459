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

// Package cli implements the memorize-release command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/s2005-m2/qa-memorize-mcp/internal/acquire"
	"github.com/s2005-m2/qa-memorize-mcp/internal/assemble"
	"github.com/s2005-m2/qa-memorize-mcp/internal/compose"
	"github.com/s2005-m2/qa-memorize-mcp/internal/config"
	"github.com/s2005-m2/qa-memorize-mcp/internal/logging"
	"github.com/s2005-m2/qa-memorize-mcp/internal/metrics"
	"github.com/s2005-m2/qa-memorize-mcp/internal/publish"
	"github.com/s2005-m2/qa-memorize-mcp/internal/steps"
	"github.com/s2005-m2/qa-memorize-mcp/internal/storage"
)

// IOStreams holds the writers commands print to
type IOStreams struct {
	Out io.Writer
	Err io.Writer
}

type globalOptions struct {
	configPath  string
	projectRoot string
	logLevel    string
	metricsFile string
}

// app carries the state shared by subcommands once the configuration is
// loaded.
type app struct {
	streams IOStreams
	opts    globalOptions

	cfg     *config.Config
	logger  logr.Logger
	metrics *metrics.PrometheusRecorder
}

// Execute runs the command tree with args and returns the process exit code.
// SIGINT and SIGTERM cancel the run.
func Execute(ctx context.Context, args []string, streams IOStreams) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, a := newRootCommand(streams)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)

	if flushErr := a.flushMetrics(); flushErr != nil {
		a.logger.Error(flushErr, "Failed to write metrics file")
	}

	if err != nil {
		_, _ = fmt.Fprintf(streams.Err, "ERROR: %v\n", err)
		return 1
	}
	return 0
}

// NewRootCommand returns a fresh command tree writing to streams.
func NewRootCommand(streams IOStreams) *cobra.Command {
	root, _ := newRootCommand(streams)
	return root
}

func newRootCommand(streams IOStreams) (*cobra.Command, *app) {
	a := &app{
		streams: streams,
		logger:  logr.Discard(),
	}

	root := &cobra.Command{
		Use:   "memorize-release",
		Short: "Package and publish qa-memorize-mcp",
		Long: "Bundles the memorize_mcp server binary with the ONNX Runtime shared library, " +
			"shapes the result into npm platform packages and publishes them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)

	flags := root.PersistentFlags()
	flags.StringVar(&a.opts.configPath, "config", "", "Config file (default: release.yaml in the project root, if present)")
	flags.StringVar(&a.opts.projectRoot, "project-root", "", "Project root directory (default: current directory)")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&a.opts.metricsFile, "metrics-file", "", "Write run metrics in Prometheus text format to this file")

	root.AddCommand(
		newPackageCommand(a),
		newPackCommand(a),
		newPublishCommand(a),
		newPlatformsCommand(a),
		newCacheCommand(a),
	)
	return root, a
}

// load resolves the configuration and logger for the running command
func (a *app) load(cmd *cobra.Command) error {
	manager := config.NewManager(a.opts.configPath, a.opts.projectRoot)
	cfg, err := manager.LoadConfig(cmd.Context(), func(c *config.Config) {
		if a.opts.projectRoot != "" {
			c.Project.Root = a.opts.projectRoot
		}
		if a.opts.logLevel != "" {
			c.Log.Level = a.opts.logLevel
		}
		if a.opts.metricsFile != "" {
			c.Metrics.TextfilePath = a.opts.metricsFile
		}
	})
	if err != nil {
		return err
	}

	root, err := filepath.Abs(cfg.Project.Root)
	if err != nil {
		return fmt.Errorf("failed to resolve project root %s: %w", cfg.Project.Root, err)
	}
	cfg.Project.Root = root

	logger, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Output:      a.streams.Err,
	})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger.WithName("memorize-release")
	a.metrics = metrics.NewPrometheusRecorder()
	cmd.SetContext(logr.NewContext(cmd.Context(), a.logger))

	a.logger.V(1).Info("Configuration loaded", "config", manager.Path(), "projectRoot", cfg.Project.Root)
	return nil
}

func (a *app) flushMetrics() error {
	if a.cfg == nil || a.metrics == nil || a.cfg.Metrics.TextfilePath == "" {
		return nil
	}
	return a.metrics.WriteTextfile(a.cfg.Project.Resolve(a.cfg.Metrics.TextfilePath))
}

func (a *app) path(rel string) string {
	return a.cfg.Project.Resolve(rel)
}

func (a *app) step(name string, c config.CommandConfig) steps.Step {
	return steps.Step{
		Name:    name,
		Command: c.Command,
		Args:    append([]string{}, c.Args...),
		Dir:     a.cfg.Project.Root,
		Timeout: c.Timeout,
	}
}

func (a *app) runner() (steps.Runner, error) {
	opts := []steps.Option{
		steps.WithOutput(a.streams.Out, a.streams.Err),
		steps.WithMetrics(a.metrics),
	}
	if a.cfg.Steps.PolicyPath != "" {
		policy, err := steps.NewFilePolicy(a.path(a.cfg.Steps.PolicyPath), a.cfg.Project.Root)
		if err != nil {
			return nil, err
		}
		opts = append(opts, steps.WithPolicy(policy))
	}
	return steps.NewExecRunner(opts...), nil
}

func (a *app) cache() *storage.FileBackend {
	return storage.NewFileBackend(a.path(a.cfg.Project.CacheDir))
}

func (a *app) acquirer() *acquire.Acquirer {
	return acquire.NewAcquirer(a.cache(), a.cfg.Runtime, a.cfg.HTTP, a.cfg.Retry, acquire.WithMetrics(a.metrics))
}

func (a *app) assembler(runner steps.Runner) *assemble.Assembler {
	return assemble.NewAssembler(runner, a.step("build", a.cfg.Steps.Build), a.acquirer(), a.streams.Out, a.metrics)
}

func (a *app) composer(runner steps.Runner) *compose.Composer {
	return compose.NewComposer(a.assembler(runner), runner, a.step("compress", a.cfg.Steps.Compress), a.streams.Out, a.metrics)
}

func (a *app) orchestrator(runner steps.Runner) *publish.Orchestrator {
	return publish.NewOrchestrator(a.composer(runner), runner, a.step("publish", a.cfg.Steps.Publish), a.cfg.Registry.Host, a.streams.Out, a.metrics)
}

func (a *app) composeOptions() compose.Options {
	return compose.Options{
		Version:        a.cfg.Runtime.Version,
		DistDir:        a.path(a.cfg.Project.DistDir),
		NpmRoot:        a.path(a.cfg.Project.NpmDir),
		BuildOutputDir: a.path(a.cfg.Project.BuildOutputDir),
		ModelSourceDir: a.path(a.cfg.Project.ModelDir),
	}
}
