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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/s2005-m2/qa-memorize-mcp/internal/platform"
	"github.com/s2005-m2/qa-memorize-mcp/internal/publish"
)

type publishOptions struct {
	platform   string
	dryRun     bool
	skipBuild  bool
	reportPath string
}

func newPublishCommand(a *app) *cobra.Command {
	opts := &publishOptions{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the platform packages and the meta package to npm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			desc, err := platform.Resolve(opts.platform)
			if err != nil {
				return err
			}

			runner, err := a.runner()
			if err != nil {
				return err
			}

			report, err := a.orchestrator(runner).Publish(cmd.Context(), publish.Options{
				Descriptor: desc,
				DryRun:     opts.dryRun,
				SkipBuild:  opts.skipBuild,
				NpmRoot:    a.path(a.cfg.Project.NpmDir),
				EnvFile:    a.path(a.cfg.Project.EnvFile),
				Compose:    a.composeOptions(),
			})

			if report != nil && opts.reportPath != "" {
				if writeErr := report.WriteFile(a.path(opts.reportPath)); writeErr != nil {
					a.logger.Error(writeErr, "Failed to write run report")
				} else {
					a.logger.Info("Run report written", "path", opts.reportPath, "runID", report.RunID)
				}
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.platform, "platform", "", "Target platform (auto-detected if omitted)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Pass --dry-run to the publish command")
	flags.BoolVar(&opts.skipBuild, "skip-build", false, "Publish package directories as they are")
	flags.StringVar(&opts.reportPath, "report", "", "Write the run report as YAML to this file")
	return cmd
}
