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
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/s2005-m2/qa-memorize-mcp/internal/assemble"
	"github.com/s2005-m2/qa-memorize-mcp/internal/config"
	"github.com/s2005-m2/qa-memorize-mcp/internal/platform"
)

type packageOptions struct {
	platform   string
	ortVersion string
	build      bool
	output     string
}

func newPackageCommand(a *app) *cobra.Command {
	opts := &packageOptions{}
	cmd := &cobra.Command{
		Use:   "package",
		Short: "Bundle the server binary with ONNX Runtime for one platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			desc, err := platform.Resolve(opts.platform)
			if err != nil {
				return err
			}

			version := a.cfg.Runtime.Version
			if opts.ortVersion != "" {
				if _, err := semver.StrictNewVersion(opts.ortVersion); err != nil {
					return fmt.Errorf("invalid --ort-version %q: %w", opts.ortVersion, err)
				}
				version = opts.ortVersion
			}

			output := a.cfg.Project.DistDir
			if opts.output != "" {
				output = opts.output
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Platform: %s\n", desc.Key)
			_, _ = fmt.Fprintf(out, "ORT version: %s\n", version)

			runner, err := a.runner()
			if err != nil {
				return err
			}
			_, err = a.assembler(runner).Assemble(cmd.Context(), assemble.Options{
				Descriptor:     desc,
				Version:        version,
				Build:          opts.build,
				BuildOutputDir: a.path(a.cfg.Project.BuildOutputDir),
				ModelSourceDir: a.path(a.cfg.Project.ModelDir),
				OutputDir:      a.path(output),
			})
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.platform, "platform", "", "Target platform (auto-detected if omitted)")
	flags.StringVar(&opts.ortVersion, "ort-version", "", "ONNX Runtime version (default: "+config.DefaultRuntimeVersion+")")
	flags.BoolVar(&opts.build, "build", false, "Run the build step first")
	flags.StringVar(&opts.output, "output", "", "Output directory (default: dist)")
	return cmd
}
