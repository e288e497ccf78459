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
)

func newPackCommand(a *app) *cobra.Command {
	var (
		platformKey string
		skipBuild   bool
	)
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Assemble the npm platform package from build artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			desc, err := platform.Resolve(platformKey)
			if err != nil {
				return err
			}

			runner, err := a.runner()
			if err != nil {
				return err
			}

			opts := a.composeOptions()
			opts.Descriptor = desc
			opts.SkipBuild = skipBuild
			_, err = a.composer(runner).Compose(cmd.Context(), opts)
			return err
		},
	}

	cmd.Flags().StringVar(&platformKey, "platform", "", "Target platform (auto-detected if omitted)")
	cmd.Flags().BoolVar(&skipBuild, "skip-build", false, "Use the existing dist directory instead of building")
	return cmd
}
