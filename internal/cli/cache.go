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
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/s2005-m2/qa-memorize-mcp/internal/platform"
)

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the runtime archive cache",
	}
	cmd.AddCommand(newCacheListCommand(a), newCacheCleanCommand(a))
	return cmd
}

func newCacheListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List cached runtime archives",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache := a.cache()
			keys, err := cache.List(cmd.Context(), "")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				_, _ = fmt.Fprintf(out, "No cached runtime archives in %s\n", cache.BasePath())
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ARCHIVE\tSIZE")
			for _, key := range keys {
				size := "-"
				if info, err := os.Stat(cache.Path(key)); err == nil {
					size = humanize.Bytes(uint64(info.Size()))
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\n", key, size)
			}
			return w.Flush()
		},
	}
}

func newCacheCleanCommand(a *app) *cobra.Command {
	var platformKey string
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete cached runtime archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prefix := "onnxruntime-"
			if platformKey != "" {
				desc, err := platform.Lookup(platformKey)
				if err != nil {
					return err
				}
				prefix += desc.Key + "-"
			}

			cache := a.cache()
			removed, err := cache.Purge(cmd.Context(), prefix)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached archive(s) from %s\n", removed, cache.BasePath())
			return err
		},
	}
	cmd.Flags().StringVar(&platformKey, "platform", "", "Only remove archives for this platform")
	return cmd
}
