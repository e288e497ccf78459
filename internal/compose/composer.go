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

// Package compose reshapes an assembled bundle into the npm platform
// package layout.
package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/s2005-m2/qa-memorize-mcp/internal/assemble"
	"github.com/s2005-m2/qa-memorize-mcp/internal/fsutil"
	"github.com/s2005-m2/qa-memorize-mcp/internal/metrics"
	"github.com/s2005-m2/qa-memorize-mcp/internal/platform"
	"github.com/s2005-m2/qa-memorize-mcp/internal/steps"
)

const (
	binDirName      = "bin"
	stagingDirName  = ".bin.staging"
	previousDirName = ".bin.previous"
)

// rename is replaced in tests to simulate a failed swap
var rename = os.Rename

// Kind distinguishes platform packages from the meta package
type Kind string

const (
	// KindPlatform packages carry one platform's native files
	KindPlatform Kind = "platform"

	// KindMeta is the platform-independent package that selects a platform
	// package at install time
	KindMeta Kind = "meta"
)

// Package is a publishable npm package directory
type Package struct {
	Name string
	Dir  string
	Kind Kind

	// Files lists the paths under bin/, relative and slash separated
	Files []string
}

// Bundler assembles a bundle. Satisfied by *assemble.Assembler.
type Bundler interface {
	Assemble(ctx context.Context, opts assemble.Options) (*assemble.Bundle, error)
}

// Options configures one composition
type Options struct {
	Descriptor platform.Descriptor
	Version    string

	// SkipBuild uses an existing DistDir instead of assembling one
	SkipBuild bool

	DistDir        string
	NpmRoot        string
	BuildOutputDir string
	ModelSourceDir string
}

// Composer composes platform packages
type Composer struct {
	bundler      Bundler
	runner       steps.Runner
	compressStep steps.Step
	out          io.Writer
	metrics      metrics.MetricsRecorder
}

// NewComposer creates a composer. compressStep holds the compression command
// and its fixed arguments; input and output directories are appended per run.
func NewComposer(bundler Bundler, runner steps.Runner, compressStep steps.Step, out io.Writer, recorder metrics.MetricsRecorder) *Composer {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Composer{
		bundler:      bundler,
		runner:       runner,
		compressStep: compressStep,
		out:          out,
		metrics:      recorder,
	}
}

// Compose writes npm/<package>/bin for opts.Descriptor. The previous bin
// directory is only replaced once the new one is complete.
func (c *Composer) Compose(ctx context.Context, opts Options) (pkg *Package, err error) {
	logger := logr.FromContextOrDiscard(ctx).WithValues("platform", opts.Descriptor.Key)
	start := time.Now()
	defer func() {
		c.metrics.RecordStep("compose", err == nil, time.Since(start))
	}()

	desc := opts.Descriptor
	if !opts.SkipBuild {
		if _, err := c.bundler.Assemble(ctx, assemble.Options{
			Descriptor:     desc,
			Version:        opts.Version,
			Build:          true,
			BuildOutputDir: opts.BuildOutputDir,
			ModelSourceDir: opts.ModelSourceDir,
			OutputDir:      opts.DistDir,
		}); err != nil {
			return nil, err
		}
	}

	binarySrc := filepath.Join(opts.DistDir, desc.Binary)
	if !fsutil.IsFile(binarySrc) {
		return nil, &assemble.BinaryNotFoundError{Path: binarySrc}
	}
	librarySrc := filepath.Join(opts.DistDir, desc.LibraryName())
	if !fsutil.IsFile(librarySrc) {
		return nil, &RuntimeLibraryNotFoundError{Path: librarySrc}
	}

	pkgDir := filepath.Join(opts.NpmRoot, desc.Package)
	staging := filepath.Join(pkgDir, stagingDirName)
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("failed to clear staging directory %s: %w", staging, err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory %s: %w", staging, err)
	}
	committed := false
	defer func() {
		if !committed {
			if rmErr := os.RemoveAll(staging); rmErr != nil {
				logger.Error(rmErr, "Failed to remove staging directory", "path", staging)
			}
		}
	}()

	if err := fsutil.CopyFile(binarySrc, filepath.Join(staging, desc.Binary)); err != nil {
		return nil, err
	}
	if err := fsutil.CopyFile(librarySrc, filepath.Join(staging, desc.LibraryName())); err != nil {
		return nil, err
	}

	if modelInput := c.modelInput(opts); modelInput != "" {
		step := c.compressStep
		step.Args = append(append([]string{}, step.Args...),
			"--input-dir", modelInput,
			"--output-dir", filepath.Join(staging, assemble.ModelDirName))
		if err := c.runner.Run(ctx, step); err != nil {
			return nil, &ModelCompressionFailedError{Package: desc.Package, Err: err}
		}
	} else {
		logger.Info("WARNING: no model directory found, package will not include embedding model",
			"distModelDir", filepath.Join(opts.DistDir, assemble.ModelDirName), "modelSourceDir", opts.ModelSourceDir)
	}

	binDir := filepath.Join(pkgDir, binDirName)
	previous := filepath.Join(pkgDir, previousDirName)
	if err := swapInto(staging, binDir, previous); err != nil {
		return nil, err
	}
	committed = true
	if err := os.RemoveAll(previous); err != nil {
		logger.Error(err, "Failed to remove previous bin directory", "path", previous)
	}

	pkg = &Package{Name: desc.Package, Dir: pkgDir, Kind: KindPlatform}
	entries, err := fsutil.List(binDir)
	if err != nil {
		return nil, err
	}
	_, _ = fmt.Fprintf(c.out, "\nPackaged to %s:\n", binDir)
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		pkg.Files = append(pkg.Files, e.Path)
		_, _ = fmt.Fprintf(c.out, "  %s  (%s bytes)\n", e.Path, humanize.Comma(e.Size))
	}

	logger.Info("Package composed", "package", pkg.Name, "files", len(pkg.Files))
	return pkg, nil
}

// swapInto moves staging to dst. An existing dst is parked at previous
// and put back if the swap fails; the caller removes previous afterwards.
func swapInto(staging, dst, previous string) error {
	if err := os.RemoveAll(previous); err != nil {
		return fmt.Errorf("failed to clear %s: %w", previous, err)
	}

	parked := false
	if err := rename(dst, previous); err == nil {
		parked = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to move %s aside: %w", dst, err)
	}

	if err := rename(staging, dst); err != nil {
		err = fmt.Errorf("failed to move %s into place: %w", dst, err)
		if parked {
			if rbErr := rename(previous, dst); rbErr != nil {
				err = multierr.Append(err, fmt.Errorf("failed to restore %s: %w", dst, rbErr))
			}
		}
		return err
	}
	return nil
}

// modelInput prefers the assembled model directory and falls back to the
// project's model source directory.
func (c *Composer) modelInput(opts Options) string {
	assembled := filepath.Join(opts.DistDir, assemble.ModelDirName)
	if fsutil.IsDir(assembled) {
		return assembled
	}
	if opts.ModelSourceDir != "" && fsutil.IsDir(opts.ModelSourceDir) {
		return opts.ModelSourceDir
	}
	return ""
}

// Meta returns the meta package located under npmRoot.
func Meta(npmRoot string) Package {
	return Package{
		Name: platform.MetaPackage,
		Dir:  filepath.Join(npmRoot, platform.MetaPackage),
		Kind: KindMeta,
	}
}

// RuntimeLibraryNotFoundError is returned when the assembled directory has
// no runtime library.
type RuntimeLibraryNotFoundError struct {
	Path string
}

func (e *RuntimeLibraryNotFoundError) Error() string {
	return fmt.Sprintf("runtime library not found: %s", e.Path)
}

// ModelCompressionFailedError is returned when the compression step fails.
type ModelCompressionFailedError struct {
	Package string
	Err     error
}

func (e *ModelCompressionFailedError) Error() string {
	return fmt.Sprintf("model compression failed for %s: %v", e.Package, e.Err)
}

func (e *ModelCompressionFailedError) Unwrap() error {
	return e.Err
}
