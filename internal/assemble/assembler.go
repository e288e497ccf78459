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

// Package assemble builds the per-platform output directory: server binary,
// runtime library and embedding model files side by side.
package assemble

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/s2005-m2/qa-memorize-mcp/internal/fsutil"
	"github.com/s2005-m2/qa-memorize-mcp/internal/metrics"
	"github.com/s2005-m2/qa-memorize-mcp/internal/platform"
	"github.com/s2005-m2/qa-memorize-mcp/internal/steps"
)

// ModelDirName is the model subdirectory inside bundles and packages.
const ModelDirName = "embedding_model"

// ModelFiles are copied from the model source directory when present.
var ModelFiles = []string{"model_ort.onnx", "tokenizer.json"}

// RuntimeSource provides the runtime archive and extracts its library
type RuntimeSource interface {
	Acquire(ctx context.Context, desc platform.Descriptor, version string) (string, error)
	ExtractLibrary(ctx context.Context, archivePath string, desc platform.Descriptor, version, destDir string) (string, error)
}

// Options configures one assembly
type Options struct {
	Descriptor platform.Descriptor
	Version    string

	// Build runs the build step before looking for the binary
	Build bool

	// BuildOutputDir holds the compiled binary
	BuildOutputDir string

	// ModelSourceDir is copied into the bundle when it is a directory
	ModelSourceDir string

	// OutputDir receives the bundle
	OutputDir string
}

// Bundle describes an assembled output directory
type Bundle struct {
	Dir     string
	Binary  string
	Library string

	// ModelDir is empty when no model source directory existed
	ModelDir string

	// Missing lists model files that were expected but absent
	Missing []string
}

// BinaryNotFoundError is returned when the compiled binary is absent.
type BinaryNotFoundError struct {
	Path string
}

func (e *BinaryNotFoundError) Error() string {
	return fmt.Sprintf("binary not found at %s. Run with --build or build manually first.", e.Path)
}

// Assembler assembles bundles
type Assembler struct {
	runner    steps.Runner
	buildStep steps.Step
	runtime   RuntimeSource
	out       io.Writer
	metrics   metrics.MetricsRecorder
}

// NewAssembler creates an assembler. buildStep is run through runner when
// an assembly requests a build; out receives the progress lines and listing.
func NewAssembler(runner steps.Runner, buildStep steps.Step, runtime RuntimeSource, out io.Writer, recorder metrics.MetricsRecorder) *Assembler {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Assembler{
		runner:    runner,
		buildStep: buildStep,
		runtime:   runtime,
		out:       out,
		metrics:   recorder,
	}
}

// Assemble produces the bundle described by opts
func (a *Assembler) Assemble(ctx context.Context, opts Options) (bundle *Bundle, err error) {
	logger := logr.FromContextOrDiscard(ctx).WithValues("platform", opts.Descriptor.Key)
	start := time.Now()
	defer func() {
		a.metrics.RecordStep("assemble", err == nil, time.Since(start))
	}()

	if opts.Build {
		_, _ = fmt.Fprintf(a.out, "Running %s ...\n", a.buildStep.String())
		if err := a.runner.Run(ctx, a.buildStep); err != nil {
			return nil, fmt.Errorf("build failed: %w", err)
		}
	}

	// Checked before any network access
	binarySrc := filepath.Join(opts.BuildOutputDir, opts.Descriptor.Binary)
	if !fsutil.IsFile(binarySrc) {
		return nil, &BinaryNotFoundError{Path: binarySrc}
	}

	archivePath, err := a.runtime.Acquire(ctx, opts.Descriptor, opts.Version)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", opts.OutputDir, err)
	}

	bundle = &Bundle{Dir: opts.OutputDir}

	_, _ = fmt.Fprintf(a.out, "Copying binary: %s\n", opts.Descriptor.Binary)
	bundle.Binary = filepath.Join(opts.OutputDir, opts.Descriptor.Binary)
	if err := fsutil.CopyFile(binarySrc, bundle.Binary); err != nil {
		return nil, err
	}

	bundle.Library, err = a.runtime.ExtractLibrary(ctx, archivePath, opts.Descriptor, opts.Version, opts.OutputDir)
	if err != nil {
		return nil, err
	}
	_, _ = fmt.Fprintf(a.out, "Copying library: %s\n", filepath.Base(bundle.Library))

	if opts.ModelSourceDir != "" && fsutil.IsDir(opts.ModelSourceDir) {
		if err := a.copyModel(logger, opts.ModelSourceDir, bundle); err != nil {
			return nil, err
		}
	}

	if err := a.printTree(opts.OutputDir); err != nil {
		logger.Error(err, "Failed to list output directory")
	}

	logger.Info("Bundle assembled", "dir", bundle.Dir, "missingModelFiles", len(bundle.Missing))
	return bundle, nil
}

// copyModel recreates the model subdirectory so files removed upstream do
// not linger from earlier runs.
func (a *Assembler) copyModel(logger logr.Logger, srcDir string, bundle *Bundle) error {
	dst := filepath.Join(bundle.Dir, ModelDirName)
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dst, err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	bundle.ModelDir = dst

	for _, name := range ModelFiles {
		src := filepath.Join(srcDir, name)
		if !fsutil.IsFile(src) {
			logger.Info("WARNING: model file not found, skipping", "path", src)
			bundle.Missing = append(bundle.Missing, name)
			continue
		}
		_, _ = fmt.Fprintf(a.out, "Copying model file: %s\n", name)
		if err := fsutil.CopyFile(src, filepath.Join(dst, name)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) printTree(dir string) error {
	entries, err := fsutil.List(dir)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(a.out, "\nPackaged to %s/\n", dir)
	_, _ = fmt.Fprintf(a.out, "%s/\n", filepath.Base(dir))
	for _, e := range entries {
		depth := strings.Count(e.Path, "/") + 1
		name := path.Base(e.Path)
		if e.IsDir {
			name += "/"
		}
		_, _ = fmt.Fprintf(a.out, "%s%s\n", strings.Repeat("  ", depth), name)
	}
	return nil
}
