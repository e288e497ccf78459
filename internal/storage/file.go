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

package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// tempPrefix marks in-flight writes; List never reports them.
const tempPrefix = ".partial-"

// FileBackend implements CacheBackend on a local directory. Entries are
// written to a temp file in the same directory and renamed into place, so a
// failed write never leaves a file under the final key.
type FileBackend struct {
	basePath string
}

// NewFileBackend creates a backend rooted at basePath. The directory is
// created lazily on the first write.
func NewFileBackend(basePath string) *FileBackend {
	return &FileBackend{basePath: basePath}
}

// BasePath returns the cache root directory.
func (f *FileBackend) BasePath() string {
	return f.basePath
}

// Has reports whether a regular file exists for key
func (f *FileBackend) Has(key string) bool {
	if err := validateKey(key); err != nil {
		return false
	}
	info, err := os.Stat(f.Path(key))
	return err == nil && info.Mode().IsRegular()
}

// Path returns the file path for key
func (f *FileBackend) Path(key string) string {
	return filepath.Join(f.basePath, filepath.FromSlash(key))
}

// StoreFrom streams r into the entry for key and returns its path
func (f *FileBackend) StoreFrom(ctx context.Context, key string, r io.Reader) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	finalPath := f.Path(key)
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+filepath.Base(finalPath)+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", key, err)
	}
	committed = true

	return finalPath, nil
}

// List returns the keys under prefix in lexical order
func (f *FileBackend) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	if _, err := os.Stat(f.basePath); os.IsNotExist(err) {
		return keys, nil
	}

	err := filepath.WalkDir(f.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}

		relPath, err := filepath.Rel(f.basePath, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)
		if strings.HasPrefix(relPath, prefix) {
			keys = append(keys, relPath)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files in %s: %w", f.basePath, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes the entry for key. Missing entries are not an error.
func (f *FileBackend) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(f.Path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", key, err)
	}
	return nil
}

// Purge deletes every entry under prefix, including abandoned partial
// writes, and returns the number of entries removed.
func (f *FileBackend) Purge(ctx context.Context, prefix string) (int, error) {
	keys, err := f.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	var errs error
	removed := 0
	for _, key := range keys {
		if err := f.Delete(ctx, key); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
	}

	partials, _ := filepath.Glob(filepath.Join(f.basePath, tempPrefix+"*"))
	for _, p := range partials {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, err)
		}
	}

	return removed, errs
}

// validateKey ensures the key doesn't escape the cache directory
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key contains invalid path traversal: %s", key)
	}
	if strings.HasPrefix(key, "/") || filepath.IsAbs(key) {
		return fmt.Errorf("key cannot be absolute: %s", key)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
