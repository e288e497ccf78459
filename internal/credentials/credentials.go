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

// Package credentials loads the registry token and scopes it to package
// directories for the duration of a publish run.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// TokenKeys are looked up in the env file in order of preference.
var TokenKeys = []string{"npm_pass_2fa", "npm_ak"}

// NpmrcName is the per-package registry configuration file.
const NpmrcName = ".npmrc"

// ErrMissingCredential is returned when no token can be found.
var ErrMissingCredential = errors.New("npm_pass_2fa/npm_ak not found in .env")

// LoadToken reads the registry token from the key-value file at path.
func LoadToken(path string) (string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s does not exist", ErrMissingCredential, path)
		}
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	for _, key := range TokenKeys {
		if token := strings.TrimSpace(values[key]); token != "" {
			return token, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrMissingCredential, path)
}

// Scope writes the token into package directories and removes every file
// it wrote on Release. An .npmrc that already existed keeps its settings
// for the run and is restored on Release.
type Scope struct {
	host  string
	token string

	mu      sync.Mutex
	entries []scopedFile
}

type scopedFile struct {
	path string

	// original holds a pre-existing file's content, restored on Release
	original []byte
	mode     os.FileMode
	restore  bool
}

// NewScope creates a scope for the given registry host
func NewScope(host, token string) *Scope {
	return &Scope{host: host, token: token}
}

// Acquire writes dir/.npmrc and returns its path
func (s *Scope) Acquire(dir string) (string, error) {
	path := filepath.Join(dir, NpmrcName)
	content := []byte(fmt.Sprintf("//%s/:_authToken=%s\n", s.host, s.token))

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := scopedFile{path: path}
	info, err := os.Lstat(path)
	switch {
	case err == nil:
		if !info.Mode().IsRegular() {
			return "", fmt.Errorf("refusing to replace %s: not a regular file", path)
		}
		existing, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		entry.original = existing
		entry.mode = info.Mode().Perm()
		entry.restore = true
		if len(existing) > 0 && existing[len(existing)-1] != '\n' {
			content = append([]byte("\n"), content...)
		}
		content = append(append([]byte(nil), existing...), content...)
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	// Tracked before the write so a partially written file is still removed
	s.entries = append(s.entries, entry)
	if entry.restore {
		// WriteFile keeps the mode of an existing file
		if err := os.Chmod(path, 0o600); err != nil {
			return "", fmt.Errorf("failed to restrict %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// Written returns the paths created so far.
func (s *Scope) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		paths = append(paths, e.path)
	}
	return paths
}

// Release removes every file written by the scope and puts back the
// content of files that existed before Acquire. It is safe to call more
// than once; all failures are combined.
func (s *Scope) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs error
	for _, e := range s.entries {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, fmt.Errorf("failed to remove %s: %w", e.path, err))
			continue
		}
		if !e.restore {
			continue
		}
		if err := os.WriteFile(e.path, e.original, e.mode); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to restore %s: %w", e.path, err))
			continue
		}
		if err := os.Chmod(e.path, e.mode); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to restore mode of %s: %w", e.path, err))
		}
	}
	s.entries = nil
	return errs
}
