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

package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/go-logr/logr"
)

// DefaultFileName is looked up in the project root when no config file is
// given explicitly.
const DefaultFileName = "release.yaml"

// Manager manages configuration loading from multiple sources
type Manager struct {
	path     string
	explicit bool
}

// NewManager creates a configuration manager. An empty path means
// release.yaml in projectRoot, which may be absent.
func NewManager(path, projectRoot string) *Manager {
	if path != "" {
		return &Manager{path: path, explicit: true}
	}
	if projectRoot == "" {
		projectRoot = "."
	}
	return &Manager{path: filepath.Join(projectRoot, DefaultFileName)}
}

// Path returns the config file the manager reads.
func (m *Manager) Path() string {
	return m.path
}

// LoadConfig loads configuration from all available sources.
// Priority order: overrides -> environment variables -> file -> defaults
func (m *Manager) LoadConfig(ctx context.Context, overrides ...func(*Config)) (*Config, error) {
	logger := logr.FromContextOrDiscard(ctx)

	// Start with default configuration
	config := DefaultConfig()

	if err := NewFileLoader(m.path).LoadConfig(ctx, config); err != nil {
		if m.explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		logger.V(1).Info("Config file not found, using environment variables and defaults", "path", m.path)
	} else {
		logger.V(1).Info("Configuration loaded from file", "path", m.path)
	}

	if err := config.LoadFromEnvironment(); err != nil {
		return nil, err
	}

	for _, override := range overrides {
		override(config)
	}

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.V(1).Info("Configuration loaded successfully",
		"project_root", config.Project.Root,
		"runtime_version", config.Runtime.Version,
		"http_timeout", config.HTTP.Timeout,
		"retry_max_attempts", config.Retry.MaxAttempts)

	return config, nil
}
