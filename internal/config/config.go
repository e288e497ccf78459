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

// Package config provides configuration management for the release pipeline.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/caarlos0/env/v11"

	"github.com/s2005-m2/qa-memorize-mcp/internal/logging"
	"github.com/s2005-m2/qa-memorize-mcp/internal/platform"
)

// EnvPrefix prefixes every environment variable the pipeline reads.
const EnvPrefix = "MEMORIZE_"

// DefaultRuntimeVersion is the pinned ONNX Runtime release.
const DefaultRuntimeVersion = "1.23.0"

// Config holds the configuration for the release pipeline
type Config struct {
	// Project layout
	Project ProjectConfig `yaml:"project" envPrefix:"PROJECT_"`

	// Runtime library source
	Runtime RuntimeConfig `yaml:"runtime" envPrefix:"RUNTIME_"`

	// HTTP client configuration
	HTTP HTTPConfig `yaml:"http" envPrefix:"HTTP_"`

	// Retry configuration
	Retry RetryConfig `yaml:"retry" envPrefix:"RETRY_"`

	// External step commands
	Steps StepsConfig `yaml:"steps" envPrefix:"STEPS_"`

	// Registry configuration
	Registry RegistryConfig `yaml:"registry" envPrefix:"REGISTRY_"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`

	// Log configuration
	Log LogConfig `yaml:"log" envPrefix:"LOG_"`
}

// ProjectConfig locates the inputs and outputs of a run. Relative paths are
// resolved against Root.
type ProjectConfig struct {
	Root           string `yaml:"root" env:"ROOT"`
	DistDir        string `yaml:"distDir" env:"DIST_DIR"`
	NpmDir         string `yaml:"npmDir" env:"NPM_DIR"`
	CacheDir       string `yaml:"cacheDir" env:"CACHE_DIR"`
	ModelDir       string `yaml:"modelDir" env:"MODEL_DIR"`
	BuildOutputDir string `yaml:"buildOutputDir" env:"BUILD_OUTPUT_DIR"`
	EnvFile        string `yaml:"envFile" env:"ENV_FILE"`
}

// Resolve returns p joined to the project root unless it is absolute.
func (p ProjectConfig) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.Root, path)
}

// RuntimeConfig selects the ONNX Runtime release to bundle
type RuntimeConfig struct {
	// Version of the ONNX Runtime release
	Version string `yaml:"version" env:"VERSION"`

	// BaseURL replaces {base} in platform download URLs, e.g. for a mirror
	BaseURL string `yaml:"baseURL" env:"BASE_URL"`
}

// HTTPConfig holds HTTP client configuration
type HTTPConfig struct {
	// Timeout bounds a whole runtime archive download
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// User agent string for HTTP requests
	UserAgent string `yaml:"userAgent" env:"USER_AGENT"`
}

// RetryConfig holds download retry configuration. MaxAttempts of 1 disables
// automatic retries.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts" env:"MAX_ATTEMPTS"`
	BaseDelay    time.Duration `yaml:"baseDelay" env:"BASE_DELAY"`
	MaxDelay     time.Duration `yaml:"maxDelay" env:"MAX_DELAY"`
	JitterFactor float64       `yaml:"jitterFactor" env:"JITTER_FACTOR"`
}

// CommandConfig is an external command and its fixed leading arguments
type CommandConfig struct {
	Command string        `yaml:"command" env:"COMMAND"`
	Args    []string      `yaml:"args" env:"ARGS" envSeparator:" "`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// StepsConfig holds the external collaborators the pipeline shells out to
type StepsConfig struct {
	// Build compiles the server binary
	Build CommandConfig `yaml:"build" envPrefix:"BUILD_"`

	// Compress turns the model directory into its compressed package form
	Compress CommandConfig `yaml:"compress" envPrefix:"COMPRESS_"`

	// Publish pushes one package directory to the registry
	Publish CommandConfig `yaml:"publish" envPrefix:"PUBLISH_"`

	// PolicyPath optionally names a step policy file restricting what each
	// step may run
	PolicyPath string `yaml:"policyPath" env:"POLICY_PATH"`
}

// RegistryConfig describes the package registry
type RegistryConfig struct {
	// Host is the registry host used in the scoped auth token line
	Host string `yaml:"host" env:"HOST"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	// TextfilePath, when set, receives the run's metrics in Prometheus text format
	TextfilePath string `yaml:"textfilePath" env:"TEXTFILE_PATH"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level       string `yaml:"level" env:"LEVEL"`
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Project: ProjectConfig{
			Root:           ".",
			DistDir:        "dist",
			NpmDir:         "npm",
			CacheDir:       ".ort_cache",
			ModelDir:       "embedding_model",
			BuildOutputDir: filepath.Join("target", "release"),
			EnvFile:        ".env",
		},
		Runtime: RuntimeConfig{
			Version: DefaultRuntimeVersion,
			BaseURL: platform.DefaultRuntimeBaseURL,
		},
		HTTP: HTTPConfig{
			Timeout:   10 * time.Minute,
			UserAgent: "memorize-release/1.0",
		},
		Retry: RetryConfig{
			MaxAttempts:  1,
			BaseDelay:    2 * time.Second,
			MaxDelay:     30 * time.Second,
			JitterFactor: 0.25,
		},
		Steps: StepsConfig{
			Build: CommandConfig{
				Command: "cargo",
				Args:    []string{"build", "--release"},
			},
			Compress: CommandConfig{
				Command: "node",
				Args:    []string{"scripts/compress-model.mjs"},
			},
			Publish: CommandConfig{
				Command: "npm",
				Args:    []string{"publish", "--access", "public"},
			},
		},
		Registry: RegistryConfig{
			Host: "registry.npmjs.org",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromEnvironment overrides fields from MEMORIZE_* environment variables
func (c *Config) LoadFromEnvironment() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate project layout
	for name, value := range map[string]string{
		"project root":             c.Project.Root,
		"dist directory":           c.Project.DistDir,
		"npm directory":            c.Project.NpmDir,
		"cache directory":          c.Project.CacheDir,
		"model directory":          c.Project.ModelDir,
		"build output directory":   c.Project.BuildOutputDir,
		"credential env file path": c.Project.EnvFile,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be specified", name)
		}
	}

	// Validate runtime
	if _, err := semver.StrictNewVersion(c.Runtime.Version); err != nil {
		return fmt.Errorf("runtime version %q is not a valid semantic version: %w", c.Runtime.Version, err)
	}

	// Validate HTTP configuration
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("HTTP timeout must be positive")
	}

	// Validate retry configuration
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry base delay must be positive")
	}
	if c.Retry.MaxDelay <= 0 {
		return fmt.Errorf("retry max delay must be positive")
	}
	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry base delay must be less than or equal to max delay")
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		return fmt.Errorf("retry jitter factor must be between 0 and 1")
	}

	// Validate steps
	for name, step := range map[string]CommandConfig{
		"build":    c.Steps.Build,
		"compress": c.Steps.Compress,
		"publish":  c.Steps.Publish,
	} {
		if strings.TrimSpace(step.Command) == "" {
			return fmt.Errorf("%s step command must be specified", name)
		}
		if step.Timeout < 0 {
			return fmt.Errorf("%s step timeout must be non-negative", name)
		}
	}

	// Validate registry
	if c.Registry.Host == "" {
		return fmt.Errorf("registry host must be specified")
	}
	if strings.Contains(c.Registry.Host, "://") {
		return fmt.Errorf("registry host must not include a scheme: %s", c.Registry.Host)
	}

	// Validate logging
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}
