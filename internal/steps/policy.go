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

package steps

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// PolicyConfig is the step policy file format
type PolicyConfig struct {
	// Steps maps a step name (build, compress, publish) to its rule.
	// Steps without a rule are rejected.
	Steps map[string]StepRule `yaml:"steps"`
}

// StepRule pins what one pipeline step may execute
type StepRule struct {
	// Command must equal the step's command or its base name
	Command string `yaml:"command"`

	// Args must be the step's leading arguments, in order
	Args []string `yaml:"args,omitempty"`

	// Flags are bare flags allowed after Args, e.g. --dry-run
	Flags []string `yaml:"flags,omitempty"`

	// PathFlags take a path value that must resolve inside the project
	// root, e.g. --input-dir
	PathFlags []string `yaml:"pathFlags,omitempty"`
}

// FilePolicy implements Policy with rules loaded from a YAML file. Every
// step must also run with its working directory inside the project root.
type FilePolicy struct {
	path string
	root string

	mu     sync.RWMutex
	config *PolicyConfig
}

// NewFilePolicy loads the policy at path. root is the project root that
// working directories and path flags are confined to.
func NewFilePolicy(path, root string) (*FilePolicy, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root %s: %w", root, err)
	}
	p := &FilePolicy{path: path, root: absRoot}
	if err := p.Reload(); err != nil {
		return nil, fmt.Errorf("failed to load step policy: %w", err)
	}
	return p, nil
}

// Reload re-reads the policy file
func (p *FilePolicy) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read step policy file: %w", err)
	}

	var config PolicyConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse step policy file: %w", err)
	}
	for name, rule := range config.Steps {
		if rule.Command == "" {
			return fmt.Errorf("step %s: command is required", name)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = &config
	return nil
}

// Check implements Policy
func (p *FilePolicy) Check(step Step) error {
	p.mu.RLock()
	rule, ok := p.config.Steps[step.Name]
	p.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: no rule for %s step", ErrStepNotAllowed, step.Name)
	}
	if step.Command != rule.Command && filepath.Base(step.Command) != rule.Command {
		return fmt.Errorf("%w: %s step must run %s, not %s", ErrStepNotAllowed, step.Name, rule.Command, step.Command)
	}

	dir, err := filepath.Abs(step.Dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s step directory: %w", step.Name, err)
	}
	if !p.within(dir) {
		return fmt.Errorf("%w: %s step directory %s is outside %s", ErrStepNotAllowed, step.Name, dir, p.root)
	}

	if len(step.Args) < len(rule.Args) || !slices.Equal(step.Args[:len(rule.Args)], rule.Args) {
		return fmt.Errorf("%w: %s step must start with %q", ErrStepNotAllowed, step.Name, strings.Join(rule.Args, " "))
	}

	extra := step.Args[len(rule.Args):]
	for i := 0; i < len(extra); i++ {
		arg := extra[i]
		switch {
		case slices.Contains(rule.Flags, arg):
		case slices.Contains(rule.PathFlags, arg):
			if i+1 == len(extra) {
				return fmt.Errorf("%w: %s step flag %s has no value", ErrStepNotAllowed, step.Name, arg)
			}
			i++
			value := extra[i]
			if !filepath.IsAbs(value) {
				value = filepath.Join(dir, value)
			}
			if !p.within(filepath.Clean(value)) {
				return fmt.Errorf("%w: %s step path %s is outside %s", ErrStepNotAllowed, step.Name, extra[i], p.root)
			}
		default:
			return fmt.Errorf("%w: %s step argument %q", ErrStepNotAllowed, step.Name, arg)
		}
	}
	return nil
}

func (p *FilePolicy) within(path string) bool {
	rel, err := filepath.Rel(p.root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
