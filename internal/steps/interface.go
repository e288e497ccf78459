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

// Package steps runs the external commands the release pipeline delegates
// to: the server build, model compression and registry publish.
package steps

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStepNotAllowed is returned when the step policy rejects a step.
var ErrStepNotAllowed = errors.New("step not allowed")

// Step describes one external command invocation
type Step struct {
	// Name identifies the step in logs and metrics, e.g. "build"
	Name string

	// Command is the executable to run, looked up on PATH
	Command string

	// Args are passed to the command verbatim
	Args []string

	// Dir is the working directory; empty means the current directory
	Dir string

	// Env holds extra environment variables added to the inherited environment
	Env map[string]string

	// Timeout bounds the command; zero means no timeout
	Timeout time.Duration
}

// String renders the step as a shell-like command line for logs.
func (s Step) String() string {
	line := s.Command
	for _, a := range s.Args {
		line += " " + a
	}
	return line
}

// Runner executes steps and waits for them to finish
type Runner interface {
	// Run executes the step. A non-zero exit status yields an *ExitError.
	Run(ctx context.Context, step Step) error
}

// Policy decides which steps a Runner may execute
type Policy interface {
	// Check returns an error wrapping ErrStepNotAllowed when step may not run
	Check(step Step) error
}

// AllowAll permits every step.
type AllowAll struct{}

// Check implements Policy
func (AllowAll) Check(Step) error { return nil }

// ExitError reports a step that ran and exited with a non-zero status.
type ExitError struct {
	Step     string
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s step exited with code %d", e.Step, e.ExitCode)
}
