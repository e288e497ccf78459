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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/s2005-m2/qa-memorize-mcp/internal/metrics"
)

type denyAll struct{}

func (denyAll) Check(step Step) error {
	return fmt.Errorf("%w: %s", ErrStepNotAllowed, step.Name)
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestExecRunner_Run(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	tests := []struct {
		name       string
		step       Step
		wantStdout string
		wantExit   int
		wantErr    bool
	}{
		{
			name:       "successful step streams stdout",
			step:       Step{Name: "build", Command: "sh", Args: []string{"-c", "echo built"}},
			wantStdout: "built\n",
		},
		{
			name:       "working directory",
			step:       Step{Name: "build", Command: "sh", Args: []string{"-c", "pwd"}, Dir: dir},
			wantStdout: dir,
		},
		{
			name:       "extra environment",
			step:       Step{Name: "publish", Command: "sh", Args: []string{"-c", "printf %s \"$RELEASE_TAG\""}, Env: map[string]string{"RELEASE_TAG": "v1"}},
			wantStdout: "v1",
		},
		{
			name:     "non-zero exit",
			step:     Step{Name: "compress", Command: "sh", Args: []string{"-c", "exit 3"}},
			wantExit: 3,
			wantErr:  true,
		},
		{
			name:    "missing executable",
			step:    Step{Name: "build", Command: "definitely-not-a-real-command-xyz"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			runner := NewExecRunner(WithOutput(&stdout, &stderr))

			err := runner.Run(context.Background(), tt.step)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}

			var exitErr *ExitError
			if tt.wantExit != 0 {
				if !errors.As(err, &exitErr) {
					t.Fatalf("expected *ExitError, got %T: %v", err, err)
				}
				if exitErr.ExitCode != tt.wantExit || exitErr.Step != tt.step.Name {
					t.Errorf("ExitError = %+v, want step %s code %d", exitErr, tt.step.Name, tt.wantExit)
				}
			} else if err != nil && errors.As(err, &exitErr) {
				t.Errorf("unexpected *ExitError: %v", err)
			}

			if tt.wantStdout != "" {
				got := strings.TrimSpace(stdout.String())
				want := strings.TrimSpace(tt.wantStdout)
				if tt.step.Dir != "" {
					// macOS temp dirs may be reached through a symlink
					got, _ = filepath.EvalSymlinks(got)
					want, _ = filepath.EvalSymlinks(want)
				}
				if got != want {
					t.Errorf("stdout = %q, want %q", got, want)
				}
			}
		})
	}
}

func TestExecRunner_NotAllowed(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	runner := NewExecRunner(WithPolicy(denyAll{}))

	err := runner.Run(context.Background(), Step{Name: "build", Command: "touch", Args: []string{marker}})
	if !errors.Is(err, ErrStepNotAllowed) {
		t.Fatalf("expected ErrStepNotAllowed, got %v", err)
	}
	if _, statErr := os.Stat(marker); !os.IsNotExist(statErr) {
		t.Error("rejected command must not run")
	}
}

func TestExecRunner_Timeout(t *testing.T) {
	requireShell(t)

	runner := NewExecRunner(WithOutput(&bytes.Buffer{}, &bytes.Buffer{}))
	start := time.Now()
	err := runner.Run(context.Background(), Step{
		Name:    "publish",
		Command: "sh",
		Args:    []string{"-c", "sleep 10"},
		Timeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timed out step returned after %v", elapsed)
	}
}

func TestExecRunner_Cancelled(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	runner := NewExecRunner(WithOutput(&bytes.Buffer{}, &bytes.Buffer{}))
	start := time.Now()
	err := runner.Run(ctx, Step{Name: "publish", Command: "sh", Args: []string{"-c", "sleep 10"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("cancelled step returned after %v", elapsed)
	}
}

func TestExecRunner_RecordsMetrics(t *testing.T) {
	requireShell(t)

	recorder := metrics.NewPrometheusRecorder()
	runner := NewExecRunner(WithOutput(&bytes.Buffer{}, &bytes.Buffer{}), WithMetrics(recorder))

	_ = runner.Run(context.Background(), Step{Name: "build", Command: "sh", Args: []string{"-c", "true"}})
	_ = runner.Run(context.Background(), Step{Name: "build", Command: "sh", Args: []string{"-c", "false"}})

	if got, err := testutil.GatherAndCount(recorder.Registry(), "memorize_release_step_duration_seconds"); err != nil || got != 2 {
		t.Errorf("expected 2 step series, got %d", got)
	}
}

func TestStep_String(t *testing.T) {
	s := Step{Command: "npm", Args: []string{"publish", "--access", "public"}}
	if got := s.String(); got != "npm publish --access public" {
		t.Errorf("String() = %q", got)
	}
}
