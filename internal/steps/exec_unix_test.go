//go:build unix

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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExecRunner_TimeoutKillsChildProcesses(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "survived")

	// The background subshell keeps the output pipe open, so Run only
	// returns early when the whole process group is gone.
	runner := NewExecRunner(WithOutput(&bytes.Buffer{}, &bytes.Buffer{}))
	start := time.Now()
	err := runner.Run(context.Background(), Step{
		Name:    "build",
		Command: "sh",
		Args:    []string{"-c", "(sleep 1; touch \"$MARKER\") & wait"},
		Env:     map[string]string{"MARKER": marker},
		Timeout: 200 * time.Millisecond,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("step with children returned after %v", elapsed)
	}

	time.Sleep(1500 * time.Millisecond)
	if _, statErr := os.Stat(marker); !os.IsNotExist(statErr) {
		t.Error("child process outlived the step")
	}
}

func TestExecRunner_CancelKillsChildProcesses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	runner := NewExecRunner(WithOutput(&bytes.Buffer{}, &bytes.Buffer{}))
	start := time.Now()
	err := runner.Run(ctx, Step{Name: "compress", Command: "sh", Args: []string{"-c", "sleep 3 & sleep 3; true"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancelled step returned after %v", elapsed)
	}
}
