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

// Package logging builds the logr.Logger used across the pipeline.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls logger construction.
type Options struct {
	// Level is one of debug, info, warn, error
	Level string

	// Development switches to human-friendly output with caller info
	Development bool

	// Output receives log lines, usually stderr
	Output io.Writer
}

// ParseLevel maps a level name to a zap level. Verbosity levels such as
// "v2" map to logr V(2).
func ParseLevel(raw string) (zapcore.Level, error) {
	switch s := strings.ToLower(strings.TrimSpace(raw)); {
	case s == "" || s == "info":
		return zapcore.InfoLevel, nil
	case s == "debug":
		return zapcore.DebugLevel, nil
	case s == "warn" || s == "warning":
		return zapcore.WarnLevel, nil
	case s == "error":
		return zapcore.ErrorLevel, nil
	case strings.HasPrefix(s, "v"):
		var v int
		if _, err := fmt.Sscanf(s, "v%d", &v); err != nil || v < 0 {
			return 0, fmt.Errorf("invalid log level %q", raw)
		}
		return zapcore.Level(-v), nil
	default:
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
}

// New returns a logr.Logger backed by zap.
func New(opts Options) (logr.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return logr.Discard(), err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if opts.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}

	out := opts.Output
	if out == nil {
		out = io.Discard
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(out),
		zap.NewAtomicLevelAt(level),
	)

	zapOpts := []zap.Option{}
	if opts.Development {
		zapOpts = append(zapOpts, zap.AddCaller(), zap.Development())
	}

	return zapr.NewLogger(zap.New(core, zapOpts...)), nil
}
