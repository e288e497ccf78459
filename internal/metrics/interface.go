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

// Package metrics records pipeline timings and outcomes.
package metrics

import (
	"time"
)

// MetricsRecorder defines the interface for recording metrics
//
//nolint:revive // Clear naming is more important than avoiding "stuttering"
type MetricsRecorder interface {
	// RecordDownload records a runtime archive download attempt
	RecordDownload(platform string, success bool, duration time.Duration)

	// RecordCacheHit records a runtime archive served from the local cache
	RecordCacheHit(platform string)

	// RecordStep records a pipeline step such as build, assemble or compress
	RecordStep(step string, success bool, duration time.Duration)

	// RecordPublish records the outcome of one package publish attempt
	RecordPublish(pkg, status string, duration time.Duration)
}

// NoopRecorder discards all metrics
type NoopRecorder struct{}

// RecordDownload implements MetricsRecorder
func (NoopRecorder) RecordDownload(string, bool, time.Duration) {}

// RecordCacheHit implements MetricsRecorder
func (NoopRecorder) RecordCacheHit(string) {}

// RecordStep implements MetricsRecorder
func (NoopRecorder) RecordStep(string, bool, time.Duration) {}

// RecordPublish implements MetricsRecorder
func (NoopRecorder) RecordPublish(string, string, time.Duration) {}
