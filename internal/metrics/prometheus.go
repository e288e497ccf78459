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

package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements MetricsRecorder using Prometheus metrics.
// The pipeline is a short-lived CLI, so metrics live in a private registry
// and are exported with WriteTextfile for a node_exporter textfile collector.
type PrometheusRecorder struct {
	registry         *prometheus.Registry
	downloadTotal    *prometheus.CounterVec
	downloadDuration *prometheus.HistogramVec
	cacheHitTotal    *prometheus.CounterVec
	stepTotal        *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	publishTotal     *prometheus.CounterVec
	publishDuration  *prometheus.HistogramVec
	lastRun          prometheus.Gauge
}

// NewPrometheusRecorder creates a new PrometheusRecorder and registers metrics
func NewPrometheusRecorder() *PrometheusRecorder {
	recorder := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		downloadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memorize_release_runtime_download_total",
				Help: "Total number of runtime archive downloads attempted",
			},
			[]string{"platform", "success"},
		),
		downloadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memorize_release_runtime_download_duration_seconds",
				Help:    "Duration of runtime archive downloads in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"platform", "success"},
		),
		cacheHitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memorize_release_runtime_cache_hit_total",
				Help: "Total number of runtime archives served from the local cache",
			},
			[]string{"platform"},
		),
		stepTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memorize_release_step_total",
				Help: "Total number of pipeline steps executed",
			},
			[]string{"step", "success"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memorize_release_step_duration_seconds",
				Help:    "Duration of pipeline steps in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"step", "success"},
		),
		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memorize_release_publish_total",
				Help: "Total number of package publish attempts by outcome",
			},
			[]string{"package", "status"},
		),
		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memorize_release_publish_duration_seconds",
				Help:    "Duration of package publish commands in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"package"},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memorize_release_last_run_timestamp_seconds",
				Help: "Unix time at which the metrics were last written",
			},
		),
	}

	recorder.registry.MustRegister(
		recorder.downloadTotal,
		recorder.downloadDuration,
		recorder.cacheHitTotal,
		recorder.stepTotal,
		recorder.stepDuration,
		recorder.publishTotal,
		recorder.publishDuration,
		recorder.lastRun,
	)

	return recorder
}

// Registry returns the registry holding the recorder's metrics
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordDownload records a runtime archive download attempt
func (r *PrometheusRecorder) RecordDownload(platform string, success bool, duration time.Duration) {
	successLabel := boolLabel(success)
	r.downloadTotal.WithLabelValues(platform, successLabel).Inc()
	r.downloadDuration.WithLabelValues(platform, successLabel).Observe(duration.Seconds())
}

// RecordCacheHit records a runtime archive served from the local cache
func (r *PrometheusRecorder) RecordCacheHit(platform string) {
	r.cacheHitTotal.WithLabelValues(platform).Inc()
}

// RecordStep records a pipeline step
func (r *PrometheusRecorder) RecordStep(step string, success bool, duration time.Duration) {
	successLabel := boolLabel(success)
	r.stepTotal.WithLabelValues(step, successLabel).Inc()
	r.stepDuration.WithLabelValues(step, successLabel).Observe(duration.Seconds())
}

// RecordPublish records the outcome of one package publish attempt
func (r *PrometheusRecorder) RecordPublish(pkg, status string, duration time.Duration) {
	r.publishTotal.WithLabelValues(pkg, status).Inc()
	r.publishDuration.WithLabelValues(pkg).Observe(duration.Seconds())
}

// WriteTextfile writes all metrics to path in the Prometheus text format
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	r.lastRun.SetToCurrentTime()
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
