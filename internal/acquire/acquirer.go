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

// Package acquire downloads ONNX Runtime release archives into the local
// cache and extracts the shared library from them.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/s2005-m2/qa-memorize-mcp/internal/archive"
	"github.com/s2005-m2/qa-memorize-mcp/internal/config"
	"github.com/s2005-m2/qa-memorize-mcp/internal/fsutil"
	"github.com/s2005-m2/qa-memorize-mcp/internal/metrics"
	"github.com/s2005-m2/qa-memorize-mcp/internal/platform"
	"github.com/s2005-m2/qa-memorize-mcp/internal/storage"
)

// Acquirer fetches runtime archives, serving repeats from the cache
type Acquirer struct {
	cache      storage.CacheBackend
	httpClient *http.Client
	baseURL    string
	userAgent  string
	retry      config.RetryConfig
	metrics    metrics.MetricsRecorder
}

// Option configures an Acquirer
type Option func(*Acquirer)

// WithHTTPClient replaces the HTTP client used for downloads
func WithHTTPClient(c *http.Client) Option {
	return func(a *Acquirer) {
		a.httpClient = c
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(recorder metrics.MetricsRecorder) Option {
	return func(a *Acquirer) {
		a.metrics = recorder
	}
}

// NewAcquirer creates an acquirer backed by cache
func NewAcquirer(cache storage.CacheBackend, runtimeCfg config.RuntimeConfig, httpCfg config.HTTPConfig, retryCfg config.RetryConfig, opts ...Option) *Acquirer {
	a := &Acquirer{
		cache: cache,
		httpClient: &http.Client{
			Timeout: httpCfg.Timeout,
		},
		baseURL:   runtimeCfg.BaseURL,
		userAgent: httpCfg.UserAgent,
		retry:     retryCfg,
		metrics:   metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Acquire returns the local path of the runtime archive for desc and
// version, downloading it on a cache miss.
func (a *Acquirer) Acquire(ctx context.Context, desc platform.Descriptor, version string) (string, error) {
	logger := logr.FromContextOrDiscard(ctx).WithValues("platform", desc.Key, "version", version)

	key := desc.CacheKey(version)
	if a.cache.Has(key) {
		path := a.cache.Path(key)
		logger.Info("Using cached runtime archive", "path", path)
		a.metrics.RecordCacheHit(desc.Key)
		return path, nil
	}

	url := desc.URL(a.baseURL, version)
	logger.Info("Downloading runtime archive", "url", url)

	start := time.Now()
	path, err := a.downloadWithRetry(ctx, url, key)
	a.metrics.RecordDownload(desc.Key, err == nil, time.Since(start))
	if err != nil {
		return "", err
	}

	logger.Info("Runtime archive downloaded", "path", path, "duration", time.Since(start).Truncate(time.Millisecond))
	return path, nil
}

func (a *Acquirer) downloadWithRetry(ctx context.Context, url, key string) (string, error) {
	logger := logr.FromContextOrDiscard(ctx)

	var path string
	operation := func() error {
		p, err := a.download(ctx, url, key)
		if err != nil {
			var dlErr *DownloadFailedError
			if errors.As(err, &dlErr) && dlErr.StatusCode >= 400 && dlErr.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		path = p
		return nil
	}

	notify := func(err error, next time.Duration) {
		logger.Info("Runtime download failed, retrying", "error", err.Error(), "retryIn", next.Truncate(time.Millisecond))
	}

	if err := backoff.RetryNotify(operation, a.backoffPolicy(ctx), notify); err != nil {
		var dlErr *DownloadFailedError
		if errors.As(err, &dlErr) {
			return "", dlErr
		}
		return "", &DownloadFailedError{URL: url, Err: err}
	}
	return path, nil
}

// backoffPolicy turns the retry settings into an exponential policy capped
// at MaxAttempts total tries.
func (a *Acquirer) backoffPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.retry.BaseDelay
	b.MaxInterval = a.retry.MaxDelay
	b.RandomizationFactor = a.retry.JitterFactor
	b.MaxElapsedTime = 0

	retries := 0
	if a.retry.MaxAttempts > 1 {
		retries = a.retry.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// download performs one GET and streams the body into the cache. The cache
// backend only exposes the entry once the body has been fully written.
func (a *Acquirer) download(ctx context.Context, url, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &DownloadFailedError{URL: url, Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", &DownloadFailedError{URL: url, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &DownloadFailedError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	path, err := a.cache.StoreFrom(ctx, key, resp.Body)
	if err != nil {
		return "", &DownloadFailedError{URL: url, Err: err}
	}
	return path, nil
}

// ExtractLibrary extracts the runtime library member from archivePath into
// destDir and returns the written path. Nothing is written to destDir when
// the member is missing.
func (a *Acquirer) ExtractLibrary(ctx context.Context, archivePath string, desc platform.Descriptor, version, destDir string) (string, error) {
	logger := logr.FromContextOrDiscard(ctx)

	extractor, err := archive.ForKind(desc.ArchiveKind)
	if err != nil {
		return "", err
	}

	scratch, err := os.MkdirTemp("", "ort-extract-")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Error(err, "Failed to remove scratch directory", "path", scratch)
		}
	}()

	member := desc.LibraryMember(version)
	scratchPath := filepath.Join(scratch, desc.LibraryName())
	mode, err := extractTo(extractor, archivePath, member, scratchPath)
	if err != nil {
		if errors.Is(err, archive.ErrMemberNotFound) {
			return "", &ArchiveMemberNotFoundError{Archive: archivePath, Member: member}
		}
		return "", err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", destDir, err)
	}
	dest := filepath.Join(destDir, desc.LibraryName())
	if err := fsutil.CopyFileMode(scratchPath, dest, mode); err != nil {
		return "", err
	}

	logger.V(1).Info("Runtime library extracted", "member", member, "path", dest)
	return dest, nil
}

func extractTo(extractor archive.Extractor, archivePath, member, dest string) (os.FileMode, error) {
	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	mode, extractErr := extractor.ExtractMember(archivePath, member, f)
	if err := f.Close(); err != nil && extractErr == nil {
		extractErr = fmt.Errorf("failed to close %s: %w", dest, err)
	}
	return mode, extractErr
}
