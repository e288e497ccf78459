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

package acquire

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s2005-m2/qa-memorize-mcp/internal/archive/archivetest"
	"github.com/s2005-m2/qa-memorize-mcp/internal/config"
	"github.com/s2005-m2/qa-memorize-mcp/internal/metrics"
	"github.com/s2005-m2/qa-memorize-mcp/internal/platform"
	"github.com/s2005-m2/qa-memorize-mcp/internal/storage"
)

const testVersion = "1.23.0"

func linuxDescriptor(t *testing.T) platform.Descriptor {
	t.Helper()
	desc, err := platform.Lookup("linux-x64")
	require.NoError(t, err)
	return desc
}

func linuxArchive(t *testing.T) []byte {
	t.Helper()
	data, err := archivetest.TarGz(
		archivetest.Entry{Name: "onnxruntime-linux-x64-1.23.0/lib/libonnxruntime.so", Link: "libonnxruntime.so.1.23.0"},
		archivetest.Entry{Name: "onnxruntime-linux-x64-1.23.0/lib/libonnxruntime.so.1.23.0", Body: []byte("ort shared object"), Mode: 0o755},
	)
	require.NoError(t, err)
	return data
}

func newTestAcquirer(t *testing.T, baseURL string, mutate func(h *config.HTTPConfig, r *config.RetryConfig), opts ...Option) (*Acquirer, *storage.FileBackend) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Runtime.BaseURL = baseURL
	if mutate != nil {
		mutate(&cfg.HTTP, &cfg.Retry)
	}
	cache := storage.NewFileBackend(filepath.Join(t.TempDir(), ".ort_cache"))
	return NewAcquirer(cache, cfg.Runtime, cfg.HTTP, cfg.Retry, opts...), cache
}

func TestAcquire_DownloadsThenUsesCache(t *testing.T) {
	body := linuxArchive(t)
	var requests atomic.Int32
	var userAgent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		userAgent.Store(r.Header.Get("User-Agent"))
		assert.Equal(t, "/v1.23.0/onnxruntime-linux-x64-1.23.0.tgz", r.URL.Path)
		_, _ = w.Write(body)
	}))
	defer server.Close()

	recorder := metrics.NewPrometheusRecorder()
	acquirer, cache := newTestAcquirer(t, server.URL, nil, WithMetrics(recorder))
	desc := linuxDescriptor(t)

	path, err := acquirer.Acquire(context.Background(), desc, testVersion)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cache.BasePath(), "onnxruntime-linux-x64-1.23.0.tgz"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, data)
	assert.Equal(t, "memorize-release/1.0", userAgent.Load())

	again, err := acquirer.Acquire(context.Background(), desc, testVersion)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(1), requests.Load(), "cache hit must not touch the network")

	hits, err := testutil.GatherAndCount(recorder.Registry(), "memorize_release_runtime_cache_hit_total")
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestAcquire_CacheHitWithoutServer(t *testing.T) {
	// Unroutable base URL; any network access would fail the test
	acquirer, cache := newTestAcquirer(t, "http://127.0.0.1:1", nil)
	desc := linuxDescriptor(t)

	_, err := cache.StoreFrom(context.Background(), desc.CacheKey(testVersion), bytes.NewReader([]byte("cached")))
	require.NoError(t, err)

	path, err := acquirer.Acquire(context.Background(), desc, testVersion)
	require.NoError(t, err)
	assert.Equal(t, cache.Path(desc.CacheKey(testVersion)), path)
}

func TestAcquire_Failures(t *testing.T) {
	tests := []struct {
		name         string
		handler      func(calls int32, w http.ResponseWriter, r *http.Request)
		mutate       func(h *config.HTTPConfig, r *config.RetryConfig)
		wantStatus   int
		wantRequests int32
	}{
		{
			name: "not found is not retried",
			handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
				http.NotFound(w, nil)
			},
			mutate: func(_ *config.HTTPConfig, r *config.RetryConfig) {
				r.MaxAttempts = 3
				r.BaseDelay = time.Millisecond
			},
			wantStatus:   http.StatusNotFound,
			wantRequests: 1,
		},
		{
			name: "server error without retries",
			handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantStatus:   http.StatusBadGateway,
			wantRequests: 1,
		},
		{
			name: "server error exhausts retries",
			handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			mutate: func(_ *config.HTTPConfig, r *config.RetryConfig) {
				r.MaxAttempts = 3
				r.BaseDelay = time.Millisecond
				r.MaxDelay = 5 * time.Millisecond
			},
			wantStatus:   http.StatusServiceUnavailable,
			wantRequests: 3,
		},
		{
			name: "timeout",
			handler: func(_ int32, w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Length", "1048576")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("partial"))
				w.(http.Flusher).Flush()
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
			},
			mutate: func(h *config.HTTPConfig, _ *config.RetryConfig) {
				h.Timeout = 100 * time.Millisecond
			},
			wantRequests: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.handler(requests.Add(1), w, r)
			}))
			defer server.Close()

			acquirer, cache := newTestAcquirer(t, server.URL, tt.mutate)
			desc := linuxDescriptor(t)

			_, err := acquirer.Acquire(context.Background(), desc, testVersion)
			require.Error(t, err)

			var dlErr *DownloadFailedError
			require.True(t, errors.As(err, &dlErr), "got %T: %v", err, err)
			assert.Equal(t, tt.wantStatus, dlErr.StatusCode)
			assert.Contains(t, dlErr.URL, server.URL)
			assert.Equal(t, tt.wantRequests, requests.Load())

			assert.False(t, cache.Has(desc.CacheKey(testVersion)), "no entry may appear under the final name")
			keys, err := cache.List(context.Background(), "")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestAcquire_RetryRecovers(t *testing.T) {
	body := linuxArchive(t)
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	}))
	defer server.Close()

	acquirer, _ := newTestAcquirer(t, server.URL, func(_ *config.HTTPConfig, r *config.RetryConfig) {
		r.MaxAttempts = 2
		r.BaseDelay = time.Millisecond
	})

	path, err := acquirer.Acquire(context.Background(), linuxDescriptor(t), testVersion)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, int32(2), requests.Load())
}

func TestExtractLibrary(t *testing.T) {
	acquirer, _ := newTestAcquirer(t, "http://127.0.0.1:1", nil)

	t.Run("tar.gz with symlinked library", func(t *testing.T) {
		archivePath := filepath.Join(t.TempDir(), "ort.tgz")
		require.NoError(t, os.WriteFile(archivePath, linuxArchive(t), 0o644))
		dest := filepath.Join(t.TempDir(), "dist")

		path, err := acquirer.ExtractLibrary(context.Background(), archivePath, linuxDescriptor(t), testVersion, dest)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dest, "libonnxruntime.so"), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "ort shared object", string(data))
	})

	t.Run("zip", func(t *testing.T) {
		desc, err := platform.Lookup("win-x64")
		require.NoError(t, err)
		data, err := archivetest.Zip(archivetest.Entry{Name: "onnxruntime-win-x64-1.23.0/lib/onnxruntime.dll", Body: []byte("dll")})
		require.NoError(t, err)
		archivePath := filepath.Join(t.TempDir(), "ort.zip")
		require.NoError(t, os.WriteFile(archivePath, data, 0o644))
		dest := t.TempDir()

		path, err := acquirer.ExtractLibrary(context.Background(), archivePath, desc, testVersion, dest)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dest, "onnxruntime.dll"), path)
	})

	t.Run("missing member", func(t *testing.T) {
		data, err := archivetest.TarGz(archivetest.Entry{Name: "onnxruntime-linux-x64-1.22.0/lib/libonnxruntime.so", Body: []byte("old")})
		require.NoError(t, err)
		archivePath := filepath.Join(t.TempDir(), "ort.tgz")
		require.NoError(t, os.WriteFile(archivePath, data, 0o644))
		dest := filepath.Join(t.TempDir(), "dist")

		_, err = acquirer.ExtractLibrary(context.Background(), archivePath, linuxDescriptor(t), testVersion, dest)
		var notFound *ArchiveMemberNotFoundError
		require.True(t, errors.As(err, &notFound), "got %v", err)
		assert.Equal(t, "onnxruntime-linux-x64-1.23.0/lib/libonnxruntime.so", notFound.Member)
		assert.Contains(t, err.Error(), "onnxruntime-linux-x64-1.23.0/lib/libonnxruntime.so")
		assert.NoFileExists(t, filepath.Join(dest, "libonnxruntime.so"))
	})
}
