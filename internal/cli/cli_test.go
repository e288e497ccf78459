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

package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/s2005-m2/qa-memorize-mcp/internal/archive/archivetest"
)

// releaseConfig points downloads at an unreachable address so any network
// access fails, and replaces the external tools with shell one-liners.
const releaseConfig = `runtime:
  baseURL: http://127.0.0.1:1/unreachable
http:
  timeout: 2s
steps:
  build:
    command: sh
    args: ['-c', 'mkdir -p target/release && printf built > target/release/memorize_mcp', 'build']
  compress:
    command: sh
    args: ['-c', 'mkdir -p "$4" && cp "$2"/* "$4"/', 'compress']
  publish:
    command: sh
    args: ['-c', '%s', 'publish']
`

type result struct {
	code   int
	stdout string
	stderr string
}

var _ = Describe("memorize-release", func() {
	var root string

	writeConfig := func(name, publishScript string) string {
		path := filepath.Join(root, name)
		body := []byte(fmtConfig(publishScript))
		Expect(os.WriteFile(path, body, 0o644)).To(Succeed())
		return path
	}

	run := func(args ...string) result {
		var stdout, stderr bytes.Buffer
		code := Execute(context.Background(), append([]string{"--project-root", root}, args...), IOStreams{Out: &stdout, Err: &stderr})
		return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
	}

	writeFile := func(rel, body string, mode os.FileMode) {
		path := filepath.Join(root, rel)
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(body), mode)).To(Succeed())
	}

	seedCache := func() {
		data, err := archivetest.TarGz(
			archivetest.Entry{Name: "onnxruntime-linux-x64-1.23.0/include/onnxruntime_c_api.h", Body: []byte("header")},
			archivetest.Entry{Name: "onnxruntime-linux-x64-1.23.0/lib/libonnxruntime.so", Link: "libonnxruntime.so.1"},
			archivetest.Entry{Name: "onnxruntime-linux-x64-1.23.0/lib/libonnxruntime.so.1", Body: []byte("ort library"), Mode: 0o755},
		)
		Expect(err).NotTo(HaveOccurred())
		writeFile(".ort_cache/onnxruntime-linux-x64-1.23.0.tgz", string(data), 0o644)
	}

	npmrcFiles := func() []string {
		matches, err := filepath.Glob(filepath.Join(root, "npm", "*", ".npmrc"))
		Expect(err).NotTo(HaveOccurred())
		return matches
	}

	BeforeEach(func() {
		if runtime.GOOS == "windows" {
			Skip("the stand-in tools are POSIX shell scripts")
		}
		root = GinkgoT().TempDir()
		writeConfig("release.yaml", "test -f .npmrc")
		writeFile("embedding_model/model_ort.onnx", "onnx", 0o644)
		writeFile("embedding_model/tokenizer.json", "{}", 0o644)
	})

	Describe("platforms", func() {
		It("lists every platform in registry order", func() {
			res := run("platforms")
			Expect(res.code).To(Equal(0))
			Expect(res.stdout).To(MatchRegexp(`(?s)win-x64.*linux-x64.*osx-x86_64.*osx-arm64`))
			Expect(res.stdout).To(ContainSubstring("qa-memorize-mcp-darwin-arm64"))
		})
	})

	Describe("package", func() {
		It("rejects an unknown platform with the valid keys", func() {
			res := run("package", "--platform", "bogus")
			Expect(res.code).To(Equal(1))
			Expect(res.stderr).To(ContainSubstring(`unknown platform "bogus"`))
			Expect(res.stderr).To(ContainSubstring("win-x64, linux-x64, osx-x86_64, osx-arm64"))
		})

		It("rejects a malformed runtime version", func() {
			res := run("package", "--platform", "linux-x64", "--ort-version", "1.23")
			Expect(res.code).To(Equal(1))
			Expect(res.stderr).To(ContainSubstring("--ort-version"))
		})

		It("fails before any download when the binary is missing", func() {
			res := run("package", "--platform", "linux-x64")
			Expect(res.code).To(Equal(1))
			Expect(res.stderr).To(ContainSubstring(filepath.Join(root, "target", "release", "memorize_mcp")))
			Expect(res.stderr).To(ContainSubstring("Run with --build or build manually first."))
			Expect(filepath.Join(root, ".ort_cache")).NotTo(BeADirectory())
		})

		It("assembles offline from the cache", func() {
			seedCache()
			writeFile("target/release/memorize_mcp", "binary", 0o755)

			res := run("package", "--platform", "linux-x64")
			Expect(res.code).To(Equal(0), res.stderr)
			Expect(res.stdout).To(ContainSubstring("Platform: linux-x64"))
			Expect(res.stdout).To(ContainSubstring("ORT version: 1.23.0"))
			Expect(res.stderr).To(ContainSubstring("Using cached runtime archive"))

			Expect(filepath.Join(root, "dist", "memorize_mcp")).To(BeARegularFile())
			Expect(filepath.Join(root, "dist", "embedding_model", "tokenizer.json")).To(BeARegularFile())
			lib, err := os.ReadFile(filepath.Join(root, "dist", "libonnxruntime.so"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(lib)).To(Equal("ort library"))
		})

		It("runs the build step with --build", func() {
			seedCache()

			res := run("package", "--platform", "linux-x64", "--build", "--output", "out")
			Expect(res.code).To(Equal(0), res.stderr)
			Expect(filepath.Join(root, "out", "memorize_mcp")).To(BeARegularFile())
		})

		It("refuses a build step the step policy does not allow", func() {
			seedCache()
			writeFile("steps.yaml", "steps:\n  build:\n    command: cargo\n    args: [build, --release]\n", 0o644)
			cfg := writeConfig("restricted.yaml", "true")
			f, err := os.OpenFile(cfg, os.O_APPEND|os.O_WRONLY, 0)
			Expect(err).NotTo(HaveOccurred())
			_, err = f.WriteString("  policyPath: steps.yaml\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Close()).To(Succeed())

			res := run("--config", cfg, "package", "--platform", "linux-x64", "--build")
			Expect(res.code).To(Equal(1))
			Expect(res.stderr).To(ContainSubstring("step not allowed"))
			Expect(filepath.Join(root, "target", "release", "memorize_mcp")).NotTo(BeAnExistingFile())
		})

		It("surfaces download failures", func() {
			writeFile("target/release/memorize_mcp", "binary", 0o755)

			res := run("package", "--platform", "linux-x64")
			Expect(res.code).To(Equal(1))
			Expect(res.stderr).To(ContainSubstring("download of http://127.0.0.1:1/unreachable/v1.23.0/onnxruntime-linux-x64-1.23.0.tgz failed"))
			Expect(filepath.Join(root, ".ort_cache", "onnxruntime-linux-x64-1.23.0.tgz")).NotTo(BeAnExistingFile())
		})
	})

	Describe("pack", func() {
		It("requires an existing dist directory with --skip-build", func() {
			res := run("pack", "--platform", "linux-x64", "--skip-build")
			Expect(res.code).To(Equal(1))
			Expect(res.stderr).To(ContainSubstring(filepath.Join(root, "dist", "memorize_mcp")))
		})

		It("builds, assembles and composes the platform package", func() {
			seedCache()

			res := run("pack", "--platform", "linux-x64")
			Expect(res.code).To(Equal(0), res.stderr)

			bin := filepath.Join(root, "npm", "qa-memorize-mcp-linux-x64", "bin")
			Expect(filepath.Join(bin, "memorize_mcp")).To(BeARegularFile())
			Expect(filepath.Join(bin, "libonnxruntime.so")).To(BeARegularFile())
			Expect(filepath.Join(bin, "embedding_model", "model_ort.onnx")).To(BeARegularFile())
			Expect(filepath.Join(root, "npm", "qa-memorize-mcp-linux-x64", ".bin.staging")).NotTo(BeAnExistingFile())
			Expect(res.stdout).To(ContainSubstring("memorize_mcp  (5 bytes)"))
		})
	})

	Describe("publish", func() {
		BeforeEach(func() {
			writeFile("npm/qa-memorize-mcp/package.json", `{"name":"qa-memorize-mcp"}`, 0o644)
			writeFile("npm/qa-memorize-mcp-linux-x64/package.json", `{"name":"qa-memorize-mcp-linux-x64"}`, 0o644)
		})

		It("fails before touching packages when no token is configured", func() {
			res := run("publish", "--platform", "linux-x64", "--dry-run", "--skip-build")
			Expect(res.code).To(Equal(1))
			Expect(res.stderr).To(ContainSubstring("npm_pass_2fa/npm_ak not found"))
			Expect(res.stdout).NotTo(ContainSubstring("Publishing"))
			Expect(npmrcFiles()).To(BeEmpty())
		})

		It("dry-runs every package in order and removes credentials", func() {
			writeFile(".env", "npm_ak=fake-token\n", 0o600)
			reportPath := filepath.Join(root, "report.yaml")

			res := run("publish", "--platform", "linux-x64", "--dry-run", "--skip-build", "--report", reportPath)
			Expect(res.code).To(Equal(0), res.stderr)
			Expect(res.stdout).To(ContainSubstring(
				"Publishing (dry-run) packages:\n" +
					"  qa-memorize-mcp-linux-x64: DRY-RUN OK\n" +
					"  qa-memorize-mcp: DRY-RUN OK\n" +
					"  qa-memorize-mcp-win-x64: SKIPPED (not found)\n" +
					"  qa-memorize-mcp-darwin-x64: SKIPPED (not found)\n" +
					"  qa-memorize-mcp-darwin-arm64: SKIPPED (not found)\n"))
			Expect(npmrcFiles()).To(BeEmpty())

			report, err := os.ReadFile(reportPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(report)).To(ContainSubstring("platform: linux-x64"))
			Expect(string(report)).To(ContainSubstring("dryRun: true"))
		})

		It("reports failed packages with a non-zero exit", func() {
			writeFile(".env", "npm_pass_2fa=fake-token\n", 0o600)
			failing := writeConfig("failing.yaml", "exit 1")

			res := run("--config", failing, "publish", "--platform", "linux-x64", "--skip-build")
			Expect(res.code).To(Equal(1))
			Expect(res.stdout).To(ContainSubstring("  qa-memorize-mcp-linux-x64: FAILED"))
			Expect(res.stdout).To(ContainSubstring("  qa-memorize-mcp: FAILED"))
			Expect(res.stderr).To(ContainSubstring("one or more packages failed to publish"))
			Expect(npmrcFiles()).To(BeEmpty())
		})
	})

	Describe("cache", func() {
		It("lists and cleans cached archives", func() {
			seedCache()

			res := run("cache", "list")
			Expect(res.code).To(Equal(0))
			Expect(res.stdout).To(ContainSubstring("onnxruntime-linux-x64-1.23.0.tgz"))

			res = run("cache", "clean", "--platform", "win-x64")
			Expect(res.code).To(Equal(0))
			Expect(res.stdout).To(ContainSubstring("Removed 0 cached archive(s)"))

			res = run("cache", "clean")
			Expect(res.code).To(Equal(0))
			Expect(res.stdout).To(ContainSubstring("Removed 1 cached archive(s)"))

			res = run("cache", "list")
			Expect(res.stdout).To(ContainSubstring("No cached runtime archives"))
		})
	})

	Describe("global flags", func() {
		It("writes run metrics to the requested file", func() {
			seedCache()
			writeFile("target/release/memorize_mcp", "binary", 0o755)

			res := run("--metrics-file", "release.prom", "package", "--platform", "linux-x64")
			Expect(res.code).To(Equal(0), res.stderr)

			metrics, err := os.ReadFile(filepath.Join(root, "release.prom"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(metrics)).To(ContainSubstring(`memorize_release_runtime_cache_hit_total{platform="linux-x64"} 1`))
		})

		It("rejects an invalid log level", func() {
			res := run("--log-level", "chatty", "platforms")
			Expect(res.code).To(Equal(1))
			Expect(res.stderr).To(ContainSubstring("chatty"))
		})
	})
})

func fmtConfig(publishScript string) string {
	return fmt.Sprintf(releaseConfig, publishScript)
}
