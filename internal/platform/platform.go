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

// Package platform holds the static table of supported release targets and
// resolves which one a run should use.
package platform

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/s2005-m2/qa-memorize-mcp/internal/archive"
)

// MetaPackage is the platform-independent npm package that declares every
// platform package as an optional dependency.
const MetaPackage = "qa-memorize-mcp"

// DefaultRuntimeBaseURL is where ONNX Runtime release archives are published.
const DefaultRuntimeBaseURL = "https://github.com/microsoft/onnxruntime/releases/download"

// Descriptor describes one release target. Values are copied out of the
// registry so callers never share mutable state with it.
type Descriptor struct {
	// Key is the canonical platform identifier, e.g. "linux-x64"
	Key string

	// Binary is the server executable file name
	Binary string

	// Library is the runtime shared library path relative to the archive prefix
	Library string

	// URLTemplate is the archive download URL; {base} and {version} are substituted
	URLTemplate string

	// ArchiveKind selects the extractor for the downloaded archive
	ArchiveKind archive.Kind

	// PrefixTemplate is the top-level directory inside the archive; {version} is substituted
	PrefixTemplate string

	// Package is the npm package carrying this platform's files
	Package string
}

// URL returns the download URL for the given base URL and runtime version.
func (d Descriptor) URL(baseURL, version string) string {
	if baseURL == "" {
		baseURL = DefaultRuntimeBaseURL
	}
	r := strings.NewReplacer("{base}", strings.TrimSuffix(baseURL, "/"), "{version}", version)
	return r.Replace(d.URLTemplate)
}

// Prefix returns the in-archive top-level directory for the given version.
func (d Descriptor) Prefix(version string) string {
	return strings.ReplaceAll(d.PrefixTemplate, "{version}", version)
}

// LibraryMember returns the full in-archive path of the runtime library.
func (d Descriptor) LibraryMember(version string) string {
	return d.Prefix(version) + "/" + d.Library
}

// LibraryName returns the base file name of the runtime library.
func (d Descriptor) LibraryName() string {
	return d.Library[strings.LastIndex(d.Library, "/")+1:]
}

// CacheKey returns the cache file name for a downloaded archive.
func (d Descriptor) CacheKey(version string) string {
	return fmt.Sprintf("onnxruntime-%s-%s.%s", d.Key, version, d.ArchiveKind.Extension())
}

func ortDescriptor(key, binary, library string, kind archive.Kind, pkg string) Descriptor {
	return Descriptor{
		Key:            key,
		Binary:         binary,
		Library:        library,
		URLTemplate:    "{base}/v{version}/onnxruntime-" + key + "-{version}." + kind.Extension(),
		ArchiveKind:    kind,
		PrefixTemplate: "onnxruntime-" + key + "-{version}",
		Package:        pkg,
	}
}

// table is in registry order; publish ordering of "other" packages follows it.
var table = []Descriptor{
	ortDescriptor("win-x64", "memorize_mcp.exe", "lib/onnxruntime.dll", archive.KindZip, "qa-memorize-mcp-win-x64"),
	ortDescriptor("linux-x64", "memorize_mcp", "lib/libonnxruntime.so", archive.KindTarGz, "qa-memorize-mcp-linux-x64"),
	ortDescriptor("osx-x86_64", "memorize_mcp", "lib/libonnxruntime.dylib", archive.KindTarGz, "qa-memorize-mcp-darwin-x64"),
	ortDescriptor("osx-arm64", "memorize_mcp", "lib/libonnxruntime.dylib", archive.KindTarGz, "qa-memorize-mcp-darwin-arm64"),
}

var index = func() map[string]int {
	m := make(map[string]int, len(table))
	for i, d := range table {
		if _, dup := m[d.Key]; dup {
			panic("platform: duplicate key " + d.Key)
		}
		m[d.Key] = i
	}
	return m
}()

// All returns every descriptor in registry order.
func All() []Descriptor {
	out := make([]Descriptor, len(table))
	copy(out, table)
	return out
}

// Keys returns every platform key in registry order.
func Keys() []string {
	keys := make([]string, len(table))
	for i, d := range table {
		keys[i] = d.Key
	}
	return keys
}

// Lookup returns the descriptor for key.
func Lookup(key string) (Descriptor, error) {
	i, ok := index[key]
	if !ok {
		return Descriptor{}, &UnknownPlatformError{Key: key, Valid: Keys()}
	}
	return table[i], nil
}

// Resolve returns the descriptor for an explicit key, or detects the host
// platform when key is empty.
func Resolve(key string) (Descriptor, error) {
	if key == "" {
		detected, err := Detect(runtime.GOOS, runtime.GOARCH)
		if err != nil {
			return Descriptor{}, err
		}
		key = detected
	}
	return Lookup(key)
}

// Detect maps a host OS and CPU architecture to a platform key. Windows and
// Linux each have a single key; macOS picks arm64 for the two ARM spellings
// and falls back to the Intel build for anything else.
func Detect(goos, goarch string) (string, error) {
	switch strings.ToLower(goos) {
	case "windows":
		return "win-x64", nil
	case "linux":
		return "linux-x64", nil
	case "darwin":
		switch strings.ToLower(goarch) {
		case "arm64", "aarch64":
			return "osx-arm64", nil
		}
		return "osx-x86_64", nil
	}
	return "", &UnsupportedHostError{OS: goos, Arch: goarch}
}

// PublishOrder returns the npm packages in the order they are published:
// the requested platform first, then the meta package, then the remaining
// platforms in registry order.
func PublishOrder(active Descriptor) []string {
	order := []string{active.Package, MetaPackage}
	for _, d := range table {
		if d.Key != active.Key {
			order = append(order, d.Package)
		}
	}
	return order
}

// UnknownPlatformError is returned for a key that is not in the registry.
type UnknownPlatformError struct {
	Key   string
	Valid []string
}

func (e *UnknownPlatformError) Error() string {
	return fmt.Sprintf("unknown platform %q, choose from: %s", e.Key, strings.Join(e.Valid, ", "))
}

// UnsupportedHostError is returned when the host cannot be mapped to a key.
type UnsupportedHostError struct {
	OS   string
	Arch string
}

func (e *UnsupportedHostError) Error() string {
	return fmt.Sprintf("cannot auto-detect platform for %s/%s, pass --platform explicitly", e.OS, e.Arch)
}
