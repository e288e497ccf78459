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

// Package archive extracts single members out of runtime release archives.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
)

// Kind identifies an archive format.
type Kind string

const (
	// KindZip is a zip archive (Windows runtime builds)
	KindZip Kind = "zip"

	// KindTarGz is a gzip-compressed tar archive (Linux and macOS runtime builds)
	KindTarGz Kind = "tgz"
)

// Extension returns the file extension used for cached archives of this kind.
func (k Kind) Extension() string {
	return string(k)
}

// maxLinkHops bounds symlink resolution inside tar archives.
const maxLinkHops = 8

// ErrMemberNotFound is returned when the requested member is absent.
var ErrMemberNotFound = errors.New("archive member not found")

// Extractor pulls one member out of an archive without unpacking the rest.
type Extractor interface {
	// ExtractMember copies the member's contents to w and returns its file mode
	ExtractMember(archivePath, member string, w io.Writer) (fs.FileMode, error)
}

// ForKind returns the extractor for the given archive kind.
func ForKind(kind Kind) (Extractor, error) {
	switch kind {
	case KindZip:
		return ZipExtractor{}, nil
	case KindTarGz:
		return TarGzExtractor{}, nil
	default:
		return nil, fmt.Errorf("unsupported archive kind: %q", kind)
	}
}

// ZipExtractor implements Extractor for zip archives.
type ZipExtractor struct{}

// ExtractMember copies a zip member to w
func (ZipExtractor) ExtractMember(archivePath, member string, w io.Writer) (fs.FileMode, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open zip archive %s: %w", archivePath, err)
	}
	defer func() {
		_ = zr.Close()
	}()

	want := normalize(member)
	for _, f := range zr.File {
		if normalize(f.Name) != want || f.FileInfo().IsDir() {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return 0, fmt.Errorf("failed to open zip member %s: %w", member, err)
		}
		defer func() {
			_ = rc.Close()
		}()

		if _, err := io.Copy(w, rc); err != nil {
			return 0, fmt.Errorf("failed to read zip member %s: %w", member, err)
		}
		return modeOrDefault(f.Mode()), nil
	}

	return 0, fmt.Errorf("%w: %s", ErrMemberNotFound, member)
}

// TarGzExtractor implements Extractor for gzip-compressed tar archives.
// Symlink and hard link members are followed to their target inside the
// archive.
type TarGzExtractor struct{}

// ExtractMember copies a tar member to w
func (TarGzExtractor) ExtractMember(archivePath, member string, w io.Writer) (fs.FileMode, error) {
	want := normalize(member)
	for hop := 0; hop <= maxLinkHops; hop++ {
		hdr, err := scanTarGz(archivePath, want, w)
		if err != nil {
			return 0, err
		}
		if hdr == nil {
			return 0, fmt.Errorf("%w: %s", ErrMemberNotFound, member)
		}

		switch hdr.Typeflag {
		case tar.TypeSymlink:
			want = normalize(path.Join(path.Dir(want), hdr.Linkname))
		case tar.TypeLink:
			want = normalize(hdr.Linkname)
		default:
			return modeOrDefault(hdr.FileInfo().Mode()), nil
		}
	}
	return 0, fmt.Errorf("too many links resolving %s", member)
}

// scanTarGz walks the archive once. When the wanted member is a regular
// file its body is copied to w; links are returned for the caller to follow.
func scanTarGz(archivePath, want string, w io.Writer) (*tar.Header, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer func() {
		_ = f.Close()
	}()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read gzip stream %s: %w", archivePath, err)
	}
	defer func() {
		_ = gz.Close()
	}()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar archive %s: %w", archivePath, err)
		}
		if normalize(hdr.Name) != want {
			continue
		}

		switch {
		case hdr.Typeflag == tar.TypeSymlink || hdr.Typeflag == tar.TypeLink:
			return hdr, nil
		case hdr.FileInfo().Mode().IsRegular():
			if _, err := io.Copy(w, tr); err != nil {
				return nil, fmt.Errorf("failed to read tar member %s: %w", want, err)
			}
			return hdr, nil
		}
	}
}

// normalize strips leading "./" and "/" so member names compare equal
// regardless of how the archive was produced.
func normalize(name string) string {
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	return path.Clean(name)
}

func modeOrDefault(mode fs.FileMode) fs.FileMode {
	if perm := mode.Perm(); perm != 0 {
		return perm
	}
	return 0o644
}
