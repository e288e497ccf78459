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
	"fmt"
)

// DownloadFailedError is returned when a runtime archive cannot be fetched.
// StatusCode is zero for transport errors and timeouts.
type DownloadFailedError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadFailedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download of %s failed with status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download of %s failed: %v", e.URL, e.Err)
}

func (e *DownloadFailedError) Unwrap() error {
	return e.Err
}

// ArchiveMemberNotFoundError is returned when the runtime library is not at
// its expected path inside the archive.
type ArchiveMemberNotFoundError struct {
	Archive string
	Member  string
}

func (e *ArchiveMemberNotFoundError) Error() string {
	return fmt.Sprintf("expected %s inside %s, but it was not found", e.Member, e.Archive)
}
