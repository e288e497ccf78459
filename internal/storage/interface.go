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

// Package storage keeps downloaded runtime archives on local disk.
package storage

import (
	"context"
	"io"
)

// CacheBackend stores opaque blobs under flat keys.
type CacheBackend interface {
	// Has reports whether an entry exists for key
	Has(key string) bool

	// Path returns the local file path for key, whether or not it exists
	Path(key string) string

	// StoreFrom writes r to key, making the entry visible only once complete
	StoreFrom(ctx context.Context, key string, r io.Reader) (string, error)

	// List returns the keys with the given prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes an entry
	Delete(ctx context.Context, key string) error
}
