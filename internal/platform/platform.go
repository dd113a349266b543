// Package platform holds OS-specific helpers for writing received files.
package platform

import "os"

// Preallocate reserves size bytes for f where the platform supports it.
// Failures are ignored; preallocation is advisory and the write path does
// not depend on it.
func Preallocate(f *os.File, size int64) {
	if size <= 0 {
		return
	}
	preallocate(f, size)
}
