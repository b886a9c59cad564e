//go:build !linux

package splice

import (
	"context"
	"io"
)

// trySpliceCopy has no zero-copy path on non-Linux platforms; the caller
// always falls back to copyBuffered.
func trySpliceCopy(_ context.Context, _ io.Writer, _ io.Reader, _ uint64, _ BandwidthReporter) (uint64, bool) {
	return 0, false
}
