//go:build linux

package splice

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

const spliceChunkSize = 64 * 1024

// trySpliceCopy moves data from src to dst via a kernel pipe using
// unix.Splice in spliceChunkSize chunks, avoiding a userspace copy. It
// falls back (returns ok=false) for non-TCP connections or on ENOSYS,
// letting the caller retry with copyBuffered. EAGAIN does not trigger the
// fallback: the splice call is retried in place.
func trySpliceCopy(ctx context.Context, dst io.Writer, src io.Reader, maxBytes uint64, report BandwidthReporter) (uint64, bool) {
	srcConn, ok := src.(*net.TCPConn)
	if !ok {
		return 0, false
	}
	dstConn, ok := dst.(*net.TCPConn)
	if !ok {
		return 0, false
	}

	srcFile, err := srcConn.File()
	if err != nil {
		return 0, false
	}
	defer srcFile.Close()
	dstFile, err := dstConn.File()
	if err != nil {
		return 0, false
	}
	defer dstFile.Close()

	var pipeFDs [2]int
	if err := unix.Pipe2(pipeFDs[:], unix.O_NONBLOCK); err != nil {
		return 0, false
	}
	defer unix.Close(pipeFDs[0])
	defer unix.Close(pipeFDs[1])

	srcFD := int(srcFile.Fd())
	dstFD := int(dstFile.Fd())

	var total uint64
	for {
		if ctx.Err() != nil {
			return total, true
		}
		chunk := spliceChunkSize
		if maxBytes > 0 {
			remaining := maxBytes - total
			if remaining == 0 {
				return total, true
			}
			if remaining < uint64(chunk) {
				chunk = int(remaining)
			}
		}

		n, err := unix.Splice(srcFD, nil, pipeFDs[1], nil, chunk, unix.SPLICE_F_MOVE)
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) {
				continue
			}
			if errors.Is(err, syscall.ENOSYS) {
				return total, false
			}
			return total, true
		}
		if n == 0 {
			return total, true // EOF
		}

		written := 0
		for written < n {
			w, err := unix.Splice(pipeFDs[0], nil, dstFD, nil, n-written, unix.SPLICE_F_MOVE)
			if err != nil {
				if errors.Is(err, syscall.EAGAIN) {
					continue
				}
				return total + uint64(written), true
			}
			written += w
		}
		total += uint64(written)
		if report != nil {
			report(uint64(written))
		}
	}
}
