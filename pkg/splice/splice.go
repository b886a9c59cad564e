// Package splice implements the bidirectional relay between a client
// connection and an upstream connection: two independent, symmetric
// copy loops, zero-copy where the platform supports it.
//
// The two directions are spawned symmetrically and independently from the
// outset. An earlier design reassembled the split halves in one direction
// only and slept before spawning the reverse relay, which meant the first
// bytes of the reverse direction were delayed behind the forward
// direction's setup; that asymmetry is not reproduced here.
package splice

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// Stats accumulates byte counts for one relay, safe for concurrent reads
// while the relay is in flight.
type Stats struct {
	ClientToUpstream atomic.Uint64
	UpstreamToClient atomic.Uint64
}

// BandwidthReporter receives byte counts as they are transferred, so the
// caller's rate limiter can update bandwidth accounting without waiting for
// the relay to finish.
type BandwidthReporter func(bytesWritten uint64)

// Options configures a Relay call.
type Options struct {
	// MaxBytes caps the bytes copied in each direction separately; 0 means
	// unbounded.
	MaxBytes uint64
	// OnClientToUpstream and OnUpstreamToClient report bytes written in
	// each direction as they happen, for bandwidth accounting.
	OnClientToUpstream BandwidthReporter
	OnUpstreamToClient BandwidthReporter
}

// Relay copies bytes between client and upstream in both directions until
// either side closes, ctx is canceled, or either direction reaches
// MaxBytes. It returns
// once both directions have stopped and reports final byte counts.
func Relay(ctx context.Context, client, upstream net.Conn, opts Options) Stats {
	var stats Stats
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		n := copyDirection(ctx, upstream, client, opts.MaxBytes, opts.OnClientToUpstream)
		stats.ClientToUpstream.Store(n)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		n := copyDirection(ctx, client, upstream, opts.MaxBytes, opts.OnUpstreamToClient)
		stats.UpstreamToClient.Store(n)
	}()

	go func() {
		<-ctx.Done()
		_ = client.Close()
		_ = upstream.Close()
	}()

	wg.Wait()
	return stats
}

// copyDirection copies from src to dst, preferring the platform's zero-copy
// path (see splice_linux.go), falling back to a userspace ring buffer copy.
func copyDirection(ctx context.Context, dst io.Writer, src io.Reader, maxBytes uint64, report BandwidthReporter) uint64 {
	if n, ok := trySpliceCopy(ctx, dst, src, maxBytes, report); ok {
		return n
	}
	return copyBuffered(ctx, dst, src, maxBytes, report)
}

const copyBufferSize = 8 * 1024

func copyBuffered(ctx context.Context, dst io.Writer, src io.Reader, maxBytes uint64, report BandwidthReporter) uint64 {
	buf := make([]byte, copyBufferSize)
	var total uint64
	for {
		if ctx.Err() != nil {
			return total
		}
		if maxBytes > 0 && total >= maxBytes {
			return total
		}
		readLimit := len(buf)
		if maxBytes > 0 {
			remaining := maxBytes - total
			if remaining < uint64(readLimit) {
				readLimit = int(remaining)
			}
		}
		n, err := src.Read(buf[:readLimit])
		if n > 0 {
			written, werr := dst.Write(buf[:n])
			total += uint64(written)
			if report != nil {
				report(uint64(written))
			}
			if werr != nil {
				return total
			}
		}
		if err != nil {
			return total
		}
	}
}
