package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxChunk bounds how many bytes one token reservation covers. Smaller
// chunks keep pacing smooth; the limiter burst must cover the largest
// single reservation.
const maxChunk = 32 * 1024

// Writer paces writes to an underlying io.Writer so sustained throughput
// stays at or below the configured bytes/second. Each Writer carries its
// own token bucket, so aggregate bandwidth scales with concurrent streams
// while no single stream exceeds the cap.
type Writer struct {
	w   io.Writer
	lim *rate.Limiter
	ctx context.Context
}

// NewWriter wraps w with a bytes/second cap. The context cancels pending
// pacing waits when a client disconnects. bytesPerSec <= 0 disables
// throttling.
func NewWriter(ctx context.Context, w io.Writer, bytesPerSec int64) *Writer {
	var lim *rate.Limiter
	if bytesPerSec > 0 {
		burst := int(bytesPerSec)
		if burst > maxChunk {
			burst = maxChunk
		}
		lim = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	}
	return &Writer{w: w, lim: lim, ctx: ctx}
}

// Write writes p in paced chunks, blocking between chunks until the bucket
// refills. Returns the context error if the client went away mid-wait.
func (tw *Writer) Write(p []byte) (int, error) {
	if tw.lim == nil {
		return tw.w.Write(p)
	}

	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > tw.lim.Burst() {
			chunk = chunk[:tw.lim.Burst()]
		}

		if err := tw.lim.WaitN(tw.ctx, len(chunk)); err != nil {
			return written, err
		}

		n, err := tw.w.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}
