package ratelimit

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWriterUnlimited tests that a zero cap passes writes straight through
func TestWriterUnlimited(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(context.Background(), &buf, 0)

	payload := bytes.Repeat([]byte("x"), 256*1024)
	n, err := w.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, len(payload), buf.Len())
}

// TestWriterThroughputCap tests that observed throughput stays within
// tolerance of the configured cap over a multi-chunk transfer
func TestWriterThroughputCap(t *testing.T) {
	var buf bytes.Buffer
	const bytesPerSec = 64 * 1024
	w := NewWriter(context.Background(), &buf, bytesPerSec)

	// Three seconds worth of data at the cap.
	payload := bytes.Repeat([]byte("x"), 3*bytesPerSec)

	start := time.Now()
	n, err := w.Write(payload)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	observed := float64(n) / elapsed.Seconds()
	// The first burst is free, so allow 10% headroom over the cap.
	assert.Less(t, observed, float64(bytesPerSec)*1.10,
		"observed %0.f B/s exceeds cap %d B/s", observed, bytesPerSec)
}

// TestWriterCancel tests that a cancelled context aborts a pending wait
func TestWriterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer
	w := NewWriter(ctx, &buf, 1024)

	// Larger than one burst so the writer must wait, then cancel under it.
	payload := bytes.Repeat([]byte("x"), 64*1024)
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := w.Write(payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, buf.Len(), len(payload))
}
