package audio

import (
	"sync"
)

// SampleWindow is a thread-safe ring buffer that keeps the most recent samples.
// Writes never block or fail: the oldest samples are overwritten.
type SampleWindow struct {
	buffer []float32
	size   int
	write  int
	filled int
	mu     sync.RWMutex
}

// NewSampleWindow creates a window holding the last size samples
func NewSampleWindow(size int) *SampleWindow {
	if size < 1 {
		size = 1
	}
	return &SampleWindow{
		buffer: make([]float32, size),
		size:   size,
	}
}

// Write appends samples, overwriting the oldest when full
func (w *SampleWindow) Write(samples []float32) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(samples) >= w.size {
		copy(w.buffer, samples[len(samples)-w.size:])
		w.write = 0
		w.filled = w.size
		return
	}
	for _, s := range samples {
		w.buffer[w.write] = s
		w.write = (w.write + 1) % w.size
	}
	w.filled += len(samples)
	if w.filled > w.size {
		w.filled = w.size
	}
}

// Snapshot copies the window into dst oldest-first, zero-padding the front
// while the window has not filled yet. dst must hold Size() samples.
func (w *SampleWindow) Snapshot(dst []float32) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	pad := w.size - w.filled
	for i := 0; i < pad; i++ {
		dst[i] = 0
	}
	start := (w.write - w.filled + w.size) % w.size
	for i := 0; i < w.filled; i++ {
		dst[pad+i] = w.buffer[(start+i)%w.size]
	}
}

// Size returns the window capacity
func (w *SampleWindow) Size() int {
	return w.size
}

// Clear drops all buffered samples
func (w *SampleWindow) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.write = 0
	w.filled = 0
}

// FrameChunker regroups an arbitrary sample stream into fixed-size frames.
// It is not safe for concurrent use; the input graph serializes access.
type FrameChunker struct {
	frameSize int
	pending   []float32
}

// NewFrameChunker creates a chunker emitting frames of frameSize samples
func NewFrameChunker(frameSize int) *FrameChunker {
	if frameSize < 1 {
		frameSize = 1
	}
	return &FrameChunker{
		frameSize: frameSize,
		pending:   make([]float32, 0, frameSize),
	}
}

// Push appends samples and calls emit once per completed frame, in order.
// Each emitted frame is a fresh slice the callee may retain.
func (c *FrameChunker) Push(samples []float32, emit func(frame []float32)) {
	for len(samples) > 0 {
		need := c.frameSize - len(c.pending)
		if need > len(samples) {
			need = len(samples)
		}
		c.pending = append(c.pending, samples[:need]...)
		samples = samples[need:]

		if len(c.pending) == c.frameSize {
			frame := c.pending
			c.pending = make([]float32, 0, c.frameSize)
			emit(frame)
		}
	}
}

// Pending returns the number of buffered samples not yet emitted
func (c *FrameChunker) Pending() int {
	return len(c.pending)
}

// Reset discards buffered samples
func (c *FrameChunker) Reset() {
	c.pending = c.pending[:0]
}
