package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// ErrGraphClosed is returned when using a graph after Close
var ErrGraphClosed = errors.New("audio graph closed")

// GraphState mirrors the lifecycle of a platform audio context
type GraphState int

const (
	GraphSuspended GraphState = iota
	GraphRunning
	GraphClosed
)

func (s GraphState) String() string {
	switch s {
	case GraphSuspended:
		return "suspended"
	case GraphRunning:
		return "running"
	case GraphClosed:
		return "closed"
	}
	return "unknown"
}

// Graph is the lifecycle surface shared by input and output graphs.
// Graphs are created suspended and produce nothing until resumed.
type Graph interface {
	State() GraphState
	Resume() error
	Close() error
}

// Mixer is a software output graph. Its clock advances only as Render is
// pulled, either by a device callback or by Pace.
type Mixer struct {
	sampleRate int
	tap        *Tap

	mu     sync.Mutex
	state  GraphState
	frame  int64
	voices []*mixVoice
}

type mixVoice struct {
	mixer   *Mixer
	samples []float32
	start   int64
	onEnded func()
}

// NewMixer creates a suspended output graph at sampleRate. tap, if set,
// receives every rendered block for output level metering.
func NewMixer(sampleRate int, tap *Tap) *Mixer {
	if sampleRate <= 0 {
		sampleRate = PlaybackSampleRate
	}
	return &Mixer{
		sampleRate: sampleRate,
		tap:        tap,
		state:      GraphSuspended,
	}
}

// SampleRate returns the graph rate
func (m *Mixer) SampleRate() int {
	return m.sampleRate
}

// Tap returns the output metering tap
func (m *Mixer) Tap() *Tap {
	return m.tap
}

// State returns the graph state
func (m *Mixer) State() GraphState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Resume starts the clock
func (m *Mixer) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == GraphClosed {
		return ErrGraphClosed
	}
	m.state = GraphRunning
	return nil
}

// Suspend pauses the clock without dropping scheduled voices
func (m *Mixer) Suspend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == GraphRunning {
		m.state = GraphSuspended
	}
}

// CurrentTime returns the graph clock in seconds
func (m *Mixer) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.frame) / float64(m.sampleRate)
}

// Play schedules chunk to start at the given clock time. Chunks at another
// rate are resampled. A start time in the past plays immediately.
func (m *Mixer) Play(chunk Chunk, at float64, onEnded func()) (Voice, error) {
	samples := chunk.Samples
	if chunk.SampleRate > 0 && chunk.SampleRate != m.sampleRate {
		samples = Resample(samples, chunk.SampleRate, m.sampleRate)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == GraphClosed {
		return nil, ErrGraphClosed
	}

	start := int64(math.Round(at * float64(m.sampleRate)))
	if start < m.frame {
		start = m.frame
	}
	v := &mixVoice{mixer: m, samples: samples, start: start, onEnded: onEnded}
	m.voices = append(m.voices, v)
	return v, nil
}

// Stop removes the voice and fires its ended callback
func (v *mixVoice) Stop() {
	if v.mixer.remove(v) && v.onEnded != nil {
		v.onEnded()
	}
}

func (m *Mixer) remove(v *mixVoice) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.voices {
		if cur == v {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			return true
		}
	}
	return false
}

// Voices returns the number of voices not yet finished
func (m *Mixer) Voices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Render mixes the next len(out) frames into out and advances the clock.
// While suspended or closed it writes silence and the clock holds. It
// reports whether any voice contributed to the block.
func (m *Mixer) Render(out []float32) bool {
	for i := range out {
		out[i] = 0
	}

	m.mu.Lock()
	if m.state != GraphRunning {
		m.mu.Unlock()
		return false
	}

	blockStart := m.frame
	blockEnd := blockStart + int64(len(out))
	audible := false
	var ended []func()
	remaining := m.voices[:0]

	for _, v := range m.voices {
		voiceEnd := v.start + int64(len(v.samples))
		from := max(v.start, blockStart)
		to := min(voiceEnd, blockEnd)
		for f := from; f < to; f++ {
			out[f-blockStart] += v.samples[f-v.start]
			audible = true
		}
		if voiceEnd <= blockEnd {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		remaining = append(remaining, v)
	}
	for i := len(remaining); i < len(m.voices); i++ {
		m.voices[i] = nil
	}
	m.voices = remaining
	m.frame = blockEnd
	m.mu.Unlock()

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	if m.tap != nil {
		m.tap.Write(out)
	}
	for _, fn := range ended {
		fn()
	}
	return audible
}

// Pace renders the graph in real time, one block per period, until ctx is
// done. Audible blocks are passed to sink; the slice is reused between calls.
func (m *Mixer) Pace(ctx context.Context, period time.Duration, sink func(block []float32)) {
	if period <= 0 {
		period = 20 * time.Millisecond
	}
	block := make([]float32, int(float64(m.sampleRate)*period.Seconds()))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.Render(block) && sink != nil {
				sink(block)
			}
		}
	}
}

// Close stops the clock and drops every voice, firing their ended callbacks
func (m *Mixer) Close() error {
	m.mu.Lock()
	if m.state == GraphClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = GraphClosed
	voices := m.voices
	m.voices = nil
	m.mu.Unlock()

	for _, v := range voices {
		if v.onEnded != nil {
			v.onEnded()
		}
	}
	return nil
}

// InputGraph routes captured samples to a metering tap and regroups them
// into fixed-size frames for a processor
type InputGraph struct {
	sampleRate int
	tap        *Tap

	// pushMu serializes Push so frames reach the processor in capture order
	pushMu    sync.Mutex
	mu        sync.Mutex
	state     GraphState
	chunker   *FrameChunker
	processor func(frame []float32)
}

// NewInputGraph creates a suspended input graph
func NewInputGraph(sampleRate, frameSize int, tap *Tap) *InputGraph {
	if sampleRate <= 0 {
		sampleRate = CaptureSampleRate
	}
	return &InputGraph{
		sampleRate: sampleRate,
		tap:        tap,
		state:      GraphSuspended,
		chunker:    NewFrameChunker(frameSize),
	}
}

// SampleRate returns the graph rate
func (g *InputGraph) SampleRate() int {
	return g.sampleRate
}

// Tap returns the input metering tap
func (g *InputGraph) Tap() *Tap {
	return g.tap
}

// State returns the graph state
func (g *InputGraph) State() GraphState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Resume starts routing samples
func (g *InputGraph) Resume() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == GraphClosed {
		return ErrGraphClosed
	}
	g.state = GraphRunning
	return nil
}

// SetProcessor installs the frame consumer; nil detaches it. When it returns
// no call to a previous processor is in flight.
func (g *InputGraph) SetProcessor(fn func(frame []float32)) {
	g.pushMu.Lock()
	defer g.pushMu.Unlock()

	g.mu.Lock()
	g.processor = fn
	g.mu.Unlock()
}

// Push feeds captured samples at the graph rate. Input is dropped unless
// the graph is running.
func (g *InputGraph) Push(samples []float32) {
	g.pushMu.Lock()
	defer g.pushMu.Unlock()

	g.mu.Lock()
	running := g.state == GraphRunning
	processor := g.processor
	g.mu.Unlock()
	if !running {
		return
	}

	if g.tap != nil {
		g.tap.Write(samples)
	}
	g.chunker.Push(samples, func(frame []float32) {
		if processor != nil {
			processor(frame)
		}
	})
}

// Close stops routing and detaches the processor
func (g *InputGraph) Close() error {
	g.pushMu.Lock()
	defer g.pushMu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = GraphClosed
	g.processor = nil
	g.chunker.Reset()
	return nil
}
