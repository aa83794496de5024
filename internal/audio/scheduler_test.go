package audio

import (
	"errors"
	"math"
	"sync"
	"testing"
)

type fakeVoice struct {
	graph   *fakeGraph
	at      float64
	onEnded func()
	stopped bool
}

func (v *fakeVoice) Stop() {
	v.graph.mu.Lock()
	v.stopped = true
	v.graph.mu.Unlock()
	v.onEnded()
}

type fakeGraph struct {
	mu     sync.Mutex
	now    float64
	voices []*fakeVoice
	err    error
}

func (g *fakeGraph) CurrentTime() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now
}

func (g *fakeGraph) Play(chunk Chunk, at float64, onEnded func()) (Voice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	v := &fakeVoice{graph: g, at: at, onEnded: onEnded}
	g.voices = append(g.voices, v)
	return v, nil
}

func (g *fakeGraph) advance(to float64) {
	g.mu.Lock()
	g.now = to
	g.mu.Unlock()
}

func chunkOf(seconds float64) Chunk {
	return Chunk{Samples: make([]float32, int(seconds*PlaybackSampleRate)), SampleRate: PlaybackSampleRate}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScheduler_BackToBack(t *testing.T) {
	graph := &fakeGraph{now: 1.0}
	s := NewScheduler(graph)

	start1, _ := s.Schedule(chunkOf(0.5))
	start2, _ := s.Schedule(chunkOf(0.25))
	start3, _ := s.Schedule(chunkOf(0.25))

	if !almostEqual(start1, 1.0) || !almostEqual(start2, 1.5) || !almostEqual(start3, 1.75) {
		t.Errorf("Expected starts 1.0, 1.5, 1.75, got %v, %v, %v", start1, start2, start3)
	}
	if !almostEqual(s.Cursor(), 2.0) {
		t.Errorf("Expected cursor 2.0, got %v", s.Cursor())
	}
	if s.Active() != 3 {
		t.Errorf("Expected 3 active voices, got %d", s.Active())
	}
}

func TestScheduler_LateChunkStartsNow(t *testing.T) {
	graph := &fakeGraph{now: 0}
	s := NewScheduler(graph)

	s.Schedule(chunkOf(0.1))
	graph.advance(5.0)

	start, _ := s.Schedule(chunkOf(0.1))
	if !almostEqual(start, 5.0) {
		t.Errorf("Expected late chunk to start at the clock time 5.0, got %v", start)
	}
}

func TestScheduler_InterruptResetsCursor(t *testing.T) {
	graph := &fakeGraph{now: 2.0}
	s := NewScheduler(graph)

	for i := 0; i < 4; i++ {
		s.Schedule(chunkOf(1.0))
	}
	if s.Cursor() <= graph.CurrentTime() {
		t.Fatal("Expected cursor ahead of the clock before interrupt")
	}

	flushed := s.Interrupt()
	if flushed != 4 {
		t.Errorf("Expected 4 flushed voices, got %d", flushed)
	}
	if s.Active() != 0 {
		t.Errorf("Expected no active voices after interrupt, got %d", s.Active())
	}
	if s.Cursor() != 0 {
		t.Errorf("Expected cursor reset to 0, got %v", s.Cursor())
	}
	for i, v := range graph.voices {
		if !v.stopped {
			t.Errorf("Expected voice %d to be stopped", i)
		}
	}

	graph.advance(2.5)
	start, _ := s.Schedule(chunkOf(0.2))
	if !almostEqual(start, 2.5) {
		t.Errorf("Expected chunk after interrupt to start at current time 2.5, got %v", start)
	}
}

func TestScheduler_LateCompletionAfterInterrupt(t *testing.T) {
	graph := &fakeGraph{}
	s := NewScheduler(graph)

	s.Schedule(chunkOf(0.1))
	stale := graph.voices[0]
	s.Interrupt()

	// A completion event racing the flush must be ignored
	stale.onEnded()
	s.Schedule(chunkOf(0.1))
	if s.Active() != 1 {
		t.Errorf("Expected 1 active voice, got %d", s.Active())
	}
}

func TestScheduler_NaturalCompletionRemovesVoice(t *testing.T) {
	graph := &fakeGraph{}
	s := NewScheduler(graph)

	s.Schedule(chunkOf(0.1))
	s.Schedule(chunkOf(0.1))
	graph.voices[0].onEnded()

	if s.Active() != 1 {
		t.Errorf("Expected 1 active voice after completion, got %d", s.Active())
	}
}

func TestScheduler_StopRejectsLaterChunks(t *testing.T) {
	graph := &fakeGraph{}
	s := NewScheduler(graph)

	s.Schedule(chunkOf(0.1))
	s.Stop()

	if _, err := s.Schedule(chunkOf(0.1)); !errors.Is(err, ErrSchedulerStopped) {
		t.Errorf("Expected ErrSchedulerStopped, got %v", err)
	}
	if len(graph.voices) != 1 || !graph.voices[0].stopped {
		t.Error("Expected Stop to flush the scheduled voice and play nothing new")
	}
}

func TestScheduler_PlayErrorLeavesCursor(t *testing.T) {
	graph := &fakeGraph{err: ErrGraphClosed}
	s := NewScheduler(graph)

	if _, err := s.Schedule(chunkOf(0.1)); !errors.Is(err, ErrGraphClosed) {
		t.Errorf("Expected ErrGraphClosed, got %v", err)
	}
	if s.Cursor() != 0 || s.Active() != 0 {
		t.Errorf("Expected no state change on play error, cursor=%v active=%d", s.Cursor(), s.Active())
	}
}

func TestScheduler_WithMixer(t *testing.T) {
	tap := NewTap(DefaultFFTSize, DefaultSmoothing)
	mixer := NewMixer(PlaybackSampleRate, tap)
	mixer.Resume()
	s := NewScheduler(mixer)

	loud := Chunk{Samples: sine(2400, 440, PlaybackSampleRate, 0.5), SampleRate: PlaybackSampleRate}
	s.Schedule(loud)
	s.Schedule(loud)

	block := make([]float32, 2400)
	if !mixer.Render(block) {
		t.Error("Expected first block to be audible")
	}
	if s.Active() != 1 {
		t.Errorf("Expected first chunk to complete after one block, got %d active", s.Active())
	}
	if tap.Level() == 0 {
		t.Error("Expected rendered audio to reach the output tap")
	}

	mixer.Render(block)
	if s.Active() != 0 {
		t.Errorf("Expected both chunks complete, got %d active", s.Active())
	}
	if mixer.Render(block) {
		t.Error("Expected silence once all chunks finished")
	}
}
