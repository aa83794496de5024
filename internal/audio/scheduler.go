package audio

import (
	"errors"
	"math"
	"sync"
)

// ErrSchedulerStopped is returned by Schedule after Stop
var ErrSchedulerStopped = errors.New("playback scheduler stopped")

// Voice is one chunk playing or pending on an output graph
type Voice interface {
	Stop()
}

// OutputGraph renders scheduled chunks against a monotonic clock in seconds.
// onEnded must never be invoked synchronously from inside Play.
type OutputGraph interface {
	CurrentTime() float64
	Play(chunk Chunk, at float64, onEnded func()) (Voice, error)
}

type scheduledVoice struct {
	voice Voice
}

// Scheduler places chunks back to back on an output graph timeline
type Scheduler struct {
	graph OutputGraph

	mu      sync.Mutex
	cursor  float64
	active  map[*scheduledVoice]struct{}
	stopped bool
}

// NewScheduler creates a scheduler for graph
func NewScheduler(graph OutputGraph) *Scheduler {
	return &Scheduler{
		graph:  graph,
		active: make(map[*scheduledVoice]struct{}),
	}
}

// Schedule starts chunk at max(cursor, now) and advances the cursor by its
// duration. It returns the start time on the graph clock.
func (s *Scheduler) Schedule(chunk Chunk) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0, ErrSchedulerStopped
	}
	if len(chunk.Samples) == 0 {
		return s.cursor, nil
	}

	start := math.Max(s.cursor, s.graph.CurrentTime())
	entry := &scheduledVoice{}
	voice, err := s.graph.Play(chunk, start, func() { s.release(entry) })
	if err != nil {
		return 0, err
	}
	entry.voice = voice
	s.active[entry] = struct{}{}
	s.cursor = start + chunk.Seconds()
	return start, nil
}

// release drops a voice that finished or was stopped. Unknown entries are
// ignored, so completion after an interrupt is harmless.
func (s *Scheduler) release(entry *scheduledVoice) {
	s.mu.Lock()
	delete(s.active, entry)
	s.mu.Unlock()
}

// Interrupt stops every playing or pending chunk and resets the cursor so the
// next chunk starts at the current clock time
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	voices := s.drainLocked()
	s.cursor = 0
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	return len(voices)
}

// Stop interrupts playback and rejects every later Schedule call
func (s *Scheduler) Stop() {
	s.mu.Lock()
	voices := s.drainLocked()
	s.cursor = 0
	s.stopped = true
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
}

func (s *Scheduler) drainLocked() []Voice {
	voices := make([]Voice, 0, len(s.active))
	for entry := range s.active {
		if entry.voice != nil {
			voices = append(voices, entry.voice)
		}
		delete(s.active, entry)
	}
	return voices
}

// Cursor returns the next scheduled start time
func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Active returns the number of chunks playing or pending
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
