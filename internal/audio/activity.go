package audio

// Direction identifies which side of the conversation a level belongs to
type Direction int

const (
	DirectionInput  Direction = iota // the user, via the microphone
	DirectionOutput                  // the agent, via playback
)

func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}

// ActivityConfig holds thresholds for speaking detection on volume samples
type ActivityConfig struct {
	Threshold    uint8 // Level above which a tick counts as speech
	SilenceTicks int   // Consecutive quiet ticks before speech is considered over
}

// DefaultActivityConfig returns thresholds tuned for 50 ms volume ticks
func DefaultActivityConfig() *ActivityConfig {
	return &ActivityConfig{
		Threshold:    40,
		SilenceTicks: 8, // 400ms of quiet
	}
}

// ActivityEvent is a speaking transition on one direction
type ActivityEvent struct {
	Direction Direction
	Speaking  bool
}

type activityState struct {
	silenceCounter int
	isSpeaking     bool
}

// process returns (changed, speaking)
func (s *activityState) process(level uint8, cfg *ActivityConfig) (bool, bool) {
	if level > cfg.Threshold {
		s.silenceCounter = 0
		if !s.isSpeaking {
			s.isSpeaking = true
			return true, true
		}
		return false, true
	}

	s.silenceCounter++
	if s.isSpeaking && s.silenceCounter >= cfg.SilenceTicks {
		s.isSpeaking = false
		s.silenceCounter = 0
		return true, false
	}
	return false, s.isSpeaking
}

// ActivityDetector turns a stream of volume samples into speaking transitions
// for the user and the agent. It is not safe for concurrent use.
type ActivityDetector struct {
	config *ActivityConfig
	input  activityState
	output activityState
}

// NewActivityDetector creates a detector
func NewActivityDetector(config *ActivityConfig) *ActivityDetector {
	if config == nil {
		config = DefaultActivityConfig()
	}
	if config.SilenceTicks < 1 {
		config.SilenceTicks = 1
	}
	return &ActivityDetector{config: config}
}

// Process consumes one sample and returns the transitions it caused, input first
func (d *ActivityDetector) Process(sample VolumeSample) []ActivityEvent {
	var events []ActivityEvent
	if changed, speaking := d.input.process(sample.Input, d.config); changed {
		events = append(events, ActivityEvent{Direction: DirectionInput, Speaking: speaking})
	}
	if changed, speaking := d.output.process(sample.Output, d.config); changed {
		events = append(events, ActivityEvent{Direction: DirectionOutput, Speaking: speaking})
	}
	return events
}

// Speaking reports the current state of a direction
func (d *ActivityDetector) Speaking(dir Direction) bool {
	if dir == DirectionOutput {
		return d.output.isSpeaking
	}
	return d.input.isSpeaking
}

// Reset clears both directions
func (d *ActivityDetector) Reset() {
	d.input = activityState{}
	d.output = activityState{}
}

// DetectSilence reports whether samples fall below an RMS threshold
func DetectSilence(samples []float32, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}
