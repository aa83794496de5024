package audio

import (
	"testing"
)

func TestActivityDetector_SpeechStart(t *testing.T) {
	d := NewActivityDetector(&ActivityConfig{Threshold: 40, SilenceTicks: 3})

	events := d.Process(VolumeSample{Input: 120})
	if len(events) != 1 || events[0].Direction != DirectionInput || !events[0].Speaking {
		t.Errorf("Expected input speaking start, got %+v", events)
	}

	events = d.Process(VolumeSample{Input: 130})
	if len(events) != 0 {
		t.Errorf("Expected no transition while speaking continues, got %+v", events)
	}
	if !d.Speaking(DirectionInput) {
		t.Error("Expected input to be speaking")
	}
}

func TestActivityDetector_Hangover(t *testing.T) {
	d := NewActivityDetector(&ActivityConfig{Threshold: 40, SilenceTicks: 3})
	d.Process(VolumeSample{Output: 200})

	for i := 0; i < 2; i++ {
		if events := d.Process(VolumeSample{}); len(events) != 0 {
			t.Errorf("Expected no transition during hangover tick %d, got %+v", i, events)
		}
	}

	events := d.Process(VolumeSample{})
	if len(events) != 1 || events[0].Direction != DirectionOutput || events[0].Speaking {
		t.Errorf("Expected output speaking end, got %+v", events)
	}
}

func TestActivityDetector_BothDirections(t *testing.T) {
	d := NewActivityDetector(nil)

	events := d.Process(VolumeSample{Input: 255, Output: 255})
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Direction != DirectionInput || events[1].Direction != DirectionOutput {
		t.Errorf("Expected input event first, got %+v", events)
	}
}

func TestActivityDetector_BriefDipDoesNotEnd(t *testing.T) {
	d := NewActivityDetector(&ActivityConfig{Threshold: 40, SilenceTicks: 3})
	d.Process(VolumeSample{Input: 100})
	d.Process(VolumeSample{})
	d.Process(VolumeSample{Input: 100})
	d.Process(VolumeSample{})
	d.Process(VolumeSample{})

	if !d.Speaking(DirectionInput) {
		t.Error("Expected brief dips to keep speaking state")
	}

	d.Reset()
	if d.Speaking(DirectionInput) {
		t.Error("Expected reset to clear speaking state")
	}
}
