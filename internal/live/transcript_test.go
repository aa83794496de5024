package live

import (
	"testing"

	"github.com/psysense/voice-coach/internal/coach"
)

func TestTranscript_AggregatesFragments(t *testing.T) {
	tr := NewTranscript()

	tr.Add(coach.SpeakerAgent, "Hello, ", false)
	tr.Add(coach.SpeakerAgent, "I am Luna.", false)
	tr.Add(coach.SpeakerUser, "Hi", false)
	tr.Add(coach.SpeakerUser, " Luna", false)

	msgs := tr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Text != "Hello, I am Luna." || msgs[0].Role != coach.SpeakerAgent {
		t.Errorf("Expected aggregated agent message, got %+v", msgs[0])
	}
	if msgs[1].Text != "Hi Luna" {
		t.Errorf("Expected aggregated user message, got %q", msgs[1].Text)
	}
	if msgs[0].ID == "" || msgs[0].ID == msgs[1].ID {
		t.Error("Expected distinct message ids")
	}
}

func TestTranscript_FinalClosesMessage(t *testing.T) {
	tr := NewTranscript()

	tr.Add(coach.SpeakerAgent, "First turn.", false)
	if _, ok := tr.Add(coach.SpeakerAgent, "", true); !ok {
		t.Error("Expected the empty final fragment to close the open message")
	}
	tr.Add(coach.SpeakerAgent, "Second turn.", false)

	msgs := tr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if !msgs[0].IsFinal || msgs[1].IsFinal {
		t.Errorf("Expected only the first message final, got %v %v", msgs[0].IsFinal, msgs[1].IsFinal)
	}
}

func TestTranscript_EmptyFragments(t *testing.T) {
	tr := NewTranscript()

	if _, ok := tr.Add(coach.SpeakerUser, "", false); ok {
		t.Error("Expected empty fragment to be ignored")
	}
	if _, ok := tr.Add(coach.SpeakerAgent, "", true); ok {
		t.Error("Expected final marker without an open message to be ignored")
	}
	if tr.Len() != 0 {
		t.Errorf("Expected no messages, got %d", tr.Len())
	}

	tr.Add(coach.SpeakerUser, "x", false)
	tr.Reset()
	if tr.Len() != 0 {
		t.Errorf("Expected reset transcript to be empty, got %d", tr.Len())
	}
}
